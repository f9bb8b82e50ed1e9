package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/pkg/util"
)

// Renderer turns an image suggestion into a public image URL using
// Pollinations. The URL itself is the image; with Verify set the image is
// fetched once so rendering failures surface before approval.
type Renderer struct {
	baseURL string
	width   int
	height  int
	verify  bool
	client  *http.Client
	logger  *zap.Logger
}

func NewRenderer(cfg config.ImageConfig, logger *zap.Logger) *Renderer {
	return &Renderer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		width:   cfg.Width,
		height:  cfg.Height,
		verify:  cfg.Verify,
		client:  &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:  logger.Named("imagegen"),
	}
}

// URL builds the image URL for prompt without any I/O.
func (r *Renderer) URL(prompt string) string {
	q := url.Values{}
	q.Set("width", strconv.Itoa(r.width))
	q.Set("height", strconv.Itoa(r.height))
	q.Set("nologo", "true")
	return fmt.Sprintf("%s/prompt/%s?%s", r.baseURL, url.PathEscape(strings.TrimSpace(prompt)), q.Encode())
}

func (r *Renderer) Render(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errs.Permanent(fmt.Errorf("empty image prompt"))
	}
	imageURL := r.URL(prompt)
	r.logger.Info("Rendering image", zap.String("prompt", util.Truncate(prompt, 100, "...")))

	if r.verify {
		if err := r.fetch(ctx, imageURL); err != nil {
			return "", err
		}
	}
	return imageURL, nil
}

func (r *Renderer) fetch(ctx context.Context, imageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return errs.Permanent(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return errs.Transient("pollinations", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return httpclient.ClassifyStatus("pollinations", resp.StatusCode, body)
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "image/") {
		return errs.Transient("pollinations", fmt.Errorf("unexpected content type %q", ct))
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return errs.Transient("pollinations", err)
	}
	r.logger.Debug("Image rendered", zap.Int64("bytes", n))
	return nil
}
