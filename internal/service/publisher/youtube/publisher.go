package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/publisher"
	"github.com/ifuryst/murmur/pkg/util"
)

// YouTubePublisher uploads Shorts with a resumable upload session. Content
// without a video never reaches it; the dispatcher rejects it first.
type YouTubePublisher struct {
	client *httpclient.Client
	logger *zap.Logger
}

type videoResponse struct {
	ID string `json:"id"`
}

func NewYouTubePublisher(cfg config.YouTubeConfig, timeout time.Duration, logger *zap.Logger) *YouTubePublisher {
	client := httpclient.New("youtube", cfg.BaseURL, timeout)
	client.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	return &YouTubePublisher{
		client: client,
		logger: logger.Named("youtube"),
	}
}

func (p *YouTubePublisher) Platform() models.Platform {
	return models.PlatformYouTube
}

func (p *YouTubePublisher) Publish(ctx context.Context, content publisher.Content) (*publisher.Result, error) {
	video, ok := content.First(publisher.ResourceTypeVideo)
	if !ok {
		return nil, errs.MissingCapability(string(models.PlatformYouTube), "video")
	}

	title := content.Title
	if title == "" {
		title = content.Text
	}
	metadata := map[string]any{
		"snippet": map[string]any{
			"title":       util.Truncate(title, models.PlatformYouTube.Limits().MaxLength, ""),
			"description": content.Compose(5000),
			"tags":        content.Hashtags,
		},
		"status": map[string]any{
			"privacyStatus": "public",
		},
	}

	resp, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/upload/youtube/v3/videos",
		Query:  url.Values{"uploadType": {"resumable"}, "part": {"snippet,status"}},
		Body:   metadata,
	}, nil)
	if err != nil {
		return nil, err
	}
	session := resp.Header.Get("Location")
	if session == "" {
		return nil, errs.Permanent(fmt.Errorf("youtube returned no upload session"))
	}

	id, err := p.upload(ctx, session, video.URL)
	if err != nil {
		return nil, err
	}
	return &publisher.Result{
		ExternalID: id,
		URL:        "https://www.youtube.com/shorts/" + id,
	}, nil
}

// upload streams the video from its source URL into the session.
func (p *YouTubePublisher) upload(ctx context.Context, session, source string) (string, error) {
	srcReq, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", errs.Permanent(fmt.Errorf("invalid video url: %w", err))
	}
	src, err := p.client.HTTP.Do(srcReq)
	if err != nil {
		return "", errs.Transient("youtube video download", err)
	}
	defer src.Body.Close()
	if src.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(src.Body, 512))
		return "", httpclient.ClassifyStatus("youtube", src.StatusCode, body)
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, session, src.Body)
	if err != nil {
		return "", errs.Permanent(err)
	}
	putReq.ContentLength = src.ContentLength
	putReq.Header.Set("Content-Type", "video/*")
	putReq.Header.Set("Authorization", p.client.Header.Get("Authorization"))

	resp, err := p.client.HTTP.Do(putReq)
	if err != nil {
		return "", errs.Transient("youtube upload", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", httpclient.ClassifyStatus("youtube", resp.StatusCode, body)
	}

	var video videoResponse
	if err := json.Unmarshal(body, &video); err != nil || video.ID == "" {
		return "", errs.Permanent(fmt.Errorf("youtube returned no video id"))
	}
	p.logger.Info("Video uploaded", zap.String("video_id", video.ID))
	return video.ID, nil
}
