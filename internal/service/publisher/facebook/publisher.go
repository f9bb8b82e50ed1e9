package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/publisher"
)

// FacebookPublisher posts to a page feed, or as a photo when an image is
// attached.
type FacebookPublisher struct {
	client      *httpclient.Client
	pageID      string
	accessToken string
	logger      *zap.Logger
}

type postResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

func NewFacebookPublisher(cfg config.FacebookConfig, timeout time.Duration, logger *zap.Logger) *FacebookPublisher {
	return &FacebookPublisher{
		client:      httpclient.New("facebook", cfg.BaseURL, timeout),
		pageID:      cfg.PageID,
		accessToken: cfg.AccessToken,
		logger:      logger.Named("facebook"),
	}
}

func (p *FacebookPublisher) Platform() models.Platform {
	return models.PlatformFacebook
}

func (p *FacebookPublisher) Publish(ctx context.Context, content publisher.Content) (*publisher.Result, error) {
	text := content.Compose(models.PlatformFacebook.Limits().MaxLength)
	form := url.Values{"access_token": {p.accessToken}}
	path := "/" + p.pageID + "/feed"

	if image, ok := content.First(publisher.ResourceTypeImage); ok {
		path = "/" + p.pageID + "/photos"
		form.Set("url", image.URL)
		form.Set("caption", text)
	} else {
		form.Set("message", text)
	}

	var resp postResponse
	if _, err := p.client.Do(ctx, httpclient.Request{Method: http.MethodPost, Path: path, Form: form}, &resp); err != nil {
		return nil, err
	}

	id := resp.PostID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return nil, errs.Permanent(fmt.Errorf("facebook returned no post id"))
	}
	p.logger.Debug("Page post created", zap.String("id", id), zap.String("edge", strings.TrimPrefix(path, "/"+p.pageID+"/")))

	return &publisher.Result{
		ExternalID: id,
		URL:        "https://www.facebook.com/" + id,
	}, nil
}
