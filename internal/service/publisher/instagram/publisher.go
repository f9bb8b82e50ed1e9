package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/publisher"
)

// InstagramPublisher uses the Graph API container flow: create a media
// container, wait for it to finish processing, then publish it.
type InstagramPublisher struct {
	client       *httpclient.Client
	accountID    string
	accessToken  string
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.Logger
}

type idResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	StatusCode string `json:"status_code"`
	Status     string `json:"status"`
}

type permalinkResponse struct {
	Permalink string `json:"permalink"`
}

func NewInstagramPublisher(cfg config.InstagramConfig, timeout time.Duration, logger *zap.Logger) *InstagramPublisher {
	return &InstagramPublisher{
		client:       httpclient.New("instagram", cfg.BaseURL, timeout),
		accountID:    cfg.AccountID,
		accessToken:  cfg.AccessToken,
		pollInterval: cfg.PollIntervalDuration(),
		maxPolls:     cfg.MaxPolls,
		logger:       logger.Named("instagram"),
	}
}

func (p *InstagramPublisher) Platform() models.Platform {
	return models.PlatformInstagram
}

func (p *InstagramPublisher) Publish(ctx context.Context, content publisher.Content) (*publisher.Result, error) {
	image, ok := content.First(publisher.ResourceTypeImage)
	if !ok {
		return nil, errs.MissingCapability(string(models.PlatformInstagram), "image")
	}

	var container idResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + p.accountID + "/media",
		Form: url.Values{
			"image_url":    {image.URL},
			"caption":      {content.Compose(models.PlatformInstagram.Limits().MaxLength)},
			"access_token": {p.accessToken},
		},
	}, &container); err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, errs.Permanent(fmt.Errorf("instagram returned no container id"))
	}

	if err := publisher.Poll(ctx, p.pollInterval, p.maxPolls, func(ctx context.Context) (bool, error) {
		return p.containerReady(ctx, container.ID)
	}); err != nil {
		return nil, err
	}

	var media idResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + p.accountID + "/media_publish",
		Form: url.Values{
			"creation_id":  {container.ID},
			"access_token": {p.accessToken},
		},
	}, &media); err != nil {
		return nil, err
	}
	if media.ID == "" {
		return nil, errs.Permanent(fmt.Errorf("instagram returned no media id"))
	}

	return &publisher.Result{
		ExternalID: media.ID,
		URL:        p.permalink(ctx, media.ID),
	}, nil
}

func (p *InstagramPublisher) containerReady(ctx context.Context, id string) (bool, error) {
	var status statusResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Path:  "/" + id,
		Query: url.Values{"fields": {"status_code"}, "access_token": {p.accessToken}},
	}, &status); err != nil {
		return false, err
	}
	switch status.StatusCode {
	case "FINISHED":
		return true, nil
	case "ERROR", "EXPIRED":
		return false, errs.Permanent(fmt.Errorf("instagram container %s: %s", id, status.StatusCode))
	default:
		p.logger.Debug("Container not ready", zap.String("container_id", id), zap.String("status", status.StatusCode))
		return false, nil
	}
}

// permalink is best effort; the post exists even when the lookup fails.
func (p *InstagramPublisher) permalink(ctx context.Context, id string) string {
	var resp permalinkResponse
	_, err := p.client.Do(ctx, httpclient.Request{
		Path:  "/" + id,
		Query: url.Values{"fields": {"permalink"}, "access_token": {p.accessToken}},
	}, &resp)
	if err != nil || resp.Permalink == "" {
		p.logger.Warn("Failed to fetch permalink", zap.String("media_id", id), zap.Error(err))
		return "https://www.instagram.com/"
	}
	return resp.Permalink
}
