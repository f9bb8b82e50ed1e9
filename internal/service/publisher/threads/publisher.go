package threads

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

// ThreadsPublisher follows the same container flow as Instagram. Text-only
// containers are usually ready at once, image containers are polled.
type ThreadsPublisher struct {
	client       *httpclient.Client
	userID       string
	accessToken  string
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.Logger
}

type idResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type permalinkResponse struct {
	Permalink string `json:"permalink"`
}

func NewThreadsPublisher(cfg config.ThreadsConfig, timeout time.Duration, logger *zap.Logger) *ThreadsPublisher {
	return &ThreadsPublisher{
		client:       httpclient.New("threads", cfg.BaseURL, timeout),
		userID:       cfg.UserID,
		accessToken:  cfg.AccessToken,
		pollInterval: cfg.PollIntervalDuration(),
		maxPolls:     cfg.MaxPolls,
		logger:       logger.Named("threads"),
	}
}

func (p *ThreadsPublisher) Platform() models.Platform {
	return models.PlatformThreads
}

func (p *ThreadsPublisher) Publish(ctx context.Context, content publisher.Content) (*publisher.Result, error) {
	form := url.Values{
		"media_type":   {"TEXT"},
		"text":         {content.Compose(models.PlatformThreads.Limits().MaxLength)},
		"access_token": {p.accessToken},
	}
	image, hasImage := content.First(publisher.ResourceTypeImage)
	if hasImage {
		form.Set("media_type", "IMAGE")
		form.Set("image_url", image.URL)
	}

	var container idResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + p.userID + "/threads",
		Form:   form,
	}, &container); err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, errs.Permanent(fmt.Errorf("threads returned no container id"))
	}

	if hasImage {
		if err := publisher.Poll(ctx, p.pollInterval, p.maxPolls, func(ctx context.Context) (bool, error) {
			return p.containerReady(ctx, container.ID)
		}); err != nil {
			return nil, err
		}
	}

	var post idResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + p.userID + "/threads_publish",
		Form: url.Values{
			"creation_id":  {container.ID},
			"access_token": {p.accessToken},
		},
	}, &post); err != nil {
		return nil, err
	}
	if post.ID == "" {
		return nil, errs.Permanent(fmt.Errorf("threads returned no post id"))
	}

	return &publisher.Result{
		ExternalID: post.ID,
		URL:        p.permalink(ctx, post.ID),
	}, nil
}

func (p *ThreadsPublisher) containerReady(ctx context.Context, id string) (bool, error) {
	var status statusResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Path:  "/" + id,
		Query: url.Values{"fields": {"status,error_message"}, "access_token": {p.accessToken}},
	}, &status); err != nil {
		return false, err
	}
	switch status.Status {
	case "FINISHED", "PUBLISHED":
		return true, nil
	case "ERROR", "EXPIRED":
		return false, errs.Permanent(fmt.Errorf("threads container %s: %s %s", id, status.Status, status.ErrorMessage))
	default:
		return false, nil
	}
}

func (p *ThreadsPublisher) permalink(ctx context.Context, id string) string {
	var resp permalinkResponse
	_, err := p.client.Do(ctx, httpclient.Request{
		Path:  "/" + id,
		Query: url.Values{"fields": {"permalink"}, "access_token": {p.accessToken}},
	}, &resp)
	if err != nil || resp.Permalink == "" {
		p.logger.Warn("Failed to fetch permalink", zap.String("post_id", id), zap.Error(err))
		return "https://www.threads.net/"
	}
	return resp.Permalink
}
