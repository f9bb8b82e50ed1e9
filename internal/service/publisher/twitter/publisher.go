package twitter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/publisher"
)

// TwitterPublisher posts text tweets through the v2 API.
type TwitterPublisher struct {
	client *httpclient.Client
	logger *zap.Logger
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

func NewTwitterPublisher(cfg config.TwitterConfig, timeout time.Duration, logger *zap.Logger) *TwitterPublisher {
	client := httpclient.New("twitter", cfg.BaseURL, timeout)
	client.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
	return &TwitterPublisher{
		client: client,
		logger: logger.Named("twitter"),
	}
}

func (p *TwitterPublisher) Platform() models.Platform {
	return models.PlatformTwitter
}

// Publish cuts the post to 280 characters including the ellipsis.
func (p *TwitterPublisher) Publish(ctx context.Context, content publisher.Content) (*publisher.Result, error) {
	text := content.Compose(models.PlatformTwitter.Limits().MaxLength)

	var resp tweetResponse
	if _, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/tweets",
		Body:   map[string]string{"text": text},
	}, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, errs.Permanent(fmt.Errorf("twitter returned no tweet id"))
	}

	p.logger.Debug("Tweet created", zap.String("id", resp.Data.ID), zap.Int("length", len([]rune(text))))
	return &publisher.Result{
		ExternalID: resp.Data.ID,
		URL:        "https://twitter.com/i/web/status/" + resp.Data.ID,
	}, nil
}
