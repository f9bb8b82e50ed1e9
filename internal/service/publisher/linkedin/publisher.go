package linkedin

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

// LinkedInPublisher shares posts as the member that owns the access token.
type LinkedInPublisher struct {
	client *httpclient.Client
	logger *zap.Logger
}

type userInfo struct {
	Sub string `json:"sub"`
}

type ugcResponse struct {
	ID string `json:"id"`
}

func NewLinkedInPublisher(cfg config.LinkedInConfig, timeout time.Duration, logger *zap.Logger) *LinkedInPublisher {
	client := httpclient.New("linkedin", cfg.BaseURL, timeout)
	client.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	client.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	return &LinkedInPublisher{
		client: client,
		logger: logger.Named("linkedin"),
	}
}

func (p *LinkedInPublisher) Platform() models.Platform {
	return models.PlatformLinkedIn
}

func (p *LinkedInPublisher) Publish(ctx context.Context, content publisher.Content) (*publisher.Result, error) {
	var me userInfo
	if _, err := p.client.Do(ctx, httpclient.Request{Path: "/userinfo"}, &me); err != nil {
		return nil, err
	}
	if me.Sub == "" {
		return nil, errs.Permanent(fmt.Errorf("linkedin userinfo returned no member id"))
	}

	share := map[string]any{
		"shareCommentary": map[string]string{
			"text": content.Compose(models.PlatformLinkedIn.Limits().MaxLength),
		},
		"shareMediaCategory": "NONE",
	}
	if image, ok := content.First(publisher.ResourceTypeImage); ok {
		share["shareMediaCategory"] = "ARTICLE"
		share["media"] = []map[string]any{{
			"status":      "READY",
			"originalUrl": image.URL,
			"title":       map[string]string{"text": content.Title},
		}}
	}

	body := map[string]any{
		"author":         "urn:li:person:" + me.Sub,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": share,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	var resp ugcResponse
	httpResp, err := p.client.Do(ctx, httpclient.Request{Method: http.MethodPost, Path: "/ugcPosts", Body: body}, &resp)
	if err != nil {
		return nil, err
	}

	id := resp.ID
	if id == "" {
		id = httpResp.Header.Get("X-RestLi-Id")
	}
	if id == "" {
		return nil, errs.Permanent(fmt.Errorf("linkedin returned no post id"))
	}

	return &publisher.Result{
		ExternalID: id,
		URL:        "https://www.linkedin.com/feed/update/" + id,
	}, nil
}
