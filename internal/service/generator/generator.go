package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/pkg/util"
)

const (
	systemPrompt = `You are a professional social media content creator.

Your task:
1. Generate platform-optimized content
2. Include relevant hashtags
3. Suggest an image description for AI image generation

IMPORTANT: Always respond with valid JSON matching the provided schema exactly.
Do not include any text outside the JSON object.`

	routerPrompt = `You are a social media platform router. Analyze the user's request and determine which social media platform they want to create content for.

Available platforms:
- twitter: for short posts, news, opinions (max 280 characters)
- instagram: for visual content, lifestyle, photos (requires image)
- facebook: for general audience, longer posts, community content
- linkedin: for professional content, B2B, career-related posts
- threads: for casual conversations, text-based content
- youtube: for short video content

Respond with ONLY a JSON object, for example {"platform": "instagram", "confidence": 0.95}.
If unclear, default to twitter with lower confidence.`

	// DefaultConfidence is used when the router omits a confidence.
	DefaultConfidence = 0.8
	// FallbackConfidence accompanies the twitter fallback.
	FallbackConfidence = 0.5
)

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	http        *httpclient.Client
	model       string
	temperature float64
	logger      *zap.Logger
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func NewClient(cfg config.GeneratorConfig, logger *zap.Logger) *Client {
	client := httpclient.New("generator", cfg.BaseURL, cfg.TimeoutDuration())
	if cfg.APIKey != "" {
		client.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Client{
		http:        client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger.Named("generator"),
	}
}

// Generate asks the model for content matching schema. Output that is not
// a JSON object carrying every schema field is an InvalidOutputError.
func (c *Client) Generate(ctx context.Context, platform models.Platform, prompt string, schema Schema) (*models.ContentBody, error) {
	c.logger.Info("Generating content",
		zap.String("platform", string(platform)),
		zap.String("prompt", util.Truncate(prompt, 50, "...")))

	output, err := c.complete(ctx, []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Platform: %s\nUser prompt: %s\nRequired JSON schema: %s\n\nGenerate content following the schema exactly.",
			platform, prompt, schema)},
	}, c.temperature)
	if err != nil {
		return nil, err
	}

	body, err := ParseBody(output, schema)
	if err != nil {
		c.logger.Warn("Generator output rejected", zap.String("platform", string(platform)), zap.Error(err))
		return nil, err
	}
	return body, nil
}

// ParseBody extracts the JSON object from output and checks it against schema.
func ParseBody(output string, schema Schema) (*models.ContentBody, error) {
	raw := jsonObject.FindString(output)
	if raw == "" {
		raw = strings.TrimSpace(output)
	}

	var body models.ContentBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, errs.InvalidOutput("invalid format: %v", err)
	}
	if body.Schema == nil {
		return nil, errs.InvalidOutput("invalid format: schema section missing")
	}
	if err := schema.Validate(&body); err != nil {
		return nil, errs.InvalidOutput("invalid format: %v", err)
	}
	return &body, nil
}

// Route picks a platform for a free-form request. It never fails: any error
// or unusable answer falls back to twitter.
func (c *Client) Route(ctx context.Context, text string) (models.Platform, float64) {
	output, err := c.complete(ctx, []message{
		{Role: "system", Content: routerPrompt},
		{Role: "user", Content: text},
	}, 0)
	if err != nil {
		c.logger.Warn("Router failed, using fallback", zap.Error(err))
		return models.PlatformTwitter, FallbackConfidence
	}
	return ParseRoute(output)
}

// ParseRoute reads {"platform": ..., "confidence": ...} out of a router answer.
func ParseRoute(output string) (models.Platform, float64) {
	raw := jsonObject.FindString(output)
	if raw == "" {
		return models.PlatformTwitter, FallbackConfidence
	}
	var answer struct {
		Platform   string  `json:"platform"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return models.PlatformTwitter, FallbackConfidence
	}
	platform, err := models.ParsePlatform(answer.Platform)
	if err != nil {
		return models.PlatformTwitter, FallbackConfidence
	}
	if answer.Confidence <= 0 {
		answer.Confidence = DefaultConfidence
	}
	return platform, answer.Confidence
}

func (c *Client) complete(ctx context.Context, messages []message, temperature float64) (string, error) {
	var resp chatResponse
	if _, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/chat/completions",
		Body: chatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: temperature,
		},
	}, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errs.InvalidOutput("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
