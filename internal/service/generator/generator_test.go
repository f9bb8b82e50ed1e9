package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
)

func TestSchemaFor(t *testing.T) {
	for _, p := range models.Platforms {
		s, err := SchemaFor(p)
		require.NoError(t, err, p)
		assert.NotEmpty(t, s.Fields, p)
		assert.Contains(t, s.Common, "image_suggestion")
	}

	s, err := SchemaFor(models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, []string{"call_to_action", "caption", "emojis"}, s.Keys())
	assert.Contains(t, s.String(), `"caption"`)

	_, err = SchemaFor(models.Platform("myspace"))
	assert.Error(t, err)
}

func TestParseBody(t *testing.T) {
	schema, err := SchemaFor(models.PlatformTwitter)
	require.NoError(t, err)

	valid := `{"root_schema":{"name":"n","description":"d"},"common_schema":{"hashtags":["go"],"image_suggestion":"a gopher"},"schema":{"post":"hello","character_limit":280}}`

	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{name: "bare json", output: valid},
		{name: "wrapped in prose", output: "Here you go:\n```json\n" + valid + "\n```\nEnjoy!"},
		{name: "not json", output: "I cannot help with that", wantErr: true},
		{name: "missing field", output: `{"schema":{"post":"hello"}}`, wantErr: true},
		{name: "missing schema", output: `{"root_schema":{"name":"n"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := ParseBody(tt.output, schema)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsInvalidOutput(err))
				assert.True(t, errs.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "hello", body.Text())
			assert.True(t, body.HasImageSuggestion())
		})
	}
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		output     string
		platform   models.Platform
		confidence float64
	}{
		{`{"platform": "instagram", "confidence": 0.95}`, models.PlatformInstagram, 0.95},
		{`Sure! {"platform": "youtube_short"}`, models.PlatformYouTube, DefaultConfidence},
		{`{"platform": "myspace", "confidence": 0.9}`, models.PlatformTwitter, FallbackConfidence},
		{`no idea`, models.PlatformTwitter, FallbackConfidence},
	}
	for _, tt := range tests {
		p, c := ParseRoute(tt.output)
		assert.Equal(t, tt.platform, p, tt.output)
		assert.Equal(t, tt.confidence, c, tt.output)
	}
}

func newTestServer(t *testing.T, status int, content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
			})
		}
	}))
}

func TestGenerate(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"root_schema":{"name":"n","description":"d"},"common_schema":{"hashtags":[],"image_suggestion":""},"schema":{"post":"p","call_to_action":"go"}}`)
	defer srv.Close()

	c := NewClient(config.GeneratorConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"}, zap.NewNop())
	schema, err := SchemaFor(models.PlatformLinkedIn)
	require.NoError(t, err)

	body, err := c.Generate(context.Background(), models.PlatformLinkedIn, "launch", schema)
	require.NoError(t, err)
	assert.Equal(t, "p", body.Text())
	assert.Equal(t, "go", body.CallToAction())
	assert.False(t, body.HasImageSuggestion())
}

func TestGenerateUpstreamErrorIsTransient(t *testing.T) {
	srv := newTestServer(t, http.StatusServiceUnavailable, "")
	defer srv.Close()

	c := NewClient(config.GeneratorConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"}, zap.NewNop())
	schema, _ := SchemaFor(models.PlatformTwitter)
	_, err := c.Generate(context.Background(), models.PlatformTwitter, "x", schema)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestRouteFallsBackOnError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, "")
	defer srv.Close()

	c := NewClient(config.GeneratorConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o-mini"}, zap.NewNop())
	p, conf := c.Route(context.Background(), "something")
	assert.Equal(t, models.PlatformTwitter, p)
	assert.Equal(t, FallbackConfidence, conf)
}
