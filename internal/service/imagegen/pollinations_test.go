package imagegen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
)

func TestURL(t *testing.T) {
	r := NewRenderer(config.ImageConfig{BaseURL: "https://image.pollinations.ai/", Width: 1024, Height: 768}, zap.NewNop())
	assert.Equal(t,
		"https://image.pollinations.ai/prompt/a%20gopher%20on%20a%20bike?height=768&nologo=true&width=1024",
		r.URL(" a gopher on a bike "))
}

func TestRenderWithoutVerifyDoesNoIO(t *testing.T) {
	r := NewRenderer(config.ImageConfig{BaseURL: "http://127.0.0.1:1", Width: 1, Height: 1}, zap.NewNop())
	u, err := r.Render(context.Background(), "sunset")
	require.NoError(t, err)
	assert.Contains(t, u, "/prompt/sunset")

	_, err = r.Render(context.Background(), "  ")
	assert.False(t, errs.IsRetryable(err))
}

func TestRenderVerify(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		wantErr     bool
		retryable   bool
	}{
		{name: "image", status: http.StatusOK, contentType: "image/jpeg"},
		{name: "html error page", status: http.StatusOK, contentType: "text/html", wantErr: true, retryable: true},
		{name: "server error", status: http.StatusBadGateway, contentType: "text/plain", wantErr: true, retryable: true},
		{name: "bad request", status: http.StatusBadRequest, contentType: "text/plain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/prompt/cat", r.URL.Path)
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("data"))
			}))
			defer srv.Close()

			r := NewRenderer(config.ImageConfig{BaseURL: srv.URL, Width: 64, Height: 64, Verify: true}, zap.NewNop())
			u, err := r.Render(context.Background(), "cat")
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.retryable, errs.IsRetryable(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, srv.URL+"/prompt/cat?height=64&nologo=true&width=64", u)
		})
	}
}
