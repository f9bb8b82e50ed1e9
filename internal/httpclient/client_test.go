package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
)

func TestAPIClientClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		message   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"detail":"Too Many Requests"}`, retryable: true, message: "Too Many Requests"},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, retryable: true, message: "oops"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"message":"Invalid parameter"}}`, retryable: false, message: "Invalid parameter"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"expired token"}`, retryable: false, message: "expired token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := httpclient.New("test", srv.URL, time.Second)
			_, err := client.Do(context.Background(), httpclient.Request{Path: "/x"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errs.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestAPIClientSendsJSONAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/items", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		w.Header().Set("X-Id", "42")
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer srv.Close()

	client := httpclient.New("test", srv.URL+"/v1/", time.Second)
	client.Header.Set("Authorization", "Bearer t")

	var out struct {
		ID string `json:"id"`
	}
	resp, err := client.Do(context.Background(), httpclient.Request{
		Method: http.MethodPost,
		Path:   "/items",
		Query:  map[string][]string{"page": {"1"}},
		Body:   map[string]string{"a": "b"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.ID)
	assert.Equal(t, "42", resp.Header.Get("X-Id"))
}

func TestAPIClientNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := httpclient.New("test", url, time.Second)
	_, err := client.Do(context.Background(), httpclient.Request{Path: "/"}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}
