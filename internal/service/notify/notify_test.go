package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
)

func testRequest() ApprovalRequest {
	return ApprovalRequest{
		ContentID:  "c1",
		Platform:   models.PlatformTwitter,
		Targets:    []models.Platform{models.PlatformTwitter, models.PlatformLinkedIn},
		Preview:    "Ship <it> & tell",
		ApproveURL: "https://murmur.example/api/v1/approve/tok",
		RejectURL:  "https://murmur.example/api/v1/reject/tok",
		ExpiresAt:  time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	}
}

func TestFormatApproval(t *testing.T) {
	text := FormatApproval(testRequest())
	assert.Contains(t, text, "Platform: <b>twitter</b> (twitter, linkedin)")
	assert.Contains(t, text, "Ship &lt;it&gt; &amp; tell")
	assert.Contains(t, text, "2026-01-02 03:04 UTC")

	req := testRequest()
	req.Preview = strings.Repeat("x", 1500)
	assert.Contains(t, FormatApproval(req), strings.Repeat("x", 997)+"...")
	assert.NotContains(t, FormatApproval(req), strings.Repeat("x", 998))
}

type botCall struct {
	Method string
	Body   map[string]any
}

func newBot(t *testing.T, ok bool, calls *[]botCall) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/botsecret-token/"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		*calls = append(*calls, botCall{Method: strings.TrimPrefix(r.URL.Path, "/botsecret-token/"), Body: body})
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok, "description": "Bad Request: chat not found"})
	}))
}

func TestTelegramSendsButtons(t *testing.T) {
	var calls []botCall
	srv := newBot(t, true, &calls)
	defer srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{BaseURL: srv.URL, BotToken: "secret-token", ChatID: "42"}, zap.NewNop())
	require.NoError(t, n.SendApprovalRequest(context.Background(), testRequest()))

	require.Len(t, calls, 1)
	assert.Equal(t, "sendMessage", calls[0].Method)
	assert.Equal(t, "42", calls[0].Body["chat_id"])
	assert.Equal(t, "HTML", calls[0].Body["parse_mode"])

	markup := calls[0].Body["reply_markup"].(map[string]any)
	row := markup["inline_keyboard"].([]any)[0].([]any)
	assert.Equal(t, "https://murmur.example/api/v1/approve/tok", row[0].(map[string]any)["url"])
	assert.Equal(t, "https://murmur.example/api/v1/reject/tok", row[1].(map[string]any)["url"])
}

func TestTelegramSendsPhoto(t *testing.T) {
	var calls []botCall
	srv := newBot(t, true, &calls)
	defer srv.Close()

	req := testRequest()
	req.ImageURL = "https://img.example/a.png"
	req.Preview = strings.Repeat("y", 2000)

	n := NewTelegramNotifier(config.TelegramConfig{BaseURL: srv.URL, BotToken: "secret-token", ChatID: "42"}, zap.NewNop())
	require.NoError(t, n.SendApprovalRequest(context.Background(), req))

	require.Len(t, calls, 1)
	assert.Equal(t, "sendPhoto", calls[0].Method)
	assert.Equal(t, "https://img.example/a.png", calls[0].Body["photo"])
	assert.LessOrEqual(t, len([]rune(calls[0].Body["caption"].(string))), 1024)
}

func TestTelegramRejectedCall(t *testing.T) {
	var calls []botCall
	srv := newBot(t, false, &calls)
	defer srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{BaseURL: srv.URL, BotToken: "secret-token", ChatID: "42"}, zap.NewNop())
	err := n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.False(t, errs.IsRetryable(err))
}

func TestTelegramRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{BaseURL: base, BotToken: "secret-token", ChatID: "42"}, zap.NewNop())
	err := n.Notify(context.Background(), "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-token")
	assert.True(t, errs.IsTransient(err))
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) SendApprovalRequest(context.Context, ApprovalRequest) error {
	s.calls++
	return s.err
}

func (s *stubNotifier) Notify(context.Context, string) error {
	s.calls++
	return s.err
}

func TestMultiReachesEveryNotifier(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	ok := &stubNotifier{}
	m := Multi{failing, ok, NewLogNotifier(zap.NewNop())}

	err := m.SendApprovalRequest(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	failing.err = nil
	assert.NoError(t, m.Notify(context.Background(), "done"))
}
