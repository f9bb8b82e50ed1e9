package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/httpclient"
	"github.com/ifuryst/murmur/pkg/util"
)

const (
	previewLimit = 1000
	captionLimit = 1024
	timeLayout   = "2006-01-02 15:04 MST"
)

// TelegramNotifier sends approval requests to a chat through the Bot API.
// Approve and reject are URL buttons pointing at the approval endpoints.
type TelegramNotifier struct {
	client   *httpclient.Client
	chatID   string
	botToken string
	logger   *zap.Logger
}

type button struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type replyMarkup struct {
	InlineKeyboard [][]button `json:"inline_keyboard"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		client:   httpclient.New("telegram", strings.TrimRight(cfg.BaseURL, "/")+"/bot"+cfg.BotToken, 0),
		chatID:   cfg.ChatID,
		botToken: cfg.BotToken,
		logger:   logger.Named("telegram"),
	}
}

// FormatApproval renders the HTML message body for req.
func FormatApproval(req ApprovalRequest) string {
	var b strings.Builder
	b.WriteString("📝 <b>New post awaiting approval</b>\n")
	fmt.Fprintf(&b, "Platform: <b>%s</b>", util.EscapeHTML(string(req.Platform)))
	if len(req.Targets) > 1 {
		names := make([]string, len(req.Targets))
		for i, t := range req.Targets {
			names[i] = string(t)
		}
		fmt.Fprintf(&b, " (%s)", util.EscapeHTML(strings.Join(names, ", ")))
	}
	b.WriteString("\n\n")
	b.WriteString(util.EscapeHTML(util.Truncate(req.Preview, previewLimit, "...")))
	if !req.ExpiresAt.IsZero() {
		fmt.Fprintf(&b, "\n\n⏳ Expires at %s", req.ExpiresAt.UTC().Format(timeLayout))
	}
	if req.ScheduledAt != nil {
		fmt.Fprintf(&b, "\n🗓 Publishes at %s", req.ScheduledAt.UTC().Format(timeLayout))
	}
	return b.String()
}

func (n *TelegramNotifier) SendApprovalRequest(ctx context.Context, req ApprovalRequest) error {
	markup := replyMarkup{InlineKeyboard: [][]button{{
		{Text: "✅ Approve", URL: req.ApproveURL},
		{Text: "❌ Reject", URL: req.RejectURL},
	}}}
	text := FormatApproval(req)

	if req.ImageURL != "" {
		// Photo captions are limited to 1024 characters.
		caption := FormatApproval(ApprovalRequest{
			Platform:    req.Platform,
			Targets:     req.Targets,
			Preview:     util.Truncate(req.Preview, captionLimit-200, "..."),
			ExpiresAt:   req.ExpiresAt,
			ScheduledAt: req.ScheduledAt,
		})
		return n.call(ctx, "sendPhoto", map[string]any{
			"chat_id":      n.chatID,
			"photo":        req.ImageURL,
			"caption":      caption,
			"parse_mode":   "HTML",
			"reply_markup": markup,
		})
	}

	return n.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
		"reply_markup":             markup,
	})
}

func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	return n.call(ctx, "sendMessage", map[string]any{
		"chat_id":    n.chatID,
		"text":       util.EscapeHTML(message),
		"parse_mode": "HTML",
	})
}

func (n *TelegramNotifier) call(ctx context.Context, method string, body any) error {
	var resp botResponse
	if _, err := n.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + method,
		Body:   body,
	}, &resp); err != nil {
		err = &redactedError{err: err, secret: n.botToken}
		n.logger.Error("Telegram call failed", zap.String("method", method), zap.Error(err))
		return err
	}
	if !resp.OK {
		return errs.Permanent(fmt.Errorf("telegram %s: %s", method, resp.Description))
	}
	return nil
}

// redactedError hides the bot token, which is part of every request URL.
type redactedError struct {
	err    error
	secret string
}

func (e *redactedError) Error() string {
	if e.secret == "" {
		return e.err.Error()
	}
	return strings.ReplaceAll(e.err.Error(), e.secret, util.MaskToken(e.secret))
}

func (e *redactedError) Unwrap() error { return e.err }
