package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/pkg/util"
)

// mailSender is the part of *mail.Client the notifier needs.
type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailNotifier mails approval requests to the configured reviewers over SMTP.
type EmailNotifier struct {
	sender mailSender
	from   string
	to     []string
	logger *zap.Logger
}

// Email is a rendered message before it is addressed.
type Email struct {
	Subject string
	Text    string
	HTML    string
}

var approvalEmail = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;background:#f5f5f5;font-family:Arial,sans-serif">
  <div style="max-width:600px;margin:0 auto;padding:20px">
    <div style="background:white;border-radius:12px;overflow:hidden">
      <div style="background:#667eea;padding:24px;text-align:center">
        <h1 style="color:white;margin:0;font-size:22px">Content approval required</h1>
      </div>
      {{if .ImageURL}}<img src="{{.ImageURL}}" style="width:100%;height:auto;display:block" alt="Generated image">{{end}}
      <div style="padding:24px">
        <p style="color:#333;margin:0 0 12px"><strong>{{.Platforms}}</strong></p>
        <p style="color:#555;font-size:16px;line-height:1.6;white-space:pre-wrap">{{.Preview}}</p>
        <div style="text-align:center;margin-top:24px">
          <a href="{{.ApproveURL}}" style="display:inline-block;background:#4CAF50;color:white;padding:14px 36px;text-decoration:none;border-radius:8px;font-weight:bold;margin:0 8px">Approve</a>
          <a href="{{.RejectURL}}" style="display:inline-block;background:#f44336;color:white;padding:14px 36px;text-decoration:none;border-radius:8px;font-weight:bold;margin:0 8px">Reject</a>
        </div>
        {{if .ScheduledAt}}<p style="color:#777;font-size:13px;text-align:center">Publishes at {{.ScheduledAt}}</p>{{end}}
        {{if .ExpiresAt}}<p style="color:#999;font-size:12px;text-align:center">This request expires at {{.ExpiresAt}}.</p>{{end}}
      </div>
    </div>
  </div>
</body>
</html>`))

type approvalEmailData struct {
	Platforms   string
	Preview     string
	ImageURL    string
	ApproveURL  string
	RejectURL   string
	ExpiresAt   string
	ScheduledAt string
}

func NewEmailNotifier(cfg config.EmailConfig, logger *zap.Logger) (*EmailNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.TimeoutDuration()),
	}

	// Pick the transport security
	switch strings.ToLower(cfg.TLS) {
	case "ssl":
		opts = append(opts, mail.WithSSL())
	case "opportunistic":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	case "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	// Authenticate only when credentials are configured
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return newEmailNotifier(client, cfg.From, cfg.To, logger), nil
}

func newEmailNotifier(sender mailSender, from string, to []string, logger *zap.Logger) *EmailNotifier {
	var recipients []string
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	return &EmailNotifier{
		sender: sender,
		from:   from,
		to:     recipients,
		logger: logger.Named("email"),
	}
}

// ComposeApproval renders the approval email for req.
func ComposeApproval(req ApprovalRequest) (Email, error) {
	platforms := string(req.Platform)
	if len(req.Targets) > 1 {
		names := make([]string, len(req.Targets))
		for i, t := range req.Targets {
			names[i] = string(t)
		}
		platforms = strings.Join(names, ", ")
	}

	data := approvalEmailData{
		Platforms:  platforms,
		Preview:    util.Truncate(req.Preview, previewLimit, "..."),
		ImageURL:   req.ImageURL,
		ApproveURL: req.ApproveURL,
		RejectURL:  req.RejectURL,
	}
	if !req.ExpiresAt.IsZero() {
		data.ExpiresAt = req.ExpiresAt.UTC().Format(timeLayout)
	}
	if req.ScheduledAt != nil {
		data.ScheduledAt = req.ScheduledAt.UTC().Format(timeLayout)
	}

	var html bytes.Buffer
	if err := approvalEmail.Execute(&html, data); err != nil {
		return Email{}, fmt.Errorf("failed to render approval email: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "New post awaiting approval (%s)\n\n%s\n\n", platforms, data.Preview)
	fmt.Fprintf(&text, "Approve: %s\nReject: %s\n", req.ApproveURL, req.RejectURL)
	if data.ScheduledAt != "" {
		fmt.Fprintf(&text, "\nPublishes at %s\n", data.ScheduledAt)
	}
	if data.ExpiresAt != "" {
		fmt.Fprintf(&text, "Expires at %s\n", data.ExpiresAt)
	}

	return Email{
		Subject: fmt.Sprintf("Approval needed: %s post", req.Platform),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func (n *EmailNotifier) SendApprovalRequest(ctx context.Context, req ApprovalRequest) error {
	email, err := ComposeApproval(req)
	if err != nil {
		return err
	}
	if err := n.send(ctx, email); err != nil {
		return err
	}
	n.logger.Info("Approval email sent",
		zap.String("content_id", req.ContentID),
		zap.Int("recipients", len(n.to)))
	return nil
}

func (n *EmailNotifier) Notify(ctx context.Context, message string) error {
	subject, _, _ := strings.Cut(message, "\n")
	return n.send(ctx, Email{
		Subject: util.Truncate(subject, 120, "..."),
		Text:    message,
	})
}

func (n *EmailNotifier) send(ctx context.Context, email Email) error {
	if len(n.to) == 0 {
		return errs.Permanent(fmt.Errorf("email notifier has no recipients"))
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return errs.Permanent(fmt.Errorf("invalid sender %q: %w", n.from, err))
	}
	if err := msg.To(n.to...); err != nil {
		return errs.Permanent(fmt.Errorf("invalid recipients: %w", err))
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.Text)
	if email.HTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTML)
	}

	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return errs.Transient("email", err)
	}
	return nil
}
