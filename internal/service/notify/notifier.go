package notify

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/models"
)

// ApprovalRequest is everything a reviewer needs to decide on a content.
type ApprovalRequest struct {
	ContentID  string
	Platform   models.Platform
	Targets    []models.Platform
	Preview    string
	ImageURL   string
	ApproveURL string
	RejectURL  string
	ExpiresAt  time.Time
	// ScheduledAt is set when publishing waits for a given time after approval.
	ScheduledAt *time.Time
}

// Notifier delivers approval links and pipeline notices to reviewers.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, req ApprovalRequest) error
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes notifications to the log. It is the fallback when no
// channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) SendApprovalRequest(_ context.Context, req ApprovalRequest) error {
	n.logger.Info("Approval requested",
		zap.String("content_id", req.ContentID),
		zap.String("platform", string(req.Platform)),
		zap.String("approve_url", req.ApproveURL),
		zap.String("reject_url", req.RejectURL),
		zap.Time("expires_at", req.ExpiresAt))
	return nil
}

func (n *LogNotifier) Notify(_ context.Context, message string) error {
	n.logger.Info("Notification", zap.String("message", message))
	return nil
}

// Multi sends to every notifier and combines their errors.
type Multi []Notifier

func (m Multi) SendApprovalRequest(ctx context.Context, req ApprovalRequest) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.SendApprovalRequest(ctx, req))
	}
	return err
}

func (m Multi) Notify(ctx context.Context, message string) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Notify(ctx, message))
	}
	return err
}
