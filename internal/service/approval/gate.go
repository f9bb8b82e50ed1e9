// Package approval implements the human gate between generation and
// publishing. Each content gets one random token at approval-dispatch; the
// first approve or reject consumes it. Expiry is evaluated when the token is
// used, never by a timer.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/store"
	"github.com/ifuryst/murmur/pkg/util"
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeExpired        Outcome = "expired"
	OutcomeNotFound       Outcome = "not_found"
)

var (
	ErrNotPending      = errors.New("content is not awaiting approval")
	ErrUnknownDecision = errors.New("unknown decision")
)

const tokenBytes = 32

// PublishScheduler creates the publish task for an approved content.
type PublishScheduler interface {
	SchedulePublish(ctx context.Context, contentID string) error
}

// Ticket is what a reviewer receives.
type Ticket struct {
	ContentID string
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Result of resolving a token. Content is nil for OutcomeNotFound.
type Result struct {
	Outcome Outcome
	Content *models.Content
}

type Gate struct {
	store     store.Store
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
	scheduler PublishScheduler
}

func NewGate(s store.Store, logger *zap.Logger, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 45 * time.Minute
	}
	return &Gate{
		store:   s,
		logger:  logger.Named("approval"),
		timeout: timeout,
		now:     time.Now,
	}
}

func (g *Gate) SetScheduler(ps PublishScheduler) {
	g.scheduler = ps
}

func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue binds a token to a pending content. A content that already holds a
// token gets the same ticket back, so redelivered dispatches stay single-token.
func (g *Gate) Issue(ctx context.Context, contentID string) (*Ticket, error) {
	for attempt := 0; attempt < 3; attempt++ {
		token, err := newToken()
		if err != nil {
			return nil, err
		}

		content, err := store.MutateContent(ctx, g.store, contentID, func(c *models.Content) error {
			if c.ApprovalToken != nil {
				return store.ErrUnchanged
			}
			if c.Status != models.ContentStatusPending {
				return fmt.Errorf("%w: %s is %s", ErrNotPending, c.ID, c.Status)
			}
			now := g.now()
			expires := now.Add(g.timeout)
			c.ApprovalToken = &token
			c.ApprovalIssuedAt = &now
			c.ApprovalExpiresAt = &expires
			return nil
		})
		if errors.Is(err, store.ErrDuplicate) {
			continue
		}
		if err != nil {
			return nil, err
		}

		ticket := &Ticket{ContentID: content.ID, Token: content.Token()}
		if content.ApprovalIssuedAt != nil {
			ticket.IssuedAt = *content.ApprovalIssuedAt
		}
		if content.ApprovalExpiresAt != nil {
			ticket.ExpiresAt = *content.ApprovalExpiresAt
		}
		g.logger.Info("Approval token issued",
			zap.String("content_id", content.ID),
			zap.String("token", util.MaskToken(ticket.Token)),
			zap.Time("expires_at", ticket.ExpiresAt))
		return ticket, nil
	}
	return nil, fmt.Errorf("failed to issue a unique token for %s", contentID)
}

// Resolve applies a reviewer decision. Expired, replayed and unknown tokens are
// outcomes, not errors; errors are reserved for storage failures.
func (g *Gate) Resolve(ctx context.Context, token string, decision Decision) (*Result, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	found, err := g.store.GetContentByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	var outcome Outcome
	content, err := store.MutateContent(ctx, g.store, found.ID, func(c *models.Content) error {
		now := g.now()
		switch {
		case c.Status == models.ContentStatusPending && c.Expired(now):
			outcome = OutcomeExpired
			expire(c, now)
			return nil
		case c.Status == models.ContentStatusPending && decision == DecisionApprove:
			outcome = OutcomeOK
			c.Status = models.ContentStatusApproved
			c.ApprovedAt = &now
			c.ApprovalConsumedAt = &now
			return nil
		case c.Status == models.ContentStatusPending:
			outcome = OutcomeOK
			c.Status = models.ContentStatusCancelled
			c.CancelReason = models.CancelReasonRejected
			c.ApprovalConsumedAt = &now
			return nil
		case c.Status == models.ContentStatusCancelled && c.CancelReason == models.CancelReasonExpired:
			outcome = OutcomeExpired
		default:
			outcome = OutcomeAlreadyHandled
		}
		return store.ErrUnchanged
	})
	if err != nil {
		return nil, err
	}

	log := g.logger.With(
		zap.String("content_id", content.ID),
		zap.String("decision", string(decision)),
		zap.String("outcome", string(outcome)),
		zap.String("status", string(content.Status)))
	log.Info("Approval resolved")

	// Only the write that moved pending -> approved schedules the publish
	if outcome == OutcomeOK && decision == DecisionApprove && g.scheduler != nil {
		if err := g.scheduler.SchedulePublish(ctx, content.ID); err != nil {
			log.Error("Failed to schedule publish, reconciliation will retry", zap.Error(err))
		}
	}

	return &Result{Outcome: outcome, Content: content}, nil
}

func expire(c *models.Content, now time.Time) {
	c.Status = models.ContentStatusCancelled
	c.CancelReason = models.CancelReasonExpired
	c.ApprovalConsumedAt = &now
}

// ExpireIfStale cancels a pending content whose token has run out. It is the
// same transition Resolve applies, for contents nobody clicks on.
func (g *Gate) ExpireIfStale(ctx context.Context, contentID string) (bool, error) {
	expired := false
	_, err := store.MutateContent(ctx, g.store, contentID, func(c *models.Content) error {
		if c.Status != models.ContentStatusPending || !c.Expired(g.now()) {
			return store.ErrUnchanged
		}
		expired = true
		expire(c, g.now())
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		g.logger.Info("Approval expired", zap.String("content_id", contentID))
	}
	return expired, nil
}
