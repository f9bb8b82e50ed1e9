package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/store"
)

var ErrNothingToResume = errors.New("nothing to resume")

// Resume re-drives a content from wherever its ledger says it stopped. It
// only creates missing tasks and queues unfinished ones, so it is safe to
// call at any time.
func (o *Orchestrator) Resume(ctx context.Context, contentID string) error {
	gen, err := o.store.FindTask(ctx, contentID, models.TaskTypeGenerate)
	if err != nil {
		return err
	}
	switch gen.Status {
	case models.TaskStatusPending, models.TaskStatusProcessing:
		return o.enqueue(ctx, gen)
	case models.TaskStatusFailed:
		return fmt.Errorf("%w: generation failed: %s", ErrNothingToResume, gen.Error)
	}

	content, err := o.store.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	switch content.Status {
	case models.ContentStatusPending:
		if expired, err := o.gate.ExpireIfStale(ctx, contentID); err != nil || expired {
			return err
		}
		return o.resumePending(ctx, content)
	case models.ContentStatusApproved:
		if !content.Due(o.now()) {
			return fmt.Errorf("%w: publishing is scheduled for %s", ErrNothingToResume, content.ScheduledAt.UTC().Format(time.RFC3339))
		}
		return o.SchedulePublish(ctx, contentID)
	default:
		return fmt.Errorf("%w: content is %s", ErrNothingToResume, content.Status)
	}
}

// Reconcile resumes every content whose pipeline looks stalled: unfinished
// tasks and pending or approved contents not touched since cutoff. It
// returns how many contents it resumed.
func (o *Orchestrator) Reconcile(ctx context.Context, cutoff time.Time) (int, error) {
	ids := make(map[string]bool)
	var order []string
	add := func(id string) {
		if !ids[id] {
			ids[id] = true
			order = append(order, id)
		}
	}

	tasks, err := o.store.ListTasksFiltered(ctx, store.TaskFilter{
		Statuses:      []models.TaskStatus{models.TaskStatusPending, models.TaskStatusProcessing},
		UpdatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stalled tasks: %w", err)
	}
	for _, t := range tasks {
		add(t.ContentID)
	}

	for _, status := range []models.ContentStatus{models.ContentStatusPending, models.ContentStatusApproved} {
		contents, _, err := o.store.ListContents(ctx, store.ContentFilter{Status: status, UpdatedBefore: cutoff})
		if err != nil {
			return 0, fmt.Errorf("failed to list %s contents: %w", status, err)
		}
		for _, c := range contents {
			add(c.ID)
		}
	}

	var errs error
	resumed := 0
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return resumed, err
		}
		err := o.Resume(ctx, id)
		switch {
		case err == nil:
			resumed++
		case errors.Is(err, ErrNothingToResume):
		default:
			o.logger.Warn("Reconcile failed for content", zap.String("content_id", id), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	if resumed > 0 {
		o.logger.Info("Reconcile sweep finished", zap.Int("resumed", resumed), zap.Int("candidates", len(order)))
	}
	return resumed, errs
}

// PublishDue queues the publish task of every approved content whose
// scheduled time has come. It returns how many it queued.
func (o *Orchestrator) PublishDue(ctx context.Context, now time.Time) (int, error) {
	contents, _, err := o.store.ListContents(ctx, store.ContentFilter{
		Status:          models.ContentStatusApproved,
		ScheduledBefore: now,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list scheduled contents: %w", err)
	}

	var errs error
	queued := 0
	for _, c := range contents {
		if err := ctx.Err(); err != nil {
			return queued, err
		}
		// Already handed off
		if _, err := o.store.FindTask(ctx, c.ID, models.TaskTypePublish); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.ID, err))
			continue
		}

		if err := o.SchedulePublish(ctx, c.ID); err != nil {
			o.logger.Warn("Failed to queue scheduled publish", zap.String("content_id", c.ID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.ID, err))
			continue
		}
		queued++
		o.logger.Info("Scheduled publish queued",
			zap.String("content_id", c.ID),
			zap.Time("scheduled_at", *c.ScheduledAt))
	}
	return queued, errs
}
