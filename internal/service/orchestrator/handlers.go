package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/generator"
	"github.com/ifuryst/murmur/internal/service/notify"
	"github.com/ifuryst/murmur/internal/service/queue"
	"github.com/ifuryst/murmur/internal/store"
	"github.com/ifuryst/murmur/pkg/util"
)

// publicationSummary is stored as the publish task's result.
type publicationSummary struct {
	Platform   models.Platform          `json:"platform"`
	Status     models.PublicationStatus `json:"status"`
	ExternalID string                   `json:"external_id,omitempty"`
	URL        string                   `json:"url,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

func (o *Orchestrator) handleGenerate(ctx context.Context, job *models.Job) error {
	task, err := o.loadTask(ctx, job)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		// Redelivery after the task finished: only make sure the hand-off happened.
		content, err := o.store.GetContent(ctx, task.ContentID)
		if err != nil {
			return err
		}
		return o.resumePending(ctx, content)
	case models.TaskStatusFailed:
		return nil
	}

	if task, err = o.startTask(ctx, task.ID, job.Attempts); err != nil {
		return err
	}
	log := o.logger.With(zap.String("task_id", task.ID), zap.Int("attempt", task.Attempts))

	var payload generatePayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return errs.Permanent(fmt.Errorf("invalid generate payload: %w", err))
	}

	content, err := o.store.GetContent(ctx, task.ContentID)
	if errors.Is(err, store.ErrNotFound) {
		content, err = o.generate(ctx, task, payload)
		if err != nil {
			o.noteError(ctx, task.ID, err)
			return err
		}
	} else if err != nil {
		return err
	}

	body := content.Body()
	if _, err := o.completeTask(ctx, task.ID, map[string]any{
		"content_id": content.ID,
		"has_image":  body.HasImageSuggestion(),
	}); err != nil {
		return err
	}
	log.Info("Content generated", zap.String("platform", string(content.Platform)))
	return o.resumePending(ctx, content)
}

func (o *Orchestrator) generate(ctx context.Context, task *models.Task, payload generatePayload) (*models.Content, error) {
	schema, err := generator.SchemaFor(payload.Platform)
	if err != nil {
		return nil, errs.Permanent(err)
	}
	body, err := o.generator.Generate(ctx, payload.Platform, payload.Prompt, schema)
	if err != nil {
		return nil, err
	}

	targets := payload.Targets
	if len(targets) == 0 {
		targets = []models.Platform{payload.Platform}
	}
	content := &models.Content{
		ID:            task.ContentID,
		Platform:      payload.Platform,
		Targets:       datatypes.NewJSONType(targets),
		UserPrompt:    payload.Prompt,
		GeneratedBody: datatypes.NewJSONType(*body),
		MediaURLs:     datatypes.NewJSONType(payload.MediaURLs),
		ScheduledAt:   payload.ScheduledAt,
		Status:        models.ContentStatusPending,
	}
	err = o.store.CreateContent(ctx, content)
	if errors.Is(err, store.ErrDuplicate) {
		return o.store.GetContent(ctx, task.ContentID)
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// resumePending moves a pending content to whichever stage comes next:
// image rendering when the body suggests one, then approval dispatch.
func (o *Orchestrator) resumePending(ctx context.Context, content *models.Content) error {
	if content.Status != models.ContentStatusPending {
		return nil
	}
	body := content.Body()
	if body.HasImageSuggestion() {
		img, err := o.advance(ctx, content.ID, models.TaskTypeImage, imagePayload{Prompt: body.Common.ImageSuggestion})
		if err != nil {
			return err
		}
		if img.Status != models.TaskStatusCompleted {
			return nil
		}
	}
	_, err := o.advance(ctx, content.ID, models.TaskTypeApproval, nil)
	return err
}

func (o *Orchestrator) handleImage(ctx context.Context, job *models.Job) error {
	task, err := o.loadTask(ctx, job)
	if err != nil {
		return err
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		_, err := o.advance(ctx, task.ContentID, models.TaskTypeApproval, nil)
		return err
	case models.TaskStatusFailed:
		return nil
	}

	if task, err = o.startTask(ctx, task.ID, job.Attempts); err != nil {
		return err
	}
	content, err := o.store.GetContent(ctx, task.ContentID)
	if err != nil {
		return err
	}
	if content.Status != models.ContentStatusPending {
		_, err := o.completeTask(ctx, task.ID, map[string]any{"skipped": string(content.Status)})
		return err
	}

	imageURL := content.ImageURL
	if imageURL == "" {
		var payload imagePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil || payload.Prompt == "" {
			payload.Prompt = content.Body().Common.ImageSuggestion
		}
		imageURL, err = o.images.Render(ctx, payload.Prompt)
		if err != nil {
			o.noteError(ctx, task.ID, err)
			return err
		}
		content, err = store.MutateContent(ctx, o.store, content.ID, func(c *models.Content) error {
			if c.ImageURL != "" {
				return store.ErrUnchanged
			}
			c.ImageURL = imageURL
			return nil
		})
		if err != nil {
			return err
		}
	}

	if _, err := o.completeTask(ctx, task.ID, map[string]any{"image_url": content.ImageURL}); err != nil {
		return err
	}
	o.logger.Info("Image attached", zap.String("content_id", content.ID))
	_, err = o.advance(ctx, content.ID, models.TaskTypeApproval, nil)
	return err
}

func (o *Orchestrator) handleApproval(ctx context.Context, job *models.Job) error {
	task, err := o.loadTask(ctx, job)
	if err != nil {
		return err
	}
	if task.Terminal() {
		return nil
	}

	if task, err = o.startTask(ctx, task.ID, job.Attempts); err != nil {
		return err
	}
	content, err := o.store.GetContent(ctx, task.ContentID)
	if err != nil {
		return err
	}
	if content.Status != models.ContentStatusPending {
		_, err := o.completeTask(ctx, task.ID, map[string]any{"skipped": string(content.Status)})
		return err
	}

	ticket, err := o.gate.Issue(ctx, content.ID)
	if err != nil {
		return err
	}
	approveURL, rejectURL := o.approvalLinks(ticket.Token)
	body := content.Body()
	preview := util.ComposePost(body.Text(), body.Common.Hashtags)
	if err := o.notifier.SendApprovalRequest(ctx, notify.ApprovalRequest{
		ContentID:   content.ID,
		Platform:    content.Platform,
		Targets:     content.TargetPlatforms(),
		Preview:     preview,
		ImageURL:    content.ImageURL,
		ApproveURL:  approveURL,
		RejectURL:   rejectURL,
		ExpiresAt:   ticket.ExpiresAt,
		ScheduledAt: content.ScheduledAt,
	}); err != nil {
		o.noteError(ctx, task.ID, err)
		return err
	}

	_, err = o.completeTask(ctx, task.ID, map[string]any{
		"issued_at":  ticket.IssuedAt,
		"expires_at": ticket.ExpiresAt,
	})
	return err
}

func (o *Orchestrator) handlePublish(ctx context.Context, job *models.Job) error {
	task, err := o.loadTask(ctx, job)
	if err != nil {
		return err
	}
	if task.Terminal() {
		return nil
	}

	if task, err = o.startTask(ctx, task.ID, job.Attempts); err != nil {
		return err
	}
	log := o.logger.With(zap.String("content_id", task.ContentID), zap.Int("attempt", task.Attempts))

	content, err := o.store.GetContent(ctx, task.ContentID)
	if err != nil {
		return err
	}
	switch content.Status {
	case models.ContentStatusApproved:
		// A previous delivery posted somewhere but died before settling the
		// content. Posting again would duplicate what is already live.
		pubs, err := o.store.ListPublications(ctx, content.ID)
		if err != nil {
			return err
		}
		if anySucceeded(pubs) {
			log.Info("Settling content from recorded publications")
			return o.settlePublished(ctx, task.ID, content.ID, pubs, log)
		}
	case models.ContentStatusPublished:
		// A previous delivery published but died before closing the task.
		pubs, err := o.store.ListPublications(ctx, content.ID)
		if err != nil {
			return err
		}
		_, err = o.completeTask(ctx, task.ID, summarize(pubs))
		return err
	default:
		log.Warn("Publish aborted, content not approved", zap.String("status", string(content.Status)))
		_, err := o.failTask(ctx, task.ID, fmt.Sprintf("content is %s, not approved", content.Status))
		return err
	}

	outcome, err := o.dispatcher.Dispatch(ctx, content)
	if err != nil {
		if outcome == nil || !outcome.Published() {
			o.noteError(ctx, task.ID, err)
			return errs.Transient("record publications", err)
		}
		// Something went live, so the content follows it even though a row was lost
		log.Error("Failed to record publications", zap.Error(err))
		o.record(ctx, Failure{
			Stage:     queue.StagePublishing,
			ContentID: content.ID,
			TaskID:    task.ID,
			Err:       err,
		})
	}

	if !outcome.Published() {
		failure := outcome.Err()
		o.noteError(ctx, task.ID, failure)
		log.Warn("All platforms failed", zap.Error(failure), zap.Bool("retryable", errs.IsRetryable(failure)))
		return failure
	}
	return o.settlePublished(ctx, task.ID, content.ID, outcome.Publications, log)
}

func anySucceeded(pubs []models.Publication) bool {
	for _, p := range pubs {
		if p.Succeeded() {
			return true
		}
	}
	return false
}

// settlePublished marks the content published, closes the publish task and
// tells the reviewers where the posts went.
func (o *Orchestrator) settlePublished(ctx context.Context, taskID, contentID string, pubs []models.Publication, log *zap.Logger) error {
	if _, err := store.MutateContent(ctx, o.store, contentID, func(c *models.Content) error {
		if c.Status == models.ContentStatusPublished {
			return store.ErrUnchanged
		}
		if err := c.Transition(models.ContentStatusPublished); err != nil {
			return err
		}
		c.Error = ""
		return nil
	}); err != nil {
		return err
	}
	if _, err := o.completeTask(ctx, taskID, summarize(pubs)); err != nil {
		return err
	}

	var links []string
	for _, p := range pubs {
		if p.Succeeded() {
			links = append(links, fmt.Sprintf("%s: %s", p.Platform, p.URL))
		}
	}
	log.Info("Content published", zap.Int("platforms", len(links)), zap.Int("failed", len(pubs)-len(links)))
	o.notifyBestEffort(ctx, fmt.Sprintf("Published %s\n%s", contentID, strings.Join(links, "\n")))
	return nil
}

func summarize(pubs []models.Publication) map[string]any {
	out := make([]publicationSummary, 0, len(pubs))
	for _, p := range pubs {
		out = append(out, publicationSummary{
			Platform:   p.Platform,
			Status:     p.Status,
			ExternalID: p.ExternalID,
			URL:        p.URL,
			Error:      p.ErrorMessage,
		})
	}
	return map[string]any{"publications": out}
}

// onDead closes the task and content of a job the queue gave up on.
func (o *Orchestrator) onDead(stage queue.Stage) queue.DeadHandler {
	return func(ctx context.Context, job *models.Job, cause error) {
		log := o.logger.With(zap.String("stage", string(stage)), zap.String("task_id", job.TaskID))
		msg := cause.Error()

		// Content that went live anywhere is published, however the last attempt ended
		if stage == queue.StagePublishing && o.settleDeadPublish(ctx, job, log) {
			return
		}

		task, err := o.failTask(ctx, job.TaskID, msg)
		if err != nil {
			log.Error("Failed to mark task failed", zap.Error(err))
			return
		}

		var platform models.Platform
		content, err := store.MutateContent(ctx, o.store, task.ContentID, func(c *models.Content) error {
			if c.Status != models.ContentStatusPending && c.Status != models.ContentStatusApproved {
				return store.ErrUnchanged
			}
			if err := c.Transition(models.ContentStatusFailed); err != nil {
				return err
			}
			c.Error = msg
			return nil
		})
		switch {
		case err == nil:
			platform = content.Platform
		case errors.Is(err, store.ErrNotFound):
		default:
			log.Error("Failed to mark content failed", zap.Error(err))
		}

		log.Error("Stage failed", zap.String("content_id", task.ContentID), zap.Error(cause))
		o.record(ctx, Failure{
			Stage:     stage,
			ContentID: task.ContentID,
			TaskID:    task.ID,
			Platform:  platform,
			Err:       cause,
		})
		o.notifyBestEffort(ctx, fmt.Sprintf("Content %s failed at %s: %s", task.ContentID, stage, msg))
	}
}

// settleDeadPublish reports whether the dead publish job belongs to a content
// with at least one successful publication. Such a content is settled as
// published; if that write fails the reconcile sweep settles it later.
func (o *Orchestrator) settleDeadPublish(ctx context.Context, job *models.Job, log *zap.Logger) bool {
	task, err := o.store.GetTask(ctx, job.TaskID)
	if err != nil {
		log.Error("Failed to load publish task", zap.Error(err))
		return false
	}
	pubs, err := o.store.ListPublications(ctx, task.ContentID)
	if err != nil {
		log.Error("Failed to list publications", zap.Error(err))
		return false
	}
	if !anySucceeded(pubs) {
		return false
	}
	if err := o.settlePublished(ctx, task.ID, task.ContentID, pubs, log); err != nil {
		log.Error("Failed to settle published content", zap.String("content_id", task.ContentID), zap.Error(err))
	}
	return true
}

func (o *Orchestrator) record(ctx context.Context, f Failure) {
	if o.recorder != nil {
		o.recorder.RecordFailure(ctx, f)
	}
}

func (o *Orchestrator) notifyBestEffort(ctx context.Context, message string) {
	if err := o.notifier.Notify(ctx, message); err != nil {
		o.logger.Warn("Notification failed", zap.Error(err))
	}
}
