// Package orchestrator drives a request through generation, image creation,
// approval and publishing. Each stage commits its own ledger row and content
// update, then hands off to the next stage through the queue.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/approval"
	"github.com/ifuryst/murmur/internal/service/generator"
	"github.com/ifuryst/murmur/internal/service/notify"
	"github.com/ifuryst/murmur/internal/service/publisher"
	"github.com/ifuryst/murmur/internal/service/queue"
	"github.com/ifuryst/murmur/internal/store"
)

var ErrInvalidRequest = errors.New("invalid request")

type Generator interface {
	Generate(ctx context.Context, platform models.Platform, prompt string, schema generator.Schema) (*models.ContentBody, error)
	Route(ctx context.Context, text string) (models.Platform, float64)
}

type ImageRenderer interface {
	Render(ctx context.Context, prompt string) (string, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, content *models.Content) (*publisher.Outcome, error)
}

// Failure describes a stage that gave up.
type Failure struct {
	Stage     queue.Stage
	ContentID string
	TaskID    string
	Platform  models.Platform
	Err       error
}

// Recorder keeps a durable trail of stage failures.
type Recorder interface {
	RecordFailure(ctx context.Context, f Failure)
}

type Deps struct {
	Store      store.Store
	Queue      *queue.Queue
	Gate       *approval.Gate
	Generator  Generator
	Images     ImageRenderer
	Dispatcher Dispatcher
	Notifier   notify.Notifier
	Recorder   Recorder
	Logger     *zap.Logger
	// PublicBaseURL prefixes the approval links sent to reviewers.
	PublicBaseURL string
}

type Orchestrator struct {
	store         store.Store
	queue         *queue.Queue
	gate          *approval.Gate
	generator     Generator
	images        ImageRenderer
	dispatcher    Dispatcher
	notifier      notify.Notifier
	recorder      Recorder
	logger        *zap.Logger
	publicBaseURL string
	now           func() time.Time
}

var stageOf = map[models.TaskType]queue.Stage{
	models.TaskTypeGenerate: queue.StageContentGeneration,
	models.TaskTypeImage:    queue.StageImageGeneration,
	models.TaskTypeApproval: queue.StageApprovalDispatch,
	models.TaskTypePublish:  queue.StagePublishing,
}

// New wires the stage handlers into the queue and registers the orchestrator
// as the gate's publish scheduler.
func New(deps Deps) *Orchestrator {
	o := &Orchestrator{
		store:         deps.Store,
		queue:         deps.Queue,
		gate:          deps.Gate,
		generator:     deps.Generator,
		images:        deps.Images,
		dispatcher:    deps.Dispatcher,
		notifier:      deps.Notifier,
		recorder:      deps.Recorder,
		logger:        deps.Logger.Named("orchestrator"),
		publicBaseURL: strings.TrimRight(deps.PublicBaseURL, "/"),
		now:           time.Now,
	}
	if o.notifier == nil {
		o.notifier = notify.NewLogNotifier(deps.Logger)
	}

	o.queue.Handle(queue.StageContentGeneration, o.handleGenerate)
	o.queue.Handle(queue.StageImageGeneration, o.handleImage)
	o.queue.Handle(queue.StageApprovalDispatch, o.handleApproval)
	o.queue.Handle(queue.StagePublishing, o.handlePublish)
	for _, stage := range queue.Stages {
		o.queue.OnDead(stage, o.onDead(stage))
	}
	o.gate.SetScheduler(o)
	return o
}

func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Request is a user ask. Platforms may be empty, in which case one is routed.
// ScheduledAt holds publishing back until that time once approved.
type Request struct {
	Prompt      string            `json:"prompt"`
	Platforms   []models.Platform `json:"platforms"`
	MediaURLs   []string          `json:"media_urls,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
}

// Submission identifies the work a request started. ContentID equals TaskID.
type Submission struct {
	TaskID     string            `json:"task_id"`
	ContentID  string            `json:"content_id"`
	Platform   models.Platform   `json:"platform"`
	Targets    []models.Platform `json:"targets"`
	Confidence float64           `json:"confidence,omitempty"`
}

type generatePayload struct {
	Prompt      string            `json:"prompt"`
	Platform    models.Platform   `json:"platform"`
	Targets     []models.Platform `json:"targets"`
	Confidence  float64           `json:"confidence,omitempty"`
	MediaURLs   []string          `json:"media_urls,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
}

type imagePayload struct {
	Prompt string `json:"prompt"`
}

type jobPayload struct {
	ContentID string          `json:"content_id"`
	Type      models.TaskType `json:"type"`
}

// Submit records a generate task and queues it.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Submission, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	if err := validateMedia(req.MediaURLs); err != nil {
		return nil, err
	}

	sub := &Submission{Targets: models.UniquePlatforms(req.Platforms)}
	if len(sub.Targets) == 0 {
		platform, confidence := o.generator.Route(ctx, prompt)
		sub.Targets = []models.Platform{platform}
		sub.Confidence = confidence
	}
	for _, p := range sub.Targets {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidRequest, p)
		}
	}
	sub.Platform = sub.Targets[0]
	sub.TaskID = uuid.NewString()
	sub.ContentID = sub.TaskID

	payload, err := encode(generatePayload{
		Prompt:      prompt,
		Platform:    sub.Platform,
		Targets:     sub.Targets,
		Confidence:  sub.Confidence,
		MediaURLs:   req.MediaURLs,
		ScheduledAt: req.ScheduledAt,
	})
	if err != nil {
		return nil, err
	}
	task := &models.Task{
		ID:        sub.TaskID,
		ContentID: sub.ContentID,
		Type:      models.TaskTypeGenerate,
		Status:    models.TaskStatusPending,
		Payload:   payload,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to record task: %w", err)
	}
	if err := o.enqueue(ctx, task); err != nil {
		return nil, err
	}

	o.logger.Info("Request accepted",
		zap.String("task_id", task.ID),
		zap.String("platform", string(sub.Platform)),
		zap.Int("targets", len(sub.Targets)))
	return sub, nil
}

func validateMedia(urls []string) error {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid media url %q", ErrInvalidRequest, raw)
		}
	}
	return nil
}

// SchedulePublish creates the publish task of an approved content once and
// queues it. A content scheduled for later is left for PublishDue.
func (o *Orchestrator) SchedulePublish(ctx context.Context, contentID string) error {
	content, err := o.store.GetContent(ctx, contentID)
	if err != nil {
		return err
	}
	if content.Status != models.ContentStatusApproved {
		return fmt.Errorf("content %s is %s, not approved", contentID, content.Status)
	}
	if !content.Due(o.now()) {
		o.logger.Info("Publish deferred",
			zap.String("content_id", contentID),
			zap.Time("scheduled_at", *content.ScheduledAt))
		return nil
	}
	_, err = o.advance(ctx, contentID, models.TaskTypePublish, map[string]any{"targets": content.TargetPlatforms()})
	return err
}

// advance makes sure the (content, typ) task exists and, unless it already
// finished, has a live job. Calling it again is harmless.
func (o *Orchestrator) advance(ctx context.Context, contentID string, typ models.TaskType, payload any) (*models.Task, error) {
	raw, err := encode(payload)
	if err != nil {
		return nil, err
	}
	task := &models.Task{
		ID:        uuid.NewString(),
		ContentID: contentID,
		Type:      typ,
		Status:    models.TaskStatusPending,
		Payload:   raw,
	}
	err = o.store.CreateTask(ctx, task)
	if errors.Is(err, store.ErrDuplicate) {
		task, err = o.store.FindTask(ctx, contentID, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record %s task: %w", typ, err)
	}
	if task.Terminal() {
		return task, nil
	}
	return task, o.enqueue(ctx, task)
}

func (o *Orchestrator) enqueue(ctx context.Context, task *models.Task) error {
	stage := stageOf[task.Type]
	_, err := o.queue.Enqueue(ctx, stage, dedupKey(task), task.ID, jobPayload{ContentID: task.ContentID, Type: task.Type})
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", stage, err)
	}
	return nil
}

func dedupKey(task *models.Task) string {
	return task.ContentID + ":" + string(task.Type)
}

func encode(v any) (datatypes.JSON, error) {
	if v == nil {
		return datatypes.JSON("{}"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// loadTask returns the task of a job. A job without a task cannot make
// progress and is not retried.
func (o *Orchestrator) loadTask(ctx context.Context, job *models.Job) (*models.Task, error) {
	task, err := o.store.GetTask(ctx, job.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.Permanent(fmt.Errorf("task %s not found", job.TaskID))
	}
	return task, err
}

func (o *Orchestrator) startTask(ctx context.Context, id string, attempt int) (*models.Task, error) {
	return store.MutateTask(ctx, o.store, id, func(t *models.Task) error {
		return t.Start(attempt)
	})
}

func (o *Orchestrator) completeTask(ctx context.Context, id string, result any) (*models.Task, error) {
	raw, err := encode(result)
	if err != nil {
		return nil, err
	}
	return store.MutateTask(ctx, o.store, id, func(t *models.Task) error {
		if t.Status == models.TaskStatusCompleted {
			return store.ErrUnchanged
		}
		return t.Complete(raw, o.now())
	})
}

func (o *Orchestrator) failTask(ctx context.Context, id, msg string) (*models.Task, error) {
	return store.MutateTask(ctx, o.store, id, func(t *models.Task) error {
		if t.Terminal() {
			return store.ErrUnchanged
		}
		return t.Fail(msg, o.now())
	})
}

// noteError keeps the latest attempt's error on a task that will be retried.
func (o *Orchestrator) noteError(ctx context.Context, id string, cause error) {
	_, err := store.MutateTask(ctx, o.store, id, func(t *models.Task) error {
		if t.Terminal() {
			return store.ErrUnchanged
		}
		t.Error = cause.Error()
		return nil
	})
	if err != nil {
		o.logger.Warn("Failed to record attempt error", zap.String("task_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) approvalLinks(token string) (string, string) {
	return o.publicBaseURL + "/api/v1/approve/" + token, o.publicBaseURL + "/api/v1/reject/" + token
}
