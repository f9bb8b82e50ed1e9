// Package queue is a durable, at-least-once job queue with one lane per
// pipeline stage. Jobs live in the store; workers claim them with a lease, so
// a crashed worker's job is redelivered once the lease runs out.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/store"
)

// Handler processes one delivery. Returning an error schedules a retry unless
// the error is not retryable or attempts are used up.
type Handler func(ctx context.Context, job *models.Job) error

// DeadHandler runs once when a job is given up on.
type DeadHandler func(ctx context.Context, job *models.Job, cause error)

var ErrNoHandler = errors.New("no handler registered")

type Options struct {
	Policies     map[Stage]RetryPolicy
	PollInterval time.Duration
	Lease        time.Duration
	Concurrency  int
}

type Queue struct {
	store  store.Store
	logger *zap.Logger
	opts   Options

	mu       sync.RWMutex
	handlers map[Stage]Handler
	dead     map[Stage]DeadHandler
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       conc.WaitGroup
}

func New(s store.Store, logger *zap.Logger, opts Options) *Queue {
	if opts.Policies == nil {
		opts.Policies = DefaultPolicies()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Queue{
		store:    s,
		logger:   logger.Named("queue"),
		opts:     opts,
		handlers: make(map[Stage]Handler),
		dead:     make(map[Stage]DeadHandler),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// SetClock replaces the time source. Tests use it to step through backoff.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *Queue) clock() time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.now()
}

func (q *Queue) Policy(stage Stage) RetryPolicy {
	if p, ok := q.opts.Policies[stage]; ok {
		return p
	}
	return DefaultPolicies()[StageContentGeneration]
}

func (q *Queue) Handle(stage Stage, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[stage] = h
}

func (q *Queue) OnDead(stage Stage, h DeadHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead[stage] = h
}

func (q *Queue) handler(stage Stage) Handler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.handlers[stage]
}

func (q *Queue) deadHandler(stage Stage) DeadHandler {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dead[stage]
}

// Enqueue adds a job to stage unless a waiting or active job with the same
// dedup key exists, in which case the existing job's ID is returned.
func (q *Queue) Enqueue(ctx context.Context, stage Stage, dedupKey, taskID string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Queue:       string(stage),
		DedupKey:    dedupKey,
		TaskID:      taskID,
		Payload:     datatypes.JSON(raw),
		Status:      models.JobStatusWaiting,
		MaxAttempts: q.Policy(stage).Attempts,
		RunAt:       q.clock(),
	}
	id, created, err := q.store.EnqueueJob(ctx, job)
	if err != nil {
		return "", err
	}
	if created {
		q.logger.Debug("Job enqueued",
			zap.String("stage", string(stage)),
			zap.String("job_id", id),
			zap.String("dedup_key", dedupKey))
	} else {
		q.logger.Debug("Job already queued",
			zap.String("stage", string(stage)),
			zap.String("job_id", id),
			zap.String("dedup_key", dedupKey))
	}
	return id, nil
}

// ProcessNext claims and runs one job of stage. It reports whether a job was
// claimed. Handler failures are recorded on the job, not returned.
func (q *Queue) ProcessNext(ctx context.Context, stage Stage) (bool, error) {
	h := q.handler(stage)
	if h == nil {
		return false, fmt.Errorf("%w for stage %s", ErrNoHandler, stage)
	}

	job, err := q.store.ClaimJob(ctx, string(stage), q.clock(), q.opts.Lease)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}

	log := q.logger.With(
		zap.String("stage", string(stage)),
		zap.String("job_id", job.ID),
		zap.String("dedup_key", job.DedupKey),
		zap.Int("attempt", job.Attempts))

	// The previous holder's lease ran out on its last attempt
	if job.Attempts > job.MaxAttempts {
		cause := errors.New(job.LastError)
		if job.LastError == "" {
			cause = errors.New("attempts exhausted")
		}
		q.bury(ctx, stage, job, cause, log)
		return true, nil
	}

	runErr := q.run(ctx, h, job)
	if runErr == nil {
		now := q.clock()
		job.Status = models.JobStatusCompleted
		job.LastError = ""
		job.LockedUntil = nil
		job.FinishedAt = &now
		q.save(ctx, job, log)
		log.Debug("Job completed")
		return true, nil
	}

	if !errs.IsRetryable(runErr) || job.Attempts >= job.MaxAttempts {
		q.bury(ctx, stage, job, runErr, log)
		return true, nil
	}

	delay := q.Policy(stage).DelayAfter(job.Attempts)
	job.Status = models.JobStatusWaiting
	job.LastError = runErr.Error()
	job.LockedUntil = nil
	job.RunAt = q.clock().Add(delay)
	q.save(ctx, job, log)
	log.Warn("Job failed, will retry", zap.Error(runErr), zap.Duration("backoff", delay))
	return true, nil
}

func (q *Queue) run(ctx context.Context, h Handler, job *models.Job) error {
	runCtx, cancel := context.WithTimeout(ctx, q.opts.Lease)
	defer cancel()

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = h(runCtx, job) })
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	return err
}

func (q *Queue) bury(ctx context.Context, stage Stage, job *models.Job, cause error, log *zap.Logger) {
	now := q.clock()
	job.Status = models.JobStatusDead
	job.LastError = cause.Error()
	job.LockedUntil = nil
	job.FinishedAt = &now
	if !q.save(ctx, job, log) {
		return
	}
	log.Error("Job moved to dead state", zap.Error(cause))

	if dh := q.deadHandler(stage); dh != nil {
		dh(ctx, job, cause)
	}
}

// save reports whether the job update won. Losing means another worker holds the lease now.
func (q *Queue) save(ctx context.Context, job *models.Job, log *zap.Logger) bool {
	if err := q.store.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Warn("Job lease lost before result was saved")
		} else {
			log.Error("Failed to save job", zap.Error(err))
		}
		return false
	}
	return true
}

// Start launches the configured number of workers for every stage with a handler.
func (q *Queue) Start(ctx context.Context) {
	q.mu.RLock()
	stages := make([]Stage, 0, len(q.handlers))
	for stage := range q.handlers {
		stages = append(stages, stage)
	}
	q.mu.RUnlock()

	for _, stage := range stages {
		for i := 0; i < q.opts.Concurrency; i++ {
			q.wg.Go(func() { q.loop(ctx, stage) })
		}
		q.logger.Info("Stage workers started",
			zap.String("stage", string(stage)),
			zap.Int("workers", q.opts.Concurrency))
	}
}

func (q *Queue) loop(ctx context.Context, stage Stage) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		processed, err := q.ProcessNext(ctx, stage)
		if err != nil && ctx.Err() == nil {
			q.logger.Error("Worker poll failed", zap.String("stage", string(stage)), zap.Error(err))
		}
		if processed {
			timer.Reset(0)
		} else {
			timer.Reset(q.opts.PollInterval)
		}
	}
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
	q.logger.Info("Queue stopped")
}
