// Package store persists the pipeline ledger, content records, publications
// and stage-queue jobs. Every mutable record carries a version column and
// updates are compare-and-set on it.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ifuryst/murmur/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("version conflict")
	ErrDuplicate = errors.New("duplicate record")
	// ErrUnchanged is returned by mutate callbacks to skip the write.
	ErrUnchanged = errors.New("unchanged")
)

// ContentFilter narrows ListContents. Zero fields are ignored.
type ContentFilter struct {
	Platform      models.Platform
	Status        models.ContentStatus
	UpdatedBefore time.Time
	// ScheduledBefore keeps only contents scheduled at or before it.
	ScheduledBefore time.Time
	Offset          int
	Limit           int
}

// TaskFilter selects ledger rows for the reconciliation sweep.
type TaskFilter struct {
	Statuses      []models.TaskStatus
	UpdatedBefore time.Time
	Limit         int
}

type Store interface {
	// CreateTask returns ErrDuplicate when (content_id, type) already exists.
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	FindTask(ctx context.Context, contentID string, typ models.TaskType) (*models.Task, error)
	ListTasks(ctx context.Context, contentID string) ([]models.Task, error)
	ListTasksFiltered(ctx context.Context, filter TaskFilter) ([]models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error

	CreateContent(ctx context.Context, content *models.Content) error
	GetContent(ctx context.Context, id string) (*models.Content, error)
	GetContentByToken(ctx context.Context, token string) (*models.Content, error)
	UpdateContent(ctx context.Context, content *models.Content) error
	ListContents(ctx context.Context, filter ContentFilter) ([]models.Content, int64, error)

	UpsertPublication(ctx context.Context, pub *models.Publication) error
	ListPublications(ctx context.Context, contentID string) ([]models.Publication, error)

	// EnqueueJob inserts job unless a live job with the same queue and dedup
	// key exists. It returns the ID of the live job and whether it was created.
	EnqueueJob(ctx context.Context, job *models.Job) (string, bool, error)
	// ClaimJob leases the next claimable job of queue, bumping its attempts.
	// It returns ErrNotFound when nothing is ready.
	ClaimJob(ctx context.Context, queue string, now time.Time, lease time.Duration) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	FindLiveJob(ctx context.Context, queue, dedupKey string) (*models.Job, error)

	Ping(ctx context.Context) error
}

const maxMutateAttempts = 5

// MutateContent reads the content, applies fn and writes it back, retrying on
// version conflicts. fn may return ErrUnchanged to skip the write.
func MutateContent(ctx context.Context, s Store, id string, fn func(*models.Content) error) (*models.Content, error) {
	for i := 0; i < maxMutateAttempts; i++ {
		content, err := s.GetContent(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(content); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return content, nil
			}
			return nil, err
		}
		err = s.UpdateContent(ctx, content)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(ErrConflict, "content %s: gave up after %d attempts", id, maxMutateAttempts)
}

// MutateTask is MutateContent for ledger rows.
func MutateTask(ctx context.Context, s Store, id string, fn func(*models.Task) error) (*models.Task, error) {
	for i := 0; i < maxMutateAttempts; i++ {
		task, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(task); err != nil {
			if errors.Is(err, ErrUnchanged) {
				return task, nil
			}
			return nil, err
		}
		err = s.UpdateTask(ctx, task)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
	}
	return nil, errors.Wrapf(ErrConflict, "task %s: gave up after %d attempts", id, maxMutateAttempts)
}
