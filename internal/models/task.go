package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// TaskType is a pipeline stage as recorded in the ledger.
type TaskType string

const (
	TaskTypeGenerate TaskType = "generate"
	TaskTypeImage    TaskType = "image"
	TaskTypeApproval TaskType = "approval"
	TaskTypePublish  TaskType = "publish"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Task is one ledger row per (content, stage). Rows are never deleted.
type Task struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	ContentID   string         `gorm:"size:36;not null;uniqueIndex:idx_tasks_content_type" json:"content_id"`
	Type        TaskType       `gorm:"size:20;not null;uniqueIndex:idx_tasks_content_type" json:"type"`
	Status      TaskStatus     `gorm:"size:20;not null;index" json:"status"`
	Payload     datatypes.JSON `json:"payload"`
	Result      datatypes.JSON `json:"result,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	Version     int            `gorm:"not null;default:1" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// Start marks the task as being worked on for the given delivery attempt.
// Attempts only ever grows.
func (t *Task) Start(attempt int) error {
	if t.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusProcessing)
	}
	t.Status = TaskStatusProcessing
	if attempt > t.Attempts {
		t.Attempts = attempt
	}
	return nil
}

// Complete records a result; completed tasks never carry an error.
func (t *Task) Complete(result datatypes.JSON, now time.Time) error {
	if t.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusCompleted)
	}
	if len(result) == 0 {
		result = datatypes.JSON("{}")
	}
	t.Status = TaskStatusCompleted
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now
	return nil
}

// Fail records a terminal failure. A failed task always has an error message.
func (t *Task) Fail(msg string, now time.Time) error {
	if t.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, TaskStatusFailed)
	}
	if msg == "" {
		msg = "unknown error"
	}
	t.Status = TaskStatusFailed
	t.Error = msg
	t.Result = nil
	t.CompletedAt = &now
	return nil
}
