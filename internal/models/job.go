package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDead      JobStatus = "dead"
)

// Job is a durable stage-queue entry. At most one waiting or active job
// exists per (queue, dedup_key).
type Job struct {
	ID          string         `gorm:"primaryKey;size:36" json:"id"`
	Queue       string         `gorm:"size:50;not null;index:idx_jobs_claim,priority:1" json:"queue"`
	DedupKey    string         `gorm:"size:100;not null;index" json:"dedup_key"`
	TaskID      string         `gorm:"size:36;index" json:"task_id"`
	Payload     datatypes.JSON `json:"payload"`
	Status      JobStatus      `gorm:"size:20;not null;index:idx_jobs_claim,priority:2" json:"status"`
	Attempts    int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int            `gorm:"not null" json:"max_attempts"`
	RunAt       time.Time      `gorm:"not null;index:idx_jobs_claim,priority:3" json:"run_at"`
	LockedUntil *time.Time     `json:"locked_until,omitempty"`
	LastError   string         `gorm:"type:text" json:"last_error,omitempty"`
	Version     int            `gorm:"not null;default:1" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Live reports whether the job still occupies its dedup slot.
func (j *Job) Live() bool {
	return j.Status == JobStatusWaiting || j.Status == JobStatusActive
}

// Claimable reports whether a worker may take the job at now.
func (j *Job) Claimable(now time.Time) bool {
	switch j.Status {
	case JobStatusWaiting:
		return !j.RunAt.After(now)
	case JobStatusActive:
		return j.LockedUntil != nil && j.LockedUntil.Before(now)
	}
	return false
}
