package models

import (
	"time"

	"gorm.io/datatypes"
)

// PipelineStats is a daily snapshot of pipeline throughput.
type PipelineStats struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Date              time.Time `gorm:"uniqueIndex;not null" json:"date"`
	TotalContents     int       `gorm:"default:0" json:"total_contents"`
	PendingContents   int       `gorm:"default:0" json:"pending_contents"`
	ApprovedContents  int       `gorm:"default:0" json:"approved_contents"`
	PublishedContents int       `gorm:"default:0" json:"published_contents"`
	FailedContents    int       `gorm:"default:0" json:"failed_contents"`
	CancelledContents int       `gorm:"default:0" json:"cancelled_contents"`
	FailedTasks       int       `gorm:"default:0" json:"failed_tasks"`
	DeadJobs          int       `gorm:"default:0" json:"dead_jobs"`
	WaitingJobs       int       `gorm:"default:0" json:"waiting_jobs"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlatformStats is a daily per-platform publication summary.
type PlatformStats struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Date               time.Time  `gorm:"uniqueIndex:idx_platform_stats_day;not null" json:"date"`
	Platform           Platform   `gorm:"size:20;uniqueIndex:idx_platform_stats_day;not null" json:"platform"`
	TotalPublications  int        `gorm:"default:0" json:"total_publications"`
	Successful         int        `gorm:"column:successful;default:0" json:"successful"`
	Failed             int        `gorm:"column:failed;default:0" json:"failed"`
	LastSuccessAt      *time.Time `json:"last_success_at"`
	LastFailureAt      *time.Time `json:"last_failure_at"`
	ErrorCount         int        `gorm:"default:0" json:"error_count"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrorLog keeps pipeline errors for operators.
type ErrorLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Level      string         `gorm:"size:20;not null;index" json:"level"`
	Source     string         `gorm:"size:100;not null;index" json:"source"`
	Platform   string         `gorm:"size:20;index" json:"platform,omitempty"`
	ContentID  string         `gorm:"size:36;index" json:"content_id,omitempty"`
	TaskID     string         `gorm:"size:36;index" json:"task_id,omitempty"`
	Title      string         `gorm:"size:500;not null" json:"title"`
	Message    string         `gorm:"type:text;not null" json:"message"`
	Context    datatypes.JSON `json:"context,omitempty"`
	Resolved   bool           `gorm:"default:false;index" json:"resolved"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// MetricsSample is a single counter or gauge observation.
type MetricsSample struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	MetricName string         `gorm:"size:100;not null;index" json:"metric_name"`
	MetricType string         `gorm:"size:50;not null" json:"metric_type"`
	Value      float64        `gorm:"not null" json:"value"`
	Tags       datatypes.JSON `json:"tags,omitempty"`
	Timestamp  time.Time      `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (PipelineStats) TableName() string { return "pipeline_stats" }

func (PlatformStats) TableName() string { return "platform_stats" }
