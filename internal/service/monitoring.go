package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/orchestrator"
)

// Metric names recorded by the pipeline.
const (
	MetricPublishSuccess = "publish_success"
	MetricPublishFailure = "publish_failure"
	MetricStageFailure   = "stage_failure"
)

const (
	LevelError   = "error"
	LevelWarning = "warning"
)

// MonitoringService keeps error logs, metric samples and daily stats in
// postgres. It is the orchestrator's failure recorder and the dispatcher's
// observer.
type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger.Named("monitoring"),
		now:    time.Now,
	}
}

func (m *MonitoringService) SetClock(now func() time.Time) {
	m.now = now
}

func (m *MonitoringService) today() time.Time {
	return m.now().UTC().Truncate(24 * time.Hour)
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

func WithPlatform(platform models.Platform) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.Platform = string(platform)
	}
}

func WithContent(contentID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.ContentID = contentID
	}
}

func WithTask(taskID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.TaskID = taskID
	}
}

// WithContext attaches free-form fields as JSON.
func WithContext(fields map[string]any) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if raw, err := json.Marshal(fields); err == nil {
			e.Context = datatypes.JSON(raw)
		}
	}
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(ctx context.Context, level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}
	for _, option := range options {
		option(errorLog)
	}
	return m.db.WithContext(ctx).Create(errorLog).Error
}

// RecordMetric 记录指标数据
func (m *MonitoringService) RecordMetric(ctx context.Context, name, metricType string, value float64, tags map[string]any) error {
	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Timestamp:  m.now(),
	}
	if tags != nil {
		if raw, err := json.Marshal(tags); err == nil {
			metric.Tags = datatypes.JSON(raw)
		}
	}
	return m.db.WithContext(ctx).Create(metric).Error
}

// RecordFailure stores a dead stage. Storage errors are logged, never returned.
func (m *MonitoringService) RecordFailure(ctx context.Context, f orchestrator.Failure) {
	opts := []ErrorLogOption{
		WithContent(f.ContentID),
		WithTask(f.TaskID),
		WithContext(map[string]any{"stage": string(f.Stage), "retryable": errs.IsRetryable(f.Err)}),
	}
	if f.Platform != "" {
		opts = append(opts, WithPlatform(f.Platform))
	}

	title := fmt.Sprintf("Stage %s failed", f.Stage)
	if err := m.RecordError(ctx, LevelError, "orchestrator", title, f.Err.Error(), opts...); err != nil {
		m.logger.Error("Failed to record stage failure", zap.String("content_id", f.ContentID), zap.Error(err))
	}
	if err := m.RecordMetric(ctx, MetricStageFailure, "counter", 1, map[string]any{"stage": string(f.Stage)}); err != nil {
		m.logger.Warn("Failed to record metric", zap.String("metric", MetricStageFailure), zap.Error(err))
	}
}

func (m *MonitoringService) PublishSucceeded(ctx context.Context, contentID string, platform models.Platform) {
	tags := map[string]any{"platform": string(platform), "content_id": contentID}
	if err := m.RecordMetric(ctx, MetricPublishSuccess, "counter", 1, tags); err != nil {
		m.logger.Warn("Failed to record metric", zap.String("metric", MetricPublishSuccess), zap.Error(err))
	}
}

// PublishFailed records a platform failure. Retryable ones are warnings since
// the publish stage may still get through.
func (m *MonitoringService) PublishFailed(ctx context.Context, contentID string, platform models.Platform, cause error) {
	level := LevelError
	if errs.IsRetryable(cause) {
		level = LevelWarning
	}
	title := fmt.Sprintf("Publishing to %s failed", platform)
	if err := m.RecordError(ctx, level, "publisher", title, cause.Error(),
		WithPlatform(platform), WithContent(contentID)); err != nil {
		m.logger.Error("Failed to record publish failure", zap.String("content_id", contentID), zap.Error(err))
	}

	tags := map[string]any{"platform": string(platform), "content_id": contentID}
	if err := m.RecordMetric(ctx, MetricPublishFailure, "counter", 1, tags); err != nil {
		m.logger.Warn("Failed to record metric", zap.String("metric", MetricPublishFailure), zap.Error(err))
	}
}

type statusCount struct {
	Status string
	Count  int64
}

func (m *MonitoringService) countBy(ctx context.Context, model any, column string, where ...any) (map[string]int64, error) {
	var rows []statusCount
	q := m.db.WithContext(ctx).Model(model).Select(column + " AS status, COUNT(*) AS count").Group(column)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// UpdatePipelineStats 更新当日流水线统计
func (m *MonitoringService) UpdatePipelineStats(ctx context.Context) error {
	// 查询各种统计数据
	contents, err := m.countBy(ctx, &models.Content{}, "status")
	if err != nil {
		return fmt.Errorf("failed to count contents: %w", err)
	}
	jobs, err := m.countBy(ctx, &models.Job{}, "status")
	if err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	var failedTasks int64
	if err := m.db.WithContext(ctx).Model(&models.Task{}).
		Where("status = ?", models.TaskStatusFailed).Count(&failedTasks).Error; err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}

	var total int64
	for _, n := range contents {
		total += n
	}

	stats := models.PipelineStats{
		Date:              m.today(),
		TotalContents:     int(total),
		PendingContents:   int(contents[string(models.ContentStatusPending)]),
		ApprovedContents:  int(contents[string(models.ContentStatusApproved)]),
		PublishedContents: int(contents[string(models.ContentStatusPublished)]),
		FailedContents:    int(contents[string(models.ContentStatusFailed)]),
		CancelledContents: int(contents[string(models.ContentStatusCancelled)]),
		FailedTasks:       int(failedTasks),
		DeadJobs:          int(jobs[string(models.JobStatusDead)]),
		WaitingJobs:       int(jobs[string(models.JobStatusWaiting)]),
	}

	// 更新或创建统计记录
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_contents", "pending_contents", "approved_contents", "published_contents",
			"failed_contents", "cancelled_contents", "failed_tasks", "dead_jobs", "waiting_jobs", "updated_at",
		}),
	}).Create(&stats).Error
}

// UpdatePlatformStats 更新当日平台统计
func (m *MonitoringService) UpdatePlatformStats(ctx context.Context) error {
	today := m.today()

	for _, platform := range models.Platforms {
		byStatus, err := m.countBy(ctx, &models.Publication{}, "status", "platform = ?", platform)
		if err != nil {
			return fmt.Errorf("failed to count %s publications: %w", platform, err)
		}

		var lastSuccess, lastFailure models.Publication
		m.db.WithContext(ctx).Where("platform = ? AND status = ?", platform, models.PublicationStatusSuccess).
			Order("published_at desc").Limit(1).Find(&lastSuccess)
		m.db.WithContext(ctx).Where("platform = ? AND status = ?", platform, models.PublicationStatusFailed).
			Order("updated_at desc").Limit(1).Find(&lastFailure)

		var errorCount int64
		m.db.WithContext(ctx).Model(&models.ErrorLog{}).
			Where("platform = ? AND created_at >= ?", platform, today).Count(&errorCount)

		successful := byStatus[string(models.PublicationStatusSuccess)]
		failed := byStatus[string(models.PublicationStatusFailed)]
		stats := models.PlatformStats{
			Date:              today,
			Platform:          platform,
			TotalPublications: int(successful + failed),
			Successful:        int(successful),
			Failed:            int(failed),
			ErrorCount:        int(errorCount),
		}
		if lastSuccess.ID != 0 {
			stats.LastSuccessAt = lastSuccess.PublishedAt
		}
		if lastFailure.ID != 0 {
			stats.LastFailureAt = &lastFailure.UpdatedAt
		}

		err = m.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "date"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"total_publications", "successful", "failed", "last_success_at", "last_failure_at",
				"error_count", "updated_at",
			}),
		}).Create(&stats).Error
		if err != nil {
			return fmt.Errorf("failed to save %s stats: %w", platform, err)
		}
	}
	return nil
}

// Stats is the live summary served by the API.
type Stats struct {
	Contents         map[string]int64            `json:"contents"`
	Tasks            map[string]int64            `json:"tasks"`
	Jobs             map[string]int64            `json:"jobs"`
	Publications     map[string]map[string]int64 `json:"publications"`
	UnresolvedErrors int64                       `json:"unresolved_errors"`
	LastPublishedAt  *time.Time                  `json:"last_published_at,omitempty"`
	GeneratedAt      time.Time                   `json:"generated_at"`
}

// GetStats counts the current state of the pipeline.
func (m *MonitoringService) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Publications: make(map[string]map[string]int64),
		GeneratedAt:  m.now(),
	}

	var err error
	if stats.Contents, err = m.countBy(ctx, &models.Content{}, "status"); err != nil {
		return nil, fmt.Errorf("failed to count contents: %w", err)
	}
	if stats.Tasks, err = m.countBy(ctx, &models.Task{}, "status"); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	if stats.Jobs, err = m.countBy(ctx, &models.Job{}, "status"); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	var rows []struct {
		Platform string
		Status   string
		Count    int64
	}
	if err := m.db.WithContext(ctx).Model(&models.Publication{}).
		Select("platform, status, COUNT(*) AS count").
		Group("platform, status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count publications: %w", err)
	}
	for _, r := range rows {
		if stats.Publications[r.Platform] == nil {
			stats.Publications[r.Platform] = make(map[string]int64)
		}
		stats.Publications[r.Platform][r.Status] = r.Count
	}

	if err := m.db.WithContext(ctx).Model(&models.ErrorLog{}).
		Where("resolved = ?", false).Count(&stats.UnresolvedErrors).Error; err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}

	var last models.Publication
	m.db.WithContext(ctx).Where("status = ?", models.PublicationStatusSuccess).
		Order("published_at desc").Limit(1).Find(&last)
	if last.ID != 0 {
		stats.LastPublishedAt = last.PublishedAt
	}
	return stats, nil
}

// GetRecentErrors 获取最近的错误日志
func (m *MonitoringService) GetRecentErrors(ctx context.Context, limit int) ([]models.ErrorLog, error) {
	var logs []models.ErrorLog
	err := m.db.WithContext(ctx).
		Order("created_at desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// GetPlatformStats 获取平台统计数据
func (m *MonitoringService) GetPlatformStats(ctx context.Context, days int) ([]models.PlatformStats, error) {
	var stats []models.PlatformStats
	startDate := m.today().AddDate(0, 0, -days)
	err := m.db.WithContext(ctx).
		Where("date >= ?", startDate).
		Order("date desc, platform").
		Find(&stats).Error
	return stats, err
}

// ResolveError marks an error log as handled.
func (m *MonitoringService) ResolveError(ctx context.Context, id uint) error {
	now := m.now()
	return m.db.WithContext(ctx).Model(&models.ErrorLog{}).Where("id = ?", id).
		Updates(map[string]any{"resolved": true, "resolved_at": now}).Error
}

// CleanupOldData 清理旧数据
func (m *MonitoringService) CleanupOldData(ctx context.Context, daysToKeep int) error {
	cutoffDate := m.now().AddDate(0, 0, -daysToKeep)
	db := m.db.WithContext(ctx)

	if err := db.Where("timestamp < ?", cutoffDate).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}
	if err := db.Where("date < ?", cutoffDate).Delete(&models.PipelineStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup pipeline stats: %w", err)
	}
	if err := db.Where("date < ?", cutoffDate).Delete(&models.PlatformStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup platform stats: %w", err)
	}
	if err := db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}
	return nil
}
