package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/murmur/internal/models"
)

// GormStore implements Store on postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the handle for components that run their own queries.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func translate(err error, format string, args ...any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrapf(ErrNotFound, format, args...)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrapf(ErrDuplicate, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

func (s *GormStore) CreateTask(ctx context.Context, task *models.Task) error {
	task.Version = 1
	return translate(s.db.WithContext(ctx).Create(task).Error, "create task %s/%s", task.ContentID, task.Type)
}

func (s *GormStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&task).Error; err != nil {
		return nil, translate(err, "task %s", id)
	}
	return &task, nil
}

func (s *GormStore) FindTask(ctx context.Context, contentID string, typ models.TaskType) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).Where("content_id = ? AND type = ?", contentID, typ).Take(&task).Error
	if err != nil {
		return nil, translate(err, "task %s/%s", contentID, typ)
	}
	return &task, nil
}

func (s *GormStore) ListTasks(ctx context.Context, contentID string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).Where("content_id = ?", contentID).Order("created_at").Find(&tasks).Error
	return tasks, translate(err, "list tasks %s", contentID)
}

func (s *GormStore) ListTasksFiltered(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	q := s.db.WithContext(ctx).Model(&models.Task{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", filter.UpdatedBefore)
	}
	if !filter.ScheduledBefore.IsZero() {
		q = q.Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", filter.ScheduledBefore)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var tasks []models.Task
	err := q.Order("updated_at").Find(&tasks).Error
	return tasks, translate(err, "list tasks")
}

// casUpdate writes every column of model when its version still equals prev.
// The primary key of model is added to the WHERE clause by gorm.
func (s *GormStore) casUpdate(ctx context.Context, model any, prev int) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(model).
		Where("version = ?", prev).
		Select("*").
		Omit("id", "created_at").
		Updates(model)
	return res.RowsAffected, res.Error
}

func (s *GormStore) UpdateTask(ctx context.Context, task *models.Task) error {
	prev := task.Version
	task.Version = prev + 1
	n, err := s.casUpdate(ctx, task, prev)
	if err != nil {
		task.Version = prev
		return translate(err, "update task %s", task.ID)
	}
	if n == 0 {
		task.Version = prev
		return errors.Wrapf(ErrConflict, "task %s", task.ID)
	}
	return nil
}

func (s *GormStore) CreateContent(ctx context.Context, content *models.Content) error {
	content.Version = 1
	return translate(s.db.WithContext(ctx).Create(content).Error, "create content %s", content.ID)
}

func (s *GormStore) GetContent(ctx context.Context, id string) (*models.Content, error) {
	var content models.Content
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&content).Error; err != nil {
		return nil, translate(err, "content %s", id)
	}
	return &content, nil
}

func (s *GormStore) GetContentByToken(ctx context.Context, token string) (*models.Content, error) {
	if token == "" {
		return nil, errors.Wrap(ErrNotFound, "content by token")
	}
	var content models.Content
	if err := s.db.WithContext(ctx).Where("approval_token = ?", token).Take(&content).Error; err != nil {
		return nil, translate(err, "content by token")
	}
	return &content, nil
}

func (s *GormStore) UpdateContent(ctx context.Context, content *models.Content) error {
	prev := content.Version
	content.Version = prev + 1
	n, err := s.casUpdate(ctx, content, prev)
	if err != nil {
		content.Version = prev
		return translate(err, "update content %s", content.ID)
	}
	if n == 0 {
		content.Version = prev
		return errors.Wrapf(ErrConflict, "content %s", content.ID)
	}
	return nil
}

func (s *GormStore) ListContents(ctx context.Context, filter ContentFilter) ([]models.Content, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Content{})
	if filter.Platform != "" {
		q = q.Where("platform = ?", filter.Platform)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if !filter.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", filter.UpdatedBefore)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count contents")
	}

	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var contents []models.Content
	if err := q.Order("created_at DESC, id DESC").Find(&contents).Error; err != nil {
		return nil, 0, translate(err, "list contents")
	}
	return contents, total, nil
}

func (s *GormStore) UpsertPublication(ctx context.Context, pub *models.Publication) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "content_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "external_id", "url", "error_message", "published_at", "updated_at",
		}),
	}).Create(pub).Error
	return translate(err, "upsert publication %s/%s", pub.ContentID, pub.Platform)
}

func (s *GormStore) ListPublications(ctx context.Context, contentID string) ([]models.Publication, error) {
	var pubs []models.Publication
	err := s.db.WithContext(ctx).Where("content_id = ?", contentID).Order("platform").Find(&pubs).Error
	return pubs, translate(err, "list publications %s", contentID)
}

func (s *GormStore) EnqueueJob(ctx context.Context, job *models.Job) (string, bool, error) {
	job.Version = 1
	err := s.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job.ID, true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", false, translate(err, "enqueue %s/%s", job.Queue, job.DedupKey)
	}
	live, findErr := s.FindLiveJob(ctx, job.Queue, job.DedupKey)
	if findErr != nil {
		// The live job finished between the insert and the lookup
		return "", false, errors.Wrapf(ErrConflict, "enqueue %s/%s", job.Queue, job.DedupKey)
	}
	return live.ID, false, nil
}

func (s *GormStore) ClaimJob(ctx context.Context, queue string, now time.Time, lease time.Duration) (*models.Job, error) {
	var claimed models.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("queue = ?", queue).
			Where("(status = ? AND run_at <= ?) OR (status = ? AND locked_until < ?)",
				models.JobStatusWaiting, now, models.JobStatusActive, now).
			Order("run_at").
			Take(&claimed).Error
		if err != nil {
			return err
		}

		lockedUntil := now.Add(lease)
		claimed.Status = models.JobStatusActive
		claimed.Attempts++
		claimed.LockedUntil = &lockedUntil
		claimed.Version++
		return tx.Model(&claimed).
			Select("status", "attempts", "locked_until", "version", "updated_at").
			Updates(&claimed).Error
	})
	if err != nil {
		return nil, translate(err, "claim %s", queue)
	}
	return &claimed, nil
}

func (s *GormStore) UpdateJob(ctx context.Context, job *models.Job) error {
	prev := job.Version
	job.Version = prev + 1
	n, err := s.casUpdate(ctx, job, prev)
	if err != nil {
		job.Version = prev
		return translate(err, "update job %s", job.ID)
	}
	if n == 0 {
		job.Version = prev
		return errors.Wrapf(ErrConflict, "job %s", job.ID)
	}
	return nil
}

func (s *GormStore) FindLiveJob(ctx context.Context, queue, dedupKey string) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("queue = ? AND dedup_key = ? AND status IN ?", queue, dedupKey,
			[]models.JobStatus{models.JobStatusWaiting, models.JobStatusActive}).
		Take(&job).Error
	if err != nil {
		return nil, translate(err, "live job %s/%s", queue, dedupKey)
	}
	return &job, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
