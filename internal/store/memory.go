package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ifuryst/murmur/internal/models"
)

// MemoryStore implements Store in process memory. It honours the same
// uniqueness and version rules as the postgres store and backs the tests and
// single-process runs.
type MemoryStore struct {
	mu           sync.Mutex
	tasks        map[string]models.Task
	contents     map[string]models.Content
	publications map[string]models.Publication
	jobs         map[string]models.Job
	nextPubID    uint
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:        make(map[string]models.Task),
		contents:     make(map[string]models.Content),
		publications: make(map[string]models.Publication),
		jobs:         make(map[string]models.Job),
		now:          time.Now,
	}
}

// SetClock overrides the time source used for created/updated stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func pubKey(contentID string, platform models.Platform) string {
	return contentID + "/" + string(platform)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneContent(c models.Content) *models.Content {
	c.ApprovalIssuedAt = copyTime(c.ApprovalIssuedAt)
	c.ApprovalExpiresAt = copyTime(c.ApprovalExpiresAt)
	c.ApprovalConsumedAt = copyTime(c.ApprovalConsumedAt)
	c.ApprovedAt = copyTime(c.ApprovedAt)
	c.ScheduledAt = copyTime(c.ScheduledAt)
	if c.ApprovalToken != nil {
		tok := *c.ApprovalToken
		c.ApprovalToken = &tok
	}
	return &c
}

func cloneTask(t models.Task) *models.Task {
	t.CompletedAt = copyTime(t.CompletedAt)
	return &t
}

func cloneJob(j models.Job) *models.Job {
	j.LockedUntil = copyTime(j.LockedUntil)
	j.FinishedAt = copyTime(j.FinishedAt)
	return &j
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.ID]; ok {
		return errors.Wrapf(ErrDuplicate, "task %s", task.ID)
	}
	for _, t := range m.tasks {
		if t.ContentID == task.ContentID && t.Type == task.Type {
			return errors.Wrapf(ErrDuplicate, "task %s/%s", task.ContentID, task.Type)
		}
	}
	now := m.now()
	task.CreatedAt, task.UpdatedAt = now, now
	task.Version = 1
	m.tasks[task.ID] = *cloneTask(*task)
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "task %s", id)
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) FindTask(_ context.Context, contentID string, typ models.TaskType) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.ContentID == contentID && t.Type == typ {
			return cloneTask(t), nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "task %s/%s", contentID, typ)
}

func (m *MemoryStore) ListTasks(_ context.Context, contentID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Task
	for _, t := range m.tasks {
		if t.ContentID == contentID {
			out = append(out, *cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListTasksFiltered(_ context.Context, filter TaskFilter) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Task
	for _, t := range m.tasks {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, *cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func containsStatus(list []models.TaskStatus, s models.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.tasks[task.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "task %s", task.ID)
	}
	if cur.Version != task.Version {
		return errors.Wrapf(ErrConflict, "task %s", task.ID)
	}
	task.Version++
	task.CreatedAt = cur.CreatedAt
	task.UpdatedAt = m.now()
	m.tasks[task.ID] = *cloneTask(*task)
	return nil
}

func (m *MemoryStore) CreateContent(_ context.Context, content *models.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contents[content.ID]; ok {
		return errors.Wrapf(ErrDuplicate, "content %s", content.ID)
	}
	if err := m.checkTokenLocked(content); err != nil {
		return err
	}
	now := m.now()
	content.CreatedAt, content.UpdatedAt = now, now
	content.Version = 1
	m.contents[content.ID] = *cloneContent(*content)
	return nil
}

func (m *MemoryStore) checkTokenLocked(content *models.Content) error {
	tok := content.Token()
	if tok == "" {
		return nil
	}
	for id, c := range m.contents {
		if id != content.ID && c.Token() == tok {
			return errors.Wrap(ErrDuplicate, "approval token")
		}
	}
	return nil
}

func (m *MemoryStore) GetContent(_ context.Context, id string) (*models.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.contents[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "content %s", id)
	}
	return cloneContent(c), nil
}

func (m *MemoryStore) GetContentByToken(_ context.Context, token string) (*models.Content, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != "" {
		for _, c := range m.contents {
			if c.Token() == token {
				return cloneContent(c), nil
			}
		}
	}
	return nil, errors.Wrap(ErrNotFound, "content by token")
}

func (m *MemoryStore) UpdateContent(_ context.Context, content *models.Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.contents[content.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "content %s", content.ID)
	}
	if cur.Version != content.Version {
		return errors.Wrapf(ErrConflict, "content %s", content.ID)
	}
	if err := m.checkTokenLocked(content); err != nil {
		return err
	}
	content.Version++
	content.CreatedAt = cur.CreatedAt
	content.UpdatedAt = m.now()
	m.contents[content.ID] = *cloneContent(*content)
	return nil
}

func (m *MemoryStore) ListContents(_ context.Context, filter ContentFilter) ([]models.Content, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.Content
	for _, c := range m.contents {
		if filter.Platform != "" && c.Platform != filter.Platform {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !c.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		if !filter.ScheduledBefore.IsZero() && (c.ScheduledAt == nil || c.ScheduledAt.After(filter.ScheduledBefore)) {
			continue
		}
		matched = append(matched, *cloneContent(c))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []models.Content{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) UpsertPublication(_ context.Context, pub *models.Publication) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pubKey(pub.ContentID, pub.Platform)
	now := m.now()
	if cur, ok := m.publications[key]; ok {
		pub.ID = cur.ID
		pub.CreatedAt = cur.CreatedAt
	} else {
		m.nextPubID++
		pub.ID = m.nextPubID
		pub.CreatedAt = now
	}
	pub.UpdatedAt = now
	stored := *pub
	stored.PublishedAt = copyTime(pub.PublishedAt)
	m.publications[key] = stored
	return nil
}

func (m *MemoryStore) ListPublications(_ context.Context, contentID string) ([]models.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Publication
	for _, p := range m.publications {
		if p.ContentID == contentID {
			p.PublishedAt = copyTime(p.PublishedAt)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *MemoryStore) EnqueueJob(_ context.Context, job *models.Job) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Queue == job.Queue && j.DedupKey == job.DedupKey && j.Live() {
			return j.ID, false, nil
		}
	}
	if _, ok := m.jobs[job.ID]; ok {
		return "", false, errors.Wrapf(ErrDuplicate, "job %s", job.ID)
	}
	now := m.now()
	job.CreatedAt, job.UpdatedAt = now, now
	job.Version = 1
	m.jobs[job.ID] = *cloneJob(*job)
	return job.ID, true, nil
}

func (m *MemoryStore) ClaimJob(_ context.Context, queue string, now time.Time, lease time.Duration) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *models.Job
	for _, j := range m.jobs {
		if j.Queue != queue || !j.Claimable(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) || (j.RunAt.Equal(next.RunAt) && j.CreatedAt.Before(next.CreatedAt)) {
			next = cloneJob(j)
		}
	}
	if next == nil {
		return nil, ErrNotFound
	}

	lockedUntil := now.Add(lease)
	next.Status = models.JobStatusActive
	next.Attempts++
	next.LockedUntil = &lockedUntil
	next.Version++
	next.UpdatedAt = m.now()
	m.jobs[next.ID] = *cloneJob(*next)
	return next, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[job.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	if cur.Version != job.Version {
		return errors.Wrapf(ErrConflict, "job %s", job.ID)
	}
	job.Version++
	job.CreatedAt = cur.CreatedAt
	job.UpdatedAt = m.now()
	m.jobs[job.ID] = *cloneJob(*job)
	return nil
}

func (m *MemoryStore) FindLiveJob(_ context.Context, queue, dedupKey string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.Queue == queue && j.DedupKey == dedupKey && j.Live() {
			return cloneJob(j), nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "live job %s/%s", queue, dedupKey)
}

// Jobs returns every job of queue, oldest first. Used by tests and the inspect command.
func (m *MemoryStore) Jobs(queue string) []models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for _, j := range m.jobs {
		if queue == "" || j.Queue == queue {
			out = append(out, *cloneJob(j))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
