package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/service/approval"
	"github.com/ifuryst/murmur/internal/service/generator"
	"github.com/ifuryst/murmur/internal/service/notify"
	"github.com/ifuryst/murmur/internal/service/publisher"
	"github.com/ifuryst/murmur/internal/service/queue"
	"github.com/ifuryst/murmur/internal/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	failures []error
	calls    int
	image    string
	route    models.Platform
}

func (g *fakeGenerator) Generate(_ context.Context, platform models.Platform, prompt string, schema generator.Schema) (*models.ContentBody, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.failures) > 0 {
		err := g.failures[0]
		g.failures = g.failures[1:]
		return nil, err
	}
	fields := map[string]any{}
	for _, k := range schema.Keys() {
		fields[k] = "x"
	}
	fields["post"] = "Hello " + prompt
	fields["caption"] = "Hello " + prompt
	return &models.ContentBody{
		Root:   models.RootSection{Name: "post", Description: "about " + prompt},
		Common: models.CommonSection{Hashtags: []string{"go"}, ImageSuggestion: g.image},
		Schema: fields,
	}, nil
}

func (g *fakeGenerator) Route(context.Context, string) (models.Platform, float64) {
	if g.route == "" {
		return models.PlatformTwitter, generator.FallbackConfidence
	}
	return g.route, 0.9
}

type fakeRenderer struct {
	calls int
	err   error
}

func (r *fakeRenderer) Render(_ context.Context, prompt string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return "https://img.example/" + strings.ReplaceAll(prompt, " ", "-") + ".png", nil
}

type fakePublisher struct {
	platform models.Platform
	err      error
	calls    int
}

func (p *fakePublisher) Platform() models.Platform { return p.platform }

func (p *fakePublisher) Publish(context.Context, publisher.Content) (*publisher.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &publisher.Result{ExternalID: string(p.platform) + "-1", URL: "https://" + string(p.platform) + ".example/1"}, nil
}

type recordingNotifier struct {
	requests []notify.ApprovalRequest
	messages []string
}

func (n *recordingNotifier) SendApprovalRequest(_ context.Context, req notify.ApprovalRequest) error {
	n.requests = append(n.requests, req)
	return nil
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return nil
}

type recordingRecorder struct {
	failures []Failure
}

func (r *recordingRecorder) RecordFailure(_ context.Context, f Failure) {
	r.failures = append(r.failures, f)
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	now        time.Time
	store      *store.MemoryStore
	queue      *queue.Queue
	gate       *approval.Gate
	gen        *fakeGenerator
	images     *fakeRenderer
	publishers map[models.Platform]*fakePublisher
	notifier   *recordingNotifier
	recorder   *recordingRecorder
	orch       *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, func(m *store.MemoryStore) store.Store { return m })
}

// newFixtureWith runs the pipeline over wrap(memory store) while the fixture
// keeps reading the memory store directly.
func newFixtureWith(t *testing.T, wrap func(*store.MemoryStore) store.Store) *fixture {
	f := &fixture{
		t:          t,
		ctx:        context.Background(),
		now:        time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		store:      store.NewMemoryStore(),
		gen:        &fakeGenerator{},
		images:     &fakeRenderer{},
		publishers: map[models.Platform]*fakePublisher{},
		notifier:   &recordingNotifier{},
		recorder:   &recordingRecorder{},
	}
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)
	backend := wrap(f.store)

	f.queue = queue.New(backend, zap.NewNop(), queue.Options{Lease: time.Minute})
	f.queue.SetClock(clock)
	f.gate = approval.NewGate(backend, zap.NewNop(), 45*time.Minute)
	f.gate.SetClock(clock)

	dispatcher := publisher.NewDispatcher(backend, zap.NewNop())
	dispatcher.SetClock(clock)
	for _, p := range []models.Platform{models.PlatformTwitter, models.PlatformInstagram, models.PlatformLinkedIn} {
		fp := &fakePublisher{platform: p}
		f.publishers[p] = fp
		require.NoError(t, dispatcher.Register(fp))
	}

	f.orch = New(Deps{
		Store:         backend,
		Queue:         f.queue,
		Gate:          f.gate,
		Generator:     f.gen,
		Images:        f.images,
		Dispatcher:    dispatcher,
		Notifier:      f.notifier,
		Recorder:      f.recorder,
		Logger:        zap.NewNop(),
		PublicBaseURL: "https://murmur.example/",
	})
	f.orch.SetClock(clock)
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

// drain runs every ready job of every stage until the queue is idle.
func (f *fixture) drain() {
	for {
		ran := false
		for _, stage := range queue.Stages {
			ok, err := f.queue.ProcessNext(f.ctx, stage)
			require.NoError(f.t, err)
			ran = ran || ok
		}
		if !ran {
			return
		}
	}
}

// drainWithRetries also steps the clock past any backoff.
func (f *fixture) drainWithRetries() {
	for i := 0; i < 10; i++ {
		f.drain()
		f.advance(time.Minute)
	}
}

func (f *fixture) submit(platforms ...models.Platform) *Submission {
	sub, err := f.orch.Submit(f.ctx, Request{Prompt: "our launch", Platforms: platforms})
	require.NoError(f.t, err)
	return sub
}

func (f *fixture) content(id string) *models.Content {
	c, err := f.store.GetContent(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) task(contentID string, typ models.TaskType) *models.Task {
	task, err := f.store.FindTask(f.ctx, contentID, typ)
	require.NoError(f.t, err)
	return task
}

func (f *fixture) approve(contentID string) *approval.Result {
	res, err := f.gate.Resolve(f.ctx, f.content(contentID).Token(), approval.DecisionApprove)
	require.NoError(f.t, err)
	return res
}

func TestPipelineWithImage(t *testing.T) {
	f := newFixture(t)
	f.gen.image = "rocket launch"

	sub := f.submit(models.PlatformTwitter, models.PlatformInstagram)
	assert.Equal(t, sub.TaskID, sub.ContentID)
	f.drain()

	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusPending, c.Status)
	assert.Equal(t, "https://img.example/rocket-launch.png", c.ImageURL)
	assert.NotEmpty(t, c.Token())
	assert.Equal(t, models.TaskStatusCompleted, f.task(c.ID, models.TaskTypeImage).Status)
	assert.Equal(t, models.TaskStatusCompleted, f.task(c.ID, models.TaskTypeApproval).Status)

	require.Len(t, f.notifier.requests, 1)
	req := f.notifier.requests[0]
	assert.Equal(t, "https://murmur.example/api/v1/approve/"+c.Token(), req.ApproveURL)
	assert.Equal(t, "https://murmur.example/api/v1/reject/"+c.Token(), req.RejectURL)
	assert.Equal(t, c.ImageURL, req.ImageURL)
	assert.Equal(t, f.now.Add(45*time.Minute), req.ExpiresAt)
	assert.Contains(t, req.Preview, "Hello our launch")

	assert.Equal(t, approval.OutcomeOK, f.approve(c.ID).Outcome)
	f.drain()

	c = f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusPublished, c.Status)
	pubs, err := f.store.ListPublications(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	for _, p := range pubs {
		assert.Equal(t, models.PublicationStatusSuccess, p.Status, p.Platform)
	}

	tasks, err := f.store.ListTasks(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 4)
	for _, task := range tasks {
		assert.Equal(t, models.TaskStatusCompleted, task.Status, task.Type)
		assert.Equal(t, 1, task.Attempts, task.Type)
	}
	assert.Contains(t, string(f.task(c.ID, models.TaskTypePublish).Result), `"external_id":"twitter-1"`)
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "https://twitter.example/1")
}

func TestPipelineSkipsImageWithoutSuggestion(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)
	f.drain()

	_, err := f.store.FindTask(f.ctx, sub.ContentID, models.TaskTypeImage)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.images.calls)
	assert.Equal(t, models.TaskStatusCompleted, f.task(sub.ContentID, models.TaskTypeApproval).Status)
	assert.Empty(t, f.content(sub.ContentID).ImageURL)
}

func TestGenerationSucceedsOnThirdAttempt(t *testing.T) {
	f := newFixture(t)
	f.gen.failures = []error{
		errs.Transient("generator", errors.New("502")),
		errs.InvalidOutput("invalid format"),
	}

	sub := f.submit(models.PlatformTwitter)
	f.drain()
	task := f.task(sub.ContentID, models.TaskTypeGenerate)
	assert.Equal(t, models.TaskStatusProcessing, task.Status)
	assert.Equal(t, 1, task.Attempts)
	assert.Contains(t, task.Error, "502")

	f.drainWithRetries()

	task = f.task(sub.ContentID, models.TaskTypeGenerate)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Empty(t, task.Error)
	assert.Equal(t, 3, f.gen.calls)
	assert.Equal(t, models.ContentStatusPending, f.content(sub.ContentID).Status)
}

func TestGenerationExhausted(t *testing.T) {
	f := newFixture(t)
	f.gen.failures = []error{
		errs.InvalidOutput("invalid format"),
		errs.InvalidOutput("invalid format"),
		errs.InvalidOutput("invalid format"),
	}

	sub := f.submit(models.PlatformTwitter)
	f.drainWithRetries()

	task := f.task(sub.ContentID, models.TaskTypeGenerate)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
	assert.Contains(t, task.Error, "invalid output")

	_, err := f.store.GetContent(f.ctx, sub.ContentID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.Len(t, f.recorder.failures, 1)
	assert.Equal(t, queue.StageContentGeneration, f.recorder.failures[0].Stage)

	assert.ErrorIs(t, f.orch.Resume(f.ctx, sub.ContentID), ErrNothingToResume)
}

func TestRedeliveredGenerateJob(t *testing.T) {
	f := newFixture(t)
	f.gen.image = "sunrise"
	sub := f.submit(models.PlatformTwitter)
	f.drain()

	job := &models.Job{ID: "redelivered", TaskID: sub.TaskID, Attempts: 2}
	require.NoError(t, f.orch.handleGenerate(f.ctx, job))
	f.drain()

	assert.Equal(t, 1, f.gen.calls)
	tasks, err := f.store.ListTasks(f.ctx, sub.ContentID)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	assert.Len(t, f.store.Jobs(string(queue.StageImageGeneration)), 1)
	assert.Len(t, f.store.Jobs(string(queue.StageApprovalDispatch)), 1)
	assert.Len(t, f.notifier.requests, 1)
}

func TestMixedPublishOutcome(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter, models.PlatformInstagram)
	f.drain()
	f.approve(sub.ContentID)
	f.drain()

	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusPublished, c.Status)

	pubs, err := f.store.ListPublications(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	assert.Equal(t, models.PlatformInstagram, pubs[0].Platform)
	assert.Equal(t, models.PublicationStatusFailed, pubs[0].Status)
	assert.Contains(t, pubs[0].ErrorMessage, "MissingCapability")
	assert.Equal(t, models.PlatformTwitter, pubs[1].Platform)
	assert.Equal(t, models.PublicationStatusSuccess, pubs[1].Status)
	assert.Equal(t, "twitter-1", pubs[1].ExternalID)
	assert.Equal(t, 0, f.publishers[models.PlatformInstagram].calls)
}

// flakyPublications fails every publication write for one platform.
type flakyPublications struct {
	*store.MemoryStore
	platform models.Platform
}

func (s *flakyPublications) UpsertPublication(ctx context.Context, pub *models.Publication) error {
	if pub.Platform == s.platform {
		return errors.New("connection reset")
	}
	return s.MemoryStore.UpsertPublication(ctx, pub)
}

func TestPublishSettlesWhenPublicationWriteFails(t *testing.T) {
	f := newFixtureWith(t, func(m *store.MemoryStore) store.Store {
		return &flakyPublications{MemoryStore: m, platform: models.PlatformLinkedIn}
	})
	sub := f.submit(models.PlatformTwitter, models.PlatformLinkedIn)
	f.drain()
	f.approve(sub.ContentID)
	f.drainWithRetries()

	assert.Equal(t, 1, f.publishers[models.PlatformTwitter].calls)
	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusPublished, c.Status)
	assert.Empty(t, c.Error)

	pubs, err := f.store.ListPublications(f.ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, models.PlatformTwitter, pubs[0].Platform)
	assert.Equal(t, models.PublicationStatusSuccess, pubs[0].Status)

	assert.Equal(t, models.TaskStatusCompleted, f.task(c.ID, models.TaskTypePublish).Status)
	require.Len(t, f.recorder.failures, 1)
	assert.Contains(t, f.recorder.failures[0].Err.Error(), "linkedin")
}

func TestPublishDoesNotRepostRecordedSuccess(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter, models.PlatformLinkedIn)
	f.drain()
	f.approve(sub.ContentID)

	// A crashed delivery already posted to twitter
	require.NoError(t, f.store.UpsertPublication(f.ctx, &models.Publication{
		ContentID: sub.ContentID, Platform: models.PlatformTwitter,
		Status: models.PublicationStatusSuccess, ExternalID: "twitter-0",
	}))
	f.drain()

	assert.Zero(t, f.publishers[models.PlatformTwitter].calls)
	assert.Zero(t, f.publishers[models.PlatformLinkedIn].calls)
	assert.Equal(t, models.ContentStatusPublished, f.content(sub.ContentID).Status)
	assert.Equal(t, models.TaskStatusCompleted, f.task(sub.ContentID, models.TaskTypePublish).Status)
}

func TestDeadPublishFollowsPublications(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter, models.PlatformLinkedIn)
	f.drain()
	f.approve(sub.ContentID)

	jobs := f.store.Jobs(string(queue.StagePublishing))
	require.Len(t, jobs, 1)
	require.NoError(t, f.store.UpsertPublication(f.ctx, &models.Publication{
		ContentID: sub.ContentID, Platform: models.PlatformLinkedIn,
		Status: models.PublicationStatusSuccess, ExternalID: "linkedin-0",
	}))

	f.orch.onDead(queue.StagePublishing)(f.ctx, &jobs[0], errs.Transient("publish", errors.New("lease lost")))

	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusPublished, c.Status)
	assert.Empty(t, c.Error)
	assert.Equal(t, models.TaskStatusCompleted, f.task(c.ID, models.TaskTypePublish).Status)
	assert.Empty(t, f.recorder.failures)
}

func TestPublishAllFailedAfterRetries(t *testing.T) {
	f := newFixture(t)
	f.publishers[models.PlatformTwitter].err = errs.Transient("twitter", errors.New("503"))
	f.publishers[models.PlatformLinkedIn].err = errs.Transient("linkedin", errors.New("timeout"))

	sub := f.submit(models.PlatformTwitter, models.PlatformLinkedIn)
	f.drain()
	f.approve(sub.ContentID)
	f.drainWithRetries()

	assert.Equal(t, 3, f.publishers[models.PlatformTwitter].calls)
	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusFailed, c.Status)
	assert.Contains(t, c.Error, "all platforms failed")
	assert.Contains(t, c.Error, "linkedin")
	assert.Contains(t, c.Error, "twitter")

	pubs, err := f.store.ListPublications(f.ctx, c.ID)
	require.NoError(t, err)
	for _, p := range pubs {
		assert.Equal(t, models.PublicationStatusFailed, p.Status)
	}
	task := f.task(c.ID, models.TaskTypePublish)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 3, task.Attempts)
}

func TestPublishPermanentFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.publishers[models.PlatformTwitter].err = errs.Permanent(errors.New("duplicate content"))

	sub := f.submit(models.PlatformTwitter, models.PlatformInstagram)
	f.drain()
	f.approve(sub.ContentID)
	f.drainWithRetries()

	assert.Equal(t, 1, f.publishers[models.PlatformTwitter].calls)
	assert.Equal(t, models.ContentStatusFailed, f.content(sub.ContentID).Status)
	require.Len(t, f.recorder.failures, 1)
	assert.Equal(t, queue.StagePublishing, f.recorder.failures[0].Stage)
}

func TestExpiredApprovalNeverPublishes(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)
	f.drain()
	token := f.content(sub.ContentID).Token()

	f.advance(46 * time.Minute)
	res, err := f.gate.Resolve(f.ctx, token, approval.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeExpired, res.Outcome)

	res, err = f.gate.Resolve(f.ctx, token, approval.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, approval.OutcomeExpired, res.Outcome)
	f.drain()

	assert.Equal(t, models.ContentStatusCancelled, f.content(sub.ContentID).Status)
	_, err = f.store.FindTask(f.ctx, sub.ContentID, models.TaskTypePublish)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.publishers[models.PlatformTwitter].calls)
}

func TestApproveTwiceSchedulesOnePublish(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)
	f.drain()

	assert.Equal(t, approval.OutcomeOK, f.approve(sub.ContentID).Outcome)
	assert.Equal(t, approval.OutcomeAlreadyHandled, f.approve(sub.ContentID).Outcome)
	f.drain()
	assert.Equal(t, approval.OutcomeAlreadyHandled, f.approve(sub.ContentID).Outcome)

	assert.Len(t, f.store.Jobs(string(queue.StagePublishing)), 1)
	assert.Equal(t, 1, f.publishers[models.PlatformTwitter].calls)
	assert.Equal(t, models.ContentStatusPublished, f.content(sub.ContentID).Status)
}

func TestPublishAbortsUnlessApproved(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)
	f.drain()

	_, err := f.orch.advance(f.ctx, sub.ContentID, models.TaskTypePublish, nil)
	require.NoError(t, err)
	f.drain()

	task := f.task(sub.ContentID, models.TaskTypePublish)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "not approved")
	assert.Equal(t, 0, f.publishers[models.PlatformTwitter].calls)
	assert.Equal(t, models.ContentStatusPending, f.content(sub.ContentID).Status)

	assert.Error(t, f.orch.SchedulePublish(f.ctx, sub.ContentID))
}

func TestImageFailureFailsContent(t *testing.T) {
	f := newFixture(t)
	f.gen.image = "storm"
	f.images.err = errs.Permanent(errors.New("bad prompt"))

	sub := f.submit(models.PlatformTwitter)
	f.drain()

	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusFailed, c.Status)
	assert.Equal(t, "bad prompt", c.Error)
	assert.Equal(t, models.TaskStatusFailed, f.task(c.ID, models.TaskTypeImage).Status)
	_, err := f.store.FindTask(f.ctx, c.ID, models.TaskTypeApproval)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmitRoutesWhenNoPlatform(t *testing.T) {
	f := newFixture(t)
	f.gen.route = models.PlatformLinkedIn

	sub := f.submit()
	assert.Equal(t, models.PlatformLinkedIn, sub.Platform)
	assert.Equal(t, []models.Platform{models.PlatformLinkedIn}, sub.Targets)
	assert.Equal(t, 0.9, sub.Confidence)

	_, err := f.orch.Submit(f.ctx, Request{Prompt: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.orch.Submit(f.ctx, Request{Prompt: "x", Platforms: []models.Platform{"myspace"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestReconcileRecoversLostHandoff(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)
	f.drain()

	// Simulate a crash between approving and scheduling the publish
	_, err := store.MutateContent(f.ctx, f.store, sub.ContentID, func(c *models.Content) error {
		now := f.now
		c.Status = models.ContentStatusApproved
		c.ApprovedAt = &now
		return nil
	})
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	resumed, err := f.orch.Reconcile(f.ctx, f.now.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	f.drain()

	assert.Equal(t, models.ContentStatusPublished, f.content(sub.ContentID).Status)

	resumed, err = f.orch.Reconcile(f.ctx, f.now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)
}

func TestReconcileExpiresStaleApprovals(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)
	f.drain()

	f.advance(time.Hour)
	_, err := f.orch.Reconcile(f.ctx, f.now)
	require.NoError(t, err)

	c := f.content(sub.ContentID)
	assert.Equal(t, models.ContentStatusCancelled, c.Status)
	assert.Equal(t, models.CancelReasonExpired, c.CancelReason)
}

func TestResumeRequeuesPendingGeneration(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter)

	// lose the job
	for _, j := range f.store.Jobs(string(queue.StageContentGeneration)) {
		j.Status = models.JobStatusDead
		require.NoError(t, f.store.UpdateJob(f.ctx, &j))
	}
	f.drain()
	assert.Equal(t, models.TaskStatusPending, f.task(sub.ContentID, models.TaskTypeGenerate).Status)

	require.NoError(t, f.orch.Resume(f.ctx, sub.ContentID))
	f.drain()
	assert.Equal(t, models.TaskStatusCompleted, f.task(sub.ContentID, models.TaskTypeGenerate).Status)

	_, err := f.store.FindTask(f.ctx, "missing", models.TaskTypeGenerate)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, f.orch.Resume(f.ctx, "missing"), store.ErrNotFound)
}

func TestSubmitDeduplicatesPlatforms(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(models.PlatformTwitter, models.PlatformTwitter, models.PlatformLinkedIn, models.PlatformTwitter)
	assert.Equal(t, []models.Platform{models.PlatformTwitter, models.PlatformLinkedIn}, sub.Targets)

	f.drain()
	f.approve(sub.ContentID)
	f.drain()

	assert.Equal(t, 1, f.publishers[models.PlatformTwitter].calls)
	assert.Equal(t, 1, f.publishers[models.PlatformLinkedIn].calls)
	pubs, err := f.store.ListPublications(f.ctx, sub.ContentID)
	require.NoError(t, err)
	assert.Len(t, pubs, 2)
}

func TestScheduledPublishWaitsUntilDue(t *testing.T) {
	f := newFixture(t)
	at := f.now.Add(2 * time.Hour)
	sub, err := f.orch.Submit(f.ctx, Request{
		Prompt:      "our launch",
		Platforms:   []models.Platform{models.PlatformTwitter},
		ScheduledAt: &at,
	})
	require.NoError(t, err)
	f.drain()
	require.Len(t, f.notifier.requests, 1)
	require.NotNil(t, f.notifier.requests[0].ScheduledAt)

	assert.Equal(t, approval.OutcomeOK, f.approve(sub.ContentID).Outcome)
	f.drain()
	assert.Zero(t, f.publishers[models.PlatformTwitter].calls)
	_, err = f.store.FindTask(f.ctx, sub.ContentID, models.TaskTypePublish)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, f.orch.Resume(f.ctx, sub.ContentID), ErrNothingToResume)

	queued, err := f.orch.PublishDue(f.ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, queued)

	f.advance(2 * time.Hour)
	queued, err = f.orch.PublishDue(f.ctx, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)
	f.drain()

	assert.Equal(t, 1, f.publishers[models.PlatformTwitter].calls)
	assert.Equal(t, models.ContentStatusPublished, f.content(sub.ContentID).Status)

	queued, err = f.orch.PublishDue(f.ctx, f.now)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestSubmitCarriesMedia(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Submit(f.ctx, Request{Prompt: "our launch", MediaURLs: []string{"ftp://files.example/a.png"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	sub, err := f.orch.Submit(f.ctx, Request{
		Prompt:    "our launch",
		Platforms: []models.Platform{models.PlatformInstagram},
		MediaURLs: []string{"https://cdn.example/photo.png"},
	})
	require.NoError(t, err)
	f.drain()
	f.approve(sub.ContentID)
	f.drain()

	assert.Equal(t, []string{"https://cdn.example/photo.png"}, f.content(sub.ContentID).MediaURLs.Data())
	assert.Equal(t, 1, f.publishers[models.PlatformInstagram].calls)
	assert.Equal(t, models.ContentStatusPublished, f.content(sub.ContentID).Status)
}
