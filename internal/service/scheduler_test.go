package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
)

type recordingReconciler struct {
	mu      sync.Mutex
	cutoffs []time.Time
	dueAt   []time.Time
	err     error
}

func (r *recordingReconciler) PublishDue(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dueAt = append(r.dueAt, now)
	return 2, r.err
}

func (r *recordingReconciler) dueChecks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dueAt)
}

func (r *recordingReconciler) Reconcile(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, cutoff)
	return 1, r.err
}

func (r *recordingReconciler) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

func TestSchedulerRunOnceUsesStaleCutoff(t *testing.T) {
	cfg := &config.SchedulerConfig{Enabled: true, StaleAfter: "10m"}
	r := &recordingReconciler{}
	s := NewScheduler(cfg, zap.NewNop(), r)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	resumed, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, []time.Time{now.Add(-10 * time.Minute)}, r.cutoffs)

	r.err = errors.New("store down")
	_, err = s.RunOnce(context.Background())
	assert.EqualError(t, err, "store down")
}

func TestSchedulerSweepsPeriodically(t *testing.T) {
	cfg := &config.SchedulerConfig{Enabled: true, ReconcileInterval: "10ms"}
	r := &recordingReconciler{}
	s := NewScheduler(cfg, zap.NewNop(), r)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return r.calls() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()
}

func TestSchedulerPublishDue(t *testing.T) {
	r := &recordingReconciler{}
	s := NewScheduler(&config.SchedulerConfig{Enabled: true}, zap.NewNop(), r)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	queued, err := s.PublishDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	assert.Equal(t, []time.Time{now}, r.dueAt)
}

func TestSchedulerChecksDuePublishes(t *testing.T) {
	cfg := &config.SchedulerConfig{Enabled: true, ReconcileInterval: "1h", PublishInterval: "10ms"}
	r := &recordingReconciler{}
	s := NewScheduler(cfg, zap.NewNop(), r)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return r.dueChecks() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSchedulerDisabled(t *testing.T) {
	r := &recordingReconciler{}
	s := NewScheduler(&config.SchedulerConfig{Enabled: false}, zap.NewNop(), r)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, r.calls())
	assert.Zero(t, r.dueChecks())
	s.Stop()
}

type countingStats struct {
	mu        sync.Mutex
	pipeline  int
	platform  int
	retention []int
}

func (c *countingStats) UpdatePipelineStats(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipeline++
	return nil
}

func (c *countingStats) UpdatePlatformStats(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.platform++
	return errors.New("platform query failed")
}

func (c *countingStats) CleanupOldData(_ context.Context, days int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retention = append(c.retention, days)
	return nil
}

func TestStatsUpdaterKeepsGoingAfterFailures(t *testing.T) {
	stats := &countingStats{}
	u := NewStatsUpdater(stats, zap.NewNop(), time.Hour, 0)

	u.UpdateStats(context.Background())
	u.UpdateStats(context.Background())

	assert.Equal(t, 2, stats.pipeline)
	assert.Equal(t, 2, stats.platform)
	assert.Equal(t, []int{90, 90}, stats.retention)
}

func TestStatsUpdaterTicks(t *testing.T) {
	stats := &countingStats{}
	u := NewStatsUpdater(stats, zap.NewNop(), 10*time.Millisecond, 30)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	u.Start(ctx)
	assert.Eventually(t, func() bool {
		stats.mu.Lock()
		defer stats.mu.Unlock()
		return stats.pipeline >= 2
	}, time.Second, 5*time.Millisecond)
	u.Stop()
}
