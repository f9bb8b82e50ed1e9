package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
)

// Reconciler resumes pipelines that stalled before cutoff and releases
// scheduled publishes once they are due.
type Reconciler interface {
	Reconcile(ctx context.Context, cutoff time.Time) (int, error)
	PublishDue(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs the reconciliation sweep and the scheduled publish check on
// fixed intervals.
type Scheduler struct {
	config        *config.SchedulerConfig
	logger        *zap.Logger
	reconciler    Reconciler
	now           func() time.Time
	ticker        *time.Ticker
	publishTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
}

func NewScheduler(cfg *config.SchedulerConfig, logger *zap.Logger, reconciler Reconciler) *Scheduler {
	return &Scheduler{
		config:     cfg,
		logger:     logger.Named("scheduler"),
		reconciler: reconciler,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Scheduler is disabled")
		return nil
	}

	interval := s.config.ReconcileIntervalDuration()
	publishInterval := s.config.PublishIntervalDuration()
	s.logger.Info("Starting scheduler",
		zap.Duration("reconcile_interval", interval),
		zap.Duration("publish_interval", publishInterval),
		zap.Duration("stale_after", s.config.StaleAfterDuration()))

	// Create tickers
	s.ticker = time.NewTicker(interval)
	s.publishTicker = time.NewTicker(publishInterval)

	// Sweep once right away to pick up work left by a previous process
	go func() {
		s.logger.Info("Running initial sweep")
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Initial sweep failed", zap.Error(err))
		}
	}()

	go func() {
		for {
			select {
			case <-s.ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error("Scheduled sweep failed", zap.Error(err))
				}
			case <-s.publishTicker.C:
				if _, err := s.PublishDue(ctx); err != nil {
					s.logger.Error("Scheduled publish check failed", zap.Error(err))
				}
			case <-s.stopCh:
				s.logger.Info("Scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Scheduler context cancelled")
				return
			}
		}
	}()

	return nil
}

func (s *Scheduler) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.publishTicker != nil {
		s.publishTicker.Stop()
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.logger.Info("Scheduler shutdown completed")
}

// RunOnce performs a single sweep over everything idle for longer than the
// configured stale_after.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	cutoff := s.now().Add(-s.config.StaleAfterDuration())
	resumed, err := s.reconciler.Reconcile(ctx, cutoff)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Sweep failed",
			zap.Error(err),
			zap.Int("resumed", resumed),
			zap.Duration("duration", duration))
		return resumed, err
	}

	s.logger.Info("Sweep completed",
		zap.Int("resumed", resumed),
		zap.Duration("duration", duration))
	return resumed, nil
}

// PublishDue queues every approved content whose scheduled time has passed.
func (s *Scheduler) PublishDue(ctx context.Context) (int, error) {
	queued, err := s.reconciler.PublishDue(ctx, s.now())
	if err != nil {
		s.logger.Error("Scheduled publish check failed", zap.Error(err), zap.Int("queued", queued))
		return queued, err
	}
	if queued > 0 {
		s.logger.Info("Scheduled publishes queued", zap.Int("queued", queued))
	}
	return queued, nil
}
