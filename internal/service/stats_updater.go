package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StatsStore is the part of MonitoringService the updater drives.
type StatsStore interface {
	UpdatePipelineStats(ctx context.Context) error
	UpdatePlatformStats(ctx context.Context) error
	CleanupOldData(ctx context.Context, daysToKeep int) error
}

// StatsUpdater handles periodic statistics updates
type StatsUpdater struct {
	stats         StatsStore
	logger        *zap.Logger
	interval      time.Duration
	retentionDays int
	done          chan struct{}
	stopOnce      sync.Once
}

// NewStatsUpdater creates a new stats updater
func NewStatsUpdater(stats StatsStore, logger *zap.Logger, interval time.Duration, retentionDays int) *StatsUpdater {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &StatsUpdater{
		stats:         stats,
		logger:        logger.Named("stats"),
		interval:      interval,
		retentionDays: retentionDays,
		done:          make(chan struct{}),
	}
}

// Start begins the periodic stats update process
func (s *StatsUpdater) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Info("Starting stats updater", zap.Duration("interval", s.interval))
		for {
			select {
			case <-s.done:
				s.logger.Info("Stats updater stopped")
				return
			case <-ctx.Done():
				s.logger.Info("Stats updater stopped due to context cancellation")
				return
			case <-ticker.C:
				s.UpdateStats(ctx)
			}
		}
	}()
}

// Stop stops the stats updater
func (s *StatsUpdater) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// UpdateStats runs one refresh. Failures are logged and the next tick retries.
func (s *StatsUpdater) UpdateStats(ctx context.Context) {
	s.logger.Debug("Updating statistics")

	// Update pipeline stats
	if err := s.stats.UpdatePipelineStats(ctx); err != nil {
		s.logger.Error("Failed to update pipeline stats", zap.Error(err))
	}

	// Update platform stats
	if err := s.stats.UpdatePlatformStats(ctx); err != nil {
		s.logger.Error("Failed to update platform stats", zap.Error(err))
	}

	// Clean up old data
	if err := s.stats.CleanupOldData(ctx, s.retentionDays); err != nil {
		s.logger.Error("Failed to cleanup old data", zap.Error(err))
	}

	s.logger.Debug("Statistics updated successfully")
}
