package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/service/approval"
	"github.com/ifuryst/murmur/internal/service/generator"
	"github.com/ifuryst/murmur/internal/service/imagegen"
	"github.com/ifuryst/murmur/internal/service/notify"
	"github.com/ifuryst/murmur/internal/service/orchestrator"
	"github.com/ifuryst/murmur/internal/service/publisher"
	"github.com/ifuryst/murmur/internal/service/queue"
	"github.com/ifuryst/murmur/internal/store"
)

// Pipeline is the assembled set of services behind one process.
type Pipeline struct {
	Store        *store.GormStore
	Queue        *queue.Queue
	Gate         *approval.Gate
	Dispatcher   *publisher.Dispatcher
	Orchestrator *orchestrator.Orchestrator
	Monitoring   *MonitoringService
	Scheduler    *Scheduler
	Stats        *StatsUpdater
	logger       *zap.Logger
}

// NewPipeline wires every service from the config onto an open database.
func NewPipeline(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *Pipeline {
	st := store.NewGormStore(db)
	monitoring := NewMonitoringService(db, logger)

	q := queue.New(st, logger, queue.Options{
		Policies:     queue.PoliciesFromConfig(cfg.Queue),
		PollInterval: cfg.Queue.PollIntervalDuration(),
		Lease:        cfg.Queue.LeaseDuration(),
		Concurrency:  cfg.Queue.Concurrency,
	})
	gate := approval.NewGate(st, logger, cfg.Approval.TimeoutDuration())
	dispatcher := NewDispatcher(cfg, st, logger, monitoring)

	orch := orchestrator.New(orchestrator.Deps{
		Store:         st,
		Queue:         q,
		Gate:          gate,
		Generator:     generator.NewClient(cfg.Generator, logger),
		Images:        imagegen.NewRenderer(cfg.Image, logger),
		Dispatcher:    dispatcher,
		Notifier:      newNotifier(cfg.Notifier, logger),
		Recorder:      monitoring,
		Logger:        logger,
		PublicBaseURL: cfg.Server.PublicBaseURL,
	})

	return &Pipeline{
		Store:        st,
		Queue:        q,
		Gate:         gate,
		Dispatcher:   dispatcher,
		Orchestrator: orch,
		Monitoring:   monitoring,
		Scheduler:    NewScheduler(&cfg.Scheduler, logger, orch),
		Stats:        NewStatsUpdater(monitoring, logger, cfg.Scheduler.StatsIntervalDuration(), cfg.Scheduler.RetentionDays),
		logger:       logger,
	}
}

func newNotifier(cfg config.NotifierConfig, logger *zap.Logger) notify.Notifier {
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if cfg.Telegram.Enabled {
		notifiers = append(notifiers, notify.NewTelegramNotifier(cfg.Telegram, logger))
		logger.Info("Telegram notifier enabled")
	}
	if cfg.Email.Enabled {
		email, err := notify.NewEmailNotifier(cfg.Email, logger)
		if err != nil {
			logger.Error("Failed to configure email notifier", zap.Error(err))
		} else {
			notifiers = append(notifiers, email)
			logger.Info("Email notifier enabled", zap.String("host", cfg.Email.Host), zap.Int("recipients", len(cfg.Email.To)))
		}
	}
	return notifiers
}

// Start launches the stage workers and the periodic jobs.
func (p *Pipeline) Start(ctx context.Context) error {
	p.Queue.Start(ctx)
	if err := p.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	p.Stats.Start(ctx)
	return nil
}

// Stop stops the periodic jobs and waits for in-flight stage jobs.
func (p *Pipeline) Stop() {
	p.Scheduler.Stop()
	p.Stats.Stop()
	p.Queue.Stop()
	p.logger.Info("Pipeline stopped")
}
