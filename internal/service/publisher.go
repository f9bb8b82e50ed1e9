package service

import (
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/config"
	"github.com/ifuryst/murmur/internal/store"
	"github.com/ifuryst/murmur/internal/service/publisher"
	"github.com/ifuryst/murmur/internal/service/publisher/facebook"
	"github.com/ifuryst/murmur/internal/service/publisher/instagram"
	"github.com/ifuryst/murmur/internal/service/publisher/linkedin"
	"github.com/ifuryst/murmur/internal/service/publisher/threads"
	"github.com/ifuryst/murmur/internal/service/publisher/twitter"
	"github.com/ifuryst/murmur/internal/service/publisher/youtube"
)

// NewDispatcher builds the publisher dispatcher with every adapter enabled in
// the config. Platforms left disabled fail at publish time as unregistered.
func NewDispatcher(cfg *config.Config, s store.Store, logger *zap.Logger, observer publisher.Observer) *publisher.Dispatcher {
	d := publisher.NewDispatcher(s, logger)
	if observer != nil {
		d.SetObserver(observer)
	}
	registerPublishers(d, cfg.Publisher, logger)
	return d
}

func registerPublishers(d *publisher.Dispatcher, cfg config.PublisherConfig, logger *zap.Logger) {
	timeout := cfg.TimeoutDuration()

	var adapters []publisher.Publisher

	// Register Twitter publisher
	if cfg.Twitter.Enabled {
		adapters = append(adapters, twitter.NewTwitterPublisher(cfg.Twitter, timeout, logger))
	}

	// Register Instagram publisher
	if cfg.Instagram.Enabled {
		adapters = append(adapters, instagram.NewInstagramPublisher(cfg.Instagram, timeout, logger))
	}

	// Register Facebook page publisher
	if cfg.Facebook.Enabled {
		adapters = append(adapters, facebook.NewFacebookPublisher(cfg.Facebook, timeout, logger))
	}

	// Register LinkedIn publisher
	if cfg.LinkedIn.Enabled {
		adapters = append(adapters, linkedin.NewLinkedInPublisher(cfg.LinkedIn, timeout, logger))
	}

	// Register Threads publisher
	if cfg.Threads.Enabled {
		adapters = append(adapters, threads.NewThreadsPublisher(cfg.Threads, timeout, logger))
	}

	// Register YouTube publisher
	if cfg.YouTube.Enabled {
		adapters = append(adapters, youtube.NewYouTubePublisher(cfg.YouTube, timeout, logger))
	}

	for _, p := range adapters {
		if err := d.Register(p); err != nil {
			logger.Error("Failed to register publisher",
				zap.String("platform", string(p.Platform())),
				zap.Error(err))
			continue
		}
		logger.Info("Publisher registered and configured", zap.String("platform", string(p.Platform())))
	}
}
