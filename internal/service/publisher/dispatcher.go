package publisher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/errs"
	"github.com/ifuryst/murmur/internal/models"
	"github.com/ifuryst/murmur/internal/store"
)

// Observer is told about every per-platform outcome.
type Observer interface {
	PublishSucceeded(ctx context.Context, contentID string, platform models.Platform)
	PublishFailed(ctx context.Context, contentID string, platform models.Platform, err error)
}

// Outcome of one dispatch. Publications mirror what was upserted.
type Outcome struct {
	Publications []models.Publication
	Failures     map[string]error
}

// Published reports whether at least one platform succeeded.
func (o *Outcome) Published() bool {
	for _, p := range o.Publications {
		if p.Succeeded() {
			return true
		}
	}
	return false
}

// Err is nil when published, otherwise the aggregate of every failure.
func (o *Outcome) Err() error {
	if o.Published() || len(o.Failures) == 0 {
		return nil
	}
	return errs.NewAggregateFailure(o.Failures)
}

// Dispatcher fans a content out to its target platforms concurrently and
// records one Publication per platform.
type Dispatcher struct {
	mu         sync.RWMutex
	publishers map[models.Platform]Publisher
	store      store.Store
	logger     *zap.Logger
	observer   Observer
	now        func() time.Time
}

func NewDispatcher(s store.Store, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		publishers: make(map[models.Platform]Publisher),
		store:      s,
		logger:     logger.Named("dispatcher"),
		now:        time.Now,
	}
}

func (d *Dispatcher) SetObserver(o Observer) {
	d.observer = o
}

func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Dispatcher) Register(p Publisher) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	platform := p.Platform()
	if _, exists := d.publishers[platform]; exists {
		return fmt.Errorf("publisher for platform %s already registered", platform)
	}
	d.publishers[platform] = p
	d.logger.Info("Publisher registered", zap.String("platform", string(platform)))
	return nil
}

func (d *Dispatcher) Publisher(platform models.Platform) (Publisher, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.publishers[platform]
	return p, ok
}

// Platforms lists registered platforms in canonical order.
func (d *Dispatcher) Platforms() []models.Platform {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Platform, 0, len(d.publishers))
	for _, p := range models.Platforms {
		if _, ok := d.publishers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CheckCapabilities fails before any I/O when content lacks required media.
func CheckCapabilities(platform models.Platform, c Content) error {
	limits := platform.Limits()
	if limits.RequiresImage {
		if _, ok := c.First(ResourceTypeImage); !ok {
			return errs.MissingCapability(string(platform), "image")
		}
	}
	if limits.RequiresVideo {
		if _, ok := c.First(ResourceTypeVideo); !ok {
			return errs.MissingCapability(string(platform), "video")
		}
	}
	return nil
}

// Dispatch publishes to every target platform. A platform failure never
// stops the others. The returned error is only set when a publication could
// not be stored.
func (d *Dispatcher) Dispatch(ctx context.Context, content *models.Content) (*Outcome, error) {
	targets := content.TargetPlatforms()
	base := FromContent(content)

	pubs := make([]models.Publication, len(targets))
	failures := make([]error, len(targets))
	storeErrs := make([]error, len(targets))

	var wg conc.WaitGroup
	for i, platform := range targets {
		wg.Go(func() {
			pub, err := d.publishOne(ctx, platform, base)
			pubs[i] = pub
			failures[i] = err
			storeErrs[i] = d.store.UpsertPublication(ctx, &pubs[i])
		})
	}
	wg.Wait()

	outcome := &Outcome{Publications: pubs, Failures: make(map[string]error)}
	for i, platform := range targets {
		if failures[i] != nil {
			outcome.Failures[string(platform)] = failures[i]
		}
	}
	sort.Slice(outcome.Publications, func(i, j int) bool {
		return outcome.Publications[i].Platform < outcome.Publications[j].Platform
	})

	for i, err := range storeErrs {
		if err != nil {
			return outcome, fmt.Errorf("failed to record %s publication: %w", targets[i], err)
		}
	}
	return outcome, nil
}

func (d *Dispatcher) publishOne(ctx context.Context, platform models.Platform, base Content) (models.Publication, error) {
	log := d.logger.With(zap.String("content_id", base.ID), zap.String("platform", string(platform)))
	pub := models.Publication{ContentID: base.ID, Platform: platform}

	c := base
	c.Platform = platform
	err := CheckCapabilities(platform, c)

	var res *Result
	if err == nil {
		p, ok := d.Publisher(platform)
		if !ok {
			err = errs.Permanent(fmt.Errorf("no publisher registered for %s", platform))
		} else {
			res, err = p.Publish(ctx, c)
		}
	}

	if err != nil {
		pub.Status = models.PublicationStatusFailed
		pub.ErrorMessage = err.Error()
		log.Warn("Publish failed", zap.Error(err), zap.Bool("retryable", errs.IsRetryable(err)))
		if d.observer != nil {
			d.observer.PublishFailed(ctx, base.ID, platform, err)
		}
		return pub, err
	}

	publishedAt := res.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = d.now()
	}
	pub.Status = models.PublicationStatusSuccess
	pub.ExternalID = res.ExternalID
	pub.URL = res.URL
	pub.PublishedAt = &publishedAt
	log.Info("Published", zap.String("external_id", res.ExternalID), zap.String("url", res.URL))
	if d.observer != nil {
		d.observer.PublishSucceeded(ctx, base.ID, platform)
	}
	return pub, nil
}
