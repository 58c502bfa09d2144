// Package refresh keeps embeddings fresh in the background.
// A sweep re-embeds stale users and groups, embeds events that have no record,
// re-mirrors the index when it drifts from the durable store, and removes
// records whose entity is gone.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mcbagz/ladchat/ai/embedstore"
	"github.com/mcbagz/ladchat/store"
)

// Entity outcomes reported to the Observer.
const (
	OutcomeRefreshed = "refreshed"
	OutcomeFailed    = "failed"
	OutcomeCollected = "collected"
)

// Catalog finds work for a sweep, implemented by *store.Store.
type Catalog interface {
	ListEntitiesNeedingEmbedding(ctx context.Context, find *store.FindEntitiesNeedingEmbedding) ([]int32, error)
	ListOrphanedEmbeddingRecords(ctx context.Context, entityType store.EntityType) ([]int32, error)
}

// EntityEmbedder recomputes one entity's embedding, implemented by *embedstore.Indexer.
type EntityEmbedder interface {
	EmbedEntity(ctx context.Context, entityType store.EntityType, entityID int32) ([]float32, error)
}

// Records maintains both stores, implemented by *embedstore.Store.
type Records interface {
	Delete(ctx context.Context, entityType store.EntityType, entityID int32) error
	Reconcile(ctx context.Context, entityType store.EntityType, source embedstore.MetadataSource) (int, error)
}

// Observer is told about every entity the sweep touched and every finished sweep.
type Observer interface {
	ObserveRefreshEntity(entityType, outcome string)
	ObserveSweep(d time.Duration)
}

// Config configures the scheduler.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// Concurrency is the max number of entities embedded at once.
	Concurrency int

	// EntityTimeout bounds the work on a single entity.
	EntityTimeout time.Duration

	// RatePerSecond paces embedder calls; 0 disables pacing.
	RatePerSecond float64

	// BatchSize caps the entities refreshed per type per sweep.
	BatchSize int

	// Policy decides which records are stale.
	Policy embedstore.FreshnessPolicy
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:      time.Hour,
		Concurrency:   4,
		EntityTimeout: 30 * time.Second,
		BatchSize:     500,
		Policy:        embedstore.DefaultFreshnessPolicy(),
	}
}

// SweepStats summarises one sweep.
type SweepStats struct {
	RunID      string
	Refreshed  int
	Failed     int
	Reconciled int
	Collected  int
	Skipped    bool
	Duration   time.Duration
}

// Scheduler runs sweeps on a ticker.
type Scheduler struct {
	catalog  Catalog
	embedder EntityEmbedder
	records  Records
	metadata embedstore.MetadataSource
	observer Observer
	limiter  *rate.Limiter
	config   Config
	now      func() time.Time

	ticker   *time.Ticker
	stopCh   chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
	running  atomic.Bool
	sweeping atomic.Bool
}

// NewScheduler creates a scheduler. observer may be nil.
func NewScheduler(catalog Catalog, embedder EntityEmbedder, records Records, metadata embedstore.MetadataSource, observer Observer, cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.EntityTimeout <= 0 {
		cfg.EntityTimeout = defaults.EntityTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Policy == (embedstore.FreshnessPolicy{}) {
		cfg.Policy = defaults.Policy
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, cfg.Concurrency))
	}

	return &Scheduler{
		catalog:  catalog,
		embedder: embedder,
		records:  records,
		metadata: metadata,
		observer: observer,
		limiter:  limiter,
		config:   cfg,
		now:      time.Now,
	}
}

// Start starts the sweep loop. The first sweep runs after one interval.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(s.config.Interval)

	go s.run(ctx)
	slog.Info("refresh scheduler started",
		"interval", s.config.Interval,
		"concurrency", s.config.Concurrency,
	)
}

// Stop stops the loop and cancels a sweep in progress.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.stopCh)
	s.cancel()
	s.ticker.Stop()
	<-s.done

	slog.Info("refresh scheduler stopped")
}

// IsRunning reports whether the loop is running.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs a single sweep. A sweep that starts while another is in
// progress returns immediately with Skipped set.
func (s *Scheduler) RunOnce(ctx context.Context) SweepStats {
	stats := SweepStats{RunID: uuid.NewString()}
	if !s.sweeping.CompareAndSwap(false, true) {
		slog.Info("refresh sweep already in progress, skipping", "run_id", stats.RunID)
		stats.Skipped = true
		return stats
	}
	defer s.sweeping.Store(false)

	start := time.Now()
	logger := slog.With("run_id", stats.RunID)
	logger.Info("refresh sweep started")

	for _, entityType := range store.EntityTypes {
		if ctx.Err() != nil {
			break
		}
		refreshed, failed := s.refreshType(ctx, logger, entityType)
		stats.Refreshed += refreshed
		stats.Failed += failed
	}

	for _, entityType := range store.EntityTypes {
		if ctx.Err() != nil {
			break
		}
		written, err := s.records.Reconcile(ctx, entityType, s.metadata)
		if err != nil {
			logger.Warn("failed to reconcile vector index", "entity_type", entityType, "error", err)
		}
		stats.Reconciled += written
	}

	for _, entityType := range store.EntityTypes {
		if ctx.Err() != nil {
			break
		}
		stats.Collected += s.collectOrphans(ctx, logger, entityType)
	}

	stats.Duration = time.Since(start)
	if s.observer != nil {
		s.observer.ObserveSweep(stats.Duration)
	}
	logger.Info("refresh sweep finished",
		"refreshed", stats.Refreshed,
		"failed", stats.Failed,
		"reconciled", stats.Reconciled,
		"collected", stats.Collected,
		"duration", stats.Duration,
	)
	return stats
}

// refreshType re-embeds every entity of one type that is missing a record or stale.
func (s *Scheduler) refreshType(ctx context.Context, logger *slog.Logger, entityType store.EntityType) (refreshed, failed int) {
	ids, err := s.catalog.ListEntitiesNeedingEmbedding(ctx, &store.FindEntitiesNeedingEmbedding{
		EntityType:    entityType,
		UpdatedBefore: s.config.Policy.StaleBefore(entityType, s.now()),
		Limit:         s.config.BatchSize,
	})
	if err != nil {
		logger.Warn("failed to list entities needing embedding", "entity_type", entityType, "error", err)
		return 0, 0
	}
	if len(ids) == 0 {
		return 0, 0
	}
	logger.Info("refreshing embeddings", "entity_type", entityType, "count", len(ids))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.config.Concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := s.refreshEntity(ctx, entityType, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Warn("failed to refresh embedding",
					"entity_type", entityType,
					"entity_id", id,
					"error", err,
				)
				s.observe(entityType, OutcomeFailed)
				return nil
			}
			refreshed++
			s.observe(entityType, OutcomeRefreshed)
			return nil
		})
	}
	_ = g.Wait()
	return refreshed, failed
}

func (s *Scheduler) refreshEntity(ctx context.Context, entityType store.EntityType, id int32) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.EntityTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.embedder.EmbedEntity(ctx, entityType, id)
	return err
}

// collectOrphans deletes records whose entity is inactive or deleted.
func (s *Scheduler) collectOrphans(ctx context.Context, logger *slog.Logger, entityType store.EntityType) int {
	ids, err := s.catalog.ListOrphanedEmbeddingRecords(ctx, entityType)
	if err != nil {
		logger.Warn("failed to list orphaned embeddings", "entity_type", entityType, "error", err)
		return 0
	}
	collected := 0
	for _, id := range ids {
		if err := s.records.Delete(ctx, entityType, id); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Warn("failed to delete orphaned embedding",
				"entity_type", entityType,
				"entity_id", id,
				"error", err,
			)
			continue
		}
		collected++
		s.observe(entityType, OutcomeCollected)
	}
	if collected > 0 {
		logger.Info("collected orphaned embeddings", "entity_type", entityType, "count", collected)
	}
	return collected
}

func (s *Scheduler) observe(entityType store.EntityType, outcome string) {
	if s.observer != nil {
		s.observer.ObserveRefreshEntity(string(entityType), outcome)
	}
}
