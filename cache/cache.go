// Package cache holds the canonical in-memory copy of the report collection.
//
// The collection is only ever replaced wholesale by a refresh from the
// server. Mutations never patch it; they invalidate it, and concurrent
// invalidations share one in-flight fetch.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/reliefdesk/report"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the single singleflight key; there is one collection.
const refreshKey = "houses"

// Source lists the full collection from the server.
type Source interface {
	List(ctx context.Context) ([]report.Record, error)
}

// SnapshotStore persists the last good snapshot across process restarts.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// Cache is the single owner of the canonical collection.
type Cache struct {
	source  Source
	store   SnapshotStore
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	group singleflight.Group

	mu   sync.RWMutex
	snap Snapshot
	// gen counts invalidations. A fetch that saw gen move while it ran
	// stores its result stale.
	gen uint64

	subMu   sync.Mutex
	subs    map[uint64]func(Snapshot)
	nextSub uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore persists successful refreshes to store.
func WithStore(store SnapshotStore) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics enables cache metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates an empty, stale cache backed by source.
func New(source Source, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		logger: slog.Default(),
		now:    time.Now,
		snap:   Snapshot{Stale: true, index: map[string]int{}},
		subs:   make(map[uint64]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current collection without fetching.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe registers fn to receive every new snapshot. The returned func
// removes the subscription. fn runs on the refreshing goroutine and must not
// call Refresh or Invalidate itself.
func (c *Cache) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

// Refresh lists the collection and replaces the canonical copy. Calls made
// while a fetch is in flight share its result.
func (c *Cache) Refresh(ctx context.Context) ([]report.Record, error) {
	snap, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Records(), nil
}

// Invalidate marks the collection stale and refreshes it. Concurrent
// invalidations issue a single List call. When that call was already
// running before the invalidation, its result is kept stale so the next
// EnsureFresh or Invalidate fetches again.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.markStale()
	_, err := c.fetch(ctx)
	return err
}

// EnsureFresh refreshes only when the collection is stale.
func (c *Cache) EnsureFresh(ctx context.Context) (Snapshot, error) {
	if snap := c.Snapshot(); !snap.Stale {
		return snap, nil
	}
	return c.fetch(ctx)
}

// Warm seeds an unloaded cache from the snapshot store. The seeded snapshot
// stays stale so the next EnsureFresh still goes to the server.
func (c *Cache) Warm(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load stored snapshot: %w", err)
	}

	c.mu.Lock()
	if c.snap.Loaded() {
		c.mu.Unlock()
		return nil
	}
	stored.Stale = true
	c.snap = stored
	c.mu.Unlock()

	c.metrics.setRecords(stored.Len())
	c.logger.Info("Warmed cache from stored snapshot",
		"records", stored.Len(),
		"version", stored.Version,
		"fetched_at", stored.FetchedAt)
	c.publish(stored)
	return nil
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		// The fetch is shared by every waiter, so no single caller's
		// cancellation may abort it. The repository bounds it with its own
		// timeout.
		return c.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	startGen := c.gen
	c.mu.RUnlock()

	records, err := c.source.List(ctx)
	if err != nil {
		c.markStale()
		c.metrics.refreshed(err)
		c.logger.Warn("Refresh failed, keeping last known snapshot",
			"version", c.Snapshot().Version,
			"error", err)
		return Snapshot{}, err
	}

	c.mu.Lock()
	next := NewSnapshot(records, c.snap.Version+1, c.now())
	invalidated := c.gen != startGen
	next.Stale = invalidated
	c.snap = next
	c.mu.Unlock()

	if invalidated {
		c.logger.Debug("Collection invalidated during fetch, keeping it stale", "version", next.Version)
	}

	c.metrics.refreshed(nil)
	c.metrics.setRecords(next.Len())
	c.logger.Debug("Refreshed collection", "records", next.Len(), "version", next.Version)

	if c.store != nil {
		if err := c.store.Save(ctx, next); err != nil {
			c.logger.Warn("Failed to persist snapshot", "version", next.Version, "error", err)
		}
	}

	c.publish(next)
	return next, nil
}

func (c *Cache) markStale() {
	c.mu.Lock()
	c.snap.Stale = true
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) publish(snap Snapshot) {
	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Metrics holds Prometheus collectors for the cache.
type Metrics struct {
	refreshes *prometheus.CounterVec
	records   prometheus.Gauge
}

// NewMetrics creates cache metrics registered on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reliefdesk",
				Subsystem: "cache",
				Name:      "refresh_total",
				Help:      "Collection fetches by outcome",
			},
			[]string{"outcome"},
		),
		records: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "reliefdesk",
				Subsystem: "cache",
				Name:      "records",
				Help:      "Records in the canonical collection",
			},
		),
	}
}

func (m *Metrics) refreshed(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}
