// Package dashboard wires the repository, cache, mutation coordinator, view
// machine and derived views into one session, the in-process stand-in for
// the dashboard page.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/reliefdesk/cache"
	"github.com/c360studio/reliefdesk/derive"
	"github.com/c360studio/reliefdesk/mutation"
	"github.com/c360studio/reliefdesk/notify"
	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/view"
)

// ErrClosed is returned by intents issued after Close.
var ErrClosed = errors.New("dashboard session closed")

// Repository is everything a session needs from the record repository.
type Repository interface {
	cache.Source
	mutation.Repository
	Get(ctx context.Context, id string) (report.Record, error)
}

// Session is one open dashboard. It is safe for concurrent use.
type Session struct {
	repo   Repository
	cache  *cache.Cache
	view   *view.Machine
	coord  *mutation.Coordinator

	// filterMu keeps the filter and its compiled query in step.
	filterMu sync.RWMutex
	filter   view.FilterState
	query    *derive.Query

	logger *slog.Logger
	now    func() time.Time
	closed atomic.Bool
}

type options struct {
	store    cache.SnapshotStore
	notifier notify.Notifier
	logger   *slog.Logger
	registry prometheus.Registerer
	now      func() time.Time
}

// Option configures a Session.
type Option func(*options)

// WithStore persists snapshots and warms the cache on Open.
func WithStore(store cache.SnapshotStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithNotifier sets where mutation notifications go.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry registers cache and mutation metrics on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithClock overrides wall-clock time for statistics and snapshots.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a session over repo. Call Open to load the collection.
func New(repo Repository, opts ...Option) *Session {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cacheOpts := []cache.Option{cache.WithLogger(o.logger), cache.WithClock(o.now)}
	coordOpts := []mutation.Option{mutation.WithLogger(o.logger)}
	if o.store != nil {
		cacheOpts = append(cacheOpts, cache.WithStore(o.store))
	}
	if o.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(cache.NewMetrics(o.registry)))
		coordOpts = append(coordOpts, mutation.WithMetrics(mutation.NewMetrics(o.registry)))
	}
	if o.notifier != nil {
		coordOpts = append(coordOpts, mutation.WithNotifier(o.notifier))
	}

	s := &Session{
		repo:   repo,
		cache:  cache.New(repo, cacheOpts...),
		view:   view.NewMachine(o.logger),
		logger: o.logger,
		now:    o.now,
	}
	s.coord = mutation.NewCoordinator(repo, s.cache, append(coordOpts, mutation.WithView(s.view))...)
	return s
}

// Open warms the cache from the snapshot store, when there is one, and then
// loads the collection. A failed load still leaves any warmed snapshot
// readable.
func (s *Session) Open(ctx context.Context) error {
	if err := s.cache.Warm(ctx); err != nil {
		s.logger.Debug("No stored snapshot to warm from", "error", err)
	}
	if _, err := s.cache.EnsureFresh(ctx); err != nil {
		return fmt.Errorf("load reports: %w", err)
	}
	return nil
}

// Close tears the session down. Mutations still in flight complete against
// the server, but their results no longer touch the view or notify.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.view.Dispose()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Snapshot returns the current collection.
func (s *Session) Snapshot() cache.Snapshot {
	return s.cache.Snapshot()
}

// Subscribe registers fn for every new snapshot.
func (s *Session) Subscribe(fn func(cache.Snapshot)) (unsubscribe func()) {
	return s.cache.Subscribe(fn)
}

// Refresh reloads the collection from the server.
func (s *Session) Refresh(ctx context.Context) error {
	return s.cache.Invalidate(ctx)
}

// View returns the open modal.
func (s *Session) View() view.State {
	return s.view.State()
}

// ObserveView registers fn for every modal transition.
func (s *Session) ObserveView(fn view.Observer) {
	s.view.Observe(fn)
}

// Filter returns the active filter.
func (s *Session) Filter() view.Filter {
	s.filterMu.RLock()
	defer s.filterMu.RUnlock()
	return s.filter.Get()
}

// SetFilter replaces the active filter. An invalid expression leaves the
// previous filter in place.
func (s *Session) SetFilter(f view.Filter) error {
	q, err := derive.CompileQuery(f.Expr)
	if err != nil {
		return err
	}
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	s.filter.Set(f)
	s.query = q
	return nil
}

// SetCategory changes only the category part of the filter.
func (s *Session) SetCategory(category string) {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	s.filter.SetCategory(category)
}

// SetSearch changes only the search term.
func (s *Session) SetSearch(term string) {
	s.filterMu.Lock()
	defer s.filterMu.Unlock()
	s.filter.SetSearch(term)
}

// Visible returns the records the active filter lets through, in server
// order.
func (s *Session) Visible() []report.Record {
	s.filterMu.RLock()
	f, q := s.filter.Get(), s.query
	s.filterMu.RUnlock()

	records := derive.Filtered(s.cache.Snapshot().Records(), f)
	return q.Apply(records, s.now())
}

// Stats summarises the whole collection, unfiltered, as of now.
func (s *Session) Stats() derive.Stats {
	return derive.ComputeStats(s.cache.Snapshot().Records(), s.now())
}

// CategoryCounts counts the whole collection per category.
func (s *Session) CategoryCounts() map[report.Category]int {
	return derive.CountByCategory(s.cache.Snapshot().Records())
}

// Record looks id up in the cache and falls back to the server.
func (s *Session) Record(ctx context.Context, id string) (report.Record, error) {
	if rec, ok := s.cache.Snapshot().Find(id); ok {
		return rec, nil
	}
	return s.repo.Get(ctx, id)
}

// OpenCreate opens the empty report form.
func (s *Session) OpenCreate() error {
	if s.Closed() {
		return ErrClosed
	}
	s.view.OpenCreate()
	return nil
}

// OpenEdit opens the form for record id.
func (s *Session) OpenEdit(id string) error {
	if s.Closed() {
		return ErrClosed
	}
	return s.view.OpenEdit(id)
}

// OpenDetail opens the detail modal for record id.
func (s *Session) OpenDetail(id string) error {
	if s.Closed() {
		return ErrClosed
	}
	return s.view.OpenDetail(id)
}

// RequestDelete opens the delete confirmation for record id.
func (s *Session) RequestDelete(id string) error {
	if s.Closed() {
		return ErrClosed
	}
	return s.view.RequestDelete(id)
}

// CloseModal closes whatever modal is open.
func (s *Session) CloseModal() {
	s.view.Close()
}

// Submit saves the open form: a create when the form is empty, an update of
// the edited record otherwise.
func (s *Session) Submit(ctx context.Context, draft report.Draft) (mutation.Result, error) {
	if s.Closed() {
		return mutation.Result{}, ErrClosed
	}
	st := s.view.State()
	if st.Mode != view.Editing {
		return mutation.Result{}, fmt.Errorf("submit: no form is open (%s)", st)
	}
	if st.IsCreate() {
		return s.coord.Create(ctx, draft), nil
	}
	return s.coord.Update(ctx, st.RecordID, draft), nil
}

// ConfirmDelete deletes the record the confirmation dialog refers to.
func (s *Session) ConfirmDelete(ctx context.Context) (mutation.Result, error) {
	if s.Closed() {
		return mutation.Result{}, ErrClosed
	}
	st := s.view.State()
	if st.Mode != view.ConfirmingDelete {
		return mutation.Result{}, fmt.Errorf("confirm delete: no deletion requested (%s)", st)
	}
	return s.coord.Delete(ctx, st.RecordID), nil
}

// Create submits draft without going through the form.
func (s *Session) Create(ctx context.Context, draft report.Draft) mutation.Result {
	return s.coord.Create(ctx, draft)
}

// Update applies draft to record id without going through the form.
func (s *Session) Update(ctx context.Context, id string, draft report.Draft) mutation.Result {
	return s.coord.Update(ctx, id, draft)
}

// ReplaceMedia swaps every image of record id.
func (s *Session) ReplaceMedia(ctx context.Context, id string, images []report.Attachment) mutation.Result {
	return s.coord.ReplaceMedia(ctx, id, images)
}

// Delete removes record id without a confirmation dialog.
func (s *Session) Delete(ctx context.Context, id string) mutation.Result {
	return s.coord.Delete(ctx, id)
}
