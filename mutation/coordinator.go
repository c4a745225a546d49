// Package mutation coordinates create, update, delete and replace-media
// operations against the repository and reconciles the cache and the view
// afterwards.
//
// A mutation never writes to the cache. On success it invalidates it, closes
// the modal that started the mutation and emits a success notification. On
// failure the cache is left alone, the modal stays open and an error
// notification is emitted.
package mutation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360studio/reliefdesk/notify"
	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/repository"
	"github.com/c360studio/reliefdesk/view"
)

// Success and fallback failure messages shown to the user.
const (
	MsgCreated       = "Damage report submitted successfully"
	MsgUpdated       = "Report updated successfully"
	MsgDeleted       = "Report deleted successfully"
	MsgMediaReplaced = "Images replaced successfully"

	FallbackCreate       = "Failed to submit report"
	FallbackUpdate       = "Failed to update report"
	FallbackDelete       = "Failed to delete report"
	FallbackReplaceMedia = "Failed to replace images"
)

// createSlot is the in-flight key for creates, which have no identifier yet.
const createSlot = "create"

// Repository is the set of mutating repository calls.
type Repository interface {
	Create(ctx context.Context, draft report.Draft) (report.Record, error)
	Update(ctx context.Context, id string, draft report.Draft) (report.Record, error)
	Delete(ctx context.Context, id string) error
	ReplaceMedia(ctx context.Context, id string, images []report.Attachment) (report.Record, error)
}

// Invalidator is implemented by *cache.Cache.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// View is implemented by *view.Machine.
type View interface {
	CloseIf(expected view.State) bool
	Disposed() bool
}

// Result is the outcome of one mutation.
type Result struct {
	Op string
	ID string
	// Record is the server's copy after a successful create, update or
	// replace-media. It is informational; the cache is refreshed from List.
	Record report.Record
	Err    error
}

// OK reports whether the mutation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Coordinator runs mutations. It is safe for concurrent use.
type Coordinator struct {
	repo     Repository
	cache    Invalidator
	view     View
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithView closes matching modals on success.
func WithView(v View) Option {
	return func(c *Coordinator) {
		c.view = v
	}
}

// WithNotifier sets where notifications go. Defaults to a LogNotifier.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics enables mutation metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a coordinator over repo that invalidates cache.
func NewCoordinator(repo Repository, cache Invalidator, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:     repo,
		cache:    cache,
		logger:   slog.Default(),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notify.LogNotifier{Logger: c.logger}
	}
	return c
}

// InFlight reports whether a mutation on id is running. An empty id asks
// about the create slot.
func (c *Coordinator) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := createSlot
	if id != "" {
		key = slotKey(repository.OpUpdate, id)
	}
	_, ok := c.inflight[key]
	return ok
}

// Create submits draft as a new report. On success the create form closes.
func (c *Coordinator) Create(ctx context.Context, draft report.Draft) Result {
	op := repository.OpCreate
	release, err := c.acquire(op, "")
	if err != nil {
		return c.busy(op, "", err)
	}
	defer release()

	rec, err := c.repo.Create(ctx, draft)
	return c.finish(ctx, outcome{
		op:       op,
		id:       rec.ID,
		record:   rec,
		err:      err,
		modal:    view.State{Mode: view.Editing},
		success:  MsgCreated,
		fallback: FallbackCreate,
	})
}

// Update applies draft to record id. When draft.ReplaceMedia is set the
// record's images are replaced by draft.Images after the scalar fields are
// saved; otherwise any draft images are added to the existing ones.
func (c *Coordinator) Update(ctx context.Context, id string, draft report.Draft) Result {
	op := repository.OpUpdate
	release, err := c.acquire(op, id)
	if err != nil {
		return c.busy(op, id, err)
	}
	defer release()

	o := outcome{
		op:       op,
		id:       id,
		modal:    view.State{Mode: view.Editing, RecordID: id},
		success:  MsgUpdated,
		fallback: FallbackUpdate,
	}

	if !draft.ReplaceMedia {
		o.record, o.err = c.repo.Update(ctx, id, draft)
		return c.finish(ctx, o)
	}

	if len(draft.Images) == 0 {
		o.err = &repository.Error{
			Kind:    repository.KindValidation,
			Op:      repository.OpReplaceMedia,
			ID:      id,
			Message: "At least one image is required",
		}
		return c.finish(ctx, o)
	}

	if draft.HasScalars() {
		scalars := draft
		scalars.Images = nil
		scalars.ReplaceMedia = false
		if _, err := c.repo.Update(ctx, id, scalars); err != nil {
			o.err = err
			return c.finish(ctx, o)
		}
		// The scalar half is now on the server whatever happens next.
		o.serverChanged = true
	}
	o.record, o.err = c.repo.ReplaceMedia(ctx, id, draft.Images)
	return c.finish(ctx, o)
}

// ReplaceMedia swaps every image of record id for images.
func (c *Coordinator) ReplaceMedia(ctx context.Context, id string, images []report.Attachment) Result {
	op := repository.OpReplaceMedia
	release, err := c.acquire(op, id)
	if err != nil {
		return c.busy(op, id, err)
	}
	defer release()

	rec, err := c.repo.ReplaceMedia(ctx, id, images)
	return c.finish(ctx, outcome{
		op:       op,
		id:       id,
		record:   rec,
		err:      err,
		modal:    view.State{Mode: view.Editing, RecordID: id},
		success:  MsgMediaReplaced,
		fallback: FallbackReplaceMedia,
	})
}

// Delete removes record id. There is no undo.
func (c *Coordinator) Delete(ctx context.Context, id string) Result {
	op := repository.OpDelete
	release, err := c.acquire(op, id)
	if err != nil {
		return c.busy(op, id, err)
	}
	defer release()

	err = c.repo.Delete(ctx, id)
	return c.finish(ctx, outcome{
		op:       op,
		id:       id,
		err:      err,
		modal:    view.State{Mode: view.ConfirmingDelete, RecordID: id},
		success:  MsgDeleted,
		fallback: FallbackDelete,
	})
}

type outcome struct {
	op     string
	id     string
	record report.Record
	err    error
	// modal is the view state the mutation was started from.
	modal    view.State
	success  string
	fallback string
	// serverChanged is set when part of a multi-step mutation succeeded.
	serverChanged bool
}

func (c *Coordinator) finish(ctx context.Context, o outcome) Result {
	res := Result{Op: o.op, ID: o.id, Record: o.record, Err: o.err}
	discarded := c.view != nil && c.view.Disposed()

	if o.err != nil {
		c.metrics.record(o.op, outcomeFailure)
		c.logger.Warn("Mutation failed",
			"op", o.op,
			"id", o.id,
			"kind", repository.KindOf(o.err).String(),
			"error", o.err)

		if o.serverChanged || (o.op != repository.OpCreate && repository.IsNotFound(o.err)) {
			c.invalidate(ctx, o.op, o.id)
		}
		if !discarded {
			c.notifier.Notify(ctx, notify.Failure(o.op, o.id,
				repository.UserMessage(o.err, o.fallback),
				repository.KindOf(o.err).String(),
				repository.IsRetryable(o.err)))
		}
		return res
	}

	c.metrics.record(o.op, outcomeSuccess)
	c.logger.Info("Mutation succeeded", "op", o.op, "id", o.id)

	c.invalidate(ctx, o.op, o.id)
	if discarded {
		return res
	}
	if c.view != nil {
		c.view.CloseIf(o.modal)
	}
	c.notifier.Notify(ctx, notify.Success(o.op, o.id, o.success))
	return res
}

// invalidate refreshes the cache. A failed refresh does not change the
// mutation's outcome; the cache keeps its last snapshot and stays stale.
func (c *Coordinator) invalidate(ctx context.Context, op, id string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx); err != nil {
		c.logger.Warn("Refresh after mutation failed", "op", op, "id", id, "error", err)
	}
}

func (c *Coordinator) acquire(op, id string) (release func(), err error) {
	key := slotKey(op, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[key]; busy {
		return nil, repository.NewBusyError(op, id)
	}
	c.inflight[key] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}, nil
}

func (c *Coordinator) busy(op, id string, err error) Result {
	c.metrics.record(op, outcomeBusy)
	c.logger.Debug("Mutation rejected, already in flight", "op", op, "id", id)
	return Result{Op: op, ID: id, Err: err}
}

// slotKey maps a mutation to its busy slot. Only create uses the create
// slot; an update or delete with an empty id gets its own record slot and
// fails validation in the repository.
func slotKey(op, id string) string {
	if op == repository.OpCreate {
		return createSlot
	}
	return "record/" + id
}
