package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmcleod/opsvault/internal/clock"
)

// Auditor stamps, logs and persists entries, then forwards them to the
// alert monitor and an optional sink. A nil *Auditor discards everything.
type Auditor struct {
	store     Store
	logger    *slog.Logger
	clock     clock.Clock
	monitor   *Monitor
	sink      Sink
	onFailure func(Entry, error)
	failures  atomic.Int64
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// WithClock sets the time source used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(a *Auditor) { a.clock = c }
}

// WithMonitor attaches an alert monitor.
func WithMonitor(m *Monitor) Option {
	return func(a *Auditor) { a.monitor = m }
}

// WithSink forwards persisted entries to s.
func WithSink(s Sink) Option {
	return func(a *Auditor) { a.sink = s }
}

// WithFailureHook is called whenever an entry cannot be persisted.
func WithFailureHook(fn func(Entry, error)) Option {
	return func(a *Auditor) { a.onFailure = fn }
}

// New returns an Auditor writing to store.
func New(store Store, opts ...Option) *Auditor {
	a := &Auditor{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.clock = clock.OrReal(a.clock)
	a.logger = a.logger.With("component", "audit")
	return a
}

// Record appends e. On a store failure it returns an error wrapping
// ErrAuditWriteFailed after counting, logging and reporting it.
func (a *Auditor) Record(ctx context.Context, e Entry) error {
	if a == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.clock.Now().UTC()
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.String("event", string(e.Action)),
		slog.String("user_id", e.UserID),
		slog.String("entity_type", e.EntityType),
		slog.String("entity_id", e.EntityID),
		slog.String("remote_addr", e.IPAddress),
	)

	stored, err := a.store.Append(ctx, e)
	a.monitor.Observe(e)
	if err != nil {
		a.failures.Add(1)
		a.logger.LogAttrs(ctx, slog.LevelError, "audit write failed",
			slog.String("event", string(e.Action)),
			slog.String("error", err.Error()),
		)
		if a.onFailure != nil {
			a.onFailure(e, err)
		}
		return fmt.Errorf("%w: %v", ErrAuditWriteFailed, err)
	}
	if a.sink != nil {
		a.sink.Enqueue(stored)
	}
	return nil
}

// List returns matching entries newest first.
func (a *Auditor) List(ctx context.Context, f Filter) ([]Entry, error) {
	return a.store.List(ctx, f)
}

// Failures returns the number of entries that could not be persisted.
func (a *Auditor) Failures() int64 {
	if a == nil {
		return 0
	}
	return a.failures.Load()
}
