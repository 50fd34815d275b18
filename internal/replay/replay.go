// Package replay memoizes composed statements per call site. The first play
// of a site builds and renders the statement once, recording where its
// placeholders were bound; later plays reuse the recorded SQL text and only
// substitute the caller's values at those positions.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"relquery/internal/binder"
	"relquery/internal/compose"
	"relquery/internal/logging"
	"relquery/internal/observability"
	"relquery/internal/qerr"
)

// Statement is anything that composes to SQL text and binders:
// compose.Query, compose.Insert, compose.Update and compose.Delete.
type Statement interface {
	Compose(ctx context.Context) (compose.Composed, error)
}

// Builder produces the statement of one call site. Values that vary between
// plays must be supplied as binder.Placeholder.
type Builder func() (Statement, error)

// entry is the recorded shape of a call site.
type entry struct {
	sql   string
	args  []any
	slots []binder.Slot
}

type options struct {
	registry *binder.Registry
	logger   *slog.Logger
	metrics  *observability.QueryMetrics
}

// Option configures a cache.
type Option func(*options)

// WithRegistry sets the codec registry used to coerce played values.
func WithRegistry(r *binder.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithLogger sets the logger. Without it recordings are logged through the
// logger carried by the playing context.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records hits and misses.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(o *options) { o.metrics = m }
}

func newOptions(opts []Option) options {
	o := options{registry: binder.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) log(ctx context.Context) *slog.Logger {
	l := o.logger
	if l == nil {
		l = logging.FromContext(ctx).Logger
	}
	return l.With(slog.String("component", "replay"))
}

// store holds entries under a comparable key. Lookups take the read lock;
// the first build of a key runs once and concurrent misses of the same key
// wait for it. Flights are keyed by K itself, so distinct keys never share one.
type store[K comparable] struct {
	opts    options
	mu      sync.RWMutex
	entries map[K]*entry
	flights map[K]*flight
}

// flight is one in-progress recording.
type flight struct {
	done chan struct{}
	e    *entry
	err  error
}

func newStore[K comparable](opts []Option) store[K] {
	return store[K]{
		opts:    newOptions(opts),
		entries: make(map[K]*entry),
		flights: make(map[K]*flight),
	}
}

func (s *store[K]) lookup(key K) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

func (s *store[K]) play(ctx context.Context, key K, site string, build Builder, values []any) (*Renderer, error) {
	e, hit := s.lookup(key)
	s.opts.metrics.RecordReplay(ctx, site, hit)
	if !hit {
		var err error
		e, err = s.recordOnce(ctx, key, site, build)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", site, err)
		}
	}
	return s.substitute(e, site, values)
}

func (s *store[K]) recordOnce(ctx context.Context, key K, site string, build Builder) (*entry, error) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return e, nil
	}
	if f, ok := s.flights[key]; ok {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.e, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{}), err: qerr.State("recording of %s did not complete", site)}
	s.flights[key] = f
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.flights, key)
		if f.err == nil {
			s.entries[key] = f.e
		}
		s.mu.Unlock()
		close(f.done)
	}()

	f.e, f.err = record(ctx, build)
	if f.err == nil {
		s.opts.log(ctx).Debug("recorded statement shape",
			slog.String("site", site),
			slog.Int("placeholders", len(f.e.slots)),
		)
	}
	return f.e, f.err
}

func (s *store[K]) substitute(e *entry, site string, values []any) (*Renderer, error) {
	if len(values) != len(e.slots) {
		return nil, qerr.State("site %s recorded %d placeholders, got %d values", site, len(e.slots), len(values))
	}
	args := overlay(append([]any(nil), e.args...))
	for i, slot := range e.slots {
		b, err := s.opts.registry.Coerce(slot.Placeholder.Kind(), values[i])
		if err != nil {
			return nil, fmt.Errorf("value %d for %s: %w", i+1, slot.Placeholder, err)
		}
		for _, ordinal := range slot.Ordinals {
			if err := b.Bind(args, ordinal); err != nil {
				return nil, err
			}
		}
	}
	return &Renderer{sql: e.sql, args: args}, nil
}

func (s *store[K]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[K]*entry)
}

func (s *store[K]) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// record runs the recording pass: build, render, and bind into a Recorder.
func record(ctx context.Context, build Builder) (*entry, error) {
	if build == nil {
		return nil, qerr.State("nil builder")
	}
	st, err := build()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, qerr.State("builder returned no statement")
	}
	c, err := st.Compose(ctx)
	if err != nil {
		return nil, err
	}
	rec := binder.NewRecorder()
	if _, err := c.Complement(1, rec); err != nil {
		return nil, err
	}
	return &entry{sql: c.SQL, args: append([]any(nil), rec.Args()...), slots: rec.Slots()}, nil
}

// overlay is a fixed-size statement over a copied argument list.
type overlay []any

func (o overlay) SetArg(ordinal int, v any) error {
	if ordinal < 1 || ordinal > len(o) {
		return qerr.State("bind ordinal %d out of range 1..%d", ordinal, len(o))
	}
	o[ordinal-1] = v
	return nil
}

// Cache memoizes statements per call site. site is a stable key naming the
// statement's shape, e.g. "orders.by_status". Safe for concurrent use.
type Cache struct {
	s store[string]
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	return &Cache{s: newStore[string](opts)}
}

// Play returns the statement of site with values substituted at its
// placeholders, in the order they were first bound. build runs only when
// site has not been recorded yet.
func (c *Cache) Play(ctx context.Context, site string, build Builder, values ...any) (*Renderer, error) {
	return c.s.play(ctx, site, site, build, values)
}

// Clear drops every recorded site.
func (c *Cache) Clear() { c.s.clear() }

// Len returns the number of recorded sites.
func (c *Cache) Len() int { return c.s.len() }

type keyedKey[D comparable] struct {
	site     string
	decision D
}

// Keyed is a Cache partitioned by a caller decision, so one site can hold
// several shapes, e.g. with and without an optional filter.
type Keyed[D comparable] struct {
	s store[keyedKey[D]]
}

// NewKeyed returns an empty keyed cache.
func NewKeyed[D comparable](opts ...Option) *Keyed[D] {
	return &Keyed[D]{s: newStore[keyedKey[D]](opts)}
}

// Play is Cache.Play for the shape selected by decision.
func (k *Keyed[D]) Play(ctx context.Context, site string, decision D, build Builder, values ...any) (*Renderer, error) {
	return k.s.play(ctx, keyedKey[D]{site: site, decision: decision}, site, build, values)
}

func (k *Keyed[D]) Clear()   { k.s.clear() }
func (k *Keyed[D]) Len() int { return k.s.len() }
