// Package selector tracks which columns each logical query has used. Changes
// are held as an undoable command history until Commit writes them to a
// Store or Rollback reloads the stored state.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"relquery/internal/catalog"
	"relquery/internal/qerr"
)

// Usage is the recorded column set of one query id.
type Usage struct {
	Table   catalog.TablePath
	Columns []string
	Updated time.Time
}

func (u Usage) clone() Usage {
	u.Columns = slices.Clone(u.Columns)
	return u
}

// Change is one id's state to persist. A nil Usage deletes the id.
type Change struct {
	ID    string
	Usage *Usage
}

// Store is durable storage for usages.
type Store interface {
	Load(ctx context.Context) (map[string]Usage, error)
	Apply(ctx context.Context, changes []Change) error
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock sets the time source for update stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Repository is the in-memory view of stored usages plus pending commands.
// All methods are safe for concurrent use.
type Repository struct {
	mu      sync.Mutex
	store   Store
	state   map[string]Usage
	history []command
	cursor  int
	now     func() time.Time
	logger  *slog.Logger
}

// Open loads the stored usages into a new repository.
func Open(ctx context.Context, store Store, opts ...Option) (*Repository, error) {
	if store == nil {
		return nil, qerr.Configuration("selector repository needs a store")
	}
	r := &Repository{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "selector"))
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load column usage: %w", err)
	}
	r.state = state
	return r, nil
}

// do applies c and appends it, dropping any redo tail. Callers hold mu.
func (r *Repository) do(c command) {
	r.history = append(r.history[:r.cursor], c)
	r.cursor++
	c.apply(r.state)
}

func (r *Repository) get(id string) (Usage, error) {
	u, ok := r.state[id]
	if !ok {
		return Usage{}, qerr.NotFound("query id %q is not tracked", id)
	}
	return u, nil
}

// Get returns a copy of the usage of id.
func (r *Repository) Get(id string) (Usage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.state[id]
	return u.clone(), ok
}

// IDs returns the tracked ids in order.
func (r *Repository) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.state))
}

// AddID starts tracking id against table.
func (r *Repository) AddID(id string, table catalog.TablePath) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		return qerr.State("empty query id")
	}
	if _, ok := r.state[id]; ok {
		return qerr.State("query id %q is already tracked", id)
	}
	r.do(addID{id: id, table: table, at: r.now()})
	return nil
}

// RemoveID stops tracking id.
func (r *Repository) RemoveID(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.get(id)
	if err != nil {
		return err
	}
	r.do(removeID{id: id, prev: u.clone()})
	return nil
}

// AddColumn appends column to id's set. A column already present is a no-op.
func (r *Repository) AddColumn(id, column string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.get(id)
	if err != nil {
		return err
	}
	if slices.Contains(u.Columns, column) {
		return nil
	}
	r.do(addColumn{id: id, column: column, prevAt: u.Updated, at: r.now()})
	return nil
}

// RemoveColumn drops column from id's set.
func (r *Repository) RemoveColumn(id, column string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.get(id)
	if err != nil {
		return err
	}
	i := slices.Index(u.Columns, column)
	if i < 0 {
		return qerr.NotFound("column %q is not tracked for %q", column, id)
	}
	r.do(removeColumn{id: id, column: column, index: i, prevAt: u.Updated, at: r.now()})
	return nil
}

// Retarget points id at another table and clears its columns.
func (r *Repository) Retarget(id string, table catalog.TablePath) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.get(id)
	if err != nil {
		return err
	}
	r.do(retarget{id: id, prev: u.clone(), next: table, at: r.now()})
	return nil
}

// Rename moves the usage of from to to.
func (r *Repository) Rename(from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.get(from); err != nil {
		return err
	}
	if _, ok := r.state[to]; ok || to == "" {
		return qerr.State("cannot rename %q to %q", from, to)
	}
	r.do(rename{from: from, to: to})
	return nil
}

// Clear empties id's column set.
func (r *Repository) Clear(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, err := r.get(id)
	if err != nil {
		return err
	}
	r.do(clearColumns{id: id, prev: u.clone(), at: r.now()})
	return nil
}

// Track records that id read columns of table, adding the id if needed.
// An id tracked against a different table is retargeted first.
func (r *Repository) Track(id string, table catalog.TablePath, columns ...string) error {
	u, ok := r.Get(id)
	switch {
	case !ok:
		if err := r.AddID(id, table); err != nil {
			return err
		}
	case u.Table != table:
		r.logger.Warn("query id moved to another table",
			slog.String("id", id),
			slog.String("from", u.Table.String()),
			slog.String("to", table.String()),
		)
		if err := r.Retarget(id, table); err != nil {
			return err
		}
	}
	for _, c := range columns {
		if err := r.AddColumn(id, c); err != nil {
			return err
		}
	}
	return nil
}

// Undo reverts the last applied command.
func (r *Repository) Undo() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor == 0 {
		return qerr.State("nothing to undo")
	}
	r.cursor--
	r.history[r.cursor].revert(r.state)
	return nil
}

// Redo reapplies the last undone command.
func (r *Repository) Redo() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor == len(r.history) {
		return qerr.State("nothing to redo")
	}
	r.history[r.cursor].apply(r.state)
	r.cursor++
	return nil
}

// Pending returns the number of applied, uncommitted commands.
func (r *Repository) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Commit writes the current state of every id touched since the last
// commit and clears the history.
func (r *Repository) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, c := range r.history {
		for _, id := range c.touched() {
			seen[id] = struct{}{}
		}
	}
	changes := make([]Change, 0, len(seen))
	for _, id := range slices.Sorted(maps.Keys(seen)) {
		ch := Change{ID: id}
		if u, ok := r.state[id]; ok {
			u = u.clone()
			ch.Usage = &u
		}
		changes = append(changes, ch)
	}
	if len(changes) > 0 {
		if err := r.store.Apply(ctx, changes); err != nil {
			return fmt.Errorf("commit column usage: %w", err)
		}
	}
	r.logger.Debug("committed column usage", slog.Int("ids", len(changes)))
	r.history = nil
	r.cursor = 0
	return nil
}

// Rollback discards pending commands and reloads the stored state.
func (r *Repository) Rollback(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload column usage: %w", err)
	}
	r.state = state
	r.history = nil
	r.cursor = 0
	return nil
}
