// Package batch lets a caller-delimited block funnel its mutations into one
// batch that flushes, in order and in one transaction when the executor
// supports it, after the block succeeds.
package batch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"relquery/internal/compose"
	"relquery/internal/dbexec"
	"relquery/internal/logging"
	"relquery/internal/observability"
	"relquery/internal/qerr"
)

// Statement composes to SQL, e.g. compose.Insert, compose.Update or compose.Delete.
type Statement interface {
	Compose(ctx context.Context) (compose.Composed, error)
}

// Summary reports a flushed batch.
type Summary struct {
	Statements   int
	RowsAffected int64
}

type pending struct {
	sql  string
	args []any
}

type batch struct {
	mu     sync.Mutex
	stmts  []pending
	closed bool
}

func (b *batch) add(p pending) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return qerr.State("statement added to a closed batch")
	}
	b.stmts = append(b.stmts, p)
	return nil
}

func (b *batch) close() []pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	out := b.stmts
	b.stmts = nil
	return out
}

func (b *batch) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type ctxKey struct{}

func from(ctx context.Context) (*batch, bool) {
	b, ok := ctx.Value(ctxKey{}).(*batch)
	return b, ok
}

type options struct {
	logger  *slog.Logger
	metrics *observability.QueryMetrics
	txOpts  *sql.TxOptions
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger. Without it Run logs through the logger
// carried by ctx.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records flushes.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTxOptions sets the options of the flush transaction.
func WithTxOptions(tx *sql.TxOptions) Option {
	return func(o *options) { o.txOpts = tx }
}

// Run calls fn with a context carrying an open batch. Statements passed to
// Exec with that context are collected; when fn returns nil they are flushed
// through exec. When fn fails, or panics, the batch is discarded. The batch
// is closed on every exit, so a context leaked out of fn cannot join it later.
// A Run inside an open batch joins it and flushes with the outermost Run.
func Run(ctx context.Context, exec dbexec.QueryExecutor, fn func(ctx context.Context) error, opts ...Option) (Summary, error) {
	if b, ok := from(ctx); ok {
		if b.isClosed() {
			return Summary{}, qerr.State("run inside a closed batch")
		}
		return Summary{}, fn(ctx)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.FromContext(ctx).Logger
	}
	logger := o.logger.With(slog.String("component", "batch"))

	b := &batch{}
	flushed := false
	defer func() {
		if !flushed {
			if n := len(b.close()); n > 0 {
				logger.Debug("discarded batch", slog.Int("statements", n))
			}
		}
	}()

	if err := fn(context.WithValue(ctx, ctxKey{}, b)); err != nil {
		return Summary{}, err
	}
	stmts := b.close()
	flushed = true

	sum, err := flush(ctx, exec, stmts, o.txOpts)
	o.metrics.RecordBatchFlush(ctx, len(stmts), err)
	if err != nil {
		return Summary{}, err
	}
	logger.Debug("flushed batch",
		slog.Int("statements", sum.Statements),
		slog.Int64("rows_affected", sum.RowsAffected),
	)
	return sum, nil
}

func flush(ctx context.Context, exec dbexec.QueryExecutor, stmts []pending, txOpts *sql.TxOptions) (Summary, error) {
	if len(stmts) == 0 {
		return Summary{}, nil
	}
	txb, ok := exec.(dbexec.TxBeginner)
	if !ok {
		return execAll(ctx, exec, stmts)
	}
	tx, err := txb.BeginTx(ctx, txOpts)
	if err != nil {
		return Summary{}, fmt.Errorf("begin batch: %w", err)
	}
	sum, err := execAll(ctx, tx, stmts)
	if err != nil {
		_ = tx.Rollback()
		return Summary{}, err
	}
	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("commit batch: %w", err)
	}
	return sum, nil
}

func execAll(ctx context.Context, exec dbexec.QueryExecutor, stmts []pending) (Summary, error) {
	var sum Summary
	for i, p := range stmts {
		res, err := exec.ExecContext(ctx, p.sql, p.args...)
		if err != nil {
			return Summary{}, fmt.Errorf("batch statement %d: %w", i+1, err)
		}
		sum.Statements++
		if n, err := res.RowsAffected(); err == nil {
			sum.RowsAffected += n
		}
	}
	return sum, nil
}

// Exec composes st and either appends it to the batch carried by ctx,
// returning 0, or executes it immediately and returns the affected rows.
// A ctx carrying a closed batch is a State error.
func Exec(ctx context.Context, exec dbexec.QueryExecutor, st Statement) (int64, error) {
	c, err := st.Compose(ctx)
	if err != nil {
		return 0, err
	}
	args, err := c.Args()
	if err != nil {
		return 0, err
	}
	if b, ok := from(ctx); ok {
		return 0, b.add(pending{sql: c.SQL, args: args})
	}
	res, err := exec.ExecContext(ctx, c.SQL, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Pending reports how many statements the batch carried by ctx holds.
func Pending(ctx context.Context) int {
	b, ok := from(ctx)
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stmts)
}

// Batching reports whether ctx carries an open batch.
func Batching(ctx context.Context) bool {
	b, ok := from(ctx)
	return ok && !b.isClosed()
}
