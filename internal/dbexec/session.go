package dbexec

import (
	"context"
	"database/sql"
	"fmt"

	"relquery/internal/sqlutil"
)

// SessionExecutor runs every statement on a dedicated connection prepared
// with session setup: an optional USE of the database followed by init
// statements such as SET SESSION sql_mode=... .
type SessionExecutor struct {
	db           *sql.DB
	databaseName string
	init         []string
}

// SessionExecutorConfig controls session setup.
type SessionExecutorConfig struct {
	DB           *sql.DB
	DatabaseName string
	Init         []string
}

// NewSessionExecutor creates an executor that prepares a connection before each statement.
func NewSessionExecutor(cfg SessionExecutorConfig) *SessionExecutor {
	return &SessionExecutor{
		db:           cfg.DB,
		databaseName: cfg.DatabaseName,
		init:         append([]string(nil), cfg.Init...),
	}
}

func (e *SessionExecutor) conn(ctx context.Context) (*sql.Conn, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if err := e.setup(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (e *SessionExecutor) setup(ctx context.Context, conn *sql.Conn) error {
	if e.databaseName != "" {
		useSQL := fmt.Sprintf("USE %s", sqlutil.QuoteIdentifier(e.databaseName))
		if _, err := conn.ExecContext(ctx, useSQL); err != nil {
			return fmt.Errorf("failed to select database %s: %w", e.databaseName, err)
		}
	}
	for _, stmt := range e.init {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("session init %q: %w", stmt, err)
		}
	}
	return nil
}

func (e *SessionExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	conn, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &connRows{Rows: rows, cleanup: func() { _ = conn.Close() }}, nil
}

func (e *SessionExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.ExecContext(ctx, query, args...)
}

// BeginTx opens a transaction on a prepared connection; the connection is
// released on Commit or Rollback.
func (e *SessionExecutor) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	conn, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &txExecutor{tx: tx, cleanup: func() { _ = conn.Close() }}, nil
}

type connRows struct {
	*sql.Rows
	cleanup func()
}

func (r *connRows) Close() error {
	defer r.cleanup()
	return r.Rows.Close()
}
