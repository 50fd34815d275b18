package replay

import (
	"context"
	"database/sql"

	"relquery/internal/binder"
	"relquery/internal/dbexec"
	"relquery/internal/qerr"
)

// Renderer is one play of a recorded statement. It is single use: after
// Close every method fails. Not safe for concurrent use.
type Renderer struct {
	sql    string
	args   []any
	closed bool
}

func (r *Renderer) check() error {
	if r.closed {
		return qerr.State("renderer is closed")
	}
	return nil
}

// SQL returns the recorded statement text.
func (r *Renderer) SQL() (string, error) {
	if err := r.check(); err != nil {
		return "", err
	}
	return r.sql, nil
}

// Args returns a copy of the driver arguments.
func (r *Renderer) Args() ([]any, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return append([]any(nil), r.args...), nil
}

// Complement binds the arguments into st from ordinal start and returns the
// next free ordinal.
func (r *Renderer) Complement(start int, st binder.Statement) (int, error) {
	if err := r.check(); err != nil {
		return start, err
	}
	if start < 1 {
		return start, qerr.State("bind ordinal %d out of range", start)
	}
	for i, a := range r.args {
		if err := st.SetArg(start+i, a); err != nil {
			return start, err
		}
	}
	return start + len(r.args), nil
}

// QueryContext runs the statement as a query.
func (r *Renderer) QueryContext(ctx context.Context, exec dbexec.QueryExecutor) (dbexec.Rows, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return exec.QueryContext(ctx, r.sql, r.args...)
}

// ExecContext runs the statement for its side effects.
func (r *Renderer) ExecContext(ctx context.Context, exec dbexec.QueryExecutor) (sql.Result, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return exec.ExecContext(ctx, r.sql, r.args...)
}

// Close releases the renderer. Closing twice is a State error.
func (r *Renderer) Close() error {
	if err := r.check(); err != nil {
		return err
	}
	r.closed = true
	r.args = nil
	return nil
}
