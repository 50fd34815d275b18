package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"relquery/internal/batch"
	"relquery/internal/binder"
	"relquery/internal/clause"
	"relquery/internal/column"
	"relquery/internal/compose"
	"relquery/internal/dbexec"
	"relquery/internal/graph"
	"relquery/internal/logging"
	"relquery/internal/qerr"
	"relquery/internal/replay"
	"relquery/internal/sqltype"
)

const replaySite = "cli"

// Result is the outcome of one request.
type Result struct {
	SQL     string
	Args    []any
	Columns []string
	Rows    [][]string
	// RowsAffected is set for an executed mutation; -1 while it waits in a batch.
	RowsAffected int64
	mutation     bool
	executed     bool
}

// Write prints the statement, its arguments and any result.
func (r Result) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s\n-- args: %s\n", r.SQL, formatArgs(r.Args)); err != nil {
		return err
	}
	if !r.executed {
		return nil
	}
	if r.mutation {
		if r.RowsAffected < 0 {
			_, err := fmt.Fprintln(w, "-- queued")
			return err
		}
		_, err := fmt.Fprintf(w, "-- rows affected: %d\n", r.RowsAffected)
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Join(r.Columns, "\t")); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return nil
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = strconv.Quote(v)
		case []byte:
			parts[i] = strconv.Quote(string(v))
		case time.Time:
			parts[i] = v.Format(time.RFC3339Nano)
		case nil:
			parts[i] = "NULL"
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// plan is a request resolved against its root table.
type plan struct {
	req    Request
	root   *graph.Node
	conds  []condition
	kinds  []sqltype.Kind
	sets   []condition
	orders []ordering
}

func (a *App) plan(ctx context.Context, req Request) (*plan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	root, err := a.factory.Graph(ctx, req.Table)
	if err != nil {
		return nil, err
	}
	p := &plan{req: req, root: root}
	for _, w := range req.Where {
		c, err := parseCondition(w)
		if err != nil {
			return nil, err
		}
		col, err := resolveColumn(root, c.path)
		if err != nil {
			return nil, err
		}
		if c.op == "~" && col.Kind().IsNumeric() {
			return nil, qerr.Unsupported("pattern match on numeric column %s", c.path)
		}
		p.conds = append(p.conds, c)
		p.kinds = append(p.kinds, col.Kind())
	}
	for _, s := range req.Set {
		c, err := parseAssignment(s)
		if err != nil {
			return nil, err
		}
		p.sets = append(p.sets, c)
	}
	for _, o := range req.Order {
		ord, err := parseOrdering(o)
		if err != nil {
			return nil, err
		}
		p.orders = append(p.orders, ord)
	}
	return p, nil
}

// resolveColumn maps "fk_a.fk_b.column" to column on the node reached by
// following the foreign keys from root.
func resolveColumn(root *graph.Node, path string) (*column.Column, error) {
	parts := strings.Split(path, ".")
	node, err := root.FollowPath(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	return column.New(node, parts[len(parts)-1])
}

// conditionValues returns the typed values of the non-NULL conditions, in order.
func (p *plan) conditionValues() ([]any, error) {
	var out []any
	for i, c := range p.conds {
		if c.null {
			continue
		}
		v, err := parseValue(p.kinds[i], c.value)
		if err != nil {
			return nil, qerr.Wrap(qerr.ErrConfiguration, err, "condition %s%s%s", c.path, c.op, c.value)
		}
		out = append(out, v)
	}
	return out, nil
}

// criteria builds the WHERE criteria. bind supplies the binder for the i-th
// non-NULL condition.
func (p *plan) criteria(bind func(i int, kind sqltype.Kind, name string) (binder.Binder, error)) ([]clause.Criteria, error) {
	var out []clause.Criteria
	n := 0
	for i, c := range p.conds {
		h, err := resolveColumn(p.root, c.path)
		if err != nil {
			return nil, err
		}
		if c.null {
			if c.op == "=" {
				out = append(out, clause.IsNull(h))
			} else {
				out = append(out, clause.IsNotNull(h))
			}
			continue
		}
		b, err := bind(n, p.kinds[i], c.path)
		if err != nil {
			return nil, err
		}
		n++
		out = append(out, compare(c.op, h, b))
	}
	return out, nil
}

func compare(op string, h column.Handle, b binder.Binder) clause.Criteria {
	switch op {
	case "!=":
		return clause.Ne(h, b)
	case "<":
		return clause.Lt(h, b)
	case "<=":
		return clause.Le(h, b)
	case ">":
		return clause.Gt(h, b)
	case ">=":
		return clause.Ge(h, b)
	case "~":
		return clause.Like(h, b)
	default:
		return clause.Eq(h, b)
	}
}

func (a *App) selectQuery(p *plan, crit []clause.Criteria) (*compose.Query, error) {
	q := compose.New(p.root, a.composeOpts...)
	for _, s := range p.req.Select {
		h, err := resolveColumn(p.root, s)
		if err != nil {
			return nil, err
		}
		q.Select(h)
	}
	if p.req.Distinct {
		q.Distinct()
	}
	q.Where(crit...)
	for _, o := range p.orders {
		h, err := resolveColumn(p.root, o.path)
		if err != nil {
			return nil, err
		}
		if o.desc {
			q.OrderBy(clause.Desc(h))
		} else {
			q.OrderBy(clause.Asc(h))
		}
	}
	if p.req.Limit > 0 {
		q.Limit(p.req.Limit)
	}
	if p.req.Offset > 0 {
		q.Offset(p.req.Offset)
	}
	return q, nil
}

func (a *App) mutation(p *plan, crit []clause.Criteria) (batch.Statement, error) {
	if p.req.Delete {
		return compose.NewDelete(p.root, a.composeOpts...).Where(crit...), nil
	}
	u := compose.NewUpdate(p.root, a.composeOpts...)
	for _, s := range p.sets {
		h, err := column.New(p.root, s.path)
		if err != nil {
			return nil, err
		}
		if s.null {
			u.Set(h, binder.Null(h.Kind()))
			continue
		}
		v, err := parseValue(h.Kind(), s.value)
		if err != nil {
			return nil, qerr.Wrap(qerr.ErrConfiguration, err, "assignment %s=%s", s.path, s.value)
		}
		b, err := binder.Default().Coerce(h.Kind(), v)
		if err != nil {
			return nil, err
		}
		u.Set(h, b)
	}
	return u.Where(crit...), nil
}

// literal binds condition values directly.
func literal(values []any) func(int, sqltype.Kind, string) (binder.Binder, error) {
	return func(i int, kind sqltype.Kind, _ string) (binder.Binder, error) {
		return binder.Default().Coerce(kind, values[i])
	}
}

func placeholders(_ int, kind sqltype.Kind, name string) (binder.Binder, error) {
	return binder.NewPlaceholder(kind, name), nil
}

// Run composes req and, with req.Execute, runs it. A mutation run inside
// RunLines joins the surrounding batch.
func (a *App) Run(ctx context.Context, req Request) (Result, error) {
	a.stateMu.Lock()
	ready := a.initialized
	a.stateMu.Unlock()
	if !ready {
		return Result{}, qerr.State("app is not initialized")
	}

	logger := a.logger.WithFields(slog.String("table", req.Table))
	if req.Track != "" {
		ctx = logging.WithQueryIDContext(ctx, req.Track)
		logger = logger.WithQueryID(req.Track)
	}
	ctx = logging.WithLogger(ctx, logger)

	p, err := a.plan(ctx, req)
	if err != nil {
		return Result{}, err
	}
	values, err := p.conditionValues()
	if err != nil {
		return Result{}, err
	}

	var res Result
	if req.kind() == "select" {
		res, err = a.runSelect(ctx, p, values)
	} else {
		res, err = a.runMutation(ctx, p, values)
	}
	if err != nil {
		return Result{}, err
	}

	if logging.QueryID(ctx) != "" {
		if err := a.track(ctx, req, p.root); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (a *App) runSelect(ctx context.Context, p *plan, values []any) (Result, error) {
	if a.shapes == nil {
		crit, err := p.criteria(literal(values))
		if err != nil {
			return Result{}, err
		}
		q, err := a.selectQuery(p, crit)
		if err != nil {
			return Result{}, err
		}
		c, err := q.Compose(ctx)
		if err != nil {
			return Result{}, err
		}
		args, err := c.Args()
		if err != nil {
			return Result{}, err
		}
		res := Result{SQL: c.SQL, Args: args}
		if p.req.Execute {
			rows, err := a.exec.QueryContext(ctx, c.SQL, args...)
			if err != nil {
				return Result{}, err
			}
			if err := collect(rows, &res); err != nil {
				return Result{}, err
			}
		}
		return res, nil
	}

	build := func() (replay.Statement, error) {
		crit, err := p.criteria(placeholders)
		if err != nil {
			return nil, err
		}
		return a.selectQuery(p, crit)
	}
	r, err := a.shapes.Play(ctx, replaySite, p.req.shape(p.conds), build, values...)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logging.FromContext(ctx).Debug("failed to close replayed statement", slog.String("error", err.Error()))
		}
	}()

	sqlText, err := r.SQL()
	if err != nil {
		return Result{}, err
	}
	args, err := r.Args()
	if err != nil {
		return Result{}, err
	}
	res := Result{SQL: sqlText, Args: args}
	if p.req.Execute {
		rows, err := r.QueryContext(ctx, a.exec)
		if err != nil {
			return Result{}, err
		}
		if err := collect(rows, &res); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (a *App) runMutation(ctx context.Context, p *plan, values []any) (Result, error) {
	crit, err := p.criteria(literal(values))
	if err != nil {
		return Result{}, err
	}
	st, err := a.mutation(p, crit)
	if err != nil {
		return Result{}, err
	}
	c, err := st.Compose(ctx)
	if err != nil {
		return Result{}, err
	}
	args, err := c.Args()
	if err != nil {
		return Result{}, err
	}
	res := Result{SQL: c.SQL, Args: args, mutation: true}
	if !p.req.Execute {
		return res, nil
	}

	res.executed = true
	queued := batch.Batching(ctx)
	n, err := batch.Exec(ctx, a.exec, st)
	if err != nil {
		return Result{}, err
	}
	res.RowsAffected = n
	if queued {
		res.RowsAffected = -1
	}
	return res, nil
}

func collect(rows dbexec.Rows, res *Result) error {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	res.Columns = cols
	res.executed = true
	for rows.Next() {
		raw := make([]sql.NullString, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		row := make([]string, len(cols))
		for i, v := range raw {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return rows.Err()
}

func (a *App) track(ctx context.Context, req Request, root *graph.Node) error {
	if a.usage == nil {
		return qerr.Configuration("--track needs selector.enabled")
	}
	// Columns reached through a foreign key belong to another table and are
	// not recorded under the root.
	var cols []string
	for _, s := range req.Select {
		if !strings.Contains(s, ".") {
			cols = append(cols, s)
		}
	}
	if err := a.usage.Track(logging.QueryID(ctx), root.Path(), cols...); err != nil {
		return err
	}
	return a.usage.Commit(ctx)
}

// VerifyUsage reports tracked columns that no longer resolve against the catalog.
func (a *App) VerifyUsage(ctx context.Context) error {
	if a.usage == nil {
		return qerr.Configuration("usage verification needs selector.enabled")
	}
	return a.usage.Verify(ctx, a.factory)
}

// RunLines runs one request per line of r, writing each result to w. Blank
// lines and lines starting with # are skipped. Executed mutations are batched
// and flushed together once every line succeeded; a failing line discards them.
func (a *App) RunLines(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx = logging.WithLogger(ctx, a.logger)
	sum, err := batch.Run(ctx, a.exec, func(ctx context.Context) error {
		scanner := bufio.NewScanner(r)
		line := 0
		for scanner.Scan() {
			line++
			text := strings.TrimSpace(scanner.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			req, err := ParseLine(text)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			res, err := a.Run(ctx, req)
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if err := res.Write(w); err != nil {
				return err
			}
		}
		return scanner.Err()
	}, a.batchOpts...)
	if err != nil {
		return err
	}
	if sum.Statements > 0 {
		a.logger.Info("batch flushed",
			slog.Int("statements", sum.Statements),
			slog.Int64("rows_affected", sum.RowsAffected),
		)
		_, err = fmt.Fprintf(w, "-- batch: %d statements, %d rows affected\n", sum.Statements, sum.RowsAffected)
	}
	return err
}

// parseValue converts command text into the Go value a column of kind binds.
func parseValue(kind sqltype.Kind, s string) (any, error) {
	switch kind {
	case sqltype.KindInt:
		return strconv.ParseInt(s, 10, 64)
	case sqltype.KindFloat:
		return strconv.ParseFloat(s, 64)
	case sqltype.KindBool:
		return strconv.ParseBool(s)
	case sqltype.KindBytes:
		return []byte(s), nil
	case sqltype.KindTime:
		for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as a time", s)
	case sqltype.KindUUID:
		return uuid.Parse(s)
	case sqltype.KindJSON:
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("%q is not valid JSON", s)
		}
		return json.RawMessage(s), nil
	default:
		return s, nil
	}
}
