package selector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"relquery/internal/catalog"
	"relquery/internal/dbexec"
	"relquery/internal/sqlutil"
)

// DefaultTable is the table SQLStore persists to.
const DefaultTable = "relquery_column_usage"

// SQLStore persists usages, one row per (query id, column). An id with no
// columns is stored as a single row with a NULL column name.
type SQLStore struct {
	exec    dbexec.QueryExecutor
	dialect sqlutil.Dialect
	table   string
}

// NewSQLStore returns a store over exec. An empty table uses DefaultTable.
func NewSQLStore(exec dbexec.QueryExecutor, dialect sqlutil.Dialect, table string) *SQLStore {
	if table == "" {
		table = DefaultTable
	}
	return &SQLStore{exec: exec, dialect: dialect, table: table}
}

func (s *SQLStore) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (s *SQLStore) finish(sql string, args []any, err error) (string, []any, error) {
	if err != nil {
		return "", nil, err
	}
	sql, err = s.dialect.ReplacePlaceholders(sql)
	return sql, args, err
}

// EnsureSchema creates the usage table when it is missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	query_id VARCHAR(255) NOT NULL,
	table_path VARCHAR(255) NOT NULL,
	column_name VARCHAR(255),
	position INTEGER NOT NULL,
	updated_at BIGINT NOT NULL
)`, s.dialect.Quote(s.table))
	if _, err := s.exec.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Load reads every usage, columns in position order.
func (s *SQLStore) Load(ctx context.Context) (map[string]Usage, error) {
	query, args, err := s.finish(s.builder().
		Select("query_id", "table_path", "column_name", "updated_at").
		From(s.dialect.Quote(s.table)).
		OrderBy("query_id", "position").
		ToSql())
	if err != nil {
		return nil, err
	}
	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	out := make(map[string]Usage)
	for rows.Next() {
		var (
			id, table string
			column    sql.NullString
			updated   int64
		)
		if err := rows.Scan(&id, &table, &column, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		u, ok := out[id]
		if !ok {
			u = Usage{Table: catalog.ParseTablePath(table), Updated: time.UnixMilli(updated).UTC()}
		}
		if column.Valid {
			u.Columns = append(u.Columns, column.String)
		}
		out[id] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.table, err)
	}
	return out, nil
}

// Apply replaces the stored rows of every changed id, in one transaction
// when the executor supports it.
func (s *SQLStore) Apply(ctx context.Context, changes []Change) error {
	txb, ok := s.exec.(dbexec.TxBeginner)
	if !ok {
		return s.applyAll(ctx, s.exec, changes)
	}
	tx, err := txb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := s.applyAll(ctx, tx, changes); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) applyAll(ctx context.Context, exec dbexec.QueryExecutor, changes []Change) error {
	for _, ch := range changes {
		if err := s.apply(ctx, exec, ch); err != nil {
			return fmt.Errorf("store %s: %w", ch.ID, err)
		}
	}
	return nil
}

func (s *SQLStore) apply(ctx context.Context, exec dbexec.QueryExecutor, ch Change) error {
	query, args, err := s.finish(s.builder().
		Delete(s.dialect.Quote(s.table)).
		Where(sq.Eq{"query_id": ch.ID}).
		ToSql())
	if err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	if ch.Usage == nil {
		return nil
	}

	u := ch.Usage
	ins := s.builder().
		Insert(s.dialect.Quote(s.table)).
		Columns("query_id", "table_path", "column_name", "position", "updated_at")
	stamp := u.Updated.UnixMilli()
	if len(u.Columns) == 0 {
		ins = ins.Values(ch.ID, u.Table.String(), nil, 0, stamp)
	}
	for i, c := range u.Columns {
		ins = ins.Values(ch.ID, u.Table.String(), c, i, stamp)
	}
	query, args, err = s.finish(ins.ToSql())
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, query, args...)
	return err
}
