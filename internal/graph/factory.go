package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"relquery/internal/catalog"
	"relquery/internal/observability"
	"relquery/internal/qerr"
)

// Factory builds and caches graphs for one catalog. It is safe for concurrent use.
type Factory struct {
	provider catalog.Provider
	schema   string
	policy   DescentPolicy
	logger   *slog.Logger
	metrics  *observability.QueryMetrics

	loads singleflight.Group

	mu     sync.RWMutex
	known  map[catalog.TablePath]struct{}
	tables map[catalog.TablePath]*Table
	nodes  map[string]*Node
}

// Option configures a Factory.
type Option func(*Factory)

// WithPolicy replaces the default refuse-revisit descent policy.
func WithPolicy(p DescentPolicy) Option {
	return func(f *Factory) {
		if p != nil {
			f.policy = p
		}
	}
}

// WithLogger sets the factory logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMetrics records table loads and root construction.
func WithMetrics(m *observability.QueryMetrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// NewFactory creates a factory over provider. schema fills in table paths that
// carry none.
func NewFactory(provider catalog.Provider, schema string, opts ...Option) *Factory {
	f := &Factory{
		provider: provider,
		schema:   schema,
		policy:   RefuseRevisit(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.reset()
	return f
}

func (f *Factory) reset() {
	f.known = nil
	f.tables = make(map[catalog.TablePath]*Table)
	f.nodes = make(map[string]*Node)
}

// Clear drops every cached table and node. Nodes handed out earlier stay
// usable, but later calls to Graph return new identities.
func (f *Factory) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
}

// Policy returns the descent policy.
func (f *Factory) Policy() DescentPolicy { return f.policy }

// Graph returns the root node for table, given as "name" or "schema.name".
// The table and every table reachable from it through foreign keys are loaded
// on first use, so navigation afterwards needs no I/O.
func (f *Factory) Graph(ctx context.Context, table string) (*Node, error) {
	path := catalog.ParseTablePath(table)
	if path.Name == "" {
		return nil, qerr.Configuration("empty table name")
	}
	if path.Schema == "" {
		path.Schema = f.schema
	}

	f.mu.RLock()
	root, ok := f.nodes[f.rootKey(path)]
	f.mu.RUnlock()
	if ok {
		return root, nil
	}

	ctx, span := startSpan(ctx, "graph.build_root", attribute.String("db.table", path.String()))
	defer span.End()

	path, err := f.lookup(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	t, err := f.loadClosure(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	key := f.rootKey(path)
	return f.insert(key, func() *Node {
		f.metrics.RecordGraphRoot(ctx, path.String())
		f.logger.Debug("built table graph root", slog.String("table", path.String()))
		return &Node{factory: f, table: t, key: key}
	}), nil
}

// rootKey omits the default schema so node keys stay short.
func (f *Factory) rootKey(path catalog.TablePath) string {
	if path.Schema == "" || path.Schema == f.schema {
		return path.Name
	}
	return path.String()
}

// MustGraph is Graph for tests and fixtures; it panics on error.
func (f *Factory) MustGraph(ctx context.Context, table string) *Node {
	n, err := f.Graph(ctx, table)
	if err != nil {
		panic(err)
	}
	return n
}

// Table returns loaded metadata for path, loading it if needed.
func (f *Factory) Table(ctx context.Context, path catalog.TablePath) (*Table, error) {
	if path.Schema == "" {
		path.Schema = f.schema
	}
	path, err := f.lookup(ctx, path)
	if err != nil {
		return nil, err
	}
	return f.loadTable(ctx, path)
}

func (f *Factory) child(parent *Node, edge Edge) (*Node, error) {
	key := childKey(parent, edge)

	f.mu.RLock()
	n, ok := f.nodes[key]
	t := f.tables[edge.Target()]
	f.mu.RUnlock()
	if ok {
		return n, nil
	}
	if t == nil {
		// The closure load covers every key target; a miss means Clear ran
		// after the parent was handed out.
		var err error
		t, err = f.loadTable(context.Background(), edge.Target())
		if err != nil {
			return nil, err
		}
	}

	e := edge
	return f.insert(key, func() *Node {
		return &Node{factory: f, table: t, parent: parent, via: &e, key: key, depth: parent.depth + 1}
	}), nil
}

// insert publishes the node for key exactly once.
func (f *Factory) insert(key string, build func() *Node) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.nodes[key]; ok {
		return existing
	}
	n := build()
	f.nodes[key] = n
	return n
}

// lookup confirms path is in the catalog, tolerating providers that report
// tables without a schema.
func (f *Factory) lookup(ctx context.Context, path catalog.TablePath) (catalog.TablePath, error) {
	known, err := f.knownTables(ctx)
	if err != nil {
		return path, err
	}
	if _, ok := known[path]; ok {
		return path, nil
	}
	bare := catalog.TablePath{Name: path.Name}
	if _, ok := known[bare]; ok {
		return bare, nil
	}
	return path, qerr.Configuration("table %s is not in the configured catalog", path)
}

func (f *Factory) knownTables(ctx context.Context) (map[catalog.TablePath]struct{}, error) {
	f.mu.RLock()
	known := f.known
	f.mu.RUnlock()
	if known != nil {
		return known, nil
	}

	v, err, _ := f.loads.Do("\x00tables", func() (any, error) {
		f.mu.RLock()
		known := f.known
		f.mu.RUnlock()
		if known != nil {
			return known, nil
		}
		paths, err := f.provider.Tables(ctx, f.schema)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
		set := make(map[catalog.TablePath]struct{}, len(paths))
		for _, p := range paths {
			set[p] = struct{}{}
		}
		f.mu.Lock()
		f.known = set
		f.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[catalog.TablePath]struct{}), nil
}

// loadClosure loads path and every table reachable from it.
func (f *Factory) loadClosure(ctx context.Context, path catalog.TablePath) (*Table, error) {
	root, err := f.loadTable(ctx, path)
	if err != nil {
		return nil, err
	}
	seen := map[catalog.TablePath]bool{path: true}
	queue := []*Table{root}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		var targets []catalog.TablePath
		for _, fk := range t.Imported {
			targets = append(targets, fk.To)
		}
		for _, fk := range t.Exported {
			targets = append(targets, fk.From)
		}
		for _, target := range targets {
			if seen[target] {
				continue
			}
			seen[target] = true
			next, err := f.loadTable(ctx, target)
			if err != nil {
				return nil, err
			}
			queue = append(queue, next)
		}
	}
	return root, nil
}

// loadTable reads one table's metadata; concurrent loads of a path share one call.
func (f *Factory) loadTable(ctx context.Context, path catalog.TablePath) (*Table, error) {
	f.mu.RLock()
	t, ok := f.tables[path]
	f.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := f.loads.Do(path.String(), func() (any, error) {
		f.mu.RLock()
		t, ok := f.tables[path]
		f.mu.RUnlock()
		if ok {
			return t, nil
		}

		start := time.Now()
		t, err := f.readTable(ctx, path)
		f.metrics.RecordTableLoad(ctx, path.String(), time.Since(start), err)
		if err != nil {
			return nil, err
		}

		f.mu.Lock()
		f.tables[path] = t
		f.mu.Unlock()
		f.logger.Debug("loaded table metadata",
			slog.String("table", path.String()),
			slog.Int("columns", len(t.Columns)),
			slog.Int("imported_keys", len(t.Imported)),
			slog.Int("exported_keys", len(t.Exported)),
		)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

func (f *Factory) readTable(ctx context.Context, path catalog.TablePath) (*Table, error) {
	ctx, span := startSpan(ctx, "graph.load_table", attribute.String("db.table", path.String()))
	defer span.End()

	columns, err := f.provider.Columns(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get columns for %s: %w", path, err)
	}
	if len(columns) == 0 {
		err := qerr.Configuration("table %s has no visible columns", path)
		recordSpanError(span, err)
		return nil, err
	}
	pk, err := f.provider.PrimaryKey(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get primary key for %s: %w", path, err)
	}
	imported, err := f.provider.ImportedKeys(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get imported keys for %s: %w", path, err)
	}
	exported, err := f.provider.ExportedKeys(ctx, path)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get exported keys for %s: %w", path, err)
	}

	t := &Table{Path: path, Columns: columns, PrimaryKey: pk}
	for _, fk := range imported {
		if !f.usableKey(fk) {
			continue
		}
		t.Imported = append(t.Imported, foreignKeyOf(fk))
	}
	for _, fk := range exported {
		if !f.usableKey(fk) {
			continue
		}
		t.Exported = append(t.Exported, foreignKeyOf(fk))
	}
	sortKeys(t.Imported)
	sortKeys(t.Exported)
	return t, nil
}

func (f *Factory) usableKey(fk catalog.ForeignKeyConstraint) bool {
	if len(fk.ColumnNames) == 0 || len(fk.ColumnNames) != len(fk.ReferencedColumns) {
		f.logger.Warn("skipping foreign key with mismatched column mapping",
			slog.String("table", fk.Table.String()),
			slog.String("constraint", fk.ConstraintName),
			slog.Any("local_columns", fk.ColumnNames),
			slog.String("remote_table", fk.ReferencedTable.String()),
			slog.Any("remote_columns", fk.ReferencedColumns),
		)
		return false
	}
	return true
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relquery/graph")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
