package selector

import (
	"context"
	"errors"
	"maps"
	"slices"

	"relquery/internal/graph"
	"relquery/internal/qerr"
)

// Verify checks every tracked (id, column) against the factory's catalog and
// reports each id whose table is gone and each column that no longer exists,
// joined into one error. It does not stop at the first problem.
func (r *Repository) Verify(ctx context.Context, factory *graph.Factory) error {
	r.mu.Lock()
	snapshot := make(map[string]Usage, len(r.state))
	for id, u := range r.state {
		snapshot[id] = u.clone()
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range slices.Sorted(maps.Keys(snapshot)) {
		u := snapshot[id]
		node, err := factory.Graph(ctx, u.Table.String())
		if err != nil {
			errs = append(errs, qerr.Wrap(qerr.ErrNotFound, err, "query %q: table %s", id, u.Table))
			continue
		}
		for _, c := range u.Columns {
			if _, err := node.Column(c); err != nil {
				errs = append(errs, qerr.NotFound("query %q: column %s.%s no longer exists", id, u.Table, c))
			}
		}
	}
	return errors.Join(errs...)
}
