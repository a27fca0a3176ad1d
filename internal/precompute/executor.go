package precompute

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
	"zonalcore/pkg/results"
)

// Executor runs built queries against precompute tables. Database handles
// are opened lazily, once per table handle, and reused across queries;
// session setup is the executor's responsibility, not the builder's.
type Executor struct {
	reg *raster.Registry

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewExecutor constructs an executor resolving field names via reg.
func NewExecutor(reg *raster.Registry) *Executor {
	return &Executor{reg: reg, dbs: make(map[string]*sql.DB)}
}

func (e *Executor) db(handle string) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.dbs[handle]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite", handle)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "open precompute table %s", handle)
	}
	e.dbs[handle] = db
	return db, nil
}

// Query builds and runs the query, returning a column-oriented table. The
// column order is hierarchy levels, group-by fields, then aggregate fields.
func (e *Executor) Query(ctx context.Context, t Table, adm geo.AdminUnit, q query.DatasetQuery) (*results.Table, error) {
	stmt, args, err := Build(t, adm, q, e.reg)
	if err != nil {
		return nil, err
	}
	db, err := e.db(t.Handle)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "query precompute table %s", t.Name)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "columns for precompute table %s", t.Name)
	}
	out := results.New(cols...)
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, faults.Wrap(faults.KindUpstream, err, "scan precompute row")
		}
		row := make(map[string]any, len(cols))
		for i, name := range cols {
			row[name] = normalizeValue(raw[i])
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "iterate precompute rows")
	}
	return out, nil
}

// Close releases all cached database handles.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for handle, db := range e.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(e.dbs, handle)
	}
	return first
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
