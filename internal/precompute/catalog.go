// Package precompute queries materialized aggregate tables keyed by the
// administrative hierarchy instead of recomputing from raw rasters. Only a
// small fixed set of (aggregate, group-by) combinations is supported; each
// is bound to one columnar table.
package precompute

import (
	"path/filepath"

	"zonalcore/internal/faults"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
)

// Table binds one supported query shape to a materialized columnar table.
// Column names match the datasets' canonical output field names.
type Table struct {
	Name      string
	Handle    string // opaque handle; resolved by the executor to a sqlite database
	TableName string
	// Aggregates lists the datasets this table can aggregate. PixelCount is
	// always available via COUNT(*).
	Aggregates map[raster.Dataset]struct{}
	// GroupBys lists the datasets this table can group by.
	GroupBys map[raster.Dataset]struct{}
	// Filters lists datasets usable only as filters (group-bys always are).
	Filters map[raster.Dataset]struct{}
}

func (t Table) supportsAggregate(d raster.Dataset) bool {
	if d == raster.PixelCount {
		return true
	}
	_, ok := t.Aggregates[d]
	return ok
}

func (t Table) supportsFilter(d raster.Dataset) bool {
	if _, ok := t.Filters[d]; ok {
		return true
	}
	_, ok := t.GroupBys[d]
	return ok
}

// Catalog holds the fixed set of precompute tables.
type Catalog struct {
	tables []Table
}

// NewCatalog constructs a catalog from tables, matched in order.
func NewCatalog(tables ...Table) *Catalog {
	return &Catalog{tables: tables}
}

// Match returns the first table supporting the query, or an
// unsupported-query error that callers recover from by falling through the
// dispatch chain.
func (c *Catalog) Match(q query.DatasetQuery) (Table, error) {
	for _, t := range c.tables {
		if c.matches(t, q) {
			return t, nil
		}
	}
	return Table{}, faults.New(faults.KindUnsupportedQuery, "no precomputed table supports the query")
}

func (c *Catalog) matches(t Table, q query.DatasetQuery) bool {
	for _, d := range q.Aggregates {
		if !t.supportsAggregate(d) {
			return false
		}
	}
	for _, d := range q.GroupBys {
		if _, ok := t.GroupBys[d]; !ok {
			return false
		}
	}
	for _, f := range q.Filters {
		if !t.supportsFilter(f.Dataset) {
			return false
		}
	}
	return true
}

func set(ds ...raster.Dataset) map[raster.Dataset]struct{} {
	out := make(map[raster.Dataset]struct{}, len(ds))
	for _, d := range ds {
		out[d] = struct{}{}
	}
	return out
}

// DefaultCatalog binds the standard combinations under a database root
// directory: tree-cover-loss change, natural-lands cover, and
// disturbance-driver alerts.
func DefaultCatalog(root string) *Catalog {
	return NewCatalog(
		Table{
			Name:       "tree_cover_loss",
			Handle:     filepath.Join(root, "tree_cover_loss.db"),
			TableName:  "tree_cover_loss",
			Aggregates: set(raster.AreaHectares, raster.CarbonEmissions),
			GroupBys:   set(raster.TreeCoverLoss, raster.TreeCoverGain),
			Filters:    set(raster.CanopyCover),
		},
		Table{
			Name:       "natural_lands",
			Handle:     filepath.Join(root, "natural_lands.db"),
			TableName:  "natural_lands",
			Aggregates: set(raster.AreaHectares),
			GroupBys:   set(raster.NaturalLands),
		},
		Table{
			Name:       "disturbance",
			Handle:     filepath.Join(root, "disturbance.db"),
			TableName:  "disturbance",
			Aggregates: set(raster.AreaHectares),
			GroupBys:   set(raster.DisturbanceDriver, raster.TreeCoverLoss),
		},
	)
}
