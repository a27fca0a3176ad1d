// Package query models the fixed family of zonal statistics queries:
// filter by raster predicates, group by categorical raster layers, and
// aggregate one or more numeric layers.
package query

import (
	"zonalcore/internal/faults"
	"zonalcore/internal/raster"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
	OpIn Op = "in"
)

// Filter restricts pixels (or precompute rows) by a dataset predicate.
type Filter struct {
	Dataset raster.Dataset `json:"dataset"`
	Op      Op             `json:"op"`
	Value   any            `json:"value"`
}

// DatasetQuery describes one zonal statistics request.
type DatasetQuery struct {
	Aggregates []raster.Dataset `json:"aggregates"`
	GroupBys   []raster.Dataset `json:"group_bys,omitempty"`
	Filters    []Filter         `json:"filters,omitempty"`
}

// HasGroupBy reports whether d appears in the group-by list.
func (q DatasetQuery) HasGroupBy(d raster.Dataset) bool {
	for _, g := range q.GroupBys {
		if g == d {
			return true
		}
	}
	return false
}

// FiltersFor returns the filters referencing d.
func (q DatasetQuery) FiltersFor(d raster.Dataset) []Filter {
	var out []Filter
	for _, f := range q.Filters {
		if f.Dataset == d {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the query against the dataset registry: aggregates must be
// continuous layers (or the virtual pixel count), group-bys must be
// categorical, and every referenced dataset must exist.
func (q DatasetQuery) Validate(reg *raster.Registry) error {
	if len(q.Aggregates) == 0 {
		return faults.New(faults.KindValidation, "query requires at least one aggregate dataset")
	}
	for _, d := range q.Aggregates {
		desc, err := reg.MustLookup(d)
		if err != nil {
			return err
		}
		if desc.Codec != nil {
			return faults.New(faults.KindValidation, "dataset %q is categorical and cannot be aggregated", d)
		}
	}
	for _, d := range q.GroupBys {
		desc, err := reg.MustLookup(d)
		if err != nil {
			return err
		}
		if desc.Codec == nil {
			return faults.New(faults.KindValidation, "dataset %q is continuous and cannot group", d)
		}
	}
	for _, f := range q.Filters {
		if _, err := reg.MustLookup(f.Dataset); err != nil {
			return err
		}
		switch f.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn:
		default:
			return faults.New(faults.KindValidation, "unknown filter operator %q", f.Op)
		}
	}
	return nil
}
