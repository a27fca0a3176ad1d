// Package zonal implements the grouped raster reduction: a single pass over
// co-aligned layers accumulating sums or counts into a sparse map keyed by
// the group-by layers' pixel codes.
package zonal

import (
	"encoding/binary"
	"fmt"
	"sort"

	"zonalcore/internal/faults"
	"zonalcore/internal/raster"
	"zonalcore/pkg/results"
)

// AggFunc selects the accumulation function for an aggregate column.
type AggFunc string

const (
	FuncSum   AggFunc = "sum"
	FuncCount AggFunc = "count"
)

// GroupBy configures one categorical key dimension. Unpack translates pixel
// codes back to domain labels after accumulation, never inside the hot loop.
type GroupBy struct {
	Field  string
	Domain []int32 // expected discrete domain; restricts candidate keys
	Unpack func(int32) (any, error)
}

// Aggregate configures one output value column.
type Aggregate struct {
	Field string
	Func  AggFunc
}

type bucket struct {
	codes   []int32
	vals    []float64
	present []bool
}

// Reducer accumulates pixel contributions across one or more Accumulate
// calls (one per streamed block) and emits the sparse result table.
type Reducer struct {
	groupBys []GroupBy
	domains  []map[int32]struct{}
	aggs     []Aggregate
	buckets  map[string]*bucket
	scratch  []byte
}

// NewReducer constructs a reducer for the given key dimensions and columns.
func NewReducer(groupBys []GroupBy, aggs []Aggregate) *Reducer {
	r := &Reducer{
		groupBys: groupBys,
		domains:  make([]map[int32]struct{}, len(groupBys)),
		aggs:     aggs,
		buckets:  make(map[string]*bucket),
		scratch:  make([]byte, 4*len(groupBys)),
	}
	for i, g := range groupBys {
		if len(g.Domain) == 0 {
			continue
		}
		set := make(map[int32]struct{}, len(g.Domain))
		for _, code := range g.Domain {
			set[code] = struct{}{}
		}
		r.domains[i] = set
	}
	return r
}

// Accumulate folds one block into the reducer. The mask defines which pixels
// belong to the AOI; groups carries one aligned grid per GroupBy and values
// one per Aggregate (nil for pure pixel counts). All grids must share the
// mask's dimensions.
func (r *Reducer) Accumulate(mask *raster.Grid, groups []*raster.Grid, values []*raster.Grid) error {
	if len(groups) != len(r.groupBys) {
		return fmt.Errorf("zonal: %d group grids for %d group-bys", len(groups), len(r.groupBys))
	}
	if len(values) != len(r.aggs) {
		return fmt.Errorf("zonal: %d value grids for %d aggregates", len(values), len(r.aggs))
	}
	for i, g := range groups {
		if g.Width != mask.Width || g.Height != mask.Height {
			return fmt.Errorf("zonal: group grid %d is %dx%d, mask is %dx%d", i, g.Width, g.Height, mask.Width, mask.Height)
		}
	}
	for i, v := range values {
		if v != nil && (v.Width != mask.Width || v.Height != mask.Height) {
			return fmt.Errorf("zonal: value grid %d is %dx%d, mask is %dx%d", i, v.Width, v.Height, mask.Width, mask.Height)
		}
	}

	n := mask.Width * mask.Height
pixels:
	for idx := 0; idx < n; idx++ {
		if mask.IsNoData(mask.Data[idx]) {
			continue
		}
		for gi, g := range groups {
			v := g.Data[idx]
			if g.IsNoData(v) {
				continue pixels
			}
			code := int32(v)
			if dom := r.domains[gi]; dom != nil {
				if _, ok := dom[code]; !ok {
					continue pixels
				}
			}
			binary.LittleEndian.PutUint32(r.scratch[gi*4:], uint32(code))
		}
		key := string(r.scratch)
		b, ok := r.buckets[key]
		if !ok {
			codes := make([]int32, len(groups))
			for gi, g := range groups {
				codes[gi] = int32(g.Data[idx])
			}
			b = &bucket{codes: codes, vals: make([]float64, len(r.aggs)), present: make([]bool, len(r.aggs))}
			r.buckets[key] = b
		}
		for ai := range r.aggs {
			grid := values[ai]
			switch r.aggs[ai].Func {
			case FuncCount:
				if grid != nil && grid.IsNoData(grid.Data[idx]) {
					continue
				}
				b.vals[ai]++
				b.present[ai] = true
			default: // FuncSum
				if grid == nil {
					continue
				}
				v := grid.Data[idx]
				if grid.IsNoData(v) {
					continue
				}
				b.vals[ai] += v
				b.present[ai] = true
			}
		}
	}
	return nil
}

// Table emits one row per key with at least one present aggregate column.
// Absent columns within a kept row fill as zero (union of sparsity); keys
// with no present column at all are dropped. Codes translate to labels here,
// after accumulation. Rows sort by group columns for determinism.
func (r *Reducer) Table() (*results.Table, error) {
	names := make([]string, 0, len(r.groupBys)+len(r.aggs))
	for _, g := range r.groupBys {
		names = append(names, g.Field)
	}
	for _, a := range r.aggs {
		names = append(names, a.Field)
	}
	out := results.New(names...)

	keys := make([]string, 0, len(r.buckets))
	for key, b := range r.buckets {
		any := false
		for _, p := range b.present {
			if p {
				any = true
				break
			}
		}
		if any {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareCodes(r.buckets[keys[i]].codes, r.buckets[keys[j]].codes) < 0
	})

	for _, key := range keys {
		b := r.buckets[key]
		row := make(map[string]any, len(names))
		for gi, g := range r.groupBys {
			if g.Unpack == nil {
				row[g.Field] = int(b.codes[gi])
				continue
			}
			label, err := g.Unpack(b.codes[gi])
			if err != nil {
				return nil, faults.Wrap(faults.KindDomain, err, "unpack %s code %d", g.Field, b.codes[gi])
			}
			row[g.Field] = label
		}
		for ai, a := range r.aggs {
			if a.Func == FuncCount {
				row[a.Field] = int64(b.vals[ai])
			} else {
				row[a.Field] = b.vals[ai]
			}
		}
		if err := out.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func compareCodes(a, b []int32) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
