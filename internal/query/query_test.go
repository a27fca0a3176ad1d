package query

import (
	"testing"

	"zonalcore/internal/faults"
	"zonalcore/internal/raster"
)

func TestValidateAcceptsTypicalQuery(t *testing.T) {
	reg := raster.DefaultRegistry("rasters")
	q := DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares, raster.PixelCount},
		GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		Filters:    []Filter{{Dataset: raster.CanopyCover, Op: OpGe, Value: 30}},
	}
	if err := q.Validate(reg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	reg := raster.DefaultRegistry("rasters")
	cases := []struct {
		name string
		q    DatasetQuery
	}{
		{name: "no aggregates", q: DatasetQuery{}},
		{name: "categorical aggregate", q: DatasetQuery{Aggregates: []raster.Dataset{raster.TreeCoverLoss}}},
		{name: "continuous group-by", q: DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			GroupBys:   []raster.Dataset{raster.AreaHectares},
		}},
		{name: "unknown dataset", q: DatasetQuery{Aggregates: []raster.Dataset{"nope"}}},
		{name: "bad operator", q: DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			Filters:    []Filter{{Dataset: raster.CanopyCover, Op: "~", Value: 1}},
		}},
	}
	for _, tc := range cases {
		if err := tc.q.Validate(reg); !faults.IsKind(err, faults.KindValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestFiltersFor(t *testing.T) {
	q := DatasetQuery{Filters: []Filter{
		{Dataset: raster.CanopyCover, Op: OpGe, Value: 30},
		{Dataset: raster.TreeCoverLoss, Op: OpEq, Value: 2020},
		{Dataset: raster.CanopyCover, Op: OpLt, Value: 75},
	}}
	got := q.FiltersFor(raster.CanopyCover)
	if len(got) != 2 {
		t.Fatalf("filters = %v", got)
	}
	if q.HasGroupBy(raster.TreeCoverLoss) {
		t.Fatalf("filter-only dataset reported as group-by")
	}
}
