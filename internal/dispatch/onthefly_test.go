package dispatch

import (
	"context"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"zonalcore/internal/blob"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
)

var testTransform = raster.Transform{OriginX: 0, OriginY: 8, CellX: 1, CellY: -1}

func writeLayer(t *testing.T, blobs blob.Store, handle string, fill func(row, col int) float64) {
	t.Helper()
	g := raster.NewGrid(testTransform, 8, 8, math.NaN())
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			g.Set(row, col, fill(row, col))
		}
	}
	if err := raster.Create(context.Background(), blobs, handle, g, 4, 4); err != nil {
		t.Fatalf("create %s: %v", handle, err)
	}
}

// pixelPolygon covers pixel rows r0..r1 and cols c0..c1 inclusive.
func pixelPolygon(r0, c0, r1, c1 int) orb.Polygon {
	x0, y0 := float64(c0), testTransform.OriginY-float64(r0)
	x1, y1 := float64(c1+1), testTransform.OriginY-float64(r1+1)
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

// testFixture writes the default layers: loss year 2001 in the top half,
// 2002 in the bottom half; area 1.5 everywhere; canopy threshold 30 on even
// columns and 10 on odd.
func testFixture(t *testing.T) blob.Store {
	t.Helper()
	blobs := blob.NewMemory()
	writeLayer(t, blobs, "rasters/tree_cover_loss", func(row, col int) float64 {
		if row < 4 {
			return 1
		}
		return 2
	})
	writeLayer(t, blobs, "rasters/area", func(row, col int) float64 { return 1.5 })
	writeLayer(t, blobs, "rasters/canopy_cover", func(row, col int) float64 {
		if col%2 == 0 {
			return 30
		}
		return 10
	})
	return blobs
}

func newOnTheFly(blobs blob.Store, provider geo.GeometryProvider) *OnTheFlyHandler {
	return NewOnTheFly(geo.NewResolver(provider), blobs, raster.DefaultRegistry("rasters"), OnTheFlyOptions{Workers: 2})
}

func TestOnTheFlyGroupedSum(t *testing.T) {
	blobs := testFixture(t)
	h := newOnTheFly(blobs, nil)

	req := Request{
		AOI: geo.InlineGeometry{ID: "plot", Geometry: pixelPolygon(2, 2, 5, 5)},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		},
	}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	cols := out.Columns()
	if cols[0] != "aoi_id" || cols[1] != "aoi_type" {
		t.Fatalf("columns = %v", cols)
	}
	if out.Len() != 2 {
		t.Fatalf("rows = %d, want 2", out.Len())
	}
	r0 := out.Row(0)
	if r0["aoi_id"] != "plot" || r0["aoi_type"] != "geometry" {
		t.Fatalf("aoi columns = %v", r0)
	}
	// 8 pixels per year inside the window, 1.5 area each.
	if r0["tree_cover_loss__year"] != 2001 || r0["area__ha"] != 12.0 {
		t.Fatalf("row 0 = %v", r0)
	}
	r1 := out.Row(1)
	if r1["tree_cover_loss__year"] != 2002 || r1["area__ha"] != 12.0 {
		t.Fatalf("row 1 = %v", r1)
	}
}

func TestOnTheFlyFilterMasksPixels(t *testing.T) {
	blobs := testFixture(t)
	h := newOnTheFly(blobs, nil)

	req := Request{
		AOI: geo.InlineGeometry{ID: "plot", Geometry: pixelPolygon(0, 0, 3, 3)},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
			Filters:    []query.Filter{{Dataset: raster.CanopyCover, Op: query.OpGe, Value: 30}},
		},
	}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("rows = %d, want 1", out.Len())
	}
	// Only the 8 even-column pixels of the 4x4 window pass the filter.
	if got := out.Row(0)["area__ha"]; got != 12.0 {
		t.Fatalf("area = %v, want 12", got)
	}
}

func TestOnTheFlyFilterOnGroupByNarrowsDomain(t *testing.T) {
	blobs := testFixture(t)
	h := newOnTheFly(blobs, nil)

	req := Request{
		AOI: geo.InlineGeometry{ID: "plot", Geometry: pixelPolygon(2, 2, 5, 5)},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
			Filters:    []query.Filter{{Dataset: raster.TreeCoverLoss, Op: query.OpEq, Value: 2002}},
		},
	}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("rows = %d, want 1", out.Len())
	}
	if got := out.Row(0)["tree_cover_loss__year"]; got != 2002 {
		t.Fatalf("year = %v", got)
	}
}

func TestOnTheFlyPixelCountWithoutValueLayer(t *testing.T) {
	blobs := testFixture(t)
	h := newOnTheFly(blobs, nil)

	req := Request{
		AOI: geo.InlineGeometry{ID: "plot", Geometry: pixelPolygon(0, 0, 1, 1)},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.PixelCount},
			GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		},
	}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("rows = %d", out.Len())
	}
	if got := out.Row(0)["pixel__count"]; got != int64(4) {
		t.Fatalf("count = %v (%T)", got, got)
	}
}

func TestOnTheFlyAggregateHoleKeepsOtherAggregates(t *testing.T) {
	blobs := blob.NewMemory()
	writeLayer(t, blobs, "rasters/area", func(row, col int) float64 {
		if row == 0 && col == 0 {
			return math.NaN()
		}
		return 1.5
	})
	writeLayer(t, blobs, "rasters/carbon_emissions", func(row, col int) float64 { return 7.0 })
	h := newOnTheFly(blobs, nil)

	req := Request{
		AOI: geo.InlineGeometry{ID: "plot", Geometry: pixelPolygon(0, 0, 1, 1)},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares, raster.CarbonEmissions},
		},
	}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("rows = %d, want 1", out.Len())
	}
	row := out.Row(0)
	// Sparsity is unioned per pixel: the hole in the area layer keeps the
	// carbon contribution at that pixel.
	if row["carbon_emissions__Mg"] != 28.0 {
		t.Fatalf("carbon = %v, want 28", row["carbon_emissions__Mg"])
	}
	if row["area__ha"] != 4.5 {
		t.Fatalf("area = %v, want 4.5", row["area__ha"])
	}
}

func TestOnTheFlyFeatureCollectionConcatOrder(t *testing.T) {
	blobs := testFixture(t)
	h := newOnTheFly(blobs, nil)

	req := Request{
		AOI: geo.FeatureCollection{Features: []geo.Feature{
			{ID: "south", Geometry: pixelPolygon(6, 0, 7, 7)},
			{ID: "north", Geometry: pixelPolygon(0, 0, 1, 7)},
		}},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		},
	}
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("rows = %d, want 2", out.Len())
	}
	if out.Row(0)["aoi_id"] != "south" || out.Row(1)["aoi_id"] != "north" {
		t.Fatalf("aoi order = %v, %v", out.Row(0)["aoi_id"], out.Row(1)["aoi_id"])
	}
	if out.Row(0)["tree_cover_loss__year"] != 2002 || out.Row(1)["tree_cover_loss__year"] != 2001 {
		t.Fatalf("years = %v, %v", out.Row(0)["tree_cover_loss__year"], out.Row(1)["tree_cover_loss__year"])
	}
}

func TestOnTheFlyMissingGeometryFailsWholeRequest(t *testing.T) {
	blobs := testFixture(t)
	provider := &geo.StaticProvider{Geometries: map[geo.Kind]map[string]orb.Geometry{
		geo.KindNamedArea: {"known": pixelPolygon(0, 0, 1, 1)},
	}}
	h := newOnTheFly(blobs, provider)

	req := Request{
		AOI: geo.NamedArea{AreaKind: geo.AreaProtected, IDs: []string{"known", "unknown"}},
		Query: query.DatasetQuery{
			Aggregates: []raster.Dataset{raster.AreaHectares},
			GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		},
	}
	if _, err := h.Handle(context.Background(), req); err == nil {
		t.Fatalf("expected failure for unresolvable id")
	}
}
