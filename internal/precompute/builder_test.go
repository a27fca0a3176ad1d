package precompute

import (
	"reflect"
	"testing"

	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
)

func mustAdmin(t *testing.T, id string) geo.AdminUnit {
	t.Helper()
	adm, err := geo.ParseAdminID(id)
	if err != nil {
		t.Fatalf("parse %q: %v", id, err)
	}
	return adm
}

func TestBuildCountryLevel(t *testing.T) {
	reg := raster.DefaultRegistry("rasters")
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
	}
	stmt, args, err := Build(Table{TableName: "tree_cover_loss"}, mustAdmin(t, "BRA"), q, reg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "SELECT country, tree_cover_loss__year, SUM(area__ha) AS area__ha " +
		"FROM tree_cover_loss WHERE country = ? " +
		"GROUP BY country, tree_cover_loss__year ORDER BY country, tree_cover_loss__year"
	if stmt != want {
		t.Fatalf("stmt = %q\nwant %q", stmt, want)
	}
	if !reflect.DeepEqual(args, []any{"BRA"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestBuildSubregionLevelAddsHierarchyColumns(t *testing.T) {
	reg := raster.DefaultRegistry("rasters")
	q := query.DatasetQuery{Aggregates: []raster.Dataset{raster.PixelCount}}
	stmt, args, err := Build(Table{TableName: "tree_cover_loss"}, mustAdmin(t, "IDN.24.9"), q, reg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "SELECT country, region, subregion, COUNT(*) AS pixel__count " +
		"FROM tree_cover_loss WHERE country = ? AND region = ? AND subregion = ? " +
		"GROUP BY country, region, subregion ORDER BY country, region, subregion"
	if stmt != want {
		t.Fatalf("stmt = %q\nwant %q", stmt, want)
	}
	if !reflect.DeepEqual(args, []any{"IDN", 24, 9}) {
		t.Fatalf("args = %v", args)
	}
}

func TestBuildFilterClauses(t *testing.T) {
	reg := raster.DefaultRegistry("rasters")
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		Filters: []query.Filter{
			{Dataset: raster.CanopyCover, Op: query.OpGe, Value: 30},
			{Dataset: raster.TreeCoverLoss, Op: query.OpIn, Value: []any{2020, 2021}},
		},
	}
	stmt, args, err := Build(Table{TableName: "tree_cover_loss"}, mustAdmin(t, "BRA"), q, reg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := "SELECT country, SUM(area__ha) AS area__ha FROM tree_cover_loss " +
		"WHERE country = ? AND canopy_cover__threshold >= ? AND tree_cover_loss__year IN (?, ?) " +
		"GROUP BY country ORDER BY country"
	if stmt != want {
		t.Fatalf("stmt = %q\nwant %q", stmt, want)
	}
	if !reflect.DeepEqual(args, []any{"BRA", 30, 2020, 2021}) {
		t.Fatalf("args = %v", args)
	}
}

func TestBuildRejectsEmptyInList(t *testing.T) {
	reg := raster.DefaultRegistry("rasters")
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		Filters:    []query.Filter{{Dataset: raster.CanopyCover, Op: query.OpIn, Value: []any{}}},
	}
	if _, _, err := Build(Table{TableName: "t"}, mustAdmin(t, "BRA"), q, reg); err == nil {
		t.Fatalf("expected error for empty 'in' list")
	}
}
