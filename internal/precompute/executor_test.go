package precompute

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"zonalcore/internal/query"
	"zonalcore/internal/raster"
)

func seedLossTable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree_cover_loss.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	stmts := []string{
		`CREATE TABLE tree_cover_loss (
			country TEXT NOT NULL,
			region INTEGER NOT NULL,
			subregion INTEGER NOT NULL,
			tree_cover_loss__year INTEGER NOT NULL,
			canopy_cover__threshold INTEGER NOT NULL,
			area__ha REAL NOT NULL
		)`,
		`INSERT INTO tree_cover_loss VALUES
			('BRA', 1, 1, 2020, 30, 10.0),
			('BRA', 1, 2, 2020, 30, 5.0),
			('BRA', 1, 1, 2021, 30, 2.5),
			('BRA', 1, 1, 2020, 10, 100.0),
			('IDN', 1, 1, 2020, 30, 99.0)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}
	return path
}

func TestExecutorQueryAggregates(t *testing.T) {
	handle := seedLossTable(t)
	reg := raster.DefaultRegistry("rasters")
	exec := NewExecutor(reg)
	defer func() { _ = exec.Close() }()

	tbl := Table{Name: "tree_cover_loss", Handle: handle, TableName: "tree_cover_loss"}
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		Filters:    []query.Filter{{Dataset: raster.CanopyCover, Op: query.OpEq, Value: 30}},
	}
	out, err := exec.Query(context.Background(), tbl, mustAdmin(t, "BRA"), q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("rows = %d, want 2", out.Len())
	}
	r0 := out.Row(0)
	if r0["country"] != "BRA" {
		t.Fatalf("country = %v", r0["country"])
	}
	if r0["tree_cover_loss__year"] != int64(2020) {
		t.Fatalf("year = %v (%T)", r0["tree_cover_loss__year"], r0["tree_cover_loss__year"])
	}
	// Both BRA subregions at threshold 30 collapse into one 2020 row.
	if r0["area__ha"] != 15.0 {
		t.Fatalf("area = %v", r0["area__ha"])
	}
	if out.Row(1)["area__ha"] != 2.5 {
		t.Fatalf("2021 area = %v", out.Row(1)["area__ha"])
	}
}

func TestExecutorQuerySubregionScope(t *testing.T) {
	handle := seedLossTable(t)
	reg := raster.DefaultRegistry("rasters")
	exec := NewExecutor(reg)
	defer func() { _ = exec.Close() }()

	tbl := Table{Name: "tree_cover_loss", Handle: handle, TableName: "tree_cover_loss"}
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		Filters:    []query.Filter{{Dataset: raster.CanopyCover, Op: query.OpEq, Value: 30}},
	}
	out, err := exec.Query(context.Background(), tbl, mustAdmin(t, "BRA.1.2"), q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if out.Len() != 1 {
		t.Fatalf("rows = %d, want 1", out.Len())
	}
	if out.Row(0)["area__ha"] != 5.0 {
		t.Fatalf("area = %v", out.Row(0)["area__ha"])
	}
}
