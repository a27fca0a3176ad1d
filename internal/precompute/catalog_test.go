package precompute

import (
	"testing"

	"zonalcore/internal/faults"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
)

func TestCatalogMatchFirstSupporting(t *testing.T) {
	cat := DefaultCatalog("precompute")
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		GroupBys:   []raster.Dataset{raster.TreeCoverLoss},
		Filters:    []query.Filter{{Dataset: raster.CanopyCover, Op: query.OpGe, Value: 30}},
	}
	tbl, err := cat.Match(q)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if tbl.Name != "tree_cover_loss" {
		t.Fatalf("matched %q", tbl.Name)
	}
}

func TestCatalogPixelCountAlwaysAggregatable(t *testing.T) {
	cat := DefaultCatalog("precompute")
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.PixelCount},
		GroupBys:   []raster.Dataset{raster.NaturalLands},
	}
	tbl, err := cat.Match(q)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if tbl.Name != "natural_lands" {
		t.Fatalf("matched %q", tbl.Name)
	}
}

func TestCatalogUnsupportedCombination(t *testing.T) {
	cat := DefaultCatalog("precompute")
	// Carbon grouped by natural-lands class is materialized nowhere.
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.CarbonEmissions},
		GroupBys:   []raster.Dataset{raster.NaturalLands},
	}
	if _, err := cat.Match(q); !faults.IsUnsupportedQuery(err) {
		t.Fatalf("expected unsupported-query, got %v", err)
	}
}

func TestCatalogRejectsUnknownFilterDataset(t *testing.T) {
	cat := DefaultCatalog("precompute")
	q := query.DatasetQuery{
		Aggregates: []raster.Dataset{raster.AreaHectares},
		GroupBys:   []raster.Dataset{raster.NaturalLands},
		Filters:    []query.Filter{{Dataset: raster.CanopyCover, Op: query.OpGe, Value: 30}},
	}
	if _, err := cat.Match(q); !faults.IsUnsupportedQuery(err) {
		t.Fatalf("expected unsupported-query, got %v", err)
	}
}
