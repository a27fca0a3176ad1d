package raster

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// EagerMaskThreshold is the window pixel count above which clipping switches
// from a single eager mask to block-at-a-time streaming. Above the threshold
// memory stays bounded by one chunk row regardless of AOI or raster extent.
const EagerMaskThreshold = 1 << 22

// Clip reads the window covering geom and masks it to the exact geometry.
// Pixels outside the polygon become the store's no-data marker. Intended for
// small windows; large extents should stream via ClipBlocks.
func Clip(ctx context.Context, store *ChunkedStore, geom orb.Geometry) (*Grid, error) {
	window := store.WindowFor(geom.Bound())
	g, err := store.ReadWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	maskGeometry(g, geom)
	return g, nil
}

// ClipBlocks streams windows of the store covering geom to fn, each paired
// with a geometry-membership mask. The values grid carries the store's raw
// pixels; the mask marks pixels whose centers fall inside geom and is
// independent of any no-data holes in the values, so co-aligned layers with
// data at those pixels still see them. Small windows arrive as one block;
// larger ones arrive chunk-row by chunk-row so peak memory is independent of
// the window size.
func ClipBlocks(ctx context.Context, store *ChunkedStore, geom orb.Geometry, fn func(values, mask *Grid) error) error {
	window := store.WindowFor(geom.Bound())
	if window.Empty() {
		return nil
	}
	if window.Pixels() <= EagerMaskThreshold {
		g, err := store.ReadWindow(ctx, window)
		if err != nil {
			return err
		}
		return fn(g, geometryMask(g, geom))
	}
	rowsPerBlock := store.Meta().ChunkHeight
	for row := window.Row; row < window.Row+window.Height; row += rowsPerBlock {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := rowsPerBlock
		if row+h > window.Row+window.Height {
			h = window.Row + window.Height - row
		}
		block, err := store.ReadWindow(ctx, Window{Row: row, Col: window.Col, Height: h, Width: window.Width})
		if err != nil {
			return err
		}
		if err := fn(block, geometryMask(block, geom)); err != nil {
			return err
		}
	}
	return nil
}

// geometryMask builds a grid on g's layout marking pixels whose centers fall
// inside geom with 1 and all others with the no-data marker.
func geometryMask(g *Grid, geom orb.Geometry) *Grid {
	m := NewGrid(g.Transform, g.Width, g.Height, math.NaN())
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			x, y := g.Transform.CellCenter(row, col)
			if containsPoint(geom, orb.Point{x, y}) {
				m.Set(row, col, 1)
			}
		}
	}
	return m
}

// maskGeometry replaces pixels whose centers fall outside geom with the
// grid's no-data marker. Pixels already missing are left untouched.
func maskGeometry(g *Grid, geom orb.Geometry) {
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			v := g.At(row, col)
			if g.IsNoData(v) {
				continue
			}
			x, y := g.Transform.CellCenter(row, col)
			if !containsPoint(geom, orb.Point{x, y}) {
				g.Set(row, col, g.NoData)
			}
		}
	}
}

func containsPoint(geom orb.Geometry, p orb.Point) bool {
	switch s := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(s, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(s, p)
	default:
		return false
	}
}
