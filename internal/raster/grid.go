package raster

import (
	"math"

	"github.com/paulmach/orb"
)

// snapTol, in cell units, absorbs floating-point coordinate jitter between
// independently produced raster stores. It exists for numeric robustness
// only; it never approximates geometry.
const snapTol = 1e-6

// Transform is the affine mapping from pixel indices to geographic
// coordinates for a north-up grid: OriginX/OriginY is the top-left corner,
// CellY is negative.
type Transform struct {
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	CellX   float64 `json:"cell_x"`
	CellY   float64 `json:"cell_y"`
}

// CellCenter returns the geographic center of pixel (row, col).
func (t Transform) CellCenter(row, col int) (x, y float64) {
	return t.OriginX + (float64(col)+0.5)*t.CellX, t.OriginY + (float64(row)+0.5)*t.CellY
}

// Index maps a coordinate to the containing pixel, snapping within tolerance.
func (t Transform) Index(x, y float64) (row, col int) {
	col = int(math.Floor((x-t.OriginX)/t.CellX + snapTol))
	row = int(math.Floor((y-t.OriginY)/t.CellY + snapTol))
	return
}

// Shift returns the transform of a sub-window starting at (row, col).
func (t Transform) Shift(row, col int) Transform {
	return Transform{
		OriginX: t.OriginX + float64(col)*t.CellX,
		OriginY: t.OriginY + float64(row)*t.CellY,
		CellX:   t.CellX,
		CellY:   t.CellY,
	}
}

// ApproxEqual reports whether two transforms coincide within the snap
// tolerance (scaled by cell size).
func (t Transform) ApproxEqual(o Transform) bool {
	tol := math.Abs(t.CellX) * snapTol
	return math.Abs(t.OriginX-o.OriginX) <= tol &&
		math.Abs(t.OriginY-o.OriginY) <= tol &&
		math.Abs(t.CellX-o.CellX) <= tol &&
		math.Abs(t.CellY-o.CellY) <= tol
}

// Grid is a labeled 2-D numeric array in row-major order.
type Grid struct {
	Transform Transform
	Width     int
	Height    int
	NoData    float64 // NaN by default
	Data      []float64
}

// NewGrid allocates a grid filled with the no-data marker.
func NewGrid(t Transform, width, height int, noData float64) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = noData
	}
	return &Grid{Transform: t, Width: width, Height: height, NoData: noData, Data: data}
}

// At returns the value at (row, col).
func (g *Grid) At(row, col int) float64 { return g.Data[row*g.Width+col] }

// Set writes the value at (row, col).
func (g *Grid) Set(row, col int, v float64) { g.Data[row*g.Width+col] = v }

// IsNoData reports whether v is the grid's missing marker.
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(g.NoData) {
		return math.IsNaN(v)
	}
	return v == g.NoData
}

// Bound returns the geographic extent of the grid.
func (g *Grid) Bound() orb.Bound {
	t := g.Transform
	x0 := t.OriginX
	y0 := t.OriginY
	x1 := t.OriginX + float64(g.Width)*t.CellX
	y1 := t.OriginY + float64(g.Height)*t.CellY
	return orb.Bound{
		Min: orb.Point{math.Min(x0, x1), math.Min(y0, y1)},
		Max: orb.Point{math.Max(x0, x1), math.Max(y0, y1)},
	}
}

// Resample snaps src onto the reference grid (ref transform, w×h) using
// nearest-neighbor lookup. Grids already on the reference return a view of
// themselves. Cells falling outside src become no-data.
func Resample(src *Grid, ref Transform, w, h int) *Grid {
	if src.Transform.ApproxEqual(ref) && src.Width == w && src.Height == h {
		return src
	}
	out := NewGrid(ref, w, h, src.NoData)
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			x, y := ref.CellCenter(row, col)
			sRow, sCol := src.Transform.Index(x, y)
			if sRow < 0 || sRow >= src.Height || sCol < 0 || sCol >= src.Width {
				continue
			}
			out.Set(row, col, src.At(sRow, sCol))
		}
	}
	return out
}
