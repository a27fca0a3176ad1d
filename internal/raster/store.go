package raster

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/paulmach/orb"

	"zonalcore/internal/blob"
	"zonalcore/internal/faults"
)

// Meta describes a chunked raster store. It lives at "<handle>/meta.json".
// A nil NoData encodes NaN, which JSON cannot represent directly.
type Meta struct {
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ChunkWidth  int       `json:"chunk_width"`
	ChunkHeight int       `json:"chunk_height"`
	Transform   Transform `json:"transform"`
	NoData      *float64  `json:"no_data"`
	CRS         string    `json:"crs"`
}

func (m Meta) noData() float64 {
	if m.NoData == nil {
		return math.NaN()
	}
	return *m.NoData
}

// Window is a pixel-space rectangle within a store.
type Window struct {
	Row, Col      int
	Height, Width int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// Pixels returns the pixel count of the window.
func (w Window) Pixels() int {
	if w.Empty() {
		return 0
	}
	return w.Width * w.Height
}

// ChunkedStore reads a geo-referenced raster stored as fixed-size binary
// chunks behind a blob store. Only this layer opens raster handles directly.
type ChunkedStore struct {
	blobs  blob.Store
	handle string
	meta   Meta
}

// Open resolves a raster handle, reading and validating its metadata.
func Open(ctx context.Context, blobs blob.Store, handle string) (*ChunkedStore, error) {
	_, rc, err := blobs.Get(ctx, handle+"/meta.json")
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, faults.Wrap(faults.KindNotFound, err, "raster store %s", handle)
		}
		return nil, faults.Wrap(faults.KindUpstream, err, "open raster store %s", handle)
	}
	defer func() { _ = rc.Close() }()
	var meta Meta
	if err := json.NewDecoder(rc).Decode(&meta); err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "decode raster metadata %s", handle)
	}
	if meta.Width <= 0 || meta.Height <= 0 || meta.ChunkWidth <= 0 || meta.ChunkHeight <= 0 {
		return nil, faults.New(faults.KindUpstream, "raster store %s has invalid dimensions", handle)
	}
	if meta.Transform.CellX == 0 || meta.Transform.CellY == 0 {
		return nil, faults.New(faults.KindUpstream, "raster store %s has degenerate transform", handle)
	}
	return &ChunkedStore{blobs: blobs, handle: handle, meta: meta}, nil
}

// Meta returns the store metadata.
func (s *ChunkedStore) Meta() Meta { return s.meta }

// Handle returns the opaque storage handle.
func (s *ChunkedStore) Handle() string { return s.handle }

// WindowFor returns the pixel window covering the geographic bound, clamped
// to the store extent.
func (s *ChunkedStore) WindowFor(b orb.Bound) Window {
	t := s.meta.Transform
	// Top-left of the bound in a north-up grid is (Min.X, Max.Y).
	row0, col0 := t.Index(b.Min[0], b.Max[1])
	row1, col1 := t.Index(b.Max[0], b.Min[1])
	row0 = clamp(row0, 0, s.meta.Height-1)
	row1 = clamp(row1, 0, s.meta.Height-1)
	col0 = clamp(col0, 0, s.meta.Width-1)
	col1 = clamp(col1, 0, s.meta.Width-1)
	bound := s.bound()
	if b.Max[0] < bound.Min[0] || b.Min[0] > bound.Max[0] || b.Max[1] < bound.Min[1] || b.Min[1] > bound.Max[1] {
		return Window{}
	}
	return Window{Row: row0, Col: col0, Height: row1 - row0 + 1, Width: col1 - col0 + 1}
}

func (s *ChunkedStore) bound() orb.Bound {
	g := Grid{Transform: s.meta.Transform, Width: s.meta.Width, Height: s.meta.Height}
	return g.Bound()
}

// ReadWindow assembles a grid for the window from the intersecting chunks.
// Chunks absent from the blob store read as no-data; sparse stores omit
// all-missing chunks entirely.
func (s *ChunkedStore) ReadWindow(ctx context.Context, w Window) (*Grid, error) {
	if w.Empty() {
		return NewGrid(s.meta.Transform.Shift(w.Row, w.Col), 0, 0, s.meta.noData()), nil
	}
	out := NewGrid(s.meta.Transform.Shift(w.Row, w.Col), w.Width, w.Height, s.meta.noData())
	cw, ch := s.meta.ChunkWidth, s.meta.ChunkHeight
	for cy := w.Row / ch; cy <= (w.Row+w.Height-1)/ch; cy++ {
		for cx := w.Col / cw; cx <= (w.Col+w.Width-1)/cw; cx++ {
			chunk, err := s.readChunk(ctx, cx, cy)
			if err != nil {
				return nil, err
			}
			if chunk == nil {
				continue
			}
			s.copyChunk(out, w, chunk, cx, cy)
		}
	}
	return out, nil
}

func (s *ChunkedStore) readChunk(ctx context.Context, cx, cy int) ([]float64, error) {
	key := fmt.Sprintf("%s/chunks/%d_%d.f64", s.handle, cy, cx)
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, nil
		}
		return nil, faults.Wrap(faults.KindUpstream, err, "read raster chunk %s", key)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "read raster chunk %s", key)
	}
	want := s.meta.ChunkWidth * s.meta.ChunkHeight * 8
	if len(raw) != want {
		return nil, faults.New(faults.KindUpstream, "raster chunk %s has %d bytes, want %d", key, len(raw), want)
	}
	vals := make([]float64, s.meta.ChunkWidth*s.meta.ChunkHeight)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return vals, nil
}

func (s *ChunkedStore) copyChunk(out *Grid, w Window, chunk []float64, cx, cy int) {
	cw, ch := s.meta.ChunkWidth, s.meta.ChunkHeight
	baseRow, baseCol := cy*ch, cx*cw
	for r := 0; r < ch; r++ {
		gRow := baseRow + r
		if gRow < w.Row || gRow >= w.Row+w.Height || gRow >= s.meta.Height {
			continue
		}
		for c := 0; c < cw; c++ {
			gCol := baseCol + c
			if gCol < w.Col || gCol >= w.Col+w.Width || gCol >= s.meta.Width {
				continue
			}
			out.Set(gRow-w.Row, gCol-w.Col, chunk[r*cw+c])
		}
	}
}

// ReadAligned reads the store content covering the reference grid and snaps
// it onto the reference transform.
func (s *ChunkedStore) ReadAligned(ctx context.Context, ref Transform, w, h int) (*Grid, error) {
	refGrid := Grid{Transform: ref, Width: w, Height: h}
	window := s.WindowFor(refGrid.Bound())
	if window.Empty() {
		return NewGrid(ref, w, h, s.meta.noData()), nil
	}
	src, err := s.ReadWindow(ctx, window)
	if err != nil {
		return nil, err
	}
	return Resample(src, ref, w, h), nil
}

// Create writes a grid as a chunked store. It is the write-side counterpart
// used by tests and ingestion tooling; all-missing chunks are omitted.
func Create(ctx context.Context, blobs blob.Store, handle string, g *Grid, chunkW, chunkH int) error {
	if chunkW <= 0 || chunkH <= 0 {
		return fmt.Errorf("raster: chunk dimensions must be positive")
	}
	noData := g.NoData
	meta := Meta{
		Width:       g.Width,
		Height:      g.Height,
		ChunkWidth:  chunkW,
		ChunkHeight: chunkH,
		Transform:   g.Transform,
		CRS:         "EPSG:4326",
	}
	if !math.IsNaN(noData) {
		nd := noData
		meta.NoData = &nd
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if _, err := blobs.Put(ctx, handle+"/meta.json", bytes.NewReader(raw), blob.PutOptions{ContentType: "application/json"}); err != nil {
		return err
	}
	for cy := 0; cy*chunkH < g.Height; cy++ {
		for cx := 0; cx*chunkW < g.Width; cx++ {
			buf := make([]byte, chunkW*chunkH*8)
			hasData := false
			for r := 0; r < chunkH; r++ {
				for c := 0; c < chunkW; c++ {
					v := noData
					gRow, gCol := cy*chunkH+r, cx*chunkW+c
					if gRow < g.Height && gCol < g.Width {
						v = g.At(gRow, gCol)
					}
					if !g.IsNoData(v) {
						hasData = true
					}
					binary.LittleEndian.PutUint64(buf[(r*chunkW+c)*8:], math.Float64bits(v))
				}
			}
			if !hasData {
				continue
			}
			key := fmt.Sprintf("%s/chunks/%d_%d.f64", handle, cy, cx)
			if _, err := blobs.Put(ctx, key, bytes.NewReader(buf), blob.PutOptions{ContentType: "application/octet-stream"}); err != nil {
				return err
			}
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
