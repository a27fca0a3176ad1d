package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"zonalcore/internal/blob"
	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
	"zonalcore/internal/zonal"
	"zonalcore/pkg/results"
)

const (
	defaultWorkers    = 4
	defaultAOITimeout = 2 * time.Minute
)

// OnTheFlyOptions tunes the terminal handler. Zero values take defaults.
type OnTheFlyOptions struct {
	// Workers caps concurrently computed AOI features.
	Workers int
	// PerAOITimeout bounds the compute time of one feature.
	PerAOITimeout time.Duration
}

// OnTheFlyHandler computes zonal statistics from chunked raster layers. It
// is the terminal link of the chain: it accepts every AOI kind and every
// valid query, resolving the AOI to concrete geometries and streaming masked
// blocks through a sparse reducer.
type OnTheFlyHandler struct {
	resolver *geo.Resolver
	blobs    blob.Store
	reg      *raster.Registry
	workers  int
	timeout  time.Duration
}

// NewOnTheFly constructs the terminal compute handler.
func NewOnTheFly(resolver *geo.Resolver, blobs blob.Store, reg *raster.Registry, opts OnTheFlyOptions) *OnTheFlyHandler {
	h := &OnTheFlyHandler{
		resolver: resolver,
		blobs:    blobs,
		reg:      reg,
		workers:  opts.Workers,
		timeout:  opts.PerAOITimeout,
	}
	if h.workers <= 0 {
		h.workers = defaultWorkers
	}
	if h.timeout <= 0 {
		h.timeout = defaultAOITimeout
	}
	return h
}

// ShouldHandle implements Handler. The terminal handler takes everything.
func (h *OnTheFlyHandler) ShouldHandle(geo.Kind, query.DatasetQuery) bool { return true }

// Handle implements Handler. Features compute concurrently; any single
// failure fails the whole request so callers never see partial tables.
func (h *OnTheFlyHandler) Handle(ctx context.Context, req Request) (*results.Table, error) {
	if err := req.Query.Validate(h.reg); err != nil {
		return nil, err
	}
	p, err := h.plan(req.Query)
	if err != nil {
		return nil, err
	}
	feats, err := h.resolver.ResolveGeometries(ctx, req.AOI)
	if err != nil {
		return nil, err
	}
	if len(feats) == 0 {
		return nil, faults.New(faults.KindValidation, "aoi resolved to no geometries")
	}

	tables := make([]*results.Table, len(feats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, f := range feats {
		i, f := i, f
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, h.timeout)
			defer cancel()
			tbl, err := h.computeFeature(cctx, f, p)
			if err != nil {
				return fmt.Errorf("aoi %s: %w", f.ID, err)
			}
			tbl.PrependConstant("aoi_type", string(req.AOI.Kind()))
			tbl.PrependConstant("aoi_id", f.ID)
			tables[i] = tbl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Concatenate in input order so multi-feature results are deterministic.
	out := tables[0]
	for _, t := range tables[1:] {
		if err := out.Concat(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// flyPlan is the per-query compute plan, built once and shared read-only by
// all feature workers.
type flyPlan struct {
	groupBys   []zonal.GroupBy
	groupDescs []raster.Descriptor
	aggs       []zonal.Aggregate
	aggDescs   []raster.Descriptor // Handle is empty for virtual pixel counts
	filters    []pixelFilter
	ref        raster.Descriptor // layer defining the reference grid and chunking
}

// pixelFilter excludes pixels of non-group-by filter datasets. Filters on
// group-by datasets narrow the reducer's domain instead and never appear
// here.
type pixelFilter struct {
	desc  raster.Descriptor
	match func(float64) bool
}

func (h *OnTheFlyHandler) plan(q query.DatasetQuery) (flyPlan, error) {
	var p flyPlan

	for _, d := range q.GroupBys {
		desc, err := h.reg.MustLookup(d)
		if err != nil {
			return p, err
		}
		domain := desc.ExpectedDomain()
		for _, f := range q.FiltersFor(d) {
			match, err := matchFunc(desc, f)
			if err != nil {
				return p, err
			}
			domain = narrowDomain(domain, match)
		}
		p.groupBys = append(p.groupBys, zonal.GroupBy{Field: desc.Field, Domain: domain, Unpack: desc.Codec.Unpack})
		p.groupDescs = append(p.groupDescs, desc)
	}

	for _, d := range q.Aggregates {
		desc, err := h.reg.MustLookup(d)
		if err != nil {
			return p, err
		}
		fn := zonal.FuncSum
		if d == raster.PixelCount {
			fn = zonal.FuncCount
		}
		p.aggs = append(p.aggs, zonal.Aggregate{Field: desc.Field, Func: fn})
		p.aggDescs = append(p.aggDescs, desc)
	}

	for _, f := range q.Filters {
		if q.HasGroupBy(f.Dataset) {
			continue // already folded into the group-by domain
		}
		desc, err := h.reg.MustLookup(f.Dataset)
		if err != nil {
			return p, err
		}
		match, err := matchFunc(desc, f)
		if err != nil {
			return p, err
		}
		p.filters = append(p.filters, pixelFilter{desc: desc, match: match})
	}

	ref, err := referenceLayer(p)
	if err != nil {
		return p, err
	}
	p.ref = ref
	return p, nil
}

// referenceLayer picks the layer whose grid and chunking drive the streamed
// windows: the first stored group-by, else the first stored aggregate, else
// the first stored filter layer.
func referenceLayer(p flyPlan) (raster.Descriptor, error) {
	for _, d := range p.groupDescs {
		if d.Handle != "" {
			return d, nil
		}
	}
	for _, d := range p.aggDescs {
		if d.Handle != "" {
			return d, nil
		}
	}
	for _, f := range p.filters {
		if f.desc.Handle != "" {
			return f.desc, nil
		}
	}
	return raster.Descriptor{}, faults.New(faults.KindValidation, "query references no stored raster layer")
}

func (h *OnTheFlyHandler) computeFeature(ctx context.Context, f geo.Feature, p flyPlan) (*results.Table, error) {
	reducer := zonal.NewReducer(p.groupBys, p.aggs)

	stores := make(map[string]*raster.ChunkedStore)
	open := func(handle string) (*raster.ChunkedStore, error) {
		if s, ok := stores[handle]; ok {
			return s, nil
		}
		s, err := raster.Open(ctx, h.blobs, handle)
		if err != nil {
			return nil, err
		}
		stores[handle] = s
		return s, nil
	}
	ref, err := open(p.ref.Handle)
	if err != nil {
		return nil, err
	}

	aligned := func(desc raster.Descriptor, block *raster.Grid) (*raster.Grid, error) {
		if desc.Handle == p.ref.Handle {
			return block, nil
		}
		s, err := open(desc.Handle)
		if err != nil {
			return nil, err
		}
		return s.ReadAligned(ctx, block.Transform, block.Width, block.Height)
	}

	err = raster.ClipBlocks(ctx, ref, f.Geometry, func(block, mask *raster.Grid) error {
		// Filters narrow membership; the reference layer's own no-data holes
		// must not, or aggregates sparse in different places would intersect
		// instead of union.
		for _, pf := range p.filters {
			fg, err := aligned(pf.desc, block)
			if err != nil {
				return err
			}
			applyFilter(mask, fg, pf.match)
		}
		groups := make([]*raster.Grid, len(p.groupDescs))
		for i, desc := range p.groupDescs {
			g, err := aligned(desc, block)
			if err != nil {
				return err
			}
			groups[i] = g
		}
		values := make([]*raster.Grid, len(p.aggDescs))
		for i, desc := range p.aggDescs {
			if desc.Handle == "" {
				continue
			}
			v, err := aligned(desc, block)
			if err != nil {
				return err
			}
			values[i] = v
		}
		return reducer.Accumulate(mask, groups, values)
	})
	if err != nil {
		return nil, err
	}
	return reducer.Table()
}

// applyFilter removes membership-mask pixels whose filter-layer value is
// missing or fails the predicate.
func applyFilter(mask, fg *raster.Grid, match func(float64) bool) {
	n := mask.Width * mask.Height
	for idx := 0; idx < n; idx++ {
		if mask.IsNoData(mask.Data[idx]) {
			continue
		}
		v := fg.Data[idx]
		if fg.IsNoData(v) || !match(v) {
			mask.Data[idx] = mask.NoData
		}
	}
}

// matchFunc compiles a filter into a pixel-value predicate. Values on
// categorical layers translate through the codec to pixel codes first, so
// the predicate always compares in code space.
func matchFunc(desc raster.Descriptor, f query.Filter) (func(float64) bool, error) {
	if f.Op == query.OpIn {
		vals, ok := f.Value.([]any)
		if !ok || len(vals) == 0 {
			return nil, faults.New(faults.KindValidation, "filter on %q: 'in' requires a non-empty list", f.Dataset)
		}
		set := make(map[float64]struct{}, len(vals))
		for _, v := range vals {
			t, err := translateFilterValue(desc, v)
			if err != nil {
				return nil, err
			}
			set[t] = struct{}{}
		}
		return func(v float64) bool {
			_, ok := set[v]
			return ok
		}, nil
	}

	t, err := translateFilterValue(desc, f.Value)
	if err != nil {
		return nil, err
	}
	switch f.Op {
	case query.OpEq:
		return func(v float64) bool { return v == t }, nil
	case query.OpNe:
		return func(v float64) bool { return v != t }, nil
	case query.OpLt:
		return func(v float64) bool { return v < t }, nil
	case query.OpLe:
		return func(v float64) bool { return v <= t }, nil
	case query.OpGt:
		return func(v float64) bool { return v > t }, nil
	case query.OpGe:
		return func(v float64) bool { return v >= t }, nil
	default:
		return nil, faults.New(faults.KindValidation, "unknown filter operator %q", f.Op)
	}
}

func translateFilterValue(desc raster.Descriptor, v any) (float64, error) {
	if desc.Codec != nil {
		code, err := desc.Codec.Translate(v)
		if err != nil {
			return 0, err
		}
		return float64(code), nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, faults.New(faults.KindValidation, "filter value %v is not numeric", v)
	}
}

func narrowDomain(domain []int32, match func(float64) bool) []int32 {
	out := domain[:0:0]
	for _, code := range domain {
		if match(float64(code)) {
			out = append(out, code)
		}
	}
	return out
}
