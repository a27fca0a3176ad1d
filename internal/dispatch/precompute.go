package dispatch

import (
	"context"

	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/precompute"
	"zonalcore/internal/query"
	"zonalcore/pkg/results"
)

// PrecomputeHandler serves administrative AOIs whose query shape is covered
// by a materialized aggregate table. Everything else falls through to the
// next handler.
type PrecomputeHandler struct {
	catalog *precompute.Catalog
	exec    *precompute.Executor
}

// NewPrecompute constructs the handler over a catalog and executor.
func NewPrecompute(catalog *precompute.Catalog, exec *precompute.Executor) *PrecomputeHandler {
	return &PrecomputeHandler{catalog: catalog, exec: exec}
}

// ShouldHandle implements Handler. Only admin units have precomputed rows.
func (h *PrecomputeHandler) ShouldHandle(kind geo.Kind, q query.DatasetQuery) bool {
	if kind != geo.KindAdmin {
		return false
	}
	_, err := h.catalog.Match(q)
	return err == nil
}

// Handle implements Handler.
func (h *PrecomputeHandler) Handle(ctx context.Context, req Request) (*results.Table, error) {
	adm, ok := req.AOI.(geo.AdminUnit)
	if !ok {
		return nil, faults.New(faults.KindInternal, "precompute handler received aoi kind %q", req.AOI.Kind())
	}
	if adm.Country == "" {
		// Directly constructed units carry only the dot-id; split it so the
		// SQL never filters on empty hierarchy columns.
		parsed, err := geo.ParseAdminID(adm.ID)
		if err != nil {
			return nil, err
		}
		parsed.Provider = adm.Provider
		parsed.Version = adm.Version
		adm = parsed
	}
	t, err := h.catalog.Match(req.Query)
	if err != nil {
		return nil, err
	}
	out, err := h.exec.Query(ctx, t, adm, req.Query)
	if err != nil {
		return nil, err
	}
	out.PrependConstant("aoi_type", string(geo.KindAdmin))
	out.PrependConstant("aoi_id", adm.ID)
	return out, nil
}
