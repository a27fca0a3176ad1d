// Package dispatch routes analysis requests between the precomputed
// aggregate path and on-the-fly raster reduction. Handlers form an ordered
// chain evaluated first-match-wins; precompute handlers sit first because
// they are orders of magnitude cheaper, and the terminal on-the-fly handler
// accepts any AOI so coverage is total.
package dispatch

import (
	"context"

	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/pkg/results"
)

// Request is one unit of compute work.
type Request struct {
	AOI   geo.AOI
	Query query.DatasetQuery
}

// Handler is one link in the chain. ShouldHandle must be a pure predicate.
type Handler interface {
	ShouldHandle(kind geo.Kind, q query.DatasetQuery) bool
	Handle(ctx context.Context, req Request) (*results.Table, error)
}

// Chain evaluates handlers in order. A handler declining via an
// unsupported-query error forwards the request to the next handler; that
// error class never escapes the chain.
type Chain struct {
	handlers []Handler
}

// NewChain constructs a chain from ordered handlers.
func NewChain(handlers ...Handler) *Chain {
	return &Chain{handlers: handlers}
}

// Handle runs the request through the first accepting handler.
func (c *Chain) Handle(ctx context.Context, req Request) (*results.Table, error) {
	for _, h := range c.handlers {
		if !h.ShouldHandle(req.AOI.Kind(), req.Query) {
			continue
		}
		out, err := h.Handle(ctx, req)
		if faults.IsUnsupportedQuery(err) {
			continue
		}
		return out, err
	}
	return nil, faults.New(faults.KindInternal, "no handler accepted aoi kind %q", req.AOI.Kind())
}

// Execute adapts the chain to the orchestrator's executor contract.
func (c *Chain) Execute(ctx context.Context, aoi geo.AOI, q query.DatasetQuery) (*results.Table, error) {
	return c.Handle(ctx, Request{AOI: aoi, Query: q})
}
