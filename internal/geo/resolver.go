package geo

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"zonalcore/internal/faults"
)

// GeometryProvider is the external geometry-fetch collaborator. It returns
// one geometry per requested id, in the same order as the input ids.
type GeometryProvider interface {
	FetchGeometries(ctx context.Context, kind Kind, ids []string) ([]orb.Geometry, error)
}

// Resolution is the outcome of resolving an AOI: either an admin key usable
// by the precompute path, or an ordered list of features.
type Resolution struct {
	Admin    *AdminUnit
	Features []Feature
}

// Resolver converts AOI specifications into precompute keys or geometries.
type Resolver struct {
	provider GeometryProvider
}

// NewResolver constructs a resolver backed by the given geometry provider.
func NewResolver(provider GeometryProvider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve maps an AOI to a Resolution. Administrative units are split into
// hierarchy components without fetching geometry; the precompute path never
// needs one. All other variants resolve to ordered features.
func (r *Resolver) Resolve(ctx context.Context, aoi AOI) (Resolution, error) {
	switch a := aoi.(type) {
	case AdminUnit:
		adm, err := ParseAdminID(a.ID)
		if err != nil {
			return Resolution{}, err
		}
		adm.Provider = a.Provider
		adm.Version = a.Version
		return Resolution{Admin: &adm}, nil
	default:
		features, err := r.ResolveGeometries(ctx, aoi)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Features: features}, nil
	}
}

// ResolveGeometries always yields concrete features, fetching geometries for
// admin and named-area AOIs from the collaborator. Output order matches the
// caller-supplied id order; callers rely on it to re-associate metadata.
func (r *Resolver) ResolveGeometries(ctx context.Context, aoi AOI) ([]Feature, error) {
	switch a := aoi.(type) {
	case AdminUnit:
		return r.fetch(ctx, KindAdmin, []string{a.ID})
	case NamedArea:
		return r.fetch(ctx, KindNamedArea, a.IDs)
	case InlineGeometry:
		return []Feature{{ID: a.ID, Geometry: a.Geometry}}, nil
	case FeatureCollection:
		out := make([]Feature, len(a.Features))
		copy(out, a.Features)
		return out, nil
	default:
		return nil, faults.New(faults.KindValidation, "unknown aoi kind %q", aoi.Kind())
	}
}

func (r *Resolver) fetch(ctx context.Context, kind Kind, ids []string) ([]Feature, error) {
	if r.provider == nil {
		return nil, faults.New(faults.KindUpstream, "no geometry provider configured")
	}
	geoms, err := r.provider.FetchGeometries(ctx, kind, ids)
	if err != nil {
		if faults.IsNotFound(err) {
			return nil, err
		}
		return nil, faults.Wrap(faults.KindUpstream, err, "fetch geometries for %d %s id(s)", len(ids), kind)
	}
	if len(geoms) < len(ids) {
		return nil, faults.New(faults.KindNotFound, "resolved %d of %d requested %s geometries", len(geoms), len(ids), kind)
	}
	if len(geoms) > len(ids) {
		return nil, faults.New(faults.KindUpstream, "provider returned %d geometries for %d ids", len(geoms), len(ids))
	}
	features := make([]Feature, len(ids))
	for i, id := range ids {
		if geoms[i] == nil {
			return nil, faults.New(faults.KindNotFound, "no geometry for %s id %s", kind, id)
		}
		features[i] = Feature{ID: id, Geometry: geoms[i]}
	}
	return features, nil
}

// StaticProvider serves geometries from an in-memory map, keyed by AOI kind
// then id. Used by tests and the one-shot CLI.
type StaticProvider struct {
	Geometries map[Kind]map[string]orb.Geometry
}

// FetchGeometries implements GeometryProvider.
func (p *StaticProvider) FetchGeometries(_ context.Context, kind Kind, ids []string) ([]orb.Geometry, error) {
	byID := p.Geometries[kind]
	out := make([]orb.Geometry, 0, len(ids))
	for _, id := range ids {
		geom, ok := byID[id]
		if !ok {
			return nil, faults.New(faults.KindNotFound, "no geometry for %s id %s", kind, id)
		}
		out = append(out, geom)
	}
	return out, nil
}

var _ GeometryProvider = (*StaticProvider)(nil)

// String renders a feature id for error context.
func (f Feature) String() string { return fmt.Sprintf("feature(%s)", f.ID) }
