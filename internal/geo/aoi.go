// Package geo models areas of interest and resolves them to either
// precompute keys or concrete geometries.
package geo

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"zonalcore/internal/faults"
)

// Kind discriminates AOI variants on the wire and in dispatch predicates.
type Kind string

const (
	KindAdmin             Kind = "admin"
	KindNamedArea         Kind = "named_area"
	KindGeometry          Kind = "geometry"
	KindFeatureCollection Kind = "feature_collection"
)

// NamedAreaKind identifies the catalog a named area id belongs to.
type NamedAreaKind string

const (
	AreaConservation   NamedAreaKind = "conservation_area"
	AreaProtected      NamedAreaKind = "protected_area"
	AreaIndigenousLand NamedAreaKind = "indigenous_land"
)

// AOI is the tagged union over area-of-interest variants. Exactly one
// concrete type backs any value; dispatch code switches exhaustively.
type AOI interface {
	Kind() Kind
	json.Marshaler
}

// AdminUnit addresses an administrative unit by hierarchical dot-id.
type AdminUnit struct {
	ID       string `json:"id"`
	Provider string `json:"provider,omitempty"`
	Version  string `json:"version,omitempty"`

	// Parsed hierarchy components, populated by ParseAdminID.
	Country   string `json:"-"`
	Region    *int   `json:"-"`
	Subregion *int   `json:"-"`
}

func (AdminUnit) Kind() Kind { return KindAdmin }

// Level reports the admin hierarchy depth: 0 country, 1 region, 2 subregion.
func (a AdminUnit) Level() int {
	switch {
	case a.Subregion != nil:
		return 2
	case a.Region != nil:
		return 1
	default:
		return 0
	}
}

// MarshalJSON emits the wire form with the type discriminator.
func (a AdminUnit) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     Kind   `json:"type"`
		ID       string `json:"id"`
		Provider string `json:"provider,omitempty"`
		Version  string `json:"version,omitempty"`
	}
	return json.Marshal(wire{Type: KindAdmin, ID: a.ID, Provider: a.Provider, Version: a.Version})
}

// NamedArea addresses one or more entries of a named-area catalog.
type NamedArea struct {
	AreaKind NamedAreaKind `json:"kind"`
	IDs      []string      `json:"ids"`
}

func (NamedArea) Kind() Kind { return KindNamedArea }

// MarshalJSON emits the wire form with the type discriminator.
func (n NamedArea) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     Kind          `json:"type"`
		AreaKind NamedAreaKind `json:"kind"`
		IDs      []string      `json:"ids"`
	}
	return json.Marshal(wire{Type: KindNamedArea, AreaKind: n.AreaKind, IDs: n.IDs})
}

// InlineGeometry carries one polygon or multi-polygon supplied by the caller.
type InlineGeometry struct {
	ID       string
	Geometry orb.Geometry
}

func (InlineGeometry) Kind() Kind { return KindGeometry }

// MarshalJSON emits the wire form with the type discriminator.
func (g InlineGeometry) MarshalJSON() ([]byte, error) {
	type wire struct {
		Type     Kind              `json:"type"`
		ID       string            `json:"id,omitempty"`
		Geometry *geojson.Geometry `json:"geometry"`
	}
	return json.Marshal(wire{Type: KindGeometry, ID: g.ID, Geometry: geojson.NewGeometry(g.Geometry)})
}

// Feature pairs a caller-supplied id with its geometry.
type Feature struct {
	ID       string
	Geometry orb.Geometry
}

// FeatureCollection carries an ordered list of (id, geometry) pairs.
type FeatureCollection struct {
	Features []Feature
}

func (FeatureCollection) Kind() Kind { return KindFeatureCollection }

// MarshalJSON emits the wire form with the type discriminator.
func (c FeatureCollection) MarshalJSON() ([]byte, error) {
	type wireFeature struct {
		ID       string            `json:"id"`
		Geometry *geojson.Geometry `json:"geometry"`
	}
	type wire struct {
		Type     Kind          `json:"type"`
		Features []wireFeature `json:"features"`
	}
	out := wire{Type: KindFeatureCollection, Features: make([]wireFeature, 0, len(c.Features))}
	for _, f := range c.Features {
		out.Features = append(out.Features, wireFeature{ID: f.ID, Geometry: geojson.NewGeometry(f.Geometry)})
	}
	return json.Marshal(out)
}

// DecodeAOI parses the wire form, dispatching on the "type" discriminator.
func DecodeAOI(data []byte) (AOI, error) {
	var probe struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, faults.Wrap(faults.KindValidation, err, "decode aoi")
	}
	switch probe.Type {
	case KindAdmin:
		var w struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
			Version  string `json:"version"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, faults.Wrap(faults.KindValidation, err, "decode admin aoi")
		}
		adm, err := ParseAdminID(w.ID)
		if err != nil {
			return nil, err
		}
		adm.Provider = w.Provider
		adm.Version = w.Version
		return adm, nil
	case KindNamedArea:
		var w struct {
			AreaKind NamedAreaKind `json:"kind"`
			ID       string        `json:"id"`
			IDs      []string      `json:"ids"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, faults.Wrap(faults.KindValidation, err, "decode named-area aoi")
		}
		ids := w.IDs
		if len(ids) == 0 && w.ID != "" {
			ids = []string{w.ID}
		}
		if len(ids) == 0 {
			return nil, faults.New(faults.KindValidation, "named-area aoi requires at least one id")
		}
		switch w.AreaKind {
		case AreaConservation, AreaProtected, AreaIndigenousLand:
		default:
			return nil, faults.New(faults.KindValidation, "unknown named-area kind %q", w.AreaKind)
		}
		return NamedArea{AreaKind: w.AreaKind, IDs: ids}, nil
	case KindGeometry:
		var w struct {
			ID       string            `json:"id"`
			Geometry *geojson.Geometry `json:"geometry"`
		}
		if err := json.Unmarshal(data, &w); err != nil || w.Geometry == nil {
			return nil, faults.New(faults.KindValidation, "geometry aoi requires a geojson geometry")
		}
		geom := w.Geometry.Geometry()
		if err := checkPolygonal(geom); err != nil {
			return nil, err
		}
		id := w.ID
		if id == "" {
			id = "0"
		}
		return InlineGeometry{ID: id, Geometry: geom}, nil
	case KindFeatureCollection:
		var w struct {
			Features []struct {
				ID       string            `json:"id"`
				Geometry *geojson.Geometry `json:"geometry"`
			} `json:"features"`
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, faults.Wrap(faults.KindValidation, err, "decode feature collection aoi")
		}
		if len(w.Features) == 0 {
			return nil, faults.New(faults.KindValidation, "feature collection aoi requires features")
		}
		fc := FeatureCollection{Features: make([]Feature, 0, len(w.Features))}
		for i, f := range w.Features {
			if f.Geometry == nil {
				return nil, faults.New(faults.KindValidation, "feature %d missing geometry", i)
			}
			geom := f.Geometry.Geometry()
			if err := checkPolygonal(geom); err != nil {
				return nil, err
			}
			id := f.ID
			if id == "" {
				id = fmt.Sprintf("%d", i)
			}
			fc.Features = append(fc.Features, Feature{ID: id, Geometry: geom})
		}
		return fc, nil
	default:
		return nil, faults.New(faults.KindValidation, "unknown aoi type %q", probe.Type)
	}
}

func checkPolygonal(g orb.Geometry) error {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return nil
	default:
		return faults.New(faults.KindValidation, "aoi geometry must be a polygon or multi-polygon, got %T", g)
	}
}
