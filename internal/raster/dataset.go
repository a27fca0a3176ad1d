// Package raster is the dataset access layer: it names the raster layers the
// engine understands, opens their chunked stores, clips them to geometries,
// and translates between user-facing values and internal pixel codes.
package raster

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"zonalcore/internal/faults"
)

// Dataset names a raster layer known to the engine.
type Dataset string

const (
	// TreeCoverLoss is the categorical loss-year layer.
	TreeCoverLoss Dataset = "tree_cover_loss"
	// CanopyCover is the canopy density layer, bucketed by threshold.
	CanopyCover Dataset = "canopy_cover"
	// TreeCoverGain is the gain-period layer.
	TreeCoverGain Dataset = "tree_cover_gain"
	// NaturalLands is the natural-lands classification layer.
	NaturalLands Dataset = "natural_lands"
	// DisturbanceDriver is the disturbance-driver classification layer.
	DisturbanceDriver Dataset = "disturbance_driver"
	// AreaHectares is the per-pixel area layer (hectares).
	AreaHectares Dataset = "area"
	// CarbonEmissions is the gross emissions layer (Mg CO2e).
	CarbonEmissions Dataset = "carbon_emissions"
	// PixelCount is a virtual aggregate with no backing store; it counts
	// pixels that survive the mask and filters.
	PixelCount Dataset = "pixel_count"
)

// Codec translates between user-facing values and internal pixel codes.
// Both directions are total over the declared domain and fail with a
// domain-classified error outside it.
type Codec interface {
	Translate(user any) (int32, error)
	Unpack(code int32) (any, error)
	Domain() []int32
}

// Descriptor binds a dataset to its storage handle and value semantics.
type Descriptor struct {
	Dataset Dataset
	Handle  string // chunked store handle; empty for virtual datasets
	Field   string // canonical output column name
	Codec   Codec  // nil for continuous aggregate layers
}

// ExpectedDomain returns the declared discrete domain, or nil for
// continuous layers.
func (d Descriptor) ExpectedDomain() []int32 {
	if d.Codec == nil {
		return nil
	}
	return d.Codec.Domain()
}

// Registry maps datasets to descriptors.
type Registry struct {
	byDataset map[Dataset]Descriptor
}

// NewRegistry constructs a registry from descriptors.
func NewRegistry(descs ...Descriptor) *Registry {
	r := &Registry{byDataset: make(map[Dataset]Descriptor, len(descs))}
	for _, d := range descs {
		r.byDataset[d.Dataset] = d
	}
	return r
}

// Lookup returns the descriptor for a dataset.
func (r *Registry) Lookup(d Dataset) (Descriptor, bool) {
	desc, ok := r.byDataset[d]
	return desc, ok
}

// MustLookup returns the descriptor or a validation error naming the dataset.
func (r *Registry) MustLookup(d Dataset) (Descriptor, error) {
	desc, ok := r.byDataset[d]
	if !ok {
		return Descriptor{}, faults.New(faults.KindValidation, "unknown dataset %q", d)
	}
	return desc, nil
}

// DefaultRegistry wires the standard land-change layers under a common
// handle root (e.g. "rasters").
func DefaultRegistry(root string) *Registry {
	if root == "" {
		root = "rasters"
	}
	handle := func(name string) string { return root + "/" + name }
	return NewRegistry(
		Descriptor{Dataset: TreeCoverLoss, Handle: handle("tree_cover_loss"), Field: "tree_cover_loss__year", Codec: YearCodec{Base: 2001, Years: 24}},
		Descriptor{Dataset: CanopyCover, Handle: handle("canopy_cover"), Field: "canopy_cover__threshold", Codec: ThresholdCodec{Thresholds: []int32{10, 15, 20, 25, 30, 50, 75}}},
		Descriptor{Dataset: TreeCoverGain, Handle: handle("tree_cover_gain"), Field: "tree_cover_gain__period", Codec: ClassCodec{Labels: map[int32]string{1: "2000-2005", 2: "2005-2010", 3: "2010-2015", 4: "2015-2020"}}},
		Descriptor{Dataset: NaturalLands, Handle: handle("natural_lands"), Field: "natural_lands__class", Codec: ClassCodec{Labels: map[int32]string{2: "natural_forest", 3: "natural_short_vegetation", 4: "natural_water", 5: "mangrove", 6: "bare", 7: "snow", 8: "wetland_forest", 9: "peat_forest", 10: "non_natural"}}},
		Descriptor{Dataset: DisturbanceDriver, Handle: handle("disturbance_driver"), Field: "disturbance_driver__type", Codec: ClassCodec{Labels: map[int32]string{1: "permanent_agriculture", 2: "hard_commodities", 3: "shifting_cultivation", 4: "logging", 5: "wildfire", 6: "settlements_infrastructure", 7: "other_natural_disturbances"}}},
		Descriptor{Dataset: AreaHectares, Handle: handle("area"), Field: "area__ha"},
		Descriptor{Dataset: CarbonEmissions, Handle: handle("carbon_emissions"), Field: "carbon_emissions__Mg"},
		Descriptor{Dataset: PixelCount, Field: "pixel__count"},
	)
}

// YearCodec maps calendar years to 1-based pixel codes (Base year → 1).
type YearCodec struct {
	Base  int
	Years int
}

// Translate implements Codec.
func (c YearCodec) Translate(user any) (int32, error) {
	year, err := toInt(user)
	if err != nil {
		return 0, faults.Wrap(faults.KindDomain, err, "year value %v", user)
	}
	code := year - c.Base + 1
	if code < 1 || code > c.Years {
		return 0, faults.New(faults.KindDomain, "year %d outside [%d, %d]", year, c.Base, c.Base+c.Years-1)
	}
	return int32(code), nil
}

// Unpack implements Codec.
func (c YearCodec) Unpack(code int32) (any, error) {
	if code < 1 || int(code) > c.Years {
		return nil, faults.New(faults.KindDomain, "year code %d outside [1, %d]", code, c.Years)
	}
	return c.Base + int(code) - 1, nil
}

// Domain implements Codec.
func (c YearCodec) Domain() []int32 {
	out := make([]int32, c.Years)
	for i := range out {
		out[i] = int32(i + 1)
	}
	return out
}

// ThresholdCodec models a layer bucketed at fixed thresholds; pixel codes are
// the threshold values themselves.
type ThresholdCodec struct {
	Thresholds []int32
}

// Translate implements Codec.
func (c ThresholdCodec) Translate(user any) (int32, error) {
	v, err := toInt(user)
	if err != nil {
		return 0, faults.Wrap(faults.KindDomain, err, "threshold value %v", user)
	}
	for _, t := range c.Thresholds {
		if int32(v) == t {
			return t, nil
		}
	}
	return 0, faults.New(faults.KindDomain, "threshold %d not in declared set %v", v, c.Thresholds)
}

// Unpack implements Codec.
func (c ThresholdCodec) Unpack(code int32) (any, error) {
	for _, t := range c.Thresholds {
		if code == t {
			return int(code), nil
		}
	}
	return nil, faults.New(faults.KindDomain, "threshold code %d not in declared set %v", code, c.Thresholds)
}

// Domain implements Codec.
func (c ThresholdCodec) Domain() []int32 {
	out := make([]int32, len(c.Thresholds))
	copy(out, c.Thresholds)
	return out
}

// ClassCodec maps pixel codes to string labels.
type ClassCodec struct {
	Labels map[int32]string
}

// Translate implements Codec. Accepts either a label or a raw numeric code.
func (c ClassCodec) Translate(user any) (int32, error) {
	if label, ok := user.(string); ok {
		for code, l := range c.Labels {
			if l == label {
				return code, nil
			}
		}
		return 0, faults.New(faults.KindDomain, "unknown class label %q", label)
	}
	v, err := toInt(user)
	if err != nil {
		return 0, faults.Wrap(faults.KindDomain, err, "class value %v", user)
	}
	if _, ok := c.Labels[int32(v)]; !ok {
		return 0, faults.New(faults.KindDomain, "class code %d not declared", v)
	}
	return int32(v), nil
}

// Unpack implements Codec.
func (c ClassCodec) Unpack(code int32) (any, error) {
	label, ok := c.Labels[code]
	if !ok {
		return nil, faults.New(faults.KindDomain, "class code %d not declared", code)
	}
	return label, nil
}

// Domain implements Codec. Sorted for deterministic iteration.
func (c ClassCodec) Domain() []int32 {
	out := make([]int32, 0, len(c.Labels))
	for code := range c.Labels {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("non-integer value %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
