// Command zonal-run executes one analysis request end to end: it wires the
// stores from the process environment, submits the request, waits for the
// terminal record, and prints it as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"

	"zonalcore/internal/analysis"
	"zonalcore/internal/blob"
	"zonalcore/internal/dispatch"
	"zonalcore/internal/geo"
	"zonalcore/internal/precompute"
	"zonalcore/internal/raster"
	"zonalcore/internal/repository"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("zonal-run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	requestPath := fs.String("request", "", "path to the analysis request JSON")
	geometriesPath := fs.String("geometries", "", "optional GeoJSON feature collection backing AOI geometry lookup")
	rasterRoot := fs.String("raster-root", "rasters", "blob key prefix for chunked raster layers")
	precomputeRoot := fs.String("precompute-root", "precompute", "directory holding precompute tables")
	wait := fs.Duration("wait", 5*time.Minute, "how long to wait for the job to finish")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *requestPath == "" {
		fmt.Fprintln(stderr, "zonal-run: -request is required")
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stderr, nil))
	ctx := context.Background()

	raw, err := os.ReadFile(*requestPath)
	if err != nil {
		logger.Error("read request", "error", err)
		return 1
	}
	var req analysis.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Error("decode request", "error", err)
		return 1
	}

	provider, err := loadProvider(*geometriesPath)
	if err != nil {
		logger.Error("load geometries", "error", err)
		return 1
	}
	blobs, err := blob.OpenFromEnv(ctx)
	if err != nil {
		logger.Error("open blob store", "error", err)
		return 1
	}
	repo, err := repository.OpenFromEnv(ctx, blobs)
	if err != nil {
		logger.Error("open repository", "error", err)
		return 1
	}

	reg := raster.DefaultRegistry(*rasterRoot)
	exec := precompute.NewExecutor(reg)
	defer func() { _ = exec.Close() }()
	chain := dispatch.NewChain(
		dispatch.NewPrecompute(precompute.DefaultCatalog(*precomputeRoot), exec),
		dispatch.NewOnTheFly(geo.NewResolver(provider), blobs, reg, dispatch.OnTheFlyOptions{}),
	)
	orch := analysis.New(chain, repo, reg, analysis.Options{
		Logger:     logger,
		Metrics:    analysis.NewMetrics(prometheus.NewRegistry()),
		JobTimeout: *wait,
	})

	rec, err := orch.Submit(ctx, req)
	if err != nil {
		logger.Error("submit request", "error", err)
		return 1
	}
	wctx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	rec, err = orch.Await(wctx, rec.ID)
	if err != nil {
		logger.Error("await job", "job_id", rec.ID, "error", err)
		return 1
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		logger.Error("encode record", "error", err)
		return 1
	}
	fmt.Fprintln(stdout, string(out))
	if rec.Status == analysis.StatusFailed {
		return 1
	}
	return 0
}

// loadProvider builds the geometry provider from an optional GeoJSON file.
// Each feature registers under its id and a "kind" property (admin when
// absent).
func loadProvider(path string) (geo.GeometryProvider, error) {
	p := &geo.StaticProvider{Geometries: make(map[geo.Kind]map[string]orb.Geometry)}
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode geometries: %w", err)
	}
	for _, f := range fc.Features {
		id := featureID(f)
		if id == "" {
			return nil, fmt.Errorf("geometry feature without an id")
		}
		kind := geo.Kind(f.Properties.MustString("kind", string(geo.KindAdmin)))
		byID := p.Geometries[kind]
		if byID == nil {
			byID = make(map[string]orb.Geometry)
			p.Geometries[kind] = byID
		}
		byID[id] = f.Geometry
	}
	return p, nil
}

func featureID(f *geojson.Feature) string {
	if s, ok := f.ID.(string); ok {
		return s
	}
	return f.Properties.MustString("id", "")
}
