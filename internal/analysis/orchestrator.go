package analysis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
	"zonalcore/pkg/results"
)

// Executor computes one request. The dispatch chain satisfies this.
type Executor interface {
	Execute(ctx context.Context, aoi geo.AOI, q query.DatasetQuery) (*results.Table, error)
}

// Repository persists job records keyed by id. Load returns a not-found
// fault for unknown ids; Store replaces the whole record.
type Repository interface {
	Load(ctx context.Context, id string) (Record, error)
	Store(ctx context.Context, rec Record) error
}

const (
	defaultJobTimeout = 10 * time.Minute
	storeGrace        = 30 * time.Second
	pollInterval      = 50 * time.Millisecond
)

// Options tunes the orchestrator. Zero values take defaults.
type Options struct {
	Logger     *slog.Logger
	Metrics    *Metrics
	JobTimeout time.Duration
}

// Orchestrator accepts job submissions, deduplicates them by deterministic
// identity, and runs each identity at most once. The pending record is
// written before execution starts; a known record, pending or terminal, is
// never re-run, so instances sharing a repository cannot double-execute.
// Recovering a pending record stranded by a crash is an operator action, not
// a resubmission side effect.
type Orchestrator struct {
	exec    Executor
	repo    Repository
	reg     *raster.Registry
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New constructs an orchestrator validating requests against reg.
func New(exec Executor, repo Repository, reg *raster.Registry, opts Options) *Orchestrator {
	o := &Orchestrator{
		exec:     exec,
		repo:     repo,
		reg:      reg,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		timeout:  opts.JobTimeout,
		inflight: make(map[string]struct{}),
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.timeout <= 0 {
		o.timeout = defaultJobTimeout
	}
	return o
}

// Submit validates the request, derives its identity, and returns the
// current record for that identity. Unseen requests persist a pending record
// and start executing asynchronously; resubmissions return the existing
// record without re-executing, whatever its status.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (Record, error) {
	if req.AOI == nil {
		o.metrics.submission("rejected")
		return Record{}, faults.New(faults.KindValidation, "request has no aoi")
	}
	if err := req.Query.Validate(o.reg); err != nil {
		o.metrics.submission("rejected")
		return Record{}, err
	}
	id, err := Identity(req)
	if err != nil {
		o.metrics.submission("rejected")
		return Record{}, err
	}

	rec, err := o.repo.Load(ctx, id)
	switch {
	case err == nil:
		// Known identity. Pending means an execution is live here or in
		// another instance sharing the repository; re-running it would break
		// the at-most-once guarantee.
		o.metrics.submission("duplicate")
		return rec, nil
	case !faults.IsNotFound(err):
		return Record{}, err
	}

	now := time.Now().UTC()
	rec = Record{ID: id, Request: req, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	if !o.acquire(id) {
		// Lost the race to a concurrent identical submission.
		o.metrics.submission("duplicate")
		if existing, lerr := o.repo.Load(ctx, id); lerr == nil {
			return existing, nil
		}
		return rec, nil
	}
	if err := o.repo.Store(ctx, rec); err != nil {
		o.release(id)
		return Record{}, err
	}
	o.metrics.submission("accepted")
	o.start(rec)
	return rec, nil
}

// Get returns the record for id.
func (o *Orchestrator) Get(ctx context.Context, id string) (Record, error) {
	return o.repo.Load(ctx, id)
}

// Await polls until the record for id reaches a terminal status.
func (o *Orchestrator) Await(ctx context.Context, id string) (Record, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		rec, err := o.repo.Load(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if rec.Status.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until every in-flight job has finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[id]; ok {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

func (o *Orchestrator) start(rec Record) {
	o.wg.Add(1)
	go o.run(rec)
}

func (o *Orchestrator) run(rec Record) {
	defer o.wg.Done()
	defer o.release(rec.ID)

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	start := time.Now()
	table, err := o.exec.Execute(ctx, rec.Request.AOI, rec.Request.Query)
	elapsed := time.Since(start)

	rec.UpdatedAt = time.Now().UTC()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		rec.ErrorKind = faults.KindOf(err)
		o.log.Error("analysis job failed",
			"job_id", rec.ID,
			"error_kind", string(rec.ErrorKind),
			"elapsed", elapsed,
			"error", err)
	} else {
		rec.Status = StatusSaved
		rec.Result = table
		o.log.Info("analysis job saved",
			"job_id", rec.ID,
			"rows", table.Len(),
			"elapsed", elapsed)
	}

	// The job context may already be expired; the terminal write gets its
	// own deadline so results of slow jobs still land.
	sctx, scancel := context.WithTimeout(context.Background(), storeGrace)
	defer scancel()
	if serr := o.repo.Store(sctx, rec); serr != nil {
		o.log.Error("analysis record store failed", "job_id", rec.ID, "error", serr)
		return
	}
	o.metrics.execution(rec.Status, elapsed.Seconds())
}
