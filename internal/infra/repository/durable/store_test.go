package durable

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"

	"zonalcore/internal/analysis"
	"zonalcore/internal/blob"
	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/internal/raster"
	"zonalcore/internal/retry"
	"zonalcore/pkg/results"
)

type flakyKV struct {
	mu       sync.Mutex
	vals     map[string][]byte
	failures int
	err      error
}

func newFlakyKV(failures int, err error) *flakyKV {
	return &flakyKV{vals: make(map[string][]byte), failures: failures, err: err}
}

func (kv *flakyKV) trip() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.failures > 0 {
		kv.failures--
		return kv.err
	}
	return nil
}

func (kv *flakyKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := kv.trip(); err != nil {
		return nil, false, err
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.vals[key]
	return v, ok, nil
}

func (kv *flakyKV) Put(_ context.Context, key string, value []byte) error {
	if err := kv.trip(); err != nil {
		return err
	}
	kv.mu.Lock()
	kv.vals[key] = value
	kv.mu.Unlock()
	return nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Classify: IsThrottle}
}

func savedRecord(t *testing.T) analysis.Record {
	t.Helper()
	adm, err := geo.ParseAdminID("BRA")
	if err != nil {
		t.Fatalf("parse admin: %v", err)
	}
	tbl := results.New("area__ha")
	if err := tbl.AppendRow(map[string]any{"area__ha": 8.25}); err != nil {
		t.Fatalf("append row: %v", err)
	}
	return analysis.Record{
		ID:      "job-9",
		Request: analysis.Request{AOI: adm, Query: query.DatasetQuery{Aggregates: []raster.Dataset{raster.AreaHectares}}},
		Status:  analysis.StatusSaved,
		Result:  tbl,
	}
}

func TestStoreOffloadsResultToBlob(t *testing.T) {
	kv := newFlakyKV(0, nil)
	blobs := blob.NewMemory()
	s := New(kv, blobs, testPolicy())

	rec := savedRecord(t)
	if err := s.Store(context.Background(), rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Metadata row must not embed the result payload.
	raw, ok, err := kv.Get(context.Background(), rec.ID)
	if err != nil || !ok {
		t.Fatalf("kv get = (%v, %v)", ok, err)
	}
	if len(raw) == 0 || strings.Contains(string(raw), "8.25") {
		t.Fatalf("metadata embeds result payload: %s", raw)
	}
	if _, _, err := blobs.Get(context.Background(), "results/job-9.json"); err != nil {
		t.Fatalf("result blob missing: %v", err)
	}

	got, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Result == nil || got.Result.Row(0)["area__ha"] != 8.25 {
		t.Fatalf("result = %v", got.Result)
	}
}

func TestPendingRecordSkipsBlob(t *testing.T) {
	kv := newFlakyKV(0, nil)
	blobs := blob.NewMemory()
	s := New(kv, blobs, testPolicy())

	rec := savedRecord(t)
	rec.Status = analysis.StatusPending
	rec.Result = nil
	if err := s.Store(context.Background(), rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, _, err := blobs.Get(context.Background(), "results/job-9.json"); !errors.Is(err, blob.ErrNotExist) {
		t.Fatalf("unexpected blob for pending record: %v", err)
	}
	got, err := s.Load(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != analysis.StatusPending || got.Result != nil {
		t.Fatalf("record = %+v", got)
	}
}

func TestThrottledPutRetriesUntilSuccess(t *testing.T) {
	throttle := &smithy.GenericAPIError{Code: "SlowDown", Message: "slow down"}
	kv := newFlakyKV(2, throttle)
	s := New(kv, blob.NewMemory(), testPolicy())

	rec := savedRecord(t)
	rec.Status = analysis.StatusFailed
	rec.Result = nil
	if err := s.Store(context.Background(), rec); err != nil {
		t.Fatalf("store should survive two throttles: %v", err)
	}
}

func TestPermanentErrorDoesNotRetry(t *testing.T) {
	permanent := errors.New("syntax error")
	kv := newFlakyKV(1, permanent)
	s := New(kv, blob.NewMemory(), testPolicy())

	rec := savedRecord(t)
	rec.Status = analysis.StatusFailed
	rec.Result = nil
	err := s.Store(context.Background(), rec)
	if !faults.IsKind(err, faults.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if kv.failures != 0 {
		t.Fatalf("failures remaining = %d", kv.failures)
	}
	// The single configured failure consumed the only attempt.
	if _, ok, _ := kv.Get(context.Background(), rec.ID); ok {
		t.Fatalf("record stored despite permanent error")
	}
}

func TestLoadMissingIsNotFound(t *testing.T) {
	s := New(newFlakyKV(0, nil), blob.NewMemory(), testPolicy())
	if _, err := s.Load(context.Background(), "absent"); !faults.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestIsThrottleClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: &smithy.GenericAPIError{Code: "SlowDown"}, want: true},
		{err: &smithy.GenericAPIError{Code: "ThrottlingException"}, want: true},
		{err: &smithy.GenericAPIError{Code: "NoSuchBucket"}, want: false},
		{err: &pgconn.PgError{Code: "53300"}, want: true},
		{err: &pgconn.PgError{Code: "42601"}, want: false},
		{err: errors.New("plain"), want: false},
		{err: nil, want: false},
	}
	for _, tc := range cases {
		if got := IsThrottle(tc.err); got != tc.want {
			t.Fatalf("IsThrottle(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
