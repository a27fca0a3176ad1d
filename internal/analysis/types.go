// Package analysis orchestrates zonal statistics jobs: deterministic job
// identity, idempotent submission, asynchronous execution, and durable
// terminal records.
package analysis

import (
	"encoding/json"
	"time"

	"zonalcore/internal/faults"
	"zonalcore/internal/geo"
	"zonalcore/internal/query"
	"zonalcore/pkg/results"
)

// Status is the lifecycle state of a job record. Saved and failed are
// terminal; a record never leaves a terminal state.
type Status string

const (
	StatusPending Status = "pending"
	StatusSaved   Status = "saved"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s == StatusSaved || s == StatusFailed }

// Request is the client-facing job payload: one AOI and one query.
type Request struct {
	AOI   geo.AOI
	Query query.DatasetQuery
}

type requestWire struct {
	AOI   json.RawMessage    `json:"aoi"`
	Query query.DatasetQuery `json:"query"`
}

// MarshalJSON implements json.Marshaler with a stable field order, which the
// job identity depends on.
func (r Request) MarshalJSON() ([]byte, error) {
	aoi, err := json.Marshal(r.AOI)
	if err != nil {
		return nil, err
	}
	return json.Marshal(requestWire{AOI: aoi, Query: r.Query})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Request) UnmarshalJSON(b []byte) error {
	var w requestWire
	if err := json.Unmarshal(b, &w); err != nil {
		return faults.Wrap(faults.KindValidation, err, "decode request")
	}
	aoi, err := geo.DecodeAOI(w.AOI)
	if err != nil {
		return err
	}
	r.AOI = aoi
	r.Query = w.Query
	return nil
}

// Record is the durable job state. Store always replaces the whole record.
type Record struct {
	ID        string         `json:"id"`
	Request   Request        `json:"request"`
	Status    Status         `json:"status"`
	Result    *results.Table `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind faults.Kind    `json:"error_kind,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
