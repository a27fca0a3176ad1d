// Package durable provides the production analysis repository: record
// metadata in a transactional key-value table, result payloads offloaded to
// blob storage under a key derived from the job id. Transient throttling
// from either backend retries with backoff; everything else surfaces
// immediately.
package durable

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"zonalcore/internal/analysis"
	"zonalcore/internal/blob"
	"zonalcore/internal/faults"
	"zonalcore/internal/retry"
	"zonalcore/pkg/results"
)

// KV is the minimal transactional key-value contract the store needs.
type KV interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error
}

// Store implements analysis.Repository over a KV and a blob store.
type Store struct {
	kv     KV
	blobs  blob.Store
	policy retry.Policy
}

// New constructs the store. A zero policy disables retries.
func New(kv KV, blobs blob.Store, policy retry.Policy) *Store {
	return &Store{kv: kv, blobs: blobs, policy: policy}
}

func resultKey(id string) string { return "results/" + id + ".json" }

// Load implements analysis.Repository.
func (s *Store) Load(ctx context.Context, id string) (analysis.Record, error) {
	var raw []byte
	var ok bool
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, ok, err = s.kv.Get(ctx, id)
		return err
	})
	if err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindUpstream, err, "load analysis %s", id)
	}
	if !ok {
		return analysis.Record{}, faults.New(faults.KindNotFound, "analysis %s not found", id)
	}
	var rec analysis.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindInternal, err, "decode analysis %s", id)
	}
	if rec.Status != analysis.StatusSaved {
		return rec, nil
	}
	table, err := s.loadResult(ctx, id)
	if err != nil {
		return analysis.Record{}, err
	}
	rec.Result = table
	return rec, nil
}

func (s *Store) loadResult(ctx context.Context, id string) (*results.Table, error) {
	var payload []byte
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		_, rc, err := s.blobs.Get(ctx, resultKey(id))
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		payload, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "load result for analysis %s", id)
	}
	var table results.Table
	if err := json.Unmarshal(payload, &table); err != nil {
		return nil, faults.Wrap(faults.KindInternal, err, "decode result for analysis %s", id)
	}
	return &table, nil
}

// Store implements analysis.Repository. The result blob lands before the
// metadata row, so a saved record is only visible once its result is
// readable.
func (s *Store) Store(ctx context.Context, rec analysis.Record) error {
	if rec.Result != nil {
		payload, err := json.Marshal(rec.Result)
		if err != nil {
			return faults.Wrap(faults.KindInternal, err, "encode result for analysis %s", rec.ID)
		}
		err = s.policy.Do(ctx, func(ctx context.Context) error {
			_, err := s.blobs.Put(ctx, resultKey(rec.ID), bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"})
			return err
		})
		if err != nil {
			return faults.Wrap(faults.KindUpstream, err, "store result for analysis %s", rec.ID)
		}
	}
	meta := rec
	meta.Result = nil
	raw, err := json.Marshal(meta)
	if err != nil {
		return faults.Wrap(faults.KindInternal, err, "encode analysis %s", rec.ID)
	}
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		return s.kv.Put(ctx, rec.ID, raw)
	})
	if err != nil {
		return faults.Wrap(faults.KindUpstream, err, "store analysis %s", rec.ID)
	}
	return nil
}
