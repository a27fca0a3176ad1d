// Package memory provides the in-memory analysis repository used by tests
// and single-process development runs.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"zonalcore/internal/analysis"
	"zonalcore/internal/faults"
)

// Store holds records as encoded JSON so that loads always return
// independent copies.
type Store struct {
	mu   sync.RWMutex
	recs map[string][]byte
}

// New constructs an empty store.
func New() *Store {
	return &Store{recs: make(map[string][]byte)}
}

// Load implements analysis.Repository.
func (s *Store) Load(_ context.Context, id string) (analysis.Record, error) {
	s.mu.RLock()
	raw, ok := s.recs[id]
	s.mu.RUnlock()
	if !ok {
		return analysis.Record{}, faults.New(faults.KindNotFound, "analysis %s not found", id)
	}
	var rec analysis.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindInternal, err, "decode analysis %s", id)
	}
	return rec, nil
}

// Store implements analysis.Repository.
func (s *Store) Store(_ context.Context, rec analysis.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return faults.Wrap(faults.KindInternal, err, "encode analysis %s", rec.ID)
	}
	s.mu.Lock()
	s.recs[rec.ID] = raw
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}
