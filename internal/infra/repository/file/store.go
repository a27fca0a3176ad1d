// Package file provides a filesystem-backed analysis repository. Each record
// splits into a small metadata document and an optional result document;
// both writes are atomic via temp-file-and-rename, result first, so a crash
// never leaves a saved record pointing at a missing result.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"zonalcore/internal/analysis"
	"zonalcore/internal/faults"
	"zonalcore/pkg/results"
)

// Store persists records under a root directory.
type Store struct {
	root string
}

// New constructs a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, faults.New(faults.KindValidation, "file repository requires a root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, faults.Wrap(faults.KindUpstream, err, "create repository root %s", root)
	}
	return &Store{root: root}, nil
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return faults.New(faults.KindValidation, "invalid analysis id %q", id)
	}
	return nil
}

func (s *Store) metaPath(id string) string   { return filepath.Join(s.root, id+".meta.json") }
func (s *Store) resultPath(id string) string { return filepath.Join(s.root, id+".result.json") }

// Load implements analysis.Repository.
func (s *Store) Load(_ context.Context, id string) (analysis.Record, error) {
	if err := checkID(id); err != nil {
		return analysis.Record{}, err
	}
	raw, err := os.ReadFile(s.metaPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return analysis.Record{}, faults.New(faults.KindNotFound, "analysis %s not found", id)
	}
	if err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindUpstream, err, "read analysis %s", id)
	}
	var rec analysis.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindInternal, err, "decode analysis %s", id)
	}
	if rec.Status != analysis.StatusSaved {
		return rec, nil
	}
	res, err := os.ReadFile(s.resultPath(id))
	if err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindInternal, err, "read result for analysis %s", id)
	}
	var table results.Table
	if err := json.Unmarshal(res, &table); err != nil {
		return analysis.Record{}, faults.Wrap(faults.KindInternal, err, "decode result for analysis %s", id)
	}
	rec.Result = &table
	return rec, nil
}

// Store implements analysis.Repository.
func (s *Store) Store(_ context.Context, rec analysis.Record) error {
	if err := checkID(rec.ID); err != nil {
		return err
	}
	if rec.Result != nil {
		res, err := json.Marshal(rec.Result)
		if err != nil {
			return faults.Wrap(faults.KindInternal, err, "encode result for analysis %s", rec.ID)
		}
		if err := s.writeAtomic(s.resultPath(rec.ID), res); err != nil {
			return err
		}
	}
	meta := rec
	meta.Result = nil
	raw, err := json.Marshal(meta)
	if err != nil {
		return faults.Wrap(faults.KindInternal, err, "encode analysis %s", rec.ID)
	}
	return s.writeAtomic(s.metaPath(rec.ID), raw)
}

func (s *Store) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return faults.Wrap(faults.KindUpstream, err, "create temp file in %s", s.root)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.KindUpstream, err, "write %s", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.KindUpstream, err, "close %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return faults.Wrap(faults.KindUpstream, err, "rename into %s", path)
	}
	return nil
}
