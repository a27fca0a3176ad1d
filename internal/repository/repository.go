// Package repository owns analysis repository backend selection. Other
// packages depend on analysis.Repository; only this package may import the
// infra implementations.
package repository

import (
	"context"
	"fmt"
	"os"

	"zonalcore/internal/analysis"
	"zonalcore/internal/blob"
	"zonalcore/internal/infra/repository/durable"
	"zonalcore/internal/infra/repository/file"
	"zonalcore/internal/infra/repository/memory"
	"zonalcore/internal/retry"
)

// Driver identifies a repository backend.
type Driver string

const (
	// DriverFile is the filesystem backend (default, dev).
	DriverFile Driver = "file"
	// DriverDurable is the Postgres-plus-blob production backend.
	DriverDurable Driver = "durable"
	// DriverMemory is the in-memory test backend.
	DriverMemory Driver = "memory"
)

// NewFile constructs a filesystem-backed repository rooted at root.
func NewFile(root string) (analysis.Repository, error) { return file.New(root) }

// NewMemory constructs an in-memory repository for tests.
func NewMemory() analysis.Repository { return memory.New() }

// NewDurable constructs the production repository over a KV and blob store.
func NewDurable(kv durable.KV, blobs blob.Store) analysis.Repository {
	return durable.New(kv, blobs, retry.DefaultPolicy(durable.IsThrottle))
}

// OpenFromEnv selects a backend from process environment:
//
//	ZONAL_REPO_DRIVER: file|durable|memory (default file)
//	ZONAL_REPO_FILE_ROOT: filesystem root (default ./analyses)
//	ZONAL_REPO_POSTGRES_DSN: durable metadata database
//
// The durable driver offloads result payloads to blobs.
func OpenFromEnv(ctx context.Context, blobs blob.Store) (analysis.Repository, error) {
	driver := os.Getenv("ZONAL_REPO_DRIVER")
	if driver == "" {
		driver = string(DriverFile)
	}
	switch Driver(driver) {
	case DriverFile:
		root := os.Getenv("ZONAL_REPO_FILE_ROOT")
		if root == "" {
			root = "analyses"
		}
		return file.New(root)
	case DriverMemory:
		return memory.New(), nil
	case DriverDurable:
		dsn := os.Getenv("ZONAL_REPO_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("ZONAL_REPO_POSTGRES_DSN required for durable driver")
		}
		kv, err := durable.NewPostgresKV(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return NewDurable(kv, blobs), nil
	default:
		return nil, fmt.Errorf("unknown repository driver %s", driver)
	}
}
