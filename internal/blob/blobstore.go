// Package blob re-exports the blob storage abstractions and owns backend
// selection. Other packages depend on blob.Store; only this package may
// import the infra implementations.
package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"zonalcore/internal/blob/core"
	"zonalcore/internal/infra/blob/fs"
	"zonalcore/internal/infra/blob/memory"
	"zonalcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// ErrNotExist indicates a missing blob key.
var ErrNotExist = core.ErrNotExist

// NewFilesystem constructs a filesystem-backed store rooted at path.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewMemory constructs an in-memory store for tests.
func NewMemory() Store { return memory.New() }

// NewS3 constructs an S3-backed store from explicit configuration.
func NewS3(ctx context.Context, cfg s3.Config) (Store, error) { return s3.New(ctx, cfg) }

// OpenFromEnv selects a backend from process environment:
//
//	ZONAL_BLOB_DRIVER: fs|s3|memory (default fs)
//	ZONAL_BLOB_FS_ROOT: filesystem root (default ./blobdata)
//	ZONAL_BLOB_S3_BUCKET / _REGION / _ENDPOINT / _PATH_STYLE: s3 settings
//	ZONAL_BLOB_S3_ACCESS_KEY / _SECRET_KEY: optional static credentials
func OpenFromEnv(ctx context.Context) (Store, error) {
	driver := os.Getenv("ZONAL_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fs.New(os.Getenv("ZONAL_BLOB_FS_ROOT"))
	case DriverMemory:
		return memory.New(), nil
	case DriverS3:
		bucket := os.Getenv("ZONAL_BLOB_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("ZONAL_BLOB_S3_BUCKET required for s3 driver")
		}
		return s3.New(ctx, s3.Config{
			Bucket:          bucket,
			Region:          os.Getenv("ZONAL_BLOB_S3_REGION"),
			Endpoint:        os.Getenv("ZONAL_BLOB_S3_ENDPOINT"),
			PathStyle:       strings.EqualFold(os.Getenv("ZONAL_BLOB_S3_PATH_STYLE"), "true"),
			AccessKeyID:     os.Getenv("ZONAL_BLOB_S3_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("ZONAL_BLOB_S3_SECRET_KEY"),
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
