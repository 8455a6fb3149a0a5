// Package blob re-exports core blob abstractions and selects a backend.
package blob

import (
	"context"
	"fmt"

	"contribledger/internal/blob/core"
	memorystore "contribledger/internal/infra/blob/memory"
	infraS3 "contribledger/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config re-exports the infra S3 configuration type.
	S3Config = infraS3.Config
)

const (
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrExists indicates a create-only write hit an existing key.
	ErrExists = core.ErrExists
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
)

// NewMemory returns an in-memory blob.Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed blob.Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the in-memory S3 transport mock for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }

// Open selects a blob.Store implementation for the named driver. An empty
// driver selects memory.
func Open(ctx context.Context, driver Driver, s3cfg S3Config) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
