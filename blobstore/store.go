// Package blobstore abstracts where trained model artifacts live: local
// filesystem, in-memory (tests), or object storage (S3, MinIO).
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an artifact does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store reads and writes immutable model artifacts by key.
type Store interface {
	// Put writes the artifact, replacing any previous content.
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens the artifact for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, key string) (bool, error)
}
