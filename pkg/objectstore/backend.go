package objectstore

import (
	"context"
	"io"
)

// Backend stores and retrieves opaque blobs by key. Keys are produced by
// the caller (pkg/publish, pkg/upstream) from a crate name and version,
// e.g. "<name>/<name>-<version>.crate".
type Backend interface {
	// Put stores data under key, overwriting any existing value.
	Put(ctx context.Context, key string, data io.Reader, size int64) error

	// Get returns a reader for the blob stored under key. The caller
	// must close the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key has a stored blob.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the blob stored under key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, key string) error
}
