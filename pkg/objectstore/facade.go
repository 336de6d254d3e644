package objectstore

import (
	"bytes"
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/cargohold/pkg/metrics"
)

// Facade wraps a Backend with an in-process LRU cache of small blobs, so
// repeated downloads of a popular crate version don't all round-trip to
// the backend. Blobs above cacheMaxBytes bypass the cache entirely —
// caching large tarballs in memory would defeat the point of bounding
// cache size.
type Facade struct {
	backend       Backend
	cache         *lru.Cache[string, []byte]
	cacheMaxBytes int64
	backendName   string
}

// NewFacade wraps backend with an LRU cache holding up to cacheEntries
// blobs, none larger than cacheMaxBytes.
func NewFacade(backend Backend, backendName string, cacheEntries int, cacheMaxBytes int64) (*Facade, error) {
	cache, err := lru.New[string, []byte](cacheEntries)
	if err != nil {
		return nil, err
	}
	return &Facade{
		backend:       backend,
		cache:         cache,
		cacheMaxBytes: cacheMaxBytes,
		backendName:   backendName,
	}, nil
}

// Put stores data under key and invalidates any cached copy.
func (f *Facade) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ObjectStoreOpDuration, "put", f.backendName)

	f.cache.Remove(key)
	return f.backend.Put(ctx, key, data, size)
}

// Get returns the blob stored under key, serving from cache when present.
func (f *Facade) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if data, ok := f.cache.Get(key); ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	timer := metrics.NewTimer()
	rc, err := f.backend.Get(ctx, key)
	timer.ObserveDurationVec(metrics.ObjectStoreOpDuration, "get", f.backendName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) <= f.cacheMaxBytes {
		f.cache.Add(key, data)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists reports whether key has a stored blob.
func (f *Facade) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := f.cache.Get(key); ok {
		return true, nil
	}
	return f.backend.Exists(ctx, key)
}

// Delete removes the blob stored under key from both the cache and the backend.
func (f *Facade) Delete(ctx context.Context, key string) error {
	f.cache.Remove(key)
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ObjectStoreOpDuration, "delete", f.backendName)
	return f.backend.Delete(ctx, key)
}

// CrateKey builds the object store key for a crate tarball.
func CrateKey(name, version string) string {
	return name + "/" + name + "-" + version + ".crate"
}

// UpstreamKey builds the object store key for a cached upstream crate
// tarball, kept in a separate namespace from locally published crates.
func UpstreamKey(name, version string) string {
	return "upstream/" + name + "/" + name + "-" + version + ".crate"
}
