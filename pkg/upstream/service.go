package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/cuemby/cargohold/pkg/index"
	"github.com/cuemby/cargohold/pkg/log"
	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
)

// Enqueuer is the narrow slice of pkg/prefetch's worker pool that the
// proxy needs to hand off asynchronous refresh work, kept here instead
// of importing pkg/prefetch directly to avoid a dependency cycle
// (pkg/prefetch imports pkg/upstream for the HTTP client and the shared
// index-apply logic).
type Enqueuer interface {
	EnqueueUpdate(name, etag, lastModified string)
	EnqueueIncDownloadCnt(name, version string)
}

type noopEnqueuer struct{}

func (noopEnqueuer) EnqueueUpdate(string, string, string) {}
func (noopEnqueuer) EnqueueIncDownloadCnt(string, string) {}

// State is the three-way decision the index prefetch makes for a cached
// upstream crate.
type State int

const (
	StateNotFound State = iota
	StateNeedsUpdate
	StateUpToDate
)

// Proxy implements the upstream proxy cache: on-demand index
// prefetch and binary download against a public crates registry,
// populating pkg/store and pkg/objectstore as a side effect.
type Proxy struct {
	store  store.Store
	blobs  *objectstore.Facade
	client *Client
	queue  Enqueuer
}

// Config configures a Proxy.
type Config struct {
	Store  store.Store
	Blobs  *objectstore.Facade
	Client *Client
	Queue  Enqueuer
}

func New(cfg Config) *Proxy {
	queue := cfg.Queue
	if queue == nil {
		queue = noopEnqueuer{}
	}
	return &Proxy{store: cfg.Store, blobs: cfg.Blobs, client: cfg.Client, queue: queue}
}

// Prefetch implements the three-state index prefetch decision described
// for a request carrying the given conditional headers. On StateNotFound
// it has already performed the synchronous upstream fetch and written
// the result; body holds the sparse-index bytes to serve, or is nil when
// upstream itself reported the crate does not exist.
func (p *Proxy) Prefetch(ctx context.Context, name, reqETag, reqLastModified string) (state State, body []byte, err error) {
	cached, err := p.store.GetUpstreamCrate(ctx, name)
	if err != nil && !regerr.Is(err, regerr.NotFound) {
		return StateNotFound, nil, err
	}

	if cached == nil {
		resp, err := p.client.FetchIndex(ctx, index.ShardPath(name), "", "")
		if err != nil {
			if regerr.Is(err, regerr.NotFound) {
				_ = p.store.UpsertUpstreamCrate(ctx, types.UpstreamCrate{
					Name: name, LastRefreshed: time.Now().UTC(), NotFound: true,
				})
			}
			return StateNotFound, nil, err
		}
		if err := ApplyIndexUpdate(ctx, p.store, name, resp); err != nil {
			return StateNotFound, nil, err
		}
		if desc, err := p.client.FetchDescription(ctx, name); err == nil && desc != "" {
			_ = p.store.SetUpstreamDescription(ctx, name, desc)
		}
		return StateNotFound, resp.Body, nil
	}

	if cached.NotFound {
		return StateNotFound, nil, regerr.Newf(regerr.NotFound, "upstream crate %s not found", name)
	}

	upToDate := reqETag != "" && reqETag == cached.ETag
	if !upToDate && reqLastModified != "" && cached.LastModified != "" {
		upToDate = reqLastModified == cached.LastModified
	}

	p.queue.EnqueueUpdate(name, cached.ETag, cached.LastModified)

	body, bodyErr := p.currentIndexBody(ctx, name)
	if bodyErr != nil {
		return StateNotFound, nil, bodyErr
	}
	if upToDate {
		return StateUpToDate, body, nil
	}
	return StateNeedsUpdate, body, nil
}

// currentIndexBody reassembles the sparse-index body for name from the
// records currently stored, in the cargo-required ascending-semver,
// newline-delimited JSON form.
func (p *Proxy) currentIndexBody(ctx context.Context, name string) ([]byte, error) {
	versions, err := p.store.ListUpstreamVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	records := make([]types.Record, 0, len(versions))
	for _, v := range versions {
		rec := types.MinimalRecord(name, v.Version, v.Checksum)
		rec.Yanked = v.Yanked
		records = append(records, rec)
	}
	serialized, err := types.SerializeRecords(records)
	if err != nil {
		return nil, regerr.Wrap(regerr.Fatal, "marshaling upstream index records", err)
	}
	return serialized, nil
}

// Download returns name@version's tarball, fetching and caching it from
// upstream on first request. An IncDownloadCnt message is enqueued on
// success.
func (p *Proxy) Download(ctx context.Context, name, version string) (io.ReadCloser, error) {
	key := objectstore.UpstreamKey(name, version)

	if exists, err := p.blobs.Exists(ctx, key); err == nil && exists {
		rc, err := p.blobs.Get(ctx, key)
		if err == nil {
			p.queue.EnqueueIncDownloadCnt(name, version)
		}
		return rc, err
	}

	rc, err := p.client.FetchCrate(ctx, name, version)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, regerr.Wrap(regerr.Transient, "reading upstream crate body", err)
	}

	if err := p.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		log.WithComponent("upstream").Warn().Err(err).Str("crate", name).Msg("failed to cache upstream crate blob")
	} else {
		_ = p.store.MarkUpstreamVersionCached(ctx, name, version)
	}

	p.queue.EnqueueIncDownloadCnt(name, version)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ApplyIndexUpdate parses resp's raw newline-JSON index body into
// records and writes the upstream crate row plus its versions, shared
// between the synchronous NotFound path here and pkg/prefetch's Update
// handler so the write logic exists once. Each row is written by its own
// store call; the writes are not wrapped in one transaction.
func ApplyIndexUpdate(ctx context.Context, s store.Store, name string, resp *IndexResponse) error {
	if resp.NotModified {
		return nil
	}

	if err := s.UpsertUpstreamCrate(ctx, types.UpstreamCrate{
		Name:          name,
		LastRefreshed: time.Now().UTC(),
		ETag:          resp.ETag,
		LastModified:  resp.LastModified,
		NotFound:      false,
	}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(bytes.NewReader(resp.Body))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec types.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			log.WithComponent("upstream").Warn().Str("crate", name).Msg("skipping malformed upstream index record")
			continue
		}
		if err := s.UpsertUpstreamVersion(ctx, types.UpstreamVersion{
			CrateName: name,
			Version:   rec.Vers,
			Checksum:  rec.Cksum,
			Yanked:    rec.Yanked,
		}); err != nil {
			return err
		}
	}
	return scanner.Err()
}
