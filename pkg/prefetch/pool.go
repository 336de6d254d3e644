package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/cargohold/pkg/index"
	"github.com/cuemby/cargohold/pkg/log"
	"github.com/cuemby/cargohold/pkg/metrics"
	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/upstream"
)

// message is the sum type drained by the worker pool. Exactly one of the
// two constructor functions below is used to build each value.
type message struct {
	kind         messageKind
	name         string
	version      string
	etag         string
	lastModified string
}

type messageKind int

const (
	kindUpdate messageKind = iota
	kindIncDownloadCnt
)

func updateMessage(name, etag, lastModified string) message {
	return message{kind: kindUpdate, name: name, etag: etag, lastModified: lastModified}
}

func incDownloadMessage(name, version string) message {
	return message{kind: kindIncDownloadCnt, name: name, version: version}
}

// Config configures a Pool.
type Config struct {
	Store  store.Store
	Blobs  *objectstore.Facade
	Client *upstream.Client

	// NumWorkers is the fixed number of goroutines draining the queue.
	NumWorkers int

	// UpdateCacheTimeout is the minimum time between two outbound
	// conditional-GETs for the same crate name.
	UpdateCacheTimeout time.Duration

	// UpdateInterval is how often the background sweep looks for stale
	// upstream crates to refresh.
	UpdateInterval time.Duration

	// StaleAfter marks an upstream crate as due for a background
	// refresh once this long has passed since it was last refreshed.
	StaleAfter time.Duration

	// DownloadOnUpdate, when true, pre-downloads every version's
	// tarball into the object store right after a successful index
	// insert/update, skipping blobs that already exist.
	DownloadOnUpdate bool

	// SweepBatchSize caps how many stale crates one background sweep
	// enqueues, so a large backlog does not flood the queue in a single
	// tick. Defaults to 500.
	SweepBatchSize int
}

// Pool is the fixed worker pool draining prefetch messages. It
// satisfies upstream.Enqueuer so pkg/upstream's synchronous request path
// can hand off asynchronous refresh work without importing this package.
type Pool struct {
	cfg   Config
	queue chan message

	mu        sync.Mutex
	refreshed map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.UpdateCacheTimeout <= 0 {
		cfg.UpdateCacheTimeout = 30 * time.Minute
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 2 * time.Hour
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.UpdateInterval
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 500
	}
	return &Pool{
		cfg:       cfg,
		queue:     make(chan message, 1024),
		refreshed: make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the fixed worker pool plus the background sweep loop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.wg.Add(1)
	go p.sweepLoop(ctx)
}

// Stop signals the pool to shut down and waits for its goroutines to
// exit. It does not drain the queue; messages still buffered are lost.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// EnqueueUpdate satisfies upstream.Enqueuer.
func (p *Pool) EnqueueUpdate(name, etag, lastModified string) {
	p.enqueue(updateMessage(name, etag, lastModified))
}

// EnqueueIncDownloadCnt satisfies upstream.Enqueuer.
func (p *Pool) EnqueueIncDownloadCnt(name, version string) {
	p.enqueue(incDownloadMessage(name, version))
}

func (p *Pool) enqueue(m message) {
	select {
	case p.queue <- m:
		metrics.PrefetchQueueDepth.Set(float64(len(p.queue)))
	case <-p.stopCh:
	default:
		// Queue is deep enough that dropping a low-value message (most
		// often a coalesced IncDownloadCnt) beats blocking the caller.
		log.WithComponent("prefetch").Warn().Str("crate", m.name).Msg("prefetch queue full, dropping message")
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.queue:
			metrics.PrefetchQueueDepth.Set(float64(len(p.queue)))
			p.handle(ctx, m)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) handle(ctx context.Context, m message) {
	switch m.kind {
	case kindUpdate:
		p.handleUpdate(ctx, m)
	case kindIncDownloadCnt:
		p.handleIncDownloadCnt(ctx, m)
	}
}

func (p *Pool) handleUpdate(ctx context.Context, m message) {
	if p.withinCoalesceWindow(m.name) {
		return
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := p.cfg.Client.FetchIndex(ctx, index.ShardPath(m.name), m.etag, m.lastModified)
		if err == nil {
			p.markRefreshed(m.name)
			if resp.NotModified {
				return
			}
			if err := upstream.ApplyIndexUpdate(ctx, p.cfg.Store, m.name, resp); err != nil {
				log.WithComponent("prefetch").Error().Err(err).Str("crate", m.name).Msg("failed to apply prefetch update")
				return
			}
			if p.cfg.DownloadOnUpdate {
				p.predownload(ctx, m.name)
			}
			return
		}
		lastErr = err
		if !regerr.Is(err, regerr.Transient) {
			log.WithComponent("prefetch").Warn().Err(err).Str("crate", m.name).Msg("prefetch update failed, not retrying")
			return
		}
	}
	log.WithComponent("prefetch").Error().Err(lastErr).Str("crate", m.name).Msg("prefetch update exhausted retries")
}

func (p *Pool) handleIncDownloadCnt(ctx context.Context, m message) {
	if err := p.cfg.Store.IncrementUpstreamDownloads(ctx, m.name); err != nil {
		log.WithComponent("prefetch").Warn().Err(err).Str("crate", m.name).Msg("failed to record upstream download")
	}
}

// predownload fetches each known version's tarball into the object
// store, skipping ones already cached. Failures are logged, never
// retried — this is a best-effort warm-up, not part of the contract a
// client request depends on.
func (p *Pool) predownload(ctx context.Context, name string) {
	versions, err := p.cfg.Store.ListUpstreamVersions(ctx, name)
	if err != nil {
		log.WithComponent("prefetch").Warn().Err(err).Str("crate", name).Msg("failed to list versions for predownload")
		return
	}
	for _, v := range versions {
		key := objectstore.UpstreamKey(name, v.Version)
		exists, err := p.cfg.Blobs.Exists(ctx, key)
		if err != nil || exists {
			continue
		}
		rc, err := p.cfg.Client.FetchCrate(ctx, name, v.Version)
		if err != nil {
			log.WithComponent("prefetch").Warn().Err(err).Str("crate", name).Str("version", v.Version).Msg("predownload fetch failed")
			continue
		}
		err = p.cfg.Blobs.Put(ctx, key, rc, -1)
		rc.Close()
		if err != nil {
			log.WithComponent("prefetch").Warn().Err(err).Str("crate", name).Str("version", v.Version).Msg("predownload store failed")
			continue
		}
		_ = p.cfg.Store.MarkUpstreamVersionCached(ctx, name, v.Version)
	}
}

func (p *Pool) withinCoalesceWindow(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.refreshed[name]
	return ok && time.Since(last) < p.cfg.UpdateCacheTimeout
}

func (p *Pool) markRefreshed(name string) {
	p.mu.Lock()
	p.refreshed[name] = time.Now()
	p.mu.Unlock()
}

// sweepLoop periodically enqueues Update messages for the
// least-recently-refreshed upstream crates.
func (p *Pool) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	names, err := p.cfg.Store.ListStaleUpstreamCrates(ctx, time.Now().Add(-p.cfg.StaleAfter), p.cfg.SweepBatchSize)
	if err != nil {
		log.WithComponent("prefetch").Error().Err(err).Msg("background sweep failed to list stale upstream crates")
		return
	}
	for _, name := range names {
		crate, err := p.cfg.Store.GetUpstreamCrate(ctx, name)
		if err != nil {
			continue
		}
		p.EnqueueUpdate(name, crate.ETag, crate.LastModified)
	}
}
