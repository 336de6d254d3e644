package prefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
	"github.com/cuemby/cargohold/pkg/upstream"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestPool(t *testing.T, indexHandler http.HandlerFunc) (*Pool, store.Store) {
	t.Helper()

	srv := httptest.NewServer(indexHandler)
	t.Cleanup(srv.Close)

	s, err := store.Open("sqlite", "file::memory:?cache=shared", 1)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fs, err := objectstore.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	facade, err := objectstore.NewFacade(fs, "fs", 8, 1<<20)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}

	client := upstream.NewClient(upstream.ClientConfig{IndexURL: srv.URL + "/"})
	pool := New(Config{
		Store:              s,
		Blobs:              facade,
		Client:             client,
		NumWorkers:         2,
		UpdateCacheTimeout: time.Hour,
		UpdateInterval:     time.Hour,
	})
	ctx := context.Background()
	pool.Start(ctx)
	t.Cleanup(pool.Stop)
	return pool, s
}

func TestUpdateMessageWritesStore(t *testing.T) {
	body := `{"name":"serde","vers":"1.0.0","deps":[],"cksum":"abc","features":{},"yanked":false}` + "\n"
	pool, s := newTestPool(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(body))
	})

	pool.EnqueueUpdate("serde", "", "")

	waitFor(t, time.Second, func() bool {
		c, err := s.GetUpstreamCrate(context.Background(), "serde")
		return err == nil && c.ETag == `"v1"`
	})
}

func TestUpdateMessageCoalescesWithinWindow(t *testing.T) {
	hits := 0
	pool, _ := newTestPool(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"name":"serde","vers":"1.0.0","deps":[],"cksum":"abc","features":{},"yanked":false}` + "\n"))
	})

	pool.EnqueueUpdate("serde", "", "")
	waitFor(t, time.Second, func() bool { return hits == 1 })

	pool.EnqueueUpdate("serde", "", "")
	time.Sleep(50 * time.Millisecond)
	if hits != 1 {
		t.Fatalf("expected coalescing to suppress the second update, got %d hits", hits)
	}
}

func TestIncDownloadCntIncrementsCounter(t *testing.T) {
	pool, s := newTestPool(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(""))
	})
	ctx := context.Background()

	if err := s.UpsertUpstreamCrate(ctx, types.UpstreamCrate{Name: "serde", LastRefreshed: time.Now().UTC()}); err != nil {
		t.Fatalf("seed upstream crate: %v", err)
	}

	pool.EnqueueIncDownloadCnt("serde", "1.0.0")

	waitFor(t, time.Second, func() bool {
		c, err := s.GetUpstreamCrate(ctx, "serde")
		return err == nil && c.Downloads == 1
	})
}
