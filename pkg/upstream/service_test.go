package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/cargohold/pkg/objectstore"
	"github.com/cuemby/cargohold/pkg/store"
)

type recordingEnqueuer struct {
	updates []string
	incs    []string
}

func (r *recordingEnqueuer) EnqueueUpdate(name, etag, lastModified string) {
	r.updates = append(r.updates, name)
}

func (r *recordingEnqueuer) EnqueueIncDownloadCnt(name, version string) {
	r.incs = append(r.incs, name+"@"+version)
}

func newTestProxy(t *testing.T, indexHandler, downloadHandler http.HandlerFunc) (*Proxy, *recordingEnqueuer) {
	t.Helper()

	mux := http.NewServeMux()
	if indexHandler != nil {
		mux.HandleFunc("/", indexHandler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	downloadMux := http.NewServeMux()
	if downloadHandler != nil {
		downloadMux.HandleFunc("/", downloadHandler)
	}
	downloadSrv := httptest.NewServer(downloadMux)
	t.Cleanup(downloadSrv.Close)

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

	client := NewClient(ClientConfig{IndexURL: srv.URL + "/", DownloadURL: downloadSrv.URL + "/", APIURL: srv.URL + "/api/v1/crates/"})
	enq := &recordingEnqueuer{}
	return New(Config{Store: s, Blobs: facade, Client: client, Queue: enq}), enq
}

func TestPrefetchNotFoundFetchesAndCaches(t *testing.T) {
	body := `{"name":"serde","vers":"1.0.0","deps":[],"cksum":"abc","features":{},"yanked":false}` + "\n"
	proxy, _ := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(body))
	}, nil)

	state, got, err := proxy.Prefetch(context.Background(), "serde", "", "")
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if state != StateNotFound {
		t.Fatalf("expected StateNotFound on first fetch, got %v", state)
	}
	if string(got) != body {
		t.Fatalf("expected returned body to match upstream response, got %q", got)
	}
}

func TestPrefetchUpToDateEnqueuesUpdate(t *testing.T) {
	hits := 0
	proxy, enq := newTestProxy(t, func(w http.ResponseWriter, r *http.Request) {
		// Count index fetches only; the first Prefetch also asks this
		// server's description API for the crate.
		if r.URL.Path != "/api/v1/crates/serde" {
			hits++
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"name":"serde","vers":"1.0.0","deps":[],"cksum":"abc","features":{},"yanked":false}` + "\n"))
	}, nil)
	ctx := context.Background()

	if _, _, err := proxy.Prefetch(ctx, "serde", "", ""); err != nil {
		t.Fatalf("initial Prefetch: %v", err)
	}

	state, _, err := proxy.Prefetch(ctx, "serde", `"v1"`, "")
	if err != nil {
		t.Fatalf("second Prefetch: %v", err)
	}
	if state != StateUpToDate {
		t.Fatalf("expected StateUpToDate, got %v", state)
	}
	if len(enq.updates) != 1 || enq.updates[0] != "serde" {
		t.Fatalf("expected exactly one enqueued update for serde, got %v", enq.updates)
	}
	if hits != 1 {
		t.Fatalf("expected only the first Prefetch to hit upstream, got %d hits", hits)
	}
}

func TestDownloadFetchesOnceAndCaches(t *testing.T) {
	hits := 0
	proxy, enq := newTestProxy(t, nil, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("tarball-data"))
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rc, err := proxy.Download(ctx, "serde", "1.0.0")
		if err != nil {
			t.Fatalf("Download iteration %d: %v", i, err)
		}
		rc.Close()
	}

	if hits != 1 {
		t.Fatalf("expected upstream download to be fetched once, got %d hits", hits)
	}
	if len(enq.incs) != 2 {
		t.Fatalf("expected a download-count message per call, got %v", enq.incs)
	}
}

func TestDownloadMapsUpstream403ToNotFound(t *testing.T) {
	proxy, _ := newTestProxy(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := proxy.Download(context.Background(), "ghost", "1.0.0")
	if err == nil {
		t.Fatal("expected an error for a 403 upstream response")
	}
}
