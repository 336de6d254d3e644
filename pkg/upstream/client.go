package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/cargohold/pkg/metrics"
	"github.com/cuemby/cargohold/pkg/regerr"
)

// Client talks to a public crates registry's sparse index and download
// endpoints over plain HTTP, carrying a per-call timeout.
type Client struct {
	httpClient  *http.Client
	indexURL    string // e.g. "https://index.crates.io/"
	downloadURL string // e.g. "https://static.crates.io/crates/"
	apiURL      string // e.g. "https://crates.io/api/v1/crates/"
	userAgent   string
}

// ClientConfig configures a Client. Zero-value URLs fall back to the
// public crates.io endpoints.
type ClientConfig struct {
	IndexURL    string
	DownloadURL string
	APIURL      string
	UserAgent   string
	Timeout     time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	indexURL := cfg.IndexURL
	if indexURL == "" {
		indexURL = "https://index.crates.io/"
	}
	downloadURL := cfg.DownloadURL
	if downloadURL == "" {
		downloadURL = "https://static.crates.io/crates/"
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "https://crates.io/api/v1/crates/"
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "cargohold/registry-proxy"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		indexURL:    indexURL,
		downloadURL: downloadURL,
		apiURL:      apiURL,
		userAgent:   userAgent,
	}
}

// IndexResponse is the result of a sparse index fetch.
type IndexResponse struct {
	NotModified  bool
	Body         []byte
	ETag         string
	LastModified string
}

// FetchIndex performs a conditional GET of name's sparse index entry.
// etag and lastModified may be empty for an unconditional fetch.
func (c *Client) FetchIndex(ctx context.Context, shardPath, etag, lastModified string) (*IndexResponse, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UpstreamFetchDuration, "index")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexURL+shardPath, nil)
	if err != nil {
		metrics.UpstreamFetchTotal.WithLabelValues("index", "error").Inc()
		return nil, regerr.Wrap(regerr.Fatal, "building upstream index request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamFetchTotal.WithLabelValues("index", "transient").Inc()
		return nil, regerr.Wrap(regerr.Transient, "fetching upstream index", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		metrics.UpstreamFetchTotal.WithLabelValues("index", "not_modified").Inc()
		return &IndexResponse{NotModified: true}, nil
	case http.StatusNotFound, http.StatusGone, 451:
		metrics.UpstreamFetchTotal.WithLabelValues("index", "not_found").Inc()
		return nil, regerr.Newf(regerr.NotFound, "upstream has no index for this crate")
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			metrics.UpstreamFetchTotal.WithLabelValues("index", "error").Inc()
			return nil, regerr.Wrap(regerr.Transient, "reading upstream index body", err)
		}
		metrics.UpstreamFetchTotal.WithLabelValues("index", "ok").Inc()
		return &IndexResponse{
			Body:         body,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, nil
	default:
		metrics.UpstreamFetchTotal.WithLabelValues("index", "error").Inc()
		return nil, regerr.Newf(regerr.Transient, "upstream index returned status %d", resp.StatusCode)
	}
}

// FetchCrate downloads name@version's tarball using the shard path
// "{name}/{version}/download". Upstream 404 and 403 both mean "no such
// crate" by crates.io convention, and are surfaced identically here.
func (c *Client) FetchCrate(ctx context.Context, name, version string) (io.ReadCloser, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.UpstreamFetchDuration, "crate")

	url := c.downloadURL + name + "/" + version + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.UpstreamFetchTotal.WithLabelValues("crate", "error").Inc()
		return nil, regerr.Wrap(regerr.Fatal, "building upstream download request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamFetchTotal.WithLabelValues("crate", "transient").Inc()
		return nil, regerr.Wrap(regerr.Transient, "fetching upstream crate", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		metrics.UpstreamFetchTotal.WithLabelValues("crate", "ok").Inc()
		return resp.Body, nil
	case http.StatusNotFound, http.StatusForbidden:
		resp.Body.Close()
		metrics.UpstreamFetchTotal.WithLabelValues("crate", "not_found").Inc()
		return nil, regerr.Newf(regerr.NotFound, "upstream crate %s@%s not found", name, version)
	default:
		resp.Body.Close()
		metrics.UpstreamFetchTotal.WithLabelValues("crate", "error").Inc()
		return nil, regerr.Newf(regerr.Transient, "upstream download returned status %d", resp.StatusCode)
	}
}

// FetchDescription fetches a crate's description from the upstream
// public API. Failure here is always meant to be swallowed by the
// caller — it is a best-effort enrichment, never load-bearing.
func (c *Client) FetchDescription(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+name, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", regerr.Newf(regerr.Transient, "upstream description API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Crate struct {
			Description *string `json:"description"`
		} `json:"crate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Crate.Description == nil {
		return "", nil
	}
	return *payload.Crate.Description, nil
}
