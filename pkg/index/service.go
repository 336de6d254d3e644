package index

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cuemby/cargohold/pkg/metrics"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/types"
)

// Config is the body of /config.json, advertising the download URL
// template, the API base, and whether requests must be authenticated.
type Config struct {
	DownloadURL  string `json:"dl"`
	APIURL       string `json:"api"`
	AuthRequired bool   `json:"auth-required"`
}

// Service serves and mutates a crate's sparse index entries.
type Service struct {
	store  store.Store
	config Config
}

func New(s store.Store, cfg Config) *Service {
	return &Service{store: s, config: cfg}
}

// ConfigJSON renders the /config.json body.
func (s *Service) ConfigJSON() ([]byte, error) {
	return json.Marshal(s.config)
}

// Body is the rendered sparse-index response for one crate: the
// newline-delimited JSON records, its ETag, and the crate's last
// update time for Last-Modified.
type Body struct {
	Records      []byte
	ETag         string
	LastModified time.Time
}

// Get renders the full index body for name. The records are read
// straight from pkg/store; the ETag is whatever pkg/store last
// computed for the crate, so this call does no hashing itself.
func (s *Service) Get(ctx context.Context, name string) (*Body, error) {
	crate, err := s.store.GetCrate(ctx, name)
	if err != nil {
		metrics.IndexRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	versions, err := s.store.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, len(versions))
	for _, v := range versions {
		v1 := 1
		rec := types.Record{
			Name:     name,
			Vers:     v.Version,
			Deps:     v.Deps,
			Cksum:    v.Checksum,
			Features: v.Features,
			Yanked:   v.Yanked,
			V:        &v1,
		}
		if v.Links != "" {
			l := v.Links
			rec.Links = &l
		}
		records = append(records, rec)
	}

	serialized, err := types.SerializeRecords(records)
	if err != nil {
		return nil, err
	}

	metrics.IndexRequestsTotal.WithLabelValues("ok").Inc()
	return &Body{
		Records:      serialized,
		ETag:         crate.ETag,
		LastModified: crate.UpdatedAt,
	}, nil
}

// NotModified reports whether a conditional GET carrying ifNoneMatch
// and/or ifModifiedSince should short-circuit to 304 against the
// current etag/lastModified.
func NotModified(ifNoneMatch, ifModifiedSince string, etag string, lastModified time.Time) bool {
	if ifNoneMatch != "" {
		return matchesETag(ifNoneMatch, etag)
	}
	if ifModifiedSince != "" {
		if t, err := time.Parse(time.RFC1123, ifModifiedSince); err == nil {
			return !lastModified.Truncate(time.Second).After(t)
		}
	}
	return false
}

func matchesETag(header, etag string) bool {
	quoted := `"` + etag + `"`
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimSpace(candidate) == quoted || strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}

// AddVersion records a newly published version and recomputes the
// crate's index state, delegating the transactional work to pkg/store.
func (s *Service) AddVersion(ctx context.Context, crate types.Crate, version types.CrateVersion, ownerLogin string) error {
	return s.store.PublishVersion(ctx, crate, version, ownerLogin)
}

// Yank flips a version's yanked flag and recomputes the crate's ETag.
func (s *Service) Yank(ctx context.Context, name, version string, yanked bool) error {
	return s.store.YankVersion(ctx, name, version, yanked)
}

// Delete hard-deletes a version and recomputes the crate's ETag. The
// crate row itself is retained even if this removes the last version.
func (s *Service) Delete(ctx context.Context, name, version string) error {
	return s.store.DeleteVersion(ctx, name, version)
}
