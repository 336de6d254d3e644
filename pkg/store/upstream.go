package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

func (s *sqlStore) GetUpstreamCrate(ctx context.Context, name string) (*types.UpstreamCrate, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT name, last_refreshed, etag, last_modified, not_found, downloads, description
		FROM upstream_crates WHERE name = $1`), name)

	var c types.UpstreamCrate
	err := row.Scan(&c.Name, &c.LastRefreshed, &c.ETag, &c.LastModified, &c.NotFound, &c.Downloads, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regerr.Newf(regerr.NotFound, "upstream crate %s not cached", name)
	}
	if err != nil {
		return nil, wrapTransient(err, "getting upstream crate")
	}
	return &c, nil
}

// SetUpstreamDescription persists a best-effort description fetched from
// the upstream API the first time a crate is cached. A missing row is
// not an error; the update then changes nothing.
func (s *sqlStore) SetUpstreamDescription(ctx context.Context, name, description string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE upstream_crates SET description = $1 WHERE name = $2`), description, name)
	if err != nil {
		return wrapTransient(err, "setting upstream crate description")
	}
	return nil
}

// IncrementUpstreamDownloads bumps the download counter for a mirrored
// crate, best-effort: a missing row (never prefetched, counted anyway by
// a stray download message) is not an error.
func (s *sqlStore) IncrementUpstreamDownloads(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE upstream_crates SET downloads = downloads + 1 WHERE name = $1`), name)
	if err != nil {
		return wrapTransient(err, "incrementing upstream downloads")
	}
	return nil
}

func (s *sqlStore) UpsertUpstreamCrate(ctx context.Context, crate types.UpstreamCrate) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO upstream_crates (name, last_refreshed, etag, last_modified, not_found)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET last_refreshed = $2, etag = $3, last_modified = $4, not_found = $5`),
		crate.Name, crate.LastRefreshed, crate.ETag, crate.LastModified, crate.NotFound)
	if err != nil {
		return wrapTransient(err, "upserting upstream crate")
	}
	return nil
}

func (s *sqlStore) UpsertUpstreamVersion(ctx context.Context, version types.UpstreamVersion) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO upstream_versions (crate_name, version, checksum, yanked, cached_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (crate_name, version) DO UPDATE SET checksum = $3, yanked = $4`),
		version.CrateName, version.Version, version.Checksum, version.Yanked, nilableTime(version.CachedAt))
	if err != nil {
		return wrapTransient(err, "upserting upstream version")
	}
	return nil
}

// ListUpstreamVersions returns every cached version record for a mirrored
// crate, used to reassemble its sparse-index body from storage.
func (s *sqlStore) ListUpstreamVersions(ctx context.Context, crateName string) ([]types.UpstreamVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT crate_name, version, checksum, yanked, cached_at
		FROM upstream_versions WHERE crate_name = $1 ORDER BY version ASC`), crateName)
	if err != nil {
		return nil, wrapTransient(err, "listing upstream versions")
	}
	defer rows.Close()

	var out []types.UpstreamVersion
	for rows.Next() {
		var v types.UpstreamVersion
		var cachedAt sql.NullTime
		if err := rows.Scan(&v.CrateName, &v.Version, &v.Checksum, &v.Yanked, &cachedAt); err != nil {
			return nil, wrapTransient(err, "scanning upstream version")
		}
		if cachedAt.Valid {
			v.CachedAt = cachedAt.Time
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		vi, erri := semver.StrictNewVersion(out[i].Version)
		vj, errj := semver.StrictNewVersion(out[j].Version)
		if erri != nil || errj != nil {
			return out[i].Version < out[j].Version
		}
		return vi.LessThan(vj)
	})
	return out, nil
}

func (s *sqlStore) MarkUpstreamVersionCached(ctx context.Context, crateName, version string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE upstream_versions SET cached_at = $1
		WHERE crate_name = $2 AND version = $3`), time.Now().UTC(), crateName, version)
	if err != nil {
		return wrapTransient(err, "marking upstream version cached")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.Newf(regerr.NotFound, "upstream version %s@%s not found", crateName, version)
	}
	return nil
}

// ListStaleUpstreamCrates returns up to limit crate names whose cache
// entry was last refreshed before olderThan, ordered least-recently-
// refreshed first — the heuristic the prefetch background sweep uses to
// pick what to refresh next.
func (s *sqlStore) ListStaleUpstreamCrates(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT name FROM upstream_crates
		WHERE last_refreshed < $1 AND not_found = FALSE
		ORDER BY last_refreshed ASC LIMIT $2`), olderThan, limit)
	if err != nil {
		return nil, wrapTransient(err, "listing stale upstream crates")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapTransient(err, "scanning stale upstream crate")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func nilableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
