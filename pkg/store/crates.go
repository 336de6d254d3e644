package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

func (s *sqlStore) GetCrate(ctx context.Context, name string) (*types.Crate, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT id, name, description, homepage, repository,
		documentation, downloads, max_version, etag, download_restricted, created_at, updated_at
		FROM crates WHERE name = $1`), name)

	var id int64
	var c types.Crate
	err := row.Scan(&id, &c.Name, &c.Description, &c.Homepage, &c.Repository,
		&c.Documentation, &c.Downloads, &c.MaxVersion, &c.ETag, &c.DownloadRestricted, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regerr.Newf(regerr.NotFound, "crate %s not found", name)
	}
	if err != nil {
		return nil, wrapTransient(err, "getting crate")
	}
	c.ID = strconv.FormatInt(id, 10)
	return &c, nil
}

// PublishVersion inserts the crate row (creating it if this is the
// first version), the version row, and the owner row when ownerLogin
// names a new owner, then recomputes and writes the crate's ETag — all
// within one transaction. A duplicate (crate, version) is reported as
// regerr.AlreadyExists and the transaction is rolled back.
func (s *sqlStore) PublishVersion(ctx context.Context, crate types.Crate, version types.CrateVersion, ownerLogin string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTransient(err, "beginning publish transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var crateID int64
	row := tx.QueryRowContext(ctx, s.q(`SELECT id FROM crates WHERE name = $1`), crate.Name)
	err = row.Scan(&crateID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, s.q(`INSERT INTO crates
			(name, description, homepage, repository, documentation, downloads, max_version, etag, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, '', '', $6, $6)`),
			crate.Name, crate.Description, crate.Homepage, crate.Repository, crate.Documentation, now)
		if err != nil {
			return wrapTransient(err, "inserting crate row")
		}
		crateID, err = res.LastInsertId()
		if err != nil {
			return wrapTransient(err, "reading new crate id")
		}
	case err != nil:
		return wrapTransient(err, "looking up crate")
	}

	featuresJSON, err := json.Marshal(version.Features)
	if err != nil {
		return regerr.Wrap(regerr.Invalid, "encoding features", err)
	}
	depsJSON, err := json.Marshal(version.Deps)
	if err != nil {
		return regerr.Wrap(regerr.Invalid, "encoding dependencies", err)
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO crate_versions
		(crate_id, version, checksum, yanked, license, license_file, links, features, deps, downloads, created_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6, $7, $8, 0, $9)`),
		crateID, version.Version, version.Checksum, version.License, version.LicenseFile,
		version.Links, string(featuresJSON), string(depsJSON), now)
	if err != nil {
		if isUniqueViolation(err) {
			return regerr.Newf(regerr.AlreadyExists, "%s@%s already published", crate.Name, version.Version)
		}
		return wrapTransient(err, "inserting crate version")
	}

	if ownerLogin != "" {
		var userID int64
		row := tx.QueryRowContext(ctx, s.q(`SELECT id FROM users WHERE login = $1`), ownerLogin)
		if err := row.Scan(&userID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return regerr.Newf(regerr.NotFound, "user %s not found", ownerLogin)
			}
			return wrapTransient(err, "looking up owner")
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO owners (crate_id, user_id, added_at)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`), crateID, userID, now)
		if err != nil {
			return wrapTransient(err, "inserting owner row")
		}
	}

	if err := s.recomputeCrateState(ctx, tx, crateID, crate.Name, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapTransient(err, "committing publish transaction")
	}
	return nil
}

func (s *sqlStore) GetVersion(ctx context.Context, crateName, version string) (*types.CrateVersion, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT cv.id, cv.crate_id, cv.version, cv.checksum, cv.yanked,
		cv.yanked_at, cv.license, cv.license_file, cv.links, cv.features, cv.deps, cv.downloads, cv.created_at
		FROM crate_versions cv JOIN crates c ON c.id = cv.crate_id
		WHERE c.name = $1 AND cv.version = $2`), crateName, version)
	return scanVersion(row)
}

func (s *sqlStore) ListVersions(ctx context.Context, crateName string) ([]types.CrateVersion, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT cv.id, cv.crate_id, cv.version, cv.checksum, cv.yanked,
		cv.yanked_at, cv.license, cv.license_file, cv.links, cv.features, cv.deps, cv.downloads, cv.created_at
		FROM crate_versions cv JOIN crates c ON c.id = cv.crate_id
		WHERE c.name = $1`), crateName)
	if err != nil {
		return nil, wrapTransient(err, "listing versions")
	}
	defer rows.Close()

	var out []types.CrateVersion
	for rows.Next() {
		v, err := scanVersionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	sortBySemver(out)
	return out, rows.Err()
}

func (s *sqlStore) YankVersion(ctx context.Context, crateName, version string, yanked bool) error {
	return s.withCrateTx(ctx, crateName, func(tx *sql.Tx, crateID int64, now time.Time) error {
		var yankedAt any
		if yanked {
			yankedAt = now
		}
		res, err := tx.ExecContext(ctx, s.q(`UPDATE crate_versions SET yanked = $1, yanked_at = $2
			WHERE crate_id = $3 AND version = $4`), yanked, yankedAt, crateID, version)
		if err != nil {
			return wrapTransient(err, "yanking version")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return regerr.Newf(regerr.NotFound, "%s@%s not found", crateName, version)
		}
		return nil
	})
}

func (s *sqlStore) DeleteVersion(ctx context.Context, crateName, version string) error {
	return s.withCrateTx(ctx, crateName, func(tx *sql.Tx, crateID int64, now time.Time) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM crate_versions WHERE crate_id = $1 AND version = $2`),
			crateID, version)
		if err != nil {
			return wrapTransient(err, "deleting version")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return regerr.Newf(regerr.NotFound, "%s@%s not found", crateName, version)
		}
		return nil
	})
}

// withCrateTx runs fn inside a transaction scoped to crateName's row,
// recomputing the crate's max_version and etag after fn succeeds — the
// shared shape behind YankVersion and DeleteVersion.
func (s *sqlStore) withCrateTx(ctx context.Context, crateName string, fn func(tx *sql.Tx, crateID int64, now time.Time) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTransient(err, "beginning transaction")
	}
	defer tx.Rollback()

	var crateID int64
	row := tx.QueryRowContext(ctx, s.q(`SELECT id FROM crates WHERE name = $1`), crateName)
	if err := row.Scan(&crateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return regerr.Newf(regerr.NotFound, "crate %s not found", crateName)
		}
		return wrapTransient(err, "looking up crate")
	}

	now := time.Now().UTC()
	if err := fn(tx, crateID, now); err != nil {
		return err
	}
	if err := s.recomputeCrateState(ctx, tx, crateID, crateName, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapTransient(err, "committing transaction")
	}
	return nil
}

// recomputeCrateState rebuilds max_version and etag from the current
// set of version rows, matching the invariant that both are always
// derivable from — and kept consistent with — crate_versions.
func (s *sqlStore) recomputeCrateState(ctx context.Context, tx *sql.Tx, crateID int64, crateName string, now time.Time) error {
	rows, err := tx.QueryContext(ctx, s.q(`SELECT version, checksum, yanked, features, deps, links
		FROM crate_versions WHERE crate_id = $1`), crateID)
	if err != nil {
		return wrapTransient(err, "reading versions for etag")
	}
	defer rows.Close()

	var records []types.Record
	var maxVersion *semver.Version
	for rows.Next() {
		var version, checksum, featuresJSON, depsJSON, links string
		var yanked bool
		if err := rows.Scan(&version, &checksum, &yanked, &featuresJSON, &depsJSON, &links); err != nil {
			return wrapTransient(err, "scanning version row")
		}

		var features map[string][]string
		_ = json.Unmarshal([]byte(featuresJSON), &features)
		var deps []types.Dependency
		_ = json.Unmarshal([]byte(depsJSON), &deps)

		v := 1
		rec := types.Record{
			Name:     crateName,
			Vers:     version,
			Deps:     deps,
			Cksum:    checksum,
			Features: features,
			Yanked:   yanked,
			V:        &v,
		}
		if links != "" {
			l := links
			rec.Links = &l
		}
		records = append(records, rec)

		if !yanked {
			if sv, err := semver.StrictNewVersion(version); err == nil {
				if maxVersion == nil || sv.GreaterThan(maxVersion) {
					maxVersion = sv
				}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return wrapTransient(err, "iterating version rows")
	}

	sort.Slice(records, func(i, j int) bool {
		vi, erri := semver.StrictNewVersion(records[i].Vers)
		vj, errj := semver.StrictNewVersion(records[j].Vers)
		if erri != nil || errj != nil {
			return records[i].Vers < records[j].Vers
		}
		return vi.LessThan(vj)
	})

	serialized, err := types.SerializeRecords(records)
	if err != nil {
		return regerr.Wrap(regerr.Fatal, "serializing index records", err)
	}
	sum := sha256.Sum256(serialized)
	etag := hex.EncodeToString(sum[:])

	maxVersionStr := ""
	if maxVersion != nil {
		maxVersionStr = maxVersion.Original()
	}

	_, err = tx.ExecContext(ctx, s.q(`UPDATE crates SET max_version = $1, etag = $2, updated_at = $3 WHERE id = $4`),
		maxVersionStr, etag, now, crateID)
	if err != nil {
		return wrapTransient(err, "updating crate etag")
	}
	return nil
}

func (s *sqlStore) IncrementDownloads(ctx context.Context, crateName, version string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTransient(err, "beginning download-count transaction")
	}
	defer tx.Rollback()

	var crateID int64
	row := tx.QueryRowContext(ctx, s.q(`SELECT id FROM crates WHERE name = $1`), crateName)
	if err := row.Scan(&crateID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return regerr.Newf(regerr.NotFound, "crate %s not found", crateName)
		}
		return wrapTransient(err, "looking up crate")
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE crates SET downloads = downloads + 1 WHERE id = $1`), crateID); err != nil {
		return wrapTransient(err, "incrementing crate downloads")
	}
	res, err := tx.ExecContext(ctx, s.q(`UPDATE crate_versions SET downloads = downloads + 1
		WHERE crate_id = $1 AND version = $2`), crateID, version)
	if err != nil {
		return wrapTransient(err, "incrementing version downloads")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return regerr.Newf(regerr.NotFound, "%s@%s not found", crateName, version)
	}
	return tx.Commit()
}

func (s *sqlStore) SearchCrates(ctx context.Context, query string, limit int) ([]types.Crate, error) {
	like := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, name, description, homepage, repository,
		documentation, downloads, max_version, etag, download_restricted, created_at, updated_at
		FROM crates WHERE name LIKE $1 OR description LIKE $1
		ORDER BY downloads DESC LIMIT $2`), like, limit)
	if err != nil {
		return nil, wrapTransient(err, "searching crates")
	}
	defer rows.Close()

	var out []types.Crate
	for rows.Next() {
		var id int64
		var c types.Crate
		if err := rows.Scan(&id, &c.Name, &c.Description, &c.Homepage, &c.Repository,
			&c.Documentation, &c.Downloads, &c.MaxVersion, &c.ETag, &c.DownloadRestricted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrapTransient(err, "scanning crate row")
		}
		c.ID = strconv.FormatInt(id, 10)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqlStore) CountCrates(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crates`).Scan(&n)
	if err != nil {
		return 0, wrapTransient(err, "counting crates")
	}
	return n, nil
}

func (s *sqlStore) CountCrateVersions(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crate_versions`).Scan(&n)
	if err != nil {
		return 0, wrapTransient(err, "counting crate versions")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row *sql.Row) (*types.CrateVersion, error) {
	return scanVersionRows(row)
}

func scanVersionRows(row rowScanner) (*types.CrateVersion, error) {
	var id, crateID int64
	var v types.CrateVersion
	var featuresJSON, depsJSON string
	err := row.Scan(&id, &crateID, &v.Version, &v.Checksum, &v.Yanked, &v.YankedAt,
		&v.License, &v.LicenseFile, &v.Links, &featuresJSON, &depsJSON, &v.Downloads, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regerr.New(regerr.NotFound, "crate version not found")
	}
	if err != nil {
		return nil, wrapTransient(err, "scanning crate version")
	}
	v.ID = strconv.FormatInt(id, 10)
	v.CrateID = strconv.FormatInt(crateID, 10)
	_ = json.Unmarshal([]byte(featuresJSON), &v.Features)
	_ = json.Unmarshal([]byte(depsJSON), &v.Deps)
	return &v, nil
}

func sortBySemver(versions []types.CrateVersion) {
	sort.Slice(versions, func(i, j int) bool {
		vi, erri := semver.StrictNewVersion(versions[i].Version)
		vj, errj := semver.StrictNewVersion(versions[j].Version)
		if erri != nil || errj != nil {
			return versions[i].Version < versions[j].Version
		}
		return vi.LessThan(vj)
	})
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

func wrapTransient(err error, message string) error {
	return regerr.Wrap(regerr.Transient, message, err)
}
