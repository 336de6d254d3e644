package store

import (
	"context"
	"fmt"
)

// ensureSchema creates every table the store needs if it is not already
// present. Schema migrations proper are out of scope for the core; a
// fresh deployment or an already-migrated one both converge here since
// every statement is CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS.
func (s *sqlStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS crates (
			id %s,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			homepage TEXT NOT NULL DEFAULT '',
			repository TEXT NOT NULL DEFAULT '',
			documentation TEXT NOT NULL DEFAULT '',
			downloads BIGINT NOT NULL DEFAULT 0,
			max_version TEXT NOT NULL DEFAULT '',
			etag TEXT NOT NULL DEFAULT '',
			download_restricted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, s.autoID()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS crate_versions (
			id %s,
			crate_id BIGINT NOT NULL REFERENCES crates(id),
			version TEXT NOT NULL,
			checksum TEXT NOT NULL,
			yanked BOOLEAN NOT NULL DEFAULT FALSE,
			yanked_at TIMESTAMP,
			license TEXT NOT NULL DEFAULT '',
			license_file TEXT NOT NULL DEFAULT '',
			links TEXT NOT NULL DEFAULT '',
			features TEXT NOT NULL DEFAULT '{}',
			deps TEXT NOT NULL DEFAULT '[]',
			downloads BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(crate_id, version)
		)`, s.autoID()),
		`CREATE INDEX IF NOT EXISTS idx_crate_versions_crate ON crate_versions(crate_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			login TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_read_only BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`, s.autoID()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS owners (
			id %s,
			crate_id BIGINT NOT NULL REFERENCES crates(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			added_at TIMESTAMP NOT NULL,
			UNIQUE(crate_id, user_id)
		)`, s.autoID()),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS groups (
			id %s,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`, s.autoID()),

		`CREATE TABLE IF NOT EXISTS group_members (
			group_id BIGINT NOT NULL REFERENCES groups(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			PRIMARY KEY (group_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS crate_access_users (
			crate_id BIGINT NOT NULL REFERENCES crates(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			PRIMARY KEY (crate_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS crate_access_groups (
			crate_id BIGINT NOT NULL REFERENCES crates(id),
			group_id BIGINT NOT NULL REFERENCES groups(id),
			PRIMARY KEY (crate_id, group_id)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tokens (
			id %s,
			user_id BIGINT NOT NULL REFERENCES users(id),
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			hash TEXT NOT NULL UNIQUE,
			prefix TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP,
			expires_at TIMESTAMP,
			revoked BOOLEAN NOT NULL DEFAULT FALSE
		)`, s.autoID()),
		`CREATE INDEX IF NOT EXISTS idx_tokens_hash ON tokens(hash)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS upstream_crates (
			name TEXT PRIMARY KEY,
			last_refreshed TIMESTAMP NOT NULL,
			etag TEXT NOT NULL DEFAULT '',
			last_modified TEXT NOT NULL DEFAULT '',
			not_found BOOLEAN NOT NULL DEFAULT FALSE,
			downloads BIGINT NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT ''
		)`),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS upstream_versions (
			crate_name TEXT NOT NULL,
			version TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			yanked BOOLEAN NOT NULL DEFAULT FALSE,
			cached_at TIMESTAMP,
			PRIMARY KEY (crate_name, version)
		)`),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS webhooks (
			id %s,
			crate_id BIGINT REFERENCES crates(id),
			url TEXT NOT NULL,
			secret_enc %s NOT NULL,
			events TEXT NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL
		)`, s.autoID(), s.blobType()),
		`CREATE INDEX IF NOT EXISTS idx_webhooks_crate ON webhooks(crate_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id %s,
			webhook_id BIGINT NOT NULL REFERENCES webhooks(id),
			event TEXT NOT NULL,
			payload %s NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_status INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			delivered_at TIMESTAMP,
			next_attempt TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, s.autoID(), s.blobType()),
		`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_pending ON webhook_deliveries(next_attempt) WHERE delivered_at IS NULL`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w\n%s", err, stmt)
		}
	}
	return nil
}
