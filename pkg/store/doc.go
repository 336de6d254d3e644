/*
Package store implements cargohold's relational store: normalized
crate/version metadata, ownership, users, tokens, sessions, the upstream
proxy cache's freshness bookkeeping, and webhook delivery state.

Store is a capability interface over database/sql, so pkg/publish,
pkg/index, pkg/auth, pkg/upstream, and pkg/webhook never see a backend-
specific type. Two drivers satisfy it in practice:

  - modernc.org/sqlite, a pure-Go, cgo-free SQLite — the default for a
    single-node deployment, opened against a file under the configured
    data directory.
  - github.com/jackc/pgx/v5/stdlib, for deployments that want the store
    on a separate, horizontally scalable Postgres instance.

Publish, yank, and hard-delete each run inside a single transaction:
the crate row (or a pre-existing one), the version row with its
dependency list, the owner row, and the crate's recomputed ETag are all committed
together or not at all, matching the all-or-nothing requirement on
index mutations. Transient backend faults (connection acquire,
deadlock) are reported as regerr.Transient so idempotent callers (token
lookup, upstream refresh) can retry with their own count and delay;
publish itself is never retried automatically.
*/
package store
