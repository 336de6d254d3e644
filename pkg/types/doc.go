/*
Package types defines the core data structures shared across cargohold.

This package contains the domain model used by every other package: the
crates and versions held by the registry, ownership edges, accounts and
tokens, the upstream mirror's cached view of crates.io, and the wire
records exchanged with cargo itself.

# Core Types

Crate Storage:
  - Crate: a published package name and its metadata
  - CrateVersion: one published version of a crate, including its checksum
    and yanked state
  - Ownership: the many-to-many edge between users and crates

Accounts:
  - User: a registry account
  - Token: an API token belonging to a user, stored only as a hash
  - Session: a browser login session, referenced by a signed cookie

Upstream Mirror:
  - UpstreamCrate: the locally cached state of a crate backed by an
    upstream registry
  - UpstreamVersion: one version within an UpstreamCrate's cached index

Wire Formats:
  - Dependency: one dependency entry in a sparse index record
  - Record: the sparse index line written for a single crate version
  - PublishMetadata: the JSON metadata block of a publish request

Webhooks:
  - Webhook: a per-crate or global delivery endpoint
  - WebhookDelivery: one attempted delivery of an event to a Webhook

# Design Patterns

Enumerations use typed string constants:

	type TokenKind string
	const (
	    TokenKindAPI     TokenKind = "api"
	    TokenKindSession TokenKind = "session"
	)

Optional associations use pointers or zero-value sentinels; nothing in
this package performs I/O or validation beyond what a constructor needs
to produce a well-formed value — deeper validation lives in callers such
as pkg/publish and pkg/index.

# Thread Safety

All types in this package are plain data. Mutation must be synchronized
by the caller; pkg/store serializes all persisted writes through the
backing relational database's transaction guarantees.
*/
package types
