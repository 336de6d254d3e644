/*
Package publish implements the publish/download/yank pipeline: the
cargo publish wire frame, validation, ownership resolution, transactional
metadata + index writes via pkg/store, tarball storage via
pkg/objectstore, download accounting, and yank/unyank.

Publish is not retried on a transient store failure — only idempotent
reads are. A duplicate (name, version) surfaces as regerr.AlreadyExists
without touching the object store, since pkg/store's transaction fails
before the tarball is ever written.
*/
package publish
