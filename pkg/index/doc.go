/*
Package index implements the sparse index service: the
newline-delimited-JSON crate index cargo's sparse protocol fetches over
HTTP, including the sharded path layout, conditional-GET support via a
per-crate ETag, and the add_version/yank/delete mutations that keep it
current.

The service itself holds no state — every Record is derived on read
from pkg/store's crate_versions rows, and the crate's ETag (sha256 of
the canonical newline-joined serialization) is kept pre-computed on the
crate row by pkg/store so a GET never recomputes it on the hot path.
*/
package index
