/*
Package upstream implements the proxy cache that mirrors a public
crates registry on demand: index prefetch with the three-state
not-found/needs-update/up-to-date decision, and binary download with
content-addressed caching into pkg/objectstore.

Refreshes of an already-cached crate and download counts go through the
prefetch queue (pkg/prefetch). This package writes to pkg/store directly
only for the synchronous first fetch of an unseen crate (its index rows
and description) and to mark a downloaded version's blob as cached.
*/
package upstream
