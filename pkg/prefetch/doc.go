/*
Package prefetch implements the background worker pool that keeps
mirrored upstream index records fresh: a fixed set of workers drain a
single channel of Update/IncDownloadCnt messages, coalescing repeated
refreshes of the same crate within a configurable window, while a
separate ticker-driven sweep enqueues Update messages for the
least-recently-refreshed crates.

The channel is bounded; once full, a new message is dropped rather than
blocking the caller (most often a coalesced IncDownloadCnt, the lowest
value message kind). Pool exposes a gauge of its current depth so
operators can see queueing pressure build before that happens.
*/
package prefetch
