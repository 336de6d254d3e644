/*
Package tokencache implements the token cache: a bounded, TTL'd
mapping from plaintext token to the principal it resolves to, so token
verification on the hot path of every Cargo request doesn't hash-compare
against the relational store on every call.

Cache wraps github.com/hashicorp/golang-lru/v2/expirable. Disabled mode
is satisfied by NullCache, which always misses and ignores inserts — a
null object rather than a nil-guarded special case through pkg/auth.
Negative results (invalid tokens) are never cached, so a revoked or
mistyped token fails fast without being shielded from a later
correction.
*/
package tokencache
