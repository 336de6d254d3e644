/*
Package auth implements the auth extractor: resolving an inbound
HTTP request to a Principal via, in order, HTTP Basic credentials, a
bearer API token (cached in pkg/tokencache), or a signed session
cookie.

Missing credentials resolve to regerr.Unauthenticated; present-but-
invalid credentials resolve to regerr.Forbidden. Storage failures
retry up to a configured count with a fixed delay for the idempotent
token lookup path and surface as regerr.Transient only once retries are
exhausted when the underlying error is transient.
*/
package auth
