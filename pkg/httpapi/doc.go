/*
Package httpapi exposes the registry over HTTP: the sparse index and
the publish/download/yank/owners/search surface cargo's registry API
expects, all nested under /api/v1/crates per the documented sparse-index
base URL, self-service token management under /api/v1/me/tokens, the
upstream mirror under /api/v1/cratesio, and /health and /ready for
operators.

Routes are registered on a stdlib http.ServeMux using Go 1.22's
method-and-wildcard patterns; auth, rate limiting, and request metrics
are applied as handler-wrapping middleware rather than a framework.
*/
package httpapi
