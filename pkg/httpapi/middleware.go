package httpapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/cargohold/pkg/auth"
	"github.com/cuemby/cargohold/pkg/metrics"
	"golang.org/x/time/rate"
)

type principalKey struct{}

// principalFrom returns the Principal authMiddleware attached to r's
// context, or nil for an anonymous request.
func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalKey{}).(*auth.Principal)
	return p
}

// requireAuth is a handler-wrapping middleware that rejects a request
// with no resolvable Principal; handlers behind it can assume
// principalFrom never returns nil.
func requireAuth(extractor *auth.Extractor, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := extractor.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, &p)
		next(w, r.WithContext(ctx))
	}
}

// attachOptionalAuth resolves a Principal when credentials are present
// and lets an anonymous request through with a nil Principal, for
// endpoints that behave differently for known users (e.g. search). When
// the Extractor is configured with AuthRequired, an anonymous request is
// rejected like any other unauthenticated one.
func attachOptionalAuth(extractor *auth.Extractor, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := extractor.AuthenticateOptional(r.Context(), r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next(w, r.WithContext(ctx))
	}
}

// withMetrics records APIRequestsTotal/APIRequestDuration for every
// request passing through it, labeled by route rather than raw path so
// the cardinality stays bounded.
func withMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// RateLimiter throttles requests per client identity (token/login when
// authenticated, source IP otherwise) so one abusive token cannot
// exhaust the budget of every anonymous caller sharing its NAT.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientIdentity(r)
		if !rl.limiterFor(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Errors: []errorDetail{{Detail: "rate limit exceeded"}}})
			return
		}
		next(w, r)
	}
}

func clientIdentity(r *http.Request) string {
	if p := principalFrom(r.Context()); p != nil {
		return "user:" + p.Login
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// periodicPurge drops every limiter on each tick, so a long-running
// process doesn't accumulate one entry per distinct caller ever seen;
// a caller's budget starts afresh after a purge. It is best run from a
// single background goroutine.
func (rl *RateLimiter) periodicPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mu.Lock()
			rl.limiters = make(map[string]*rate.Limiter)
			rl.mu.Unlock()
		}
	}
}
