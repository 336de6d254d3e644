package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/cargohold/pkg/auth"
	"github.com/cuemby/cargohold/pkg/health"
	"github.com/cuemby/cargohold/pkg/index"
	"github.com/cuemby/cargohold/pkg/publish"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/tokencache"
	"github.com/cuemby/cargohold/pkg/upstream"
)

// Config wires the services Server dispatches to.
type Config struct {
	Store     store.Store
	Auth      *auth.Extractor
	Index     *index.Service
	Publish   *publish.Service
	Cache     tokencache.Cache // token cache to invalidate on revoke; defaults to a no-op
	Upstream  *upstream.Proxy  // nil disables the proxy/mirror routes entirely
	Health    *health.Registry
	RateLimit *RateLimiter // nil disables rate limiting
}

// Server holds the registered mux and the services behind it.
type Server struct {
	mux *http.ServeMux
	cfg Config
}

func NewServer(cfg Config) *Server {
	if cfg.RateLimit == nil {
		cfg.RateLimit = NewRateLimiter(20, 40)
	}
	if cfg.Cache == nil {
		cfg.Cache = tokencache.NullCache{}
	}
	s := &Server{mux: http.NewServeMux(), cfg: cfg}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run starts the rate limiter's background purge and blocks until ctx
// is cancelled; the caller is responsible for the actual http.Server
// lifecycle (ListenAndServe/Shutdown).
func (s *Server) Run(ctx context.Context) {
	s.cfg.RateLimit.periodicPurge(ctx, 10*time.Minute)
}

func (s *Server) routes() {
	mux := s.mux

	mux.HandleFunc("GET /api/v1/crates/config.json", withMetrics("config", s.handleConfig))

	mux.HandleFunc("GET /api/v1/crates/{shard...}", withMetrics("index_get", s.cfg.RateLimit.Middleware(s.handleIndexGet)))

	mux.HandleFunc("PUT /api/v1/crates/new", withMetrics("publish", requireAuth(s.cfg.Auth, s.cfg.RateLimit.Middleware(s.handlePublish))))
	mux.HandleFunc("GET /api/v1/crates/{name}/{version}/download", withMetrics("download", attachOptionalAuth(s.cfg.Auth, s.cfg.RateLimit.Middleware(s.handleDownload))))
	mux.HandleFunc("DELETE /api/v1/crates/{name}/{version}/yank", withMetrics("yank", requireAuth(s.cfg.Auth, s.handleYank(true))))
	mux.HandleFunc("PUT /api/v1/crates/{name}/{version}/unyank", withMetrics("unyank", requireAuth(s.cfg.Auth, s.handleYank(false))))

	mux.HandleFunc("GET /api/v1/crates/{name}/owners", withMetrics("owners_list", requireAuth(s.cfg.Auth, s.handleOwnersList)))
	mux.HandleFunc("PUT /api/v1/crates/{name}/owners", withMetrics("owners_add", requireAuth(s.cfg.Auth, s.handleOwnersAdd)))
	mux.HandleFunc("DELETE /api/v1/crates/{name}/owners", withMetrics("owners_remove", requireAuth(s.cfg.Auth, s.handleOwnersRemove)))

	mux.HandleFunc("GET /api/v1/crates", withMetrics("search", attachOptionalAuth(s.cfg.Auth, s.handleSearch)))

	mux.HandleFunc("POST /api/v1/me/tokens", withMetrics("tokens_create", requireAuth(s.cfg.Auth, s.handleTokensCreate)))
	mux.HandleFunc("GET /api/v1/me/tokens", withMetrics("tokens_list", requireAuth(s.cfg.Auth, s.handleTokensList)))
	mux.HandleFunc("DELETE /api/v1/me/tokens/{id}", withMetrics("tokens_revoke", requireAuth(s.cfg.Auth, s.handleTokensRevoke)))

	if s.cfg.Upstream != nil {
		mux.HandleFunc("GET /api/v1/cratesio/{shard...}", withMetrics("mirror_index", s.cfg.RateLimit.Middleware(s.handleMirrorIndex)))
		mux.HandleFunc("GET /api/v1/cratesio/dl/{name}/{version}/download", withMetrics("mirror_download", s.cfg.RateLimit.Middleware(s.handleMirrorDownload)))
	}

	if s.cfg.Health != nil {
		mux.HandleFunc("GET /health", s.cfg.Health.LivenessHandler)
		mux.HandleFunc("GET /ready", s.cfg.Health.ReadyHandler)
	}
}
