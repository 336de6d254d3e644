package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/tokencache"
)

// Principal is the identity a request authenticates as.
type Principal struct {
	UserID     string
	Login      string
	IsAdmin    bool
	IsReadOnly bool
}

// Extractor resolves requests to a Principal by trying, in order: HTTP
// Basic, bearer token (cache-then-store), then session cookie.
type Extractor struct {
	store        store.Store
	cache        tokencache.Cache
	cookies      *security.CookieSigner
	retries      int
	retryDelay   time.Duration
	authRequired bool
}

// Config configures an Extractor.
type Config struct {
	Store        store.Store
	Cache        tokencache.Cache
	Cookies      *security.CookieSigner
	Retries      int
	RetryDelay   time.Duration
	AuthRequired bool
}

func New(cfg Config) *Extractor {
	return &Extractor{
		store:        cfg.Store,
		cache:        cfg.Cache,
		cookies:      cfg.Cookies,
		retries:      cfg.Retries,
		retryDelay:   cfg.RetryDelay,
		authRequired: cfg.AuthRequired,
	}
}

// Authenticate resolves r to a Principal, or a regerr-classified error:
// regerr.Unauthenticated for missing credentials, regerr.Forbidden for
// present-but-invalid ones.
func (e *Extractor) Authenticate(ctx context.Context, r *http.Request) (Principal, error) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		switch {
		case strings.HasPrefix(authz, "Basic "):
			return e.authenticateBasic(ctx, strings.TrimPrefix(authz, "Basic "))
		case strings.HasPrefix(authz, "Bearer "):
			return e.authenticateToken(ctx, strings.TrimPrefix(authz, "Bearer "))
		default:
			return e.authenticateToken(ctx, authz)
		}
	}

	if tok := r.Header.Get("Authorization-Token"); tok != "" {
		return e.authenticateToken(ctx, tok)
	}

	if cookie, err := r.Cookie("cargohold_session"); err == nil {
		return e.authenticateSession(ctx, cookie.Value)
	}

	return Principal{}, regerr.New(regerr.Unauthenticated, "no credentials presented")
}

// AuthenticateOptional behaves like Authenticate but, when auth is not
// required, treats a missing credential as an anonymous request (nil
// principal, nil error) instead of rejecting — a supplied-but-invalid
// credential is still rejected so the caller is attributed correctly
// when possible but never silently ignored.
func (e *Extractor) AuthenticateOptional(ctx context.Context, r *http.Request) (*Principal, error) {
	p, err := e.Authenticate(ctx, r)
	if err == nil {
		return &p, nil
	}
	if !e.authRequired && regerr.Is(err, regerr.Unauthenticated) {
		return nil, nil
	}
	return nil, err
}

// authenticateBasic verifies HTTP Basic credentials against the user's
// stored password hash, not an API token — Basic auth is for a human at
// a terminal (e.g. `cargo login` against a registry that prompts for a
// password), while bearer tokens are what cargo itself sends on every
// subsequent request.
func (e *Extractor) authenticateBasic(ctx context.Context, encoded string) (Principal, error) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Principal{}, regerr.Wrap(regerr.Forbidden, "malformed basic auth header", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return Principal{}, regerr.New(regerr.Forbidden, "malformed basic auth credentials")
	}
	login, password := parts[0], parts[1]

	user, err := e.store.GetUserByLogin(ctx, login)
	if err != nil {
		if regerr.Is(err, regerr.NotFound) {
			return Principal{}, regerr.New(regerr.Forbidden, "invalid credentials")
		}
		return Principal{}, err
	}

	ok, shouldUpgrade, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return Principal{}, regerr.Wrap(regerr.Fatal, "verifying password", err)
	}
	if !ok {
		return Principal{}, regerr.New(regerr.Forbidden, "invalid credentials")
	}
	if shouldUpgrade {
		if newHash, err := security.HashPassword(password); err == nil {
			_ = e.store.UpdateUserPassword(ctx, user.ID, newHash)
		}
	}

	return Principal{UserID: user.ID, Login: user.Login, IsAdmin: user.IsAdmin, IsReadOnly: user.IsReadOnly}, nil
}

func (e *Extractor) authenticateToken(ctx context.Context, token string) (Principal, error) {
	token = strings.TrimSpace(token)
	hash := security.HashToken(token)

	if p, ok := e.cache.Get(hash); ok {
		return Principal{UserID: p.UserID, Login: p.Login, IsAdmin: p.IsAdmin, IsReadOnly: p.IsReadOnly}, nil
	}

	var p tokencache.Principal
	err := retry(e.retries, e.retryDelay, func() error {
		_, user, lookupErr := e.store.GetTokenByHash(ctx, hash)
		if lookupErr != nil {
			return lookupErr
		}
		p = tokencache.Principal{UserID: user.ID, Login: user.Login, IsAdmin: user.IsAdmin, IsReadOnly: user.IsReadOnly}
		return nil
	})
	if err != nil {
		if regerr.Is(err, regerr.NotFound) {
			return Principal{}, regerr.New(regerr.Forbidden, "invalid or revoked token")
		}
		return Principal{}, err
	}

	e.cache.Insert(hash, p)
	return Principal{UserID: p.UserID, Login: p.Login, IsAdmin: p.IsAdmin, IsReadOnly: p.IsReadOnly}, nil
}

func (e *Extractor) authenticateSession(ctx context.Context, cookie string) (Principal, error) {
	sessionID, err := e.cookies.Verify(cookie)
	if err != nil {
		return Principal{}, regerr.Wrap(regerr.Forbidden, "invalid session cookie", err)
	}

	_, user, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if regerr.Is(err, regerr.NotFound) {
			return Principal{}, regerr.New(regerr.Forbidden, "session expired or unknown")
		}
		return Principal{}, err
	}

	return Principal{UserID: user.ID, Login: user.Login, IsAdmin: user.IsAdmin, IsReadOnly: user.IsReadOnly}, nil
}

// retry runs fn up to attempts+1 times with a fixed delay between
// tries, stopping immediately on a non-Transient error since terminal
// errors (TokenNotFound, UserNotFound) never resolve by retrying.
func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i <= attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !regerr.Is(err, regerr.Transient) {
			return err
		}
		if i < attempts {
			time.Sleep(delay)
		}
	}
	return err
}
