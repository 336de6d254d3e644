package auth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/store"
	"github.com/cuemby/cargohold/pkg/tokencache"
	"github.com/cuemby/cargohold/pkg/types"
)

// fakeStore implements store.Store by embedding it (nil), overriding
// only the methods each test exercises.
type fakeStore struct {
	store.Store
	tokenHash       string
	user            types.User
	updatedPassword string
}

func (f *fakeStore) GetTokenByHash(ctx context.Context, hash string) (*types.Token, *types.User, error) {
	if hash != f.tokenHash {
		return nil, nil, regerr.New(regerr.NotFound, "no such token")
	}
	return &types.Token{ID: "1", UserID: f.user.ID}, &f.user, nil
}

func (f *fakeStore) TouchToken(ctx context.Context, tokenID string) error { return nil }

func (f *fakeStore) GetUserByLogin(ctx context.Context, login string) (*types.User, error) {
	if login != f.user.Login {
		return nil, regerr.New(regerr.NotFound, "no such user")
	}
	u := f.user
	return &u, nil
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.updatedPassword = passwordHash
	return nil
}

func TestAuthenticateBearerTokenCachesOnSuccess(t *testing.T) {
	secret := "supersecret"
	hash := security.HashToken(secret)
	fs := &fakeStore{tokenHash: hash, user: types.User{ID: "7", Login: "alice"}}
	cache := tokencache.New(8, time.Minute)

	e := New(Config{Store: fs, Cache: cache, Retries: 0})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+secret)

	p, err := e.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Login != "alice" {
		t.Fatalf("expected alice, got %+v", p)
	}

	if _, ok := cache.Get(hash); !ok {
		t.Fatal("expected token to be cached after successful lookup")
	}
}

func TestAuthenticateInvalidTokenIsForbidden(t *testing.T) {
	fs := &fakeStore{tokenHash: "correct-hash"}
	cache := tokencache.New(8, time.Minute)
	e := New(Config{Store: fs, Cache: cache})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer wrong-token")

	_, err := e.Authenticate(context.Background(), r)
	if !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
}

func TestAuthenticateNoCredentialsIsUnauthenticated(t *testing.T) {
	e := New(Config{Cache: tokencache.NullCache{}})
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := e.Authenticate(context.Background(), r)
	if !regerr.Is(err, regerr.Unauthenticated) {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func basicAuthHeader(login, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(login+":"+password))
}

func TestAuthenticateBasicVerifiesPassword(t *testing.T) {
	hash, err := security.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	fs := &fakeStore{user: types.User{ID: "7", Login: "alice", PasswordHash: hash}}
	e := New(Config{Store: fs, Cache: tokencache.NullCache{}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", basicAuthHeader("alice", "hunter2"))

	p, err := e.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Login != "alice" {
		t.Fatalf("expected alice, got %+v", p)
	}

	r.Header.Set("Authorization", basicAuthHeader("alice", "wrong"))
	if _, err := e.Authenticate(context.Background(), r); !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden for wrong password, got %v", err)
	}
}

func TestAuthenticateBasicUpgradesLegacyPasswordHash(t *testing.T) {
	legacy, err := security.NewLegacyHash("hunter2")
	if err != nil {
		t.Fatalf("NewLegacyHash: %v", err)
	}
	fs := &fakeStore{user: types.User{ID: "7", Login: "alice", PasswordHash: legacy}}
	e := New(Config{Store: fs, Cache: tokencache.NullCache{}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", basicAuthHeader("alice", "hunter2"))

	if _, err := e.Authenticate(context.Background(), r); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if fs.updatedPassword == "" {
		t.Fatal("expected a successful legacy-hash login to persist an upgraded bcrypt hash")
	}
}

func TestAuthenticatePropagatesReadOnlyFlag(t *testing.T) {
	hash, err := security.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	fs := &fakeStore{user: types.User{ID: "7", Login: "alice", PasswordHash: hash, IsReadOnly: true}}
	e := New(Config{Store: fs, Cache: tokencache.NullCache{}})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", basicAuthHeader("alice", "hunter2"))

	p, err := e.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.IsReadOnly {
		t.Fatalf("expected IsReadOnly to propagate from the stored user, got %+v", p)
	}
}

// countingStore counts GetTokenByHash calls so tests can assert a
// terminal error never triggers a retry.
type countingStore struct {
	store.Store
	calls int
}

func (c *countingStore) GetTokenByHash(ctx context.Context, hash string) (*types.Token, *types.User, error) {
	c.calls++
	return nil, nil, regerr.New(regerr.NotFound, "no such token")
}

func TestAuthenticateTokenNotFoundNeverRetries(t *testing.T) {
	cs := &countingStore{}
	e := New(Config{Store: cs, Cache: tokencache.NullCache{}, Retries: 5, RetryDelay: time.Millisecond})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer whatever")

	_, err := e.Authenticate(context.Background(), r)
	if !regerr.Is(err, regerr.Forbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}
	if cs.calls != 1 {
		t.Fatalf("expected exactly 1 store call regardless of Retries, got %d", cs.calls)
	}
}

func TestAuthenticateOptionalAllowsAnonymousWhenNotRequired(t *testing.T) {
	e := New(Config{Cache: tokencache.NullCache{}, AuthRequired: false})
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	p, err := e.AuthenticateOptional(context.Background(), r)
	if err != nil {
		t.Fatalf("expected no error for anonymous optional auth, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil principal for anonymous request, got %+v", p)
	}
}
