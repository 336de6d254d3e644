package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/types"
)

// newBobToken creates a second user with its own API token, so tests
// can verify that one user's token can't act on another's.
func newBobToken(t *testing.T, env *testEnv) (secret, hash string, err error) {
	t.Helper()
	ctx := context.Background()
	if err := env.store.CreateUser(ctx, types.User{Login: "bob", PasswordHash: "x"}); err != nil {
		return "", "", err
	}
	bob, err := env.store.GetUserByLogin(ctx, "bob")
	if err != nil {
		return "", "", err
	}
	secret, hash, err = security.GenerateAPIToken()
	if err != nil {
		return "", "", err
	}
	if err := env.store.CreateToken(ctx, types.Token{UserID: bob.ID, Name: "bob-token", Kind: types.TokenKindAPI, Hash: hash, Prefix: secret[:4]}); err != nil {
		return "", "", err
	}
	return secret, hash, nil
}

func TestTokensCreateListRevoke(t *testing.T) {
	env := newTestEnv(t)
	auth := "Bearer " + env.token

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/me/tokens", bytes.NewBufferString(`{"name":"laptop"}`))
	createReq.Header.Set("Authorization", auth)
	createRec := httptest.NewRecorder()
	env.server.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var created newTokenResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if created.Name != "laptop" || created.Token == "" {
		t.Fatalf("unexpected create response: %+v", created)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/me/tokens", nil)
	listReq.Header.Set("Authorization", auth)
	listRec := httptest.NewRecorder()
	env.server.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", listRec.Code, listRec.Body.String())
	}
	var tokens []tokenView
	if err := json.Unmarshal(listRec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("unmarshal list response: %v", err)
	}

	var laptopID string
	for _, tok := range tokens {
		if tok.Name == "laptop" {
			laptopID = tok.ID
		}
	}
	if laptopID == "" {
		t.Fatalf("expected a listed token named laptop, got %+v", tokens)
	}

	// The new token authenticates until revoked.
	useReq := httptest.NewRequest(http.MethodGet, "/api/v1/crates/demo/owners", nil)
	useReq.Header.Set("Authorization", "Bearer "+created.Token)
	useRec := httptest.NewRecorder()
	env.server.ServeHTTP(useRec, useReq)
	if useRec.Code == http.StatusUnauthorized {
		t.Fatalf("expected new token to authenticate, got 401: %s", useRec.Body.String())
	}

	revokeReq := httptest.NewRequest(http.MethodDelete, "/api/v1/me/tokens/"+laptopID, nil)
	revokeReq.Header.Set("Authorization", auth)
	revokeRec := httptest.NewRecorder()
	env.server.ServeHTTP(revokeRec, revokeReq)
	if revokeRec.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d: %s", revokeRec.Code, revokeRec.Body.String())
	}

	postRevokeReq := httptest.NewRequest(http.MethodGet, "/api/v1/crates/demo/owners", nil)
	postRevokeReq.Header.Set("Authorization", "Bearer "+created.Token)
	postRevokeRec := httptest.NewRecorder()
	env.server.ServeHTTP(postRevokeRec, postRevokeReq)
	if postRevokeRec.Code != http.StatusForbidden {
		t.Fatalf("expected revoked token to be rejected, got %d: %s", postRevokeRec.Code, postRevokeRec.Body.String())
	}
}

func TestTokensRevokeRejectsOtherUsersToken(t *testing.T) {
	env := newTestEnv(t)

	createReq := httptest.NewRequest(http.MethodPost, "/api/v1/me/tokens", bytes.NewBufferString(`{"name":"mine"}`))
	createReq.Header.Set("Authorization", "Bearer "+env.token)
	createRec := httptest.NewRecorder()
	env.server.ServeHTTP(createRec, createReq)
	var created newTokenResponse
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/me/tokens", nil)
	listReq.Header.Set("Authorization", "Bearer "+env.token)
	listRec := httptest.NewRecorder()
	env.server.ServeHTTP(listRec, listReq)
	var tokens []tokenView
	if err := json.Unmarshal(listRec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("unmarshal list response: %v", err)
	}
	var mineID string
	for _, tok := range tokens {
		if tok.Name == "mine" {
			mineID = tok.ID
		}
	}

	// A second, unrelated token belonging to a different user must not
	// be able to revoke the first user's token.
	bobSecret, _, err := newBobToken(t, env)
	if err != nil {
		t.Fatalf("newBobToken: %v", err)
	}

	revokeReq := httptest.NewRequest(http.MethodDelete, "/api/v1/me/tokens/"+mineID, nil)
	revokeReq.Header.Set("Authorization", "Bearer "+bobSecret)
	revokeRec := httptest.NewRecorder()
	env.server.ServeHTTP(revokeRec, revokeReq)
	if revokeRec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 revoking another user's token, got %d: %s", revokeRec.Code, revokeRec.Body.String())
	}
}
