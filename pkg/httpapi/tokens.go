package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/security"
	"github.com/cuemby/cargohold/pkg/types"
)

// newTokenRequest is the body of a token-creation request: just the
// display name the user wants to recognize it by later.
type newTokenRequest struct {
	Name string `json:"name"`
}

// newTokenResponse returns the plaintext secret exactly once, at
// creation time; it is never recoverable afterward.
type newTokenResponse struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// tokenView is what a token listing shows: enough to recognize and
// revoke a token, never anything that could be replayed as a credential.
type tokenView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// handleTokensCreate mints a new API token for the authenticated user,
// following the original's add_token: the registry never stores the
// plaintext, only its hash, so the response is the one chance the
// caller has to see it.
func (s *Server) handleTokensCreate(w http.ResponseWriter, r *http.Request) {
	principal := *principalFrom(r.Context())

	var req newTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, regerr.Wrap(regerr.Invalid, "malformed token request body", err))
		return
	}
	if req.Name == "" {
		writeError(w, r, regerr.New(regerr.Invalid, "token name is required"))
		return
	}

	secret, hash, err := security.GenerateAPIToken()
	if err != nil {
		writeError(w, r, regerr.Wrap(regerr.Fatal, "generating token", err))
		return
	}

	prefix := secret
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if err := s.cfg.Store.CreateToken(r.Context(), types.Token{
		UserID: principal.UserID,
		Name:   req.Name,
		Kind:   types.TokenKindAPI,
		Hash:   hash,
		Prefix: prefix,
	}); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newTokenResponse{Name: req.Name, Token: secret})
}

// handleTokensList lists the authenticated user's own tokens, matching
// the original's list_tokens: a user never sees another user's tokens.
func (s *Server) handleTokensList(w http.ResponseWriter, r *http.Request) {
	principal := *principalFrom(r.Context())

	tokens, err := s.cfg.Store.ListTokensForUser(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenView{ID: t.ID, Name: t.Name, Prefix: t.Prefix, CreatedAt: t.CreatedAt, LastUsedAt: t.LastUsedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTokensRevoke revokes one of the authenticated user's own
// tokens. The original rejects the request with a plain bad-request
// when the token doesn't belong to the caller rather than a 404, so a
// caller can't use the status code to enumerate other users' token
// IDs; regerr.Invalid maps to the same 400 here.
func (s *Server) handleTokensRevoke(w http.ResponseWriter, r *http.Request) {
	principal := *principalFrom(r.Context())
	id := r.PathValue("id")

	tok, err := s.cfg.Store.GetTokenByID(r.Context(), id)
	if err != nil {
		if regerr.Is(err, regerr.NotFound) {
			writeError(w, r, regerr.New(regerr.Invalid, "no such token"))
			return
		}
		writeError(w, r, err)
		return
	}
	if tok.UserID != principal.UserID && !principal.IsAdmin {
		writeError(w, r, regerr.New(regerr.Invalid, "no such token"))
		return
	}

	if err := s.cfg.Store.RevokeToken(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	s.cfg.Cache.Invalidate(tok.Hash)

	w.WriteHeader(http.StatusNoContent)
}
