package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/cargohold/pkg/auth"
	"github.com/cuemby/cargohold/pkg/index"
	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/upstream"
)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	body, err := s.cfg.Index.ConfigJSON()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// handleIndexGet serves a crate's sparse index entry, honoring
// conditional GET via If-None-Match/If-Modified-Since.
func (s *Server) handleIndexGet(w http.ResponseWriter, r *http.Request) {
	name := crateNameFromShard(r.PathValue("shard"))
	if name == "" {
		writeError(w, r, regerr.New(regerr.Invalid, "malformed index path"))
		return
	}

	body, err := s.cfg.Index.Get(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if index.NotModified(r.Header.Get("If-None-Match"), r.Header.Get("If-Modified-Since"), body.ETag, body.LastModified) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", `"`+body.ETag+`"`)
	w.Header().Set("Last-Modified", body.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(body.Records)
}

// crateNameFromShard recovers the crate name from a sharded index path
// (e.g. "se/rd/serde" -> "serde", "3/a/abc" -> "abc", "1/a" -> "a").
func crateNameFromShard(shard string) string {
	if shard == "" {
		return ""
	}
	i := len(shard) - 1
	for i >= 0 && shard[i] != '/' {
		i--
	}
	return shard[i+1:]
}

type pubSuccess struct {
	Warnings *pubWarnings `json:"warnings,omitempty"`
}

type pubWarnings struct {
	InvalidCategories []string `json:"invalid_categories,omitempty"`
	InvalidBadges     []string `json:"invalid_badges,omitempty"`
	Other             []string `json:"other,omitempty"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	principal := *principalFrom(r.Context())
	if _, err := s.cfg.Publish.Publish(r.Context(), principal, r.Body); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pubSuccess{})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	principal := principalFrom(r.Context())
	rc, err := s.cfg.Publish.Download(r.Context(), principal, name, version, "local")
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/gzip")
	_, _ = io.Copy(w, rc)
}

type emptyCrateSuccess struct {
	OK bool `json:"ok"`
}

func (s *Server) handleYank(yanked bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := *principalFrom(r.Context())
		name, version := r.PathValue("name"), r.PathValue("version")
		if err := s.cfg.Publish.Yank(r.Context(), principal, name, version, yanked); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyCrateSuccess{OK: true})
	}
}

type owner struct {
	ID    int64   `json:"id"`
	Login string  `json:"login"`
	Name  *string `json:"name,omitempty"`
}

type ownerList struct {
	Users []owner `json:"users"`
}

func (s *Server) handleOwnersList(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	owners, err := s.cfg.Publish.ListOwners(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]owner, 0, len(owners))
	for i, u := range owners {
		var nm *string
		if u.Name != "" {
			nm = &u.Name
		}
		out = append(out, owner{ID: int64(i), Login: u.Login, Name: nm})
	}
	writeJSON(w, http.StatusOK, ownerList{Users: out})
}

type ownerRequest struct {
	Users []string `json:"users"`
}

type ownerResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

func (s *Server) handleOwnersAdd(w http.ResponseWriter, r *http.Request) {
	s.mutateOwners(w, r, func(principal auth.Principal, name, login string) error {
		return s.cfg.Publish.AddOwner(r.Context(), principal, name, login)
	}, "added owner")
}

func (s *Server) handleOwnersRemove(w http.ResponseWriter, r *http.Request) {
	s.mutateOwners(w, r, func(principal auth.Principal, name, login string) error {
		return s.cfg.Publish.RemoveOwner(r.Context(), principal, name, login)
	}, "removed owner")
}

func (s *Server) mutateOwners(w http.ResponseWriter, r *http.Request, apply func(auth.Principal, string, string) error, verb string) {
	principal := *principalFrom(r.Context())
	name := r.PathValue("name")

	var req ownerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, regerr.Wrap(regerr.Invalid, "malformed owner request body", err))
		return
	}

	for _, login := range req.Users {
		if err := apply(principal, name, login); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ownerResponse{OK: true, Msg: verb})
}

type searchCrate struct {
	Name        string `json:"name"`
	MaxVersion  string `json:"max_version"`
	Description string `json:"description"`
}

type searchMeta struct {
	Total int `json:"total"`
}

type searchResponse struct {
	Crates []searchCrate `json:"crates"`
	Meta   searchMeta    `json:"meta"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 10
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	crates, err := s.cfg.Store.SearchCrates(r.Context(), query, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]searchCrate, 0, len(crates))
	for _, c := range crates {
		out = append(out, searchCrate{Name: c.Name, MaxVersion: c.MaxVersion, Description: c.Description})
	}
	writeJSON(w, http.StatusOK, searchResponse{Crates: out, Meta: searchMeta{Total: len(out)}})
}

func (s *Server) handleMirrorIndex(w http.ResponseWriter, r *http.Request) {
	name := crateNameFromShard(r.PathValue("shard"))
	if name == "" {
		writeError(w, r, regerr.New(regerr.Invalid, "malformed index path"))
		return
	}

	state, body, err := s.cfg.Upstream.Prefetch(r.Context(), name, r.Header.Get("If-None-Match"), r.Header.Get("If-Modified-Since"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if state == upstream.StateUpToDate {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(body)
}

func (s *Server) handleMirrorDownload(w http.ResponseWriter, r *http.Request) {
	name, version := r.PathValue("name"), r.PathValue("version")
	rc, err := s.cfg.Upstream.Download(r.Context(), name, version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/gzip")
	_, _ = io.Copy(w, rc)
}
