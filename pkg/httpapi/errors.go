package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/cargohold/pkg/log"
	"github.com/cuemby/cargohold/pkg/regerr"
)

// errorDetail and errorBody match the {"errors":[{"detail":"..."}]}
// shape cargo's client expects from a failed registry API call.
type errorDetail struct {
	Detail string `json:"detail"`
}

type errorBody struct {
	Errors []errorDetail `json:"errors"`
}

// statusForKind maps a regerr.Kind to the HTTP status cargo's client
// and the sparse index protocol expect.
func statusForKind(kind regerr.Kind) int {
	switch kind {
	case regerr.NotFound:
		return http.StatusNotFound
	case regerr.AlreadyExists, regerr.Conflict:
		return http.StatusConflict
	case regerr.Unauthenticated:
		return http.StatusUnauthorized
	case regerr.Forbidden:
		return http.StatusForbidden
	case regerr.Invalid:
		return http.StatusBadRequest
	case regerr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err via regerr and renders cargo's error body
// at the matching status. A Fatal-kind error is logged at error level
// since, unlike the other kinds, it was never expected by the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := regerr.Of(err)
	status := statusForKind(kind)
	if kind == regerr.Fatal {
		log.WithComponent("httpapi").Error().Err(err).Str("path", r.URL.Path).Msg("unclassified error serving request")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Errors: []errorDetail{{Detail: err.Error()}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
