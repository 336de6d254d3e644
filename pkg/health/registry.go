package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Registry runs a fixed set of named Checkers on demand and renders
// their combined result as the JSON body of /health and /ready.
type Registry struct {
	checks  map[string]Checker
	version string
}

func NewRegistry(version string) *Registry {
	return &Registry{checks: make(map[string]Checker), version: version}
}

// Register adds a named Checker. Registering under an existing name
// replaces it.
func (r *Registry) Register(name string, c Checker) {
	r.checks[name] = c
}

// readyResponse reports per-dependency Checker results.
type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// LivenessHandler always reports the process as alive; it never checks
// dependencies, since a dependency outage should surface as "not ready",
// not cause the process to be killed.
func (r *Registry) LivenessHandler(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "alive",
		"version":   r.version,
		"timestamp": time.Now().UTC(),
	})
}

// ReadyHandler runs every registered Checker and reports 503 if any
// fails.
func (r *Registry) ReadyHandler(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	results := make(map[string]string, len(r.checks))
	allHealthy := true
	for name, checker := range r.checks {
		res := checker.Check(ctx)
		if res.Healthy {
			results[name] = "ok"
		} else {
			results[name] = res.Message
			allHealthy = false
		}
	}

	status := http.StatusOK
	statusText := "ready"
	if !allHealthy {
		status = http.StatusServiceUnavailable
		statusText = "not ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResponse{Status: statusText, Timestamp: time.Now().UTC(), Checks: results})
}
