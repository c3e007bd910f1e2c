package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
)

const checkTimeout = 2 * time.Second

type componentStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readyzResponse struct {
	Ready      bool                       `json:"ready"`
	Components map[string]componentStatus `json:"components"`
}

// Readyz runs every readiness check and answers 503 unless all pass and
// the session's first identity fetch has resolved.
func Readyz(d deps.Deps) http.HandlerFunc {
	names := make([]string, 0, len(d.Checks))
	for name := range d.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := readyzResponse{Ready: true, Components: make(map[string]componentStatus, len(names)+1)}

		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := d.Checks[name](ctx)
			cancel()
			if err != nil {
				resp.Ready = false
				resp.Components[name] = componentStatus{Error: err.Error()}
				continue
			}
			resp.Components[name] = componentStatus{OK: true}
		}

		if d.Session != nil && d.Session.Loading() {
			resp.Ready = false
			resp.Components["session"] = componentStatus{Error: "loading"}
		} else {
			resp.Components["session"] = componentStatus{OK: true}
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, d.Logger, status, resp)
	}
}
