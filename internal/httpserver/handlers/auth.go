package handlers

import (
	"fmt"
	"html"
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// SignIn starts the provider sign-in. The identity shows up in
// /api/session once the browser flow reaches the callback.
func SignIn(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Session.SignIn(r.Context()); err != nil {
			writeError(w, d.Logger, http.StatusBadGateway, "sign-in failed")
			return
		}
		writeJSON(w, d.Logger, http.StatusAccepted, map[string]string{"status": "pending"})
	}
}

// Callback is the OAuth redirect target.
func Callback(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if reason := q.Get("error"); reason != "" {
			d.Logger.Warn("sign-in denied by provider", logger.String("reason", reason))
			writePage(w, d.Logger, http.StatusBadRequest, "Sign-in was cancelled.")
			return
		}

		id, err := d.Auth.Complete(r.Context(), q.Get("state"), q.Get("code"))
		if err != nil {
			d.Logger.Warn("sign-in callback failed", logger.Error(err))
			writePage(w, d.Logger, http.StatusBadRequest, "Sign-in failed. Start again from the app.")
			return
		}
		writePage(w, d.Logger, http.StatusOK,
			fmt.Sprintf("Signed in as %s. You can close this window.", id.DisplayName()))
	}
}

func SignOut(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Session.SignOut(r.Context()); err != nil {
			writeError(w, d.Logger, http.StatusBadGateway, "sign-out failed, local session cleared")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writePage(w http.ResponseWriter, log logger.Logger, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	page := "<!doctype html><title>marks</title><p>" + html.EscapeString(msg) + "</p>\n"
	if _, err := w.Write([]byte(page)); err != nil {
		log.Debug("failed to write response", logger.Error(err))
	}
}
