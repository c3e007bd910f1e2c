package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
)

type sessionResponse struct {
	SignedIn    bool             `json:"signed_in"`
	Loading     bool             `json:"loading"`
	Identity    *domain.Identity `json:"identity,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Initial     string           `json:"initial,omitempty"`
}

func Session(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := d.Session.CurrentIdentity()
		resp := sessionResponse{
			SignedIn: id != nil,
			Loading:  d.Session.Loading(),
			Identity: id,
		}
		if id != nil {
			resp.DisplayName = id.DisplayName()
			resp.Initial = id.Initial()
		}
		writeJSON(w, d.Logger, http.StatusOK, resp)
	}
}
