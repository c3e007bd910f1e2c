package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marks/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/marks/internal/httpserver/mw"
)

func init() { Register(registerAuth, AllowedClients, AllowedHosts) }

func registerAuth(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		PerMinute:  d.SignInPerMinute,
		Burst:      d.SignInBurst,
		TrustProxy: d.TrustProxy,
	}, d.Logger)

	r.With(limit).Post("/auth/signin", handlers.SignIn(d))
	r.Get("/auth/callback", handlers.Callback(d))
	r.Post("/auth/signout", handlers.SignOut(d))
	r.Get("/api/session", handlers.Session(d))
}
