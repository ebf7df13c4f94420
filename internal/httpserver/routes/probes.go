package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/httpserver/handlers"
)

func init() {
	// Liveness stays open for orchestrators.
	Register("liveness", func(r chi.Router, d deps.Deps) {
		r.Get("/healthz", handlers.Healthz(d))
	})
	Register("probes", registerProbes, restrictCIDRs)
}

func registerProbes(r chi.Router, d deps.Deps) {
	r.Get("/readyz", handlers.Readyz(d))
	r.Get("/infra", handlers.Infra(d))
}
