package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/httpserver/handlers"
)

func init() { Register("admin", registerReload, restrictCIDRs, restrictHosts) }

func registerReload(r chi.Router, d deps.Deps) {
	r.Post("/reload", handlers.ReloadUsers(d))
}
