package routes

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/httpserver/handlers"
	"github.com/clipsync/clipsync/internal/httpserver/mw"
)

// apiTimeout bounds one REST call. The socket route is long-lived and sits
// outside this group.
const apiTimeout = 15 * time.Second

func init() { Register("api", registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(apiTimeout))
		api.Use(mw.RateLimit(mw.RateLimitConfig{
			Burst:             d.RateLimitBurst,
			RefillPerIPPerMin: d.RateLimitPerMin,
			TrustProxy:        d.TrustProxy,
			Now:               d.TimeNow,
		}))
		api.Use(authenticate(d))

		api.Route("/clipboard", func(c chi.Router) { registerClipboard(c, d) })
		api.Route("/devices", func(c chi.Router) { registerDevices(c, d) })
	})
}

func registerClipboard(r chi.Router, d deps.Deps) {
	r.Post("/", handlers.SubmitItem(d))
	r.Get("/", handlers.ListItems(d))
	r.Delete("/", handlers.DeleteItems(d))
	r.Post("/clear", handlers.ClearHistory(d))
	r.Get("/sync/fetch_updates", handlers.FetchUpdates(d))
	r.Post("/sync/update_sync_time", handlers.UpdateSyncTime(d))
	r.Get("/{id}", handlers.GetItem(d))
	r.Put("/{id}", handlers.UpdateItem(d))
	r.Delete("/{id}", handlers.DeleteItem(d))
}

func registerDevices(r chi.Router, d deps.Deps) {
	r.Get("/", handlers.Devices(d))
	r.Get("/online", handlers.OnlineDevices(d))
}
