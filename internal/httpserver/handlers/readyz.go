package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/logger"
)

const pingTimeout = 2 * time.Second

type readyzResponse struct {
	Ready bool   `json:"ready"`
	Store string `json:"store"`
	Error string `json:"error,omitempty"`
}

// Readyz answers 503 until the store responds to a ping.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := pingStore(r.Context(), d); err != nil {
			d.Logger.Warn("readiness check failed",
				logger.String("store", d.StoreBackend),
				logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, readyzResponse{Store: d.StoreBackend, Error: "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, readyzResponse{Ready: true, Store: d.StoreBackend})
	}
}

func pingStore(ctx context.Context, d deps.Deps) error {
	if d.Store == nil {
		return errStoreMissing
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return d.Store.Ping(ctx)
}
