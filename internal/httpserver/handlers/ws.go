package handlers

import (
	"net/http"
	"strings"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/httpserver/deps"
)

// Socket upgrades an authenticated request into the device's live channel.
// The device is named by the device_id query parameter.
func Socket(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, r, d, &domain.Error{Code: domain.CodeUnauthorized, Message: "could not validate credentials"})
			return
		}
		q := r.URL.Query()
		deviceID := strings.TrimSpace(q.Get("device_id"))
		if deviceID == "" {
			writeError(w, r, d, domain.Validation("device_id is required"))
			return
		}

		d.Sockets.Serve(w, r, engine.Session{
			Owner:      id.Owner,
			Username:   id.Username,
			DeviceID:   deviceID,
			DeviceName: strings.TrimSpace(q.Get("device_name")),
		})
	}
}
