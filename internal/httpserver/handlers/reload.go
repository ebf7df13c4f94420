package handlers

import (
	"net/http"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/logger"
)

// ReloadUsers asks the users reloader to re-read the users file now.
func ReloadUsers(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case d.UsersReloadTrigger <- struct{}{}:
			d.Logger.Info("manual users reload triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusAccepted, successResponse{Success: true, Message: "reload triggered"})
		default:
			d.Logger.Warn("users reload already pending",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, http.StatusTooManyRequests, successResponse{Success: false, Message: "reload already in progress, please wait"})
		}
	}
}
