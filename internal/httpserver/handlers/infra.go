package handlers

import (
	"errors"
	"net/http"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
)

var errStoreMissing = errors.New("store not initialized")

type componentStatus struct {
	OK          bool    `json:"ok"`
	Backend     string  `json:"backend,omitempty"`
	UsersLoaded *int    `json:"users_loaded,omitempty"`
	LastReload  string  `json:"last_reload,omitempty"`
	Connections *int    `json:"connections,omitempty"`
	Queued      *int    `json:"queued,omitempty"`
	Dropped     *uint64 `json:"dropped,omitempty"`
	Delivered   *uint64 `json:"delivered,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the state of each component: store, users directory,
// socket registry and broadcast relay.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"store": checkStore(r, d),
			"users": usersStatus(d),
		}
		if d.Stats != nil {
			conns := d.Stats.Connections()
			queued := d.Stats.RelayQueued()
			dropped := d.Stats.RelayDropped()
			delivered := d.Stats.RelayDelivered()
			components["registry"] = componentStatus{OK: true, Connections: &conns}
			components["relay"] = componentStatus{OK: true, Queued: &queued, Dropped: &dropped, Delivered: &delivered}
		}

		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

// determineMode is "critical" when nothing can be stored or nobody can log
// in, "degraded" when broadcasts were dropped, else "operational".
func determineMode(components map[string]componentStatus) string {
	if !components["store"].OK || !components["users"].OK {
		return "critical"
	}
	if relay, ok := components["relay"]; ok && relay.Dropped != nil && *relay.Dropped > 0 {
		return "degraded"
	}
	return "operational"
}

func checkStore(r *http.Request, d deps.Deps) componentStatus {
	if err := pingStore(r.Context(), d); err != nil {
		msg := "unreachable"
		if errors.Is(err, errStoreMissing) {
			msg = err.Error()
		}
		return componentStatus{OK: false, Backend: d.StoreBackend, Error: msg}
	}
	return componentStatus{OK: true, Backend: d.StoreBackend}
}

func usersStatus(d deps.Deps) componentStatus {
	if d.Users == nil {
		return componentStatus{OK: false, Error: "directory not initialized"}
	}
	count := d.Users.Count()
	last := "never"
	if t := d.Users.LastReload(); !t.IsZero() {
		last = t.Format("2006-01-02 15:04:05")
	}
	return componentStatus{OK: count > 0, UsersLoaded: &count, LastReload: last}
}
