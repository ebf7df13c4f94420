package handlers

import (
	"net/http"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/httpserver/deps"
)

type onlineResponse struct {
	Devices []string `json:"devices"`
	Count   int      `json:"count"`
}

type devicesResponse struct {
	Devices []deviceView `json:"devices"`
	Count   int          `json:"count"`
}

type deviceView struct {
	*domain.Device
	Online bool `json:"online"`
}

// OnlineDevices lists the caller's connected devices.
func OnlineDevices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, false)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		online := d.Engine.ListOnline(sess.Owner)
		writeJSON(w, http.StatusOK, onlineResponse{Devices: online, Count: len(online)})
	}
}

// Devices lists every device the caller ever connected, flagged with its
// current presence.
func Devices(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, false)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		rows, err := d.Engine.Devices(r.Context(), sess.Owner)
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		online := make(map[string]bool)
		for _, id := range d.Engine.ListOnline(sess.Owner) {
			online[id] = true
		}
		views := make([]deviceView, 0, len(rows))
		for _, dev := range rows {
			views = append(views, deviceView{Device: dev, Online: online[dev.ID]})
		}
		writeJSON(w, http.StatusOK, devicesResponse{Devices: views, Count: len(views)})
	}
}
