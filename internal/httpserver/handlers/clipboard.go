package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/httpserver/deps"
)

type submitResponse struct {
	Item         *domain.Item `json:"item"`
	Deduplicated bool         `json:"deduplicated"`
	SyncedTo     int          `json:"synced_to"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type batchDeleteRequest struct {
	IDs []string `json:"ids"`
}

type batchDeleteResponse struct {
	Success bool     `json:"success"`
	IDs     []string `json:"ids"`
	Count   int      `json:"count"`
}

type clearRequest struct {
	Confirm bool `json:"confirm"`
}

type syncTimeRequest struct {
	SyncTime     time.Time `json:"sync_time"`
	LastSyncTime time.Time `json:"last_sync_time"`
}

type syncTimeResponse struct {
	Success      bool      `json:"success"`
	LastSyncTime time.Time `json:"last_sync_time"`
}

// SubmitItem stores a clipboard item for the caller's device. A duplicate
// answers 200 with the refreshed item, a new item 201.
func SubmitItem(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		var c engine.Candidate
		if err := decodeBody(r, &c); err != nil {
			writeError(w, r, d, err)
			return
		}

		out, err := d.Engine.Submit(detached(r), sess, c)
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		status := http.StatusCreated
		if out.Deduplicated {
			status = http.StatusOK
		}
		writeJSON(w, status, submitResponse{Item: out.Item, Deduplicated: out.Deduplicated, SyncedTo: out.SyncedTo})
	}
}

// ListItems pages through history with the device_id, favorite and search
// filters.
func ListItems(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, false)
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		q := r.URL.Query()
		f := engine.ListFilter{
			DeviceID: strings.TrimSpace(q.Get("device_id")),
			Search:   strings.TrimSpace(q.Get("search")),
		}
		if raw := q.Get("favorite"); raw != "" {
			fav, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(w, r, d, domain.Validation("favorite must be a boolean"))
				return
			}
			f.Favorite = &fav
		}
		if f.Page, err = queryInt(r, "page"); err != nil {
			writeError(w, r, d, err)
			return
		}
		if f.PageSize, err = queryInt(r, "page_size"); err != nil {
			writeError(w, r, d, err)
			return
		}

		page, err := d.Engine.List(r.Context(), sess.Owner, f)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func GetItem(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, false)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		it, err := d.Engine.Get(r.Context(), sess.Owner, chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, it)
	}
}

// UpdateItem edits the updatable metadata fields of an item. The body is a
// flat object of field name to value.
func UpdateItem(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		var fields map[string]json.RawMessage
		if err := decodeBody(r, &fields); err != nil {
			writeError(w, r, d, err)
			return
		}

		it, err := d.Engine.UpdateFields(detached(r), sess, chi.URLParam(r, "id"), fields)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, it)
	}
}

func DeleteItem(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		if err := d.Engine.Delete(detached(r), sess, chi.URLParam(r, "id")); err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "item deleted"})
	}
}

func DeleteItems(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		var req batchDeleteRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, d, err)
			return
		}

		gone, err := d.Engine.DeleteBatch(detached(r), sess, req.IDs)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, batchDeleteResponse{Success: true, IDs: gone, Count: len(gone)})
	}
}

// ClearHistory removes every item of the caller. The body must carry
// {"confirm": true}.
func ClearHistory(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		var req clearRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, d, err)
			return
		}

		res, err := d.Engine.ClearHistory(detached(r), sess, req.Confirm)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// FetchUpdates returns what the caller's device has not seen yet, oldest
// first, from its stored cursor.
func FetchUpdates(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		offset, err := queryInt(r, "offset")
		if err != nil {
			writeError(w, r, d, err)
			return
		}

		page, err := d.Engine.FetchUpdates(r.Context(), sess, limit, offset)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// UpdateSyncTime acknowledges a cursor for the caller's device. The stored
// cursor never moves backwards; the response carries the effective one.
func UpdateSyncTime(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session(r, true)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		var req syncTimeRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, d, err)
			return
		}
		cursor := req.SyncTime
		if cursor.IsZero() {
			cursor = req.LastSyncTime
		}

		effective, err := d.Engine.AckSyncCursor(detached(r), sess, cursor)
		if err != nil {
			writeError(w, r, d, err)
			return
		}
		writeJSON(w, http.StatusOK, syncTimeResponse{Success: true, LastSyncTime: effective})
	}
}
