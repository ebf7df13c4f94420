package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/httpserver/mw"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/wire"
)

// maxBody bounds JSON request bodies. Image payloads travel as file refs,
// so clipboard bodies stay small.
const maxBody = 8 << 20

type errorResponse struct {
	Error wire.ErrorData `json:"error"`
}

// statusOf maps an error code to its HTTP status.
func statusOf(code domain.Code) int {
	switch code {
	case domain.CodeValidation, domain.CodeUnknownAction:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeConfirmationRequired:
		return http.StatusPreconditionFailed
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError reports err with the status its code maps to. Internal errors
// are logged with their cause, which never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, d deps.Deps, err error) {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		fields := []logger.Field{
			logger.String("path", r.URL.Path),
			logger.Error(err),
		}
		if id, ok := auth.FromContext(r.Context()); ok {
			fields = append(fields, logger.Owner(id.Owner))
		}
		d.Logger.Error("request failed", fields...)
	}
	writeJSON(w, statusOf(code), errorResponse{
		Error: wire.ErrorData{Code: code, Message: domain.MessageOf(err)},
	})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return nil
		}
		return domain.Validation("invalid JSON body: %v", err)
	}
	return nil
}

// session builds the caller's session from the authenticated identity and
// the X-Device-ID header. requireDevice rejects calls without the header.
func session(r *http.Request, requireDevice bool) (engine.Session, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return engine.Session{}, &domain.Error{Code: domain.CodeUnauthorized, Message: "could not validate credentials"}
	}
	dev := strings.TrimSpace(r.Header.Get(mw.DeviceHeader))
	if requireDevice && dev == "" {
		return engine.Session{}, domain.Validation("%s header is required", mw.DeviceHeader)
	}
	return engine.Session{
		Owner:      id.Owner,
		Username:   id.Username,
		DeviceID:   dev,
		DeviceName: strings.TrimSpace(r.Header.Get("X-Device-Name")),
	}, nil
}

// detached returns r's context without its cancellation. Mutations run to
// completion, housekeeping included, even when the client goes away or the
// API timeout fires.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Validation("%s must be a non-negative integer", key)
	}
	return n, nil
}
