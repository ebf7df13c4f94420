package mw

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/wire"
)

// DeviceHeader names the REST caller's device.
const DeviceHeader = "X-Device-ID"

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(raw string) (auth.Identity, error)
}

// Authenticate requires a valid token, read from "Authorization: Bearer"
// or the "token" query parameter (browsers cannot set headers on a
// WebSocket handshake), and stores the identity in the request context.
func Authenticate(v TokenVerifier, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := v.Verify(bearerToken(r))
			if err != nil {
				log.Debug("authentication rejected",
					logger.String("path", r.URL.Path),
					logger.Error(err))
				w.Header().Set("WWW-Authenticate", "Bearer")
				deny(w, http.StatusUnauthorized, domain.CodeUnauthorized, domain.MessageOf(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// deny writes the same error body the REST handlers use.
func deny(w http.ResponseWriter, status int, code domain.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]wire.ErrorData{
		"error": {Code: code, Message: msg},
	})
}
