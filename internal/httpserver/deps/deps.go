package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/httpserver/mw"
	"github.com/clipsync/clipsync/internal/logger"
)

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sockets serves the live channel of an authenticated device.
type Sockets interface {
	Serve(w http.ResponseWriter, r *http.Request, sess engine.Session)
}

// Stats exposes live counters for the probe endpoints.
type Stats interface {
	Connections() int
	RelayQueued() int
	RelayDropped() uint64
	RelayDelivered() uint64
}

type Deps struct {
	Logger             logger.Logger
	StartTime          time.Time
	Version            string
	Commit             string
	BuildDate          string
	GoVersion          string
	TimeNow            func() time.Time // for testing, defaults to time.Now
	AllowedHosts       []string         // Host headers allowed on admin endpoints
	AllowedCIDRS       []string         // IPs allowed to access probe and admin endpoints
	TrustProxy         bool             // true if running behind a trusted reverse proxy
	RateLimitBurst     int              // REST requests per IP before throttling
	RateLimitPerMin    int              // refill per IP per minute
	StoreBackend       string           // "redis" | "sqlite" | "memory"
	Store              Pinger           // readiness target
	Engine             *engine.Engine   // sync protocol
	Sockets            Sockets          // WebSocket sessions
	Verifier           mw.TokenVerifier // bearer token verification
	Users              *auth.Directory  // loaded users
	Stats              Stats            // connection and relay counters
	UsersReloadTrigger chan struct{}    // manual users file reload
}

// Now returns the current time through TimeNow when set.
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
