// Package ws serves the live device channel: one WebSocket per device,
// request/response envelopes dispatched to the sync engine, and server
// pushed events delivered through the connection registry.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/engine"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/registry"
	"github.com/clipsync/clipsync/internal/wire"
)

// Options tunes socket behavior. Zero values select the defaults.
type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	MaxMessage   int64
	// AllowedOrigins lists accepted Origin headers. Empty accepts same-host
	// origins and clients that send none.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxMessage <= 0 {
		o.MaxMessage = 8 << 20
	}
	return o
}

// pongWait is how long a silent peer is tolerated.
func (o Options) pongWait() time.Duration {
	return o.PingInterval*2 + o.WriteTimeout
}

// Registry is the part of the connection registry the server drives.
type Registry interface {
	Register(owner, deviceID string, conn registry.Channel) string
	Detach(owner, deviceID string, conn registry.Channel) bool
	Lookup(owner, deviceID string) (registry.Channel, bool)
	ListOnline(owner string) []string
}

// Server upgrades authenticated requests and runs one session per socket.
type Server struct {
	engine   *engine.Engine
	registry Registry
	upgrader websocket.Upgrader
	opts     Options
	logger   logger.Logger
}

// NewServer wires a socket server.
func NewServer(eng *engine.Engine, reg Registry, opts Options, log logger.Logger) *Server {
	opts = opts.withDefaults()
	s := &Server{
		engine:   eng,
		registry: reg,
		opts:     opts,
		logger:   log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.opts.AllowedOrigins) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type connectedData struct {
	DeviceID      string    `json:"device_id"`
	SessionID     string    `json:"session_id"`
	OnlineDevices []string  `json:"online_devices"`
	ServerTime    time.Time `json:"server_time"`
}

// Serve upgrades the request and blocks until the socket closes. The
// session identity must already be verified.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, sess engine.Session) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			logger.Owner(sess.Owner),
			logger.Device(sess.DeviceID),
			logger.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.MaxMessage)

	conn := newConn(ws, s.opts)
	go conn.writePump()

	// Operations a device started finish even when its socket drops.
	ctx := context.WithoutCancel(r.Context())

	sessionID := s.registry.Register(sess.Owner, sess.DeviceID, conn)
	log := s.logger.With(
		logger.Owner(sess.Owner),
		logger.Device(sess.DeviceID),
		logger.String("session_id", sessionID))
	log.Info("device connected")

	if _, err := s.engine.Connected(ctx, sess); err != nil {
		log.Warn("failed to record device online", logger.Error(err))
	}
	s.reply(conn, wire.Response{Type: wire.TypeConnected, Data: connectedData{
		DeviceID:      sess.DeviceID,
		SessionID:     sessionID,
		OnlineDevices: s.registry.ListOnline(sess.Owner),
		ServerTime:    time.Now().UTC(),
	}}, log)

	s.readLoop(ctx, conn, sess, log)

	_ = conn.Close()
	detached := s.registry.Detach(sess.Owner, sess.DeviceID, conn)
	if _, replaced := s.registry.Lookup(sess.Owner, sess.DeviceID); replaced && !detached {
		log.Info("replaced device channel closed")
		return
	}
	s.engine.Disconnected(ctx, sess)
	log.Info("device disconnected")
}

func (s *Server) readLoop(ctx context.Context, conn *Conn, sess engine.Session, log logger.Logger) {
	conn.readDeadline()
	conn.ws.SetPongHandler(func(string) error {
		conn.readDeadline()
		return nil
	})

	for {
		_, msg, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("websocket read failed", logger.Error(err))
			}
			return
		}
		conn.readDeadline()

		var req wire.Request
		if err := json.Unmarshal(msg, &req); err != nil {
			s.reply(conn, wire.Fail("", domain.Validation("invalid message envelope")), log)
			continue
		}

		resp := s.dispatch(ctx, sess, req, log)
		if !s.reply(conn, resp, log) {
			return
		}
	}
}

// reply queues resp and reports whether the connection is still usable.
func (s *Server) reply(conn *Conn, resp wire.Response, log logger.Logger) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("failed to encode response", logger.String("type", resp.Type), logger.Error(err))
		data, _ = json.Marshal(wire.Fail(resp.RequestID, domain.Internal(err, "encode response")))
	}
	if err := conn.Send(data); err != nil {
		log.Debug("response dropped", logger.String("type", resp.Type), logger.Error(err))
		return false
	}
	return true
}
