// Package engine implements the clipboard sync protocol: dedup on submit,
// per-owner retention, cursor based catch-up and the broadcast side effects
// of every mutation. Socket and REST front ends both call into it so the two
// surfaces stay semantically identical.
package engine

import (
	"context"
	"errors"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/files"
	"github.com/clipsync/clipsync/internal/fingerprint"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/relay"
	"github.com/clipsync/clipsync/internal/store"
	"github.com/clipsync/clipsync/internal/wire"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultMaxItems     = 1000
	DefaultFetchLimit   = 50
	MaxFetchLimit       = 100
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
	MaxPageSize         = 100
	MaxBatchSize        = 1000

	// insertAttempts bounds find-or-insert rounds when racing writers keep
	// claiming and releasing the same fingerprint.
	insertAttempts = 3
)

// Session is the authenticated caller. DeviceID is always taken from the
// connection (socket) or the X-Device-ID header (REST), never from a payload.
type Session struct {
	Owner      string
	Username   string
	DeviceID   string
	DeviceName string
}

// Broadcaster accepts fire-and-forget fan-out messages.
type Broadcaster interface {
	Enqueue(msg relay.Message)
}

// Presence answers who is online.
type Presence interface {
	ListOnline(owner string) []string
	CountOnline(owner string) int
}

// Limits resolves an owner's history cap. A value <= 0 selects the default.
type Limits interface {
	MaxItems(owner string) int
}

// Options tunes paging and retention.
type Options struct {
	DefaultMaxItems     int
	DefaultFetchLimit   int
	MaxFetchLimit       int
	DefaultHistoryLimit int
	MaxHistoryLimit     int
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxItems <= 0 {
		o.DefaultMaxItems = DefaultMaxItems
	}
	if o.DefaultFetchLimit <= 0 {
		o.DefaultFetchLimit = DefaultFetchLimit
	}
	if o.MaxFetchLimit <= 0 {
		o.MaxFetchLimit = MaxFetchLimit
	}
	if o.DefaultHistoryLimit <= 0 {
		o.DefaultHistoryLimit = DefaultHistoryLimit
	}
	if o.MaxHistoryLimit <= 0 {
		o.MaxHistoryLimit = MaxHistoryLimit
	}
	return o
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Store       store.Store
	Files       files.Storage
	Broadcaster Broadcaster
	Presence    Presence
	Limits      Limits
	Clock       domain.Clock
	Logger      logger.Logger
}

// Engine is safe for concurrent use.
type Engine struct {
	store  store.Store
	fp     *fingerprint.Fingerprinter
	files  files.Storage
	relay  Broadcaster
	online Presence
	limits Limits
	clock  domain.Clock
	logger logger.Logger
	opts   Options
	newID  func() (string, error)
}

// New wires an engine.
func New(deps Deps, opts Options) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = domain.NewMonotonicClock(nil)
	}
	return &Engine{
		store:  deps.Store,
		fp:     fingerprint.New(deps.Files, deps.Logger),
		files:  deps.Files,
		relay:  deps.Broadcaster,
		online: deps.Presence,
		limits: deps.Limits,
		clock:  clock,
		logger: deps.Logger,
		opts:   opts.withDefaults(),
		newID:  func() (string, error) { return gonanoid.New(domain.IDLength) },
	}
}

// maxItems resolves owner's retention cap.
func (e *Engine) maxItems(owner string) int {
	if e.limits != nil {
		if n := e.limits.MaxItems(owner); n > 0 {
			return n
		}
	}
	return e.opts.DefaultMaxItems
}

// broadcast enqueues payload for owner's devices. origin is excluded when
// non-empty.
func (e *Engine) broadcast(owner, origin, typ string, data any) {
	e.relay.Enqueue(relay.Message{
		Owner:         owner,
		Origin:        origin,
		ExcludeOrigin: origin != "",
		Payload:       wire.NewEvent(typ, data),
	})
}

// peers counts owner's online devices other than deviceID.
func (e *Engine) peers(owner, deviceID string) int {
	n := 0
	for _, id := range e.online.ListOnline(owner) {
		if id != deviceID {
			n++
		}
	}
	return n
}

// releaseFiles frees payloads of removed items. Failures are logged only.
func (e *Engine) releaseFiles(ctx context.Context, s Session, action string, items []*domain.Item) int {
	if e.files == nil || len(items) == 0 {
		return 0
	}
	n, err := files.ReleaseItems(ctx, e.files, items)
	if err != nil {
		e.logger.Warn("failed to release some file payloads",
			logger.Owner(s.Owner),
			logger.Device(s.DeviceID),
			logger.Action(action),
			logger.Error(err))
	}
	return n
}

// storeErr converts a backend failure into a caller-facing error. Sentinels
// pass through so CodeOf still classifies them.
func storeErr(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.Internal(err, msg)
}

func ids(items []*domain.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
