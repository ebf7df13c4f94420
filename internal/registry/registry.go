// Package registry tracks which devices currently hold a live channel.
//
// Bindings are keyed by (owner, device): device ids are chosen by clients,
// so the same id under two owners names two unrelated devices. One device
// has at most one channel; registering again replaces (and closes) the
// previous one. Lookups are served from sharded maps so fan-out reads never
// contend with a single global lock.
package registry

import (
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/clipsync/clipsync/internal/logger"
	"github.com/google/uuid"
)

// Channel is an open bidirectional connection to one device.
type Channel interface {
	// Send delivers one serialized message. It must not block for long;
	// an error means the channel is unusable.
	Send(msg []byte) error
	Close() error
}

// ErrNotConnected is returned by SendTo for devices without a live channel.
var ErrNotConnected = errors.New("device not connected")

const shardCount = 32

type key struct {
	owner  string
	device string
}

type entry struct {
	conn    Channel
	session string
}

type deviceShard struct {
	mu      sync.RWMutex
	devices map[key]*entry
}

type ownerShard struct {
	mu     sync.RWMutex
	owners map[string]map[string]struct{} // owner -> deviceIDs
}

// Registry is safe for concurrent use.
//
// Lock order is device shard, then owner shard.
type Registry struct {
	devices [shardCount]*deviceShard
	owners  [shardCount]*ownerShard
	logger  logger.Logger
}

// New creates an empty registry.
func New(log logger.Logger) *Registry {
	r := &Registry{logger: log}
	for i := 0; i < shardCount; i++ {
		r.devices[i] = &deviceShard{devices: make(map[key]*entry)}
		r.owners[i] = &ownerShard{owners: make(map[string]map[string]struct{})}
	}
	return r
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

func (r *Registry) deviceShard(k key) *deviceShard {
	return r.devices[shardIndex(k.owner+"\x00"+k.device)]
}

func (r *Registry) ownerShard(owner string) *ownerShard {
	return r.owners[shardIndex(owner)]
}

// Register binds owner's deviceID to conn and returns the session id of
// the binding. A previous channel of the same owner and device is closed;
// other owners' bindings are never touched.
func (r *Registry) Register(owner, deviceID string, conn Channel) string {
	session := uuid.NewString()
	k := key{owner: owner, device: deviceID}
	ds := r.deviceShard(k)

	ds.mu.Lock()
	prev := ds.devices[k]
	ds.devices[k] = &entry{conn: conn, session: session}
	r.index(owner, deviceID)
	ds.mu.Unlock()

	if prev != nil && prev.conn != conn {
		r.logger.Info("replacing existing device channel",
			logger.Owner(owner),
			logger.Device(deviceID))
		if err := prev.conn.Close(); err != nil {
			r.logger.Debug("closing replaced channel failed", logger.Device(deviceID), logger.Error(err))
		}
	}
	return session
}

// Unregister removes owner's deviceID binding. Unknown devices are ignored.
func (r *Registry) Unregister(owner, deviceID string) {
	r.remove(key{owner: owner, device: deviceID}, func(*entry) bool { return true })
}

// Detach removes the binding only while it still points at conn, so a late
// cleanup of a replaced socket cannot drop its successor. It reports
// whether a binding was removed.
func (r *Registry) Detach(owner, deviceID string, conn Channel) bool {
	return r.remove(key{owner: owner, device: deviceID}, func(e *entry) bool { return e.conn == conn })
}

func (r *Registry) remove(k key, match func(*entry) bool) bool {
	ds := r.deviceShard(k)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	e, ok := ds.devices[k]
	if !ok || !match(e) {
		return false
	}
	delete(ds.devices, k)
	r.unindex(k.owner, k.device)
	return true
}

func (r *Registry) index(owner, deviceID string) {
	osh := r.ownerShard(owner)
	osh.mu.Lock()
	defer osh.mu.Unlock()

	set := osh.owners[owner]
	if set == nil {
		set = make(map[string]struct{})
		osh.owners[owner] = set
	}
	set[deviceID] = struct{}{}
}

func (r *Registry) unindex(owner, deviceID string) {
	osh := r.ownerShard(owner)
	osh.mu.Lock()
	defer osh.mu.Unlock()

	set := osh.owners[owner]
	delete(set, deviceID)
	if len(set) == 0 {
		delete(osh.owners, owner)
	}
}

// Lookup returns the channel bound to owner's deviceID.
func (r *Registry) Lookup(owner, deviceID string) (Channel, bool) {
	k := key{owner: owner, device: deviceID}
	ds := r.deviceShard(k)
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	e, ok := ds.devices[k]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Session returns the session id of owner's deviceID binding.
func (r *Registry) Session(owner, deviceID string) (string, bool) {
	k := key{owner: owner, device: deviceID}
	ds := r.deviceShard(k)
	ds.mu.RLock()
	defer ds.mu.RUnlock()

	e, ok := ds.devices[k]
	if !ok {
		return "", false
	}
	return e.session, true
}

// ListOnline returns a sorted snapshot of owner's connected devices.
func (r *Registry) ListOnline(owner string) []string {
	osh := r.ownerShard(owner)
	osh.mu.RLock()
	ids := make([]string, 0, len(osh.owners[owner]))
	for id := range osh.owners[owner] {
		ids = append(ids, id)
	}
	osh.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// CountOnline returns how many devices owner has connected.
func (r *Registry) CountOnline(owner string) int {
	osh := r.ownerShard(owner)
	osh.mu.RLock()
	defer osh.mu.RUnlock()
	return len(osh.owners[owner])
}

// Total returns the number of live bindings across all owners.
func (r *Registry) Total() int {
	n := 0
	for _, ds := range r.devices {
		ds.mu.RLock()
		n += len(ds.devices)
		ds.mu.RUnlock()
	}
	return n
}

// SendTo delivers msg to owner's deviceID. A failing channel is detached
// (only if it is still the current one) and the error returned.
func (r *Registry) SendTo(owner, deviceID string, msg []byte) error {
	conn, ok := r.Lookup(owner, deviceID)
	if !ok {
		return ErrNotConnected
	}
	if err := conn.Send(msg); err != nil {
		r.Detach(owner, deviceID, conn)
		return err
	}
	return nil
}

// CloseAll closes and forgets every channel.
func (r *Registry) CloseAll() {
	var conns []Channel
	for _, ds := range r.devices {
		ds.mu.Lock()
		for k, e := range ds.devices {
			conns = append(conns, e.conn)
			r.unindex(k.owner, k.device)
		}
		ds.devices = make(map[key]*entry)
		ds.mu.Unlock()
	}

	for _, c := range conns {
		_ = c.Close()
	}
}
