package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
)

// Store keeps everything in process memory. It backs tests and the
// "memory" backend for single-node development; nothing survives a restart.
type Store struct {
	mu           sync.RWMutex
	items        map[string]*domain.Item              // ID -> Item
	fingerprints map[string]map[string]string         // owner -> fingerprint -> ID
	devices      map[string]map[string]*domain.Device // owner -> deviceID -> Device
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		items:        make(map[string]*domain.Item),
		fingerprints: make(map[string]map[string]string),
		devices:      make(map[string]map[string]*domain.Device),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// ─────────────────────────────────────────────────────────────────
// Items
// ─────────────────────────────────────────────────────────────────

func (s *Store) Insert(_ context.Context, it *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[it.ID]; ok {
		return fmt.Errorf("insert %s: %w", it.ID, domain.ErrIDTaken)
	}
	fps := s.fingerprints[it.Owner]
	if fps == nil {
		fps = make(map[string]string)
		s.fingerprints[it.Owner] = fps
	}
	if _, ok := fps[it.Fingerprint]; ok {
		return fmt.Errorf("insert %s: %w", it.ID, domain.ErrFingerprintTaken)
	}

	s.items[it.ID] = it.Clone()
	fps[it.Fingerprint] = it.ID
	return nil
}

func (s *Store) Get(_ context.Context, owner, id string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok || it.Owner != owner {
		return nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return it.Clone(), nil
}

func (s *Store) FindByFingerprint(_ context.Context, owner, fingerprint string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.fingerprints[owner][fingerprint]
	if !ok {
		return nil, fmt.Errorf("fingerprint %s: %w", fingerprint, domain.ErrNotFound)
	}
	return s.items[id].Clone(), nil
}

func (s *Store) Touch(_ context.Context, owner, id string, at time.Time) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Owner != owner {
		return nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	it.CreatedAt = at
	it.UpdatedAt = at
	return it.Clone(), nil
}

func (s *Store) SaveMeta(_ context.Context, upd *domain.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[upd.ID]
	if !ok || it.Owner != upd.Owner {
		return fmt.Errorf("item %s: %w", upd.ID, domain.ErrNotFound)
	}
	it.Favorite = upd.Favorite
	it.Count = upd.Count
	it.Note = upd.Clone().Note
	it.UpdatedAt = upd.UpdatedAt
	return nil
}

func (s *Store) Delete(_ context.Context, owner string, ids []string) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]*domain.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := s.items[id]
		if !ok || it.Owner != owner {
			continue
		}
		s.removeLocked(it)
		removed = append(removed, it)
	}
	return removed, nil
}

func (s *Store) DeleteAll(_ context.Context, owner string) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.ownedLocked(owner)
	for _, it := range removed {
		s.removeLocked(it)
	}
	return removed, nil
}

func (s *Store) Count(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.fingerprints[owner]), nil
}

func (s *Store) TrimTo(_ context.Context, owner string, keep int) ([]*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.ownedLocked(owner)
	if len(all) <= keep {
		return []*domain.Item{}, nil
	}
	surplus := all[:len(all)-max(keep, 0)]
	for _, it := range surplus {
		s.removeLocked(it)
	}
	return surplus, nil
}

func (s *Store) Range(_ context.Context, owner string, q store.RangeQuery) ([]*domain.Item, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.ownedLocked(owner)
	matched := all[:0:0]
	for _, it := range all {
		if q.After.IsZero() || it.CreatedAt.After(q.After) {
			matched = append(matched, it)
		}
	}
	if q.Newest {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	return cloneAll(store.Page(matched, q.Limit, q.Offset)), len(matched), nil
}

func (s *Store) Owners(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.fingerprints))
	for owner, fps := range s.fingerprints {
		if len(fps) > 0 {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// ownedLocked returns owner's items oldest first. Ties break on ID so the
// order is stable across calls.
func (s *Store) ownedLocked(owner string) []*domain.Item {
	fps := s.fingerprints[owner]
	out := make([]*domain.Item, 0, len(fps))
	for _, id := range fps {
		out = append(out, s.items[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) removeLocked(it *domain.Item) {
	delete(s.items, it.ID)
	delete(s.fingerprints[it.Owner], it.Fingerprint)
}

func cloneAll(items []*domain.Item) []*domain.Item {
	out := make([]*domain.Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// ─────────────────────────────────────────────────────────────────
// Devices
// ─────────────────────────────────────────────────────────────────

func (s *Store) Device(_ context.Context, owner, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[owner][deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (s *Store) TouchDevice(_ context.Context, owner, deviceID, name string, at time.Time) (*domain.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.deviceLocked(owner, deviceID, at)
	if name != "" {
		d.Name = name
	}
	d.LastOnline = at
	c := *d
	return &c, nil
}

func (s *Store) AdvanceCursor(_ context.Context, owner, deviceID string, cursor, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.deviceLocked(owner, deviceID, now)
	if cursor.After(d.SyncCursor) {
		d.SyncCursor = cursor
	}
	return d.SyncCursor, nil
}

func (s *Store) ListDevices(_ context.Context, owner string) ([]*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Device, 0, len(s.devices[owner]))
	for _, d := range s.devices[owner] {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) deviceLocked(owner, deviceID string, now time.Time) *domain.Device {
	byID := s.devices[owner]
	if byID == nil {
		byID = make(map[string]*domain.Device)
		s.devices[owner] = byID
	}
	d, ok := byID[deviceID]
	if !ok {
		d = &domain.Device{ID: deviceID, Owner: owner, Name: deviceID, CreatedAt: now}
		byID[deviceID] = d
	}
	return d
}
