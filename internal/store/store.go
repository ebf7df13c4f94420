// Package store defines the persistence boundary of the sync engine.
//
// Backends (redis, sqlite, memory) must enforce two invariants themselves:
// item ids are globally unique, and (owner, fingerprint) is unique. Insert
// reports violations with domain.ErrIDTaken / domain.ErrFingerprintTaken so
// the engine can turn a lost insert race into a deduplication.
package store

import (
	"context"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
)

// RangeQuery selects a page of one owner's history.
type RangeQuery struct {
	// After keeps only items with CreatedAt strictly greater. Zero disables
	// the bound.
	After time.Time
	// Newest orders newest first; the default is oldest first.
	Newest bool
	// Limit <= 0 means no limit.
	Limit  int
	Offset int
}

// Items is the authoritative clipboard log, partitioned by owner.
type Items interface {
	Insert(ctx context.Context, it *domain.Item) error
	Get(ctx context.Context, owner, id string) (*domain.Item, error)
	FindByFingerprint(ctx context.Context, owner, fingerprint string) (*domain.Item, error)

	// Touch moves an item to at (CreatedAt and UpdatedAt) and returns it.
	Touch(ctx context.Context, owner, id string, at time.Time) (*domain.Item, error)

	// SaveMeta persists the mutable metadata of an existing item.
	SaveMeta(ctx context.Context, it *domain.Item) error

	// Delete removes the listed items of owner and returns what was removed.
	// Unknown or foreign ids are ignored.
	Delete(ctx context.Context, owner string, ids []string) ([]*domain.Item, error)
	DeleteAll(ctx context.Context, owner string) ([]*domain.Item, error)

	Count(ctx context.Context, owner string) (int, error)

	// TrimTo deletes owner's oldest items beyond the newest keep and returns
	// them oldest first. The surplus is decided and removed in one atomic
	// step, so concurrent trims never remove an item inside the cap.
	TrimTo(ctx context.Context, owner string, keep int) ([]*domain.Item, error)

	// Range returns one page and the total number of matching items.
	Range(ctx context.Context, owner string, q RangeQuery) ([]*domain.Item, int, error)

	// Owners lists every owner with at least one item.
	Owners(ctx context.Context) ([]string, error)
}

// Devices persists device rows and their sync cursors.
type Devices interface {
	Device(ctx context.Context, owner, deviceID string) (*domain.Device, error)

	// TouchDevice creates the device on first contact and records it as
	// online at at. A non-empty name replaces the stored one.
	TouchDevice(ctx context.Context, owner, deviceID, name string, at time.Time) (*domain.Device, error)

	// AdvanceCursor stores max(current, cursor) atomically, creating the
	// device when missing, and returns the effective cursor.
	AdvanceCursor(ctx context.Context, owner, deviceID string, cursor, now time.Time) (time.Time, error)

	ListDevices(ctx context.Context, owner string) ([]*domain.Device, error)
}

// Store is a complete backend.
type Store interface {
	Items
	Devices
	Ping(ctx context.Context) error
	Close() error
}

// Page applies offset/limit to an already ordered slice.
func Page[T any](all []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}
