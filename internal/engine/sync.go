package engine

import (
	"context"
	"errors"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/store"
)

// UpdatesPage is one page of catch-up results, oldest first.
type UpdatesPage struct {
	Items []*domain.Item `json:"items"`
	Total int            `json:"total"`
	// Cursor is the device's stored cursor the page was computed from.
	Cursor time.Time `json:"last_sync_time"`
}

// HistoryPage is one page of history, newest first.
type HistoryPage struct {
	Items   []*domain.Item `json:"items"`
	Total   int            `json:"total"`
	HasMore bool           `json:"has_more"`
}

func pageBounds(limit, offset, def, maxLimit int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, domain.Validation("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = def
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, offset, nil
}

func requireDevice(s Session) error {
	if s.DeviceID == "" {
		return domain.Validation("device id is required")
	}
	return nil
}

// device loads the session's device, creating it on first contact.
func (e *Engine) device(ctx context.Context, s Session) (*domain.Device, error) {
	d, err := e.store.Device(ctx, s.Owner, s.DeviceID)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Internal(err, "failed to load device")
	}

	d, err = e.store.TouchDevice(ctx, s.Owner, s.DeviceID, s.DeviceName, e.clock.Now())
	if err != nil {
		return nil, domain.Internal(err, "failed to register device")
	}
	e.logger.Info("device registered on first sync",
		logger.Owner(s.Owner),
		logger.Device(s.DeviceID))
	return d, nil
}

// FetchUpdates returns the owner's items newer than the device cursor (all
// items when the device never acknowledged), oldest first. The cursor is
// not advanced.
func (e *Engine) FetchUpdates(ctx context.Context, s Session, limit, offset int) (*UpdatesPage, error) {
	if err := requireDevice(s); err != nil {
		return nil, err
	}
	limit, offset, err := pageBounds(limit, offset, e.opts.DefaultFetchLimit, e.opts.MaxFetchLimit)
	if err != nil {
		return nil, err
	}

	d, err := e.device(ctx, s)
	if err != nil {
		return nil, err
	}

	items, total, err := e.store.Range(ctx, s.Owner, store.RangeQuery{
		After:  d.SyncCursor,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, domain.Internal(err, "failed to read updates")
	}
	return &UpdatesPage{Items: items, Total: total, Cursor: d.SyncCursor}, nil
}

// AckSyncCursor advances the device cursor. An older cursor never regresses
// the stored one; the effective cursor is returned.
func (e *Engine) AckSyncCursor(ctx context.Context, s Session, cursor time.Time) (time.Time, error) {
	if err := requireDevice(s); err != nil {
		return time.Time{}, err
	}
	if cursor.IsZero() {
		return time.Time{}, domain.Validation("cursor is required")
	}

	effective, err := e.store.AdvanceCursor(ctx, s.Owner, s.DeviceID, cursor.UTC(), e.clock.Now())
	if err != nil {
		return time.Time{}, domain.Internal(err, "failed to store sync cursor")
	}
	if effective.After(cursor) {
		e.logger.Debug("stale cursor ack ignored",
			logger.Owner(s.Owner),
			logger.Device(s.DeviceID),
			logger.Time("acked", cursor),
			logger.Time("stored", effective))
	}
	return effective, nil
}

// FetchHistory returns the owner's history newest first, optionally only
// items created after since.
func (e *Engine) FetchHistory(ctx context.Context, s Session, since time.Time, limit, offset int) (*HistoryPage, error) {
	limit, offset, err := pageBounds(limit, offset, e.opts.DefaultHistoryLimit, e.opts.MaxHistoryLimit)
	if err != nil {
		return nil, err
	}

	items, total, err := e.store.Range(ctx, s.Owner, store.RangeQuery{
		After:  since,
		Newest: true,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, domain.Internal(err, "failed to read history")
	}
	return &HistoryPage{Items: items, Total: total, HasMore: offset+len(items) < total}, nil
}
