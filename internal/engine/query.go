package engine

import (
	"context"
	"strings"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/logger"
	"github.com/clipsync/clipsync/internal/store"
	"github.com/clipsync/clipsync/internal/wire"
)

// ListFilter narrows List. Zero values disable a filter.
type ListFilter struct {
	DeviceID string
	Favorite *bool
	Search   string
	Page     int
	PageSize int
}

// ListPage is one page of filtered history, newest first.
type ListPage struct {
	Items    []*domain.Item `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

func (f ListFilter) match(it *domain.Item) bool {
	if f.DeviceID != "" && it.OriginDevice != f.DeviceID {
		return false
	}
	if f.Favorite != nil && it.Favorite != *f.Favorite {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(it.Content), needle) &&
			!strings.Contains(strings.ToLower(it.Search), needle) {
			return false
		}
	}
	return true
}

// Get returns one of the owner's items.
func (e *Engine) Get(ctx context.Context, owner, id string) (*domain.Item, error) {
	it, err := e.store.Get(ctx, owner, id)
	if err != nil {
		return nil, storeErr(err, "failed to load item")
	}
	return it, nil
}

// List pages through the owner's history with optional filters. Filtering
// happens over the owner's whole history, which retention keeps bounded.
func (e *Engine) List(ctx context.Context, owner string, f ListFilter) (*ListPage, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PageSize == 0 {
		f.PageSize = 20
	}
	if f.Page < 1 || f.PageSize < 1 || f.PageSize > MaxPageSize {
		return nil, domain.Validation("page must be >= 1 and page_size within 1..%d", MaxPageSize)
	}

	all, _, err := e.store.Range(ctx, owner, store.RangeQuery{Newest: true})
	if err != nil {
		return nil, domain.Internal(err, "failed to list items")
	}

	matched := all[:0]
	for _, it := range all {
		if f.match(it) {
			matched = append(matched, it)
		}
	}

	return &ListPage{
		Items:    store.Page(matched, f.PageSize, (f.Page-1)*f.PageSize),
		Total:    len(matched),
		Page:     f.Page,
		PageSize: f.PageSize,
	}, nil
}

// ListOnline returns a snapshot of the owner's connected devices.
func (e *Engine) ListOnline(owner string) []string {
	return e.online.ListOnline(owner)
}

// Devices lists every device row the owner has, online or not.
func (e *Engine) Devices(ctx context.Context, owner string) ([]*domain.Device, error) {
	devices, err := e.store.ListDevices(ctx, owner)
	if err != nil {
		return nil, domain.Internal(err, "failed to list devices")
	}
	return devices, nil
}

// Connected records that the session's device came online, creating the
// device row on first contact.
func (e *Engine) Connected(ctx context.Context, s Session) (*domain.Device, error) {
	d, err := e.store.TouchDevice(ctx, s.Owner, s.DeviceID, s.DeviceName, e.clock.Now())
	if err != nil {
		return nil, domain.Internal(err, "failed to record device")
	}
	return d, nil
}

// Disconnected records last-online and tells the owner's remaining devices.
// Both steps are best effort.
func (e *Engine) Disconnected(ctx context.Context, s Session) {
	if _, err := e.store.TouchDevice(ctx, s.Owner, s.DeviceID, "", e.clock.Now()); err != nil {
		e.logger.Warn("failed to record device offline",
			logger.Owner(s.Owner),
			logger.Device(s.DeviceID),
			logger.Error(err))
	}

	e.broadcast(s.Owner, s.DeviceID, wire.EventDeviceOffline, wire.DeviceOffline{
		DeviceID:    s.DeviceID,
		OnlineCount: e.online.CountOnline(s.Owner),
	})
}
