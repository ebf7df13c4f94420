package domain

import "time"

// Device is a known client binding for a user. Rows are created on first
// contact and never removed automatically.
type Device struct {
	ID         string    `json:"device_id"`
	Owner      string    `json:"owner"`
	Name       string    `json:"device_name"`
	LastOnline time.Time `json:"last_online"`

	// SyncCursor is the newest CreatedAt the device acknowledged. Zero means
	// the device never synced.
	SyncCursor time.Time `json:"last_sync_time"`

	CreatedAt time.Time `json:"created_at"`
}

// HasCursor reports whether the device acknowledged at least one sync.
func (d *Device) HasCursor() bool {
	return d != nil && !d.SyncCursor.IsZero()
}
