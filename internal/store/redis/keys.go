package redis

import (
	"strconv"
	"time"
)

const (
	// KeyPrefixItem is the prefix for item documents (JSON strings)
	KeyPrefixItem = "clipsync:item:"
	// KeyPrefixUser is the prefix for per-owner indexes
	KeyPrefixUser = "clipsync:user:"
	// KeyPrefixDevice is the prefix for device hashes
	KeyPrefixDevice = "clipsync:device:"
	// KeyOwners is the set of owners that ever stored an item
	KeyOwners = "clipsync:owners"
)

// ItemKey returns the key holding one item document.
func ItemKey(id string) string {
	return KeyPrefixItem + id
}

// TimelineKey returns the sorted set of an owner's item IDs scored by
// CreatedAt in microseconds.
func TimelineKey(owner string) string {
	return KeyPrefixUser + owner + ":items"
}

// FingerprintsKey returns the hash fingerprint -> item ID of an owner.
func FingerprintsKey(owner string) string {
	return KeyPrefixUser + owner + ":fingerprints"
}

// DevicesKey returns the set of device IDs known for an owner.
func DevicesKey(owner string) string {
	return KeyPrefixUser + owner + ":devices"
}

// DeviceKey returns the hash holding one device row.
func DeviceKey(owner, deviceID string) string {
	return KeyPrefixDevice + owner + ":" + deviceID
}

// score encodes t as a timeline score. Zero time encodes as 0.
func score(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// parseScore is the inverse of score.
func parseScore(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}
