// Package auth verifies who is calling: a users directory loaded from YAML
// and an HS256 JWT verifier resolving a token to an Identity.
package auth

import (
	"sort"
	"sync"
	"time"
)

// Directory provides in-memory lookup of users by username and by owner id.
// It is replaced wholesale on every reload.
type Directory struct {
	mu         sync.RWMutex
	byName     map[string]User // username -> user
	byID       map[string]User // owner id -> user
	lastReload time.Time
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byName: make(map[string]User),
		byID:   make(map[string]User),
	}
}

// Update replaces all users.
func (d *Directory) Update(users []User) {
	byName := make(map[string]User, len(users))
	byID := make(map[string]User, len(users))
	for _, u := range users {
		byName[u.Username] = u
		byID[u.ID] = u
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byName = byName
	d.byID = byID
	d.lastReload = time.Now()
}

// Lookup returns the user with username.
func (d *Directory) Lookup(username string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byName[username]
	return u, ok
}

// MaxItems returns the owner's history cap, 0 when the owner has none.
func (d *Directory) MaxItems(owner string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.byID[owner].MaxHistoryItems
}

// Owners returns every known owner id, sorted.
func (d *Directory) Owners() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.byID))
	for id := range d.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of users.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.byName)
}

// LastReload returns when Update last ran.
func (d *Directory) LastReload() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.lastReload
}
