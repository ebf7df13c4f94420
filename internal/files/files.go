// Package files is the boundary to the binary payload storage used by image
// and files clipboard items. Items only hold references; bytes live here.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/clipsync/clipsync/internal/domain"
)

// refPrefix is how some clients tag file references inside item content.
const refPrefix = "file_id:"

// Resolver returns the bytes behind a reference. A missing file is reported
// as ok=false with a nil error.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (data []byte, ok bool, err error)
}

// Releaser deletes the bytes behind a reference. Deleting a missing file is
// not an error.
type Releaser interface {
	Delete(ctx context.Context, ref string) (deleted bool, err error)
}

// Storage is the full collaborator.
type Storage interface {
	Resolver
	Releaser
}

// Name normalizes a reference to the stored file name. References may be
// prefixed ("file_id:abc.png") or carry a path ("./uploads/abc.png"); only
// the base name is kept so a reference can never escape the storage root.
func Name(ref string) (string, bool) {
	ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ref), refPrefix))
	ref = strings.ReplaceAll(ref, `\`, "/")
	name := path.Base(ref)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", false
	}
	return name, true
}

type fileEntry struct {
	FileID string `json:"file_id"`
}

// Refs lists the payload references carried by an item's content, in order.
// Kinds without payloads return nil.
func Refs(kind domain.Kind, content string) []string {
	switch kind {
	case domain.KindImage:
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []string{content}
	case domain.KindFiles:
		var entries []fileEntry
		if err := json.Unmarshal([]byte(content), &entries); err == nil {
			refs := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.FileID != "" {
					refs = append(refs, e.FileID)
				}
			}
			return refs
		}
		var plain []string
		if err := json.Unmarshal([]byte(content), &plain); err == nil {
			refs := make([]string, 0, len(plain))
			for _, r := range plain {
				if r != "" {
					refs = append(refs, r)
				}
			}
			return refs
		}
		return nil
	default:
		return nil
	}
}

// Release deletes every reference and returns how many files were removed.
// All references are attempted; failures are combined.
func Release(ctx context.Context, r Releaser, refs []string) (int, error) {
	var (
		deleted int
		errs    error
	)
	for _, ref := range refs {
		ok, err := r.Delete(ctx, ref)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", ref, err))
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, errs
}

// ReleaseItems releases the payloads of every item.
func ReleaseItems(ctx context.Context, r Releaser, items []*domain.Item) (int, error) {
	var refs []string
	for _, it := range items {
		refs = append(refs, Refs(it.Kind, it.Content)...)
	}
	return Release(ctx, r, refs)
}

// ─────────────────────────────────────────────────────────────────
// Disk
// ─────────────────────────────────────────────────────────────────

// Disk stores payloads as flat files in one directory.
type Disk struct {
	dir string
}

// NewDisk creates dir when missing.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) Resolve(_ context.Context, ref string) ([]byte, bool, error) {
	name, ok := Name(ref)
	if !ok {
		return nil, false, nil
	}
	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, true, nil
}

func (d *Disk) Delete(_ context.Context, ref string) (bool, error) {
	name, ok := Name(ref)
	if !ok {
		return false, nil
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete %s: %w", name, err)
	}
	return true, nil
}

// ─────────────────────────────────────────────────────────────────
// Memory
// ─────────────────────────────────────────────────────────────────

// Memory keeps payloads in a map. Used by tests and the memory backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Put stores data under ref.
func (m *Memory) Put(ref string, data []byte) {
	name, ok := Name(ref)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = append([]byte(nil), data...)
}

// Has reports whether ref is stored.
func (m *Memory) Has(ref string) bool {
	name, _ := Name(ref)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[name]
	return ok
}

func (m *Memory) Resolve(_ context.Context, ref string) ([]byte, bool, error) {
	name, ok := Name(ref)
	if !ok {
		return nil, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[name]
	return data, ok, nil
}

func (m *Memory) Delete(_ context.Context, ref string) (bool, error) {
	name, ok := Name(ref)
	if !ok {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[name]; !ok {
		return false, nil
	}
	delete(m.data, name)
	return true, nil
}
