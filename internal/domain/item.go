package domain

import (
	"regexp"
	"strings"
	"time"
)

// Kind determines how an item's Content is interpreted and fingerprinted.
type Kind string

const (
	KindText  Kind = "text"
	KindHTML  Kind = "html"
	KindRTF   Kind = "rtf"
	KindImage Kind = "image"
	KindFiles Kind = "files"
)

// IDLength is the length of a client-generated item identifier.
const IDLength = 21

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{21}$`)

// ParseKind validates a wire kind.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindHTML, KindRTF, KindImage, KindFiles:
		return k, true
	default:
		return "", false
	}
}

// HasPayload reports whether Content references binary payloads held by
// the file storage collaborator.
func (k Kind) HasPayload() bool {
	return k == KindImage || k == KindFiles
}

// ValidID reports whether id looks like a 21-character nanoid.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Item is one clipboard history entry.
//
// Content and Fingerprint never change after insert. CreatedAt moves
// forward when the same content is submitted again; only the fields listed
// in UpdatableFields may be edited afterwards.
type Item struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is client generated, 21 characters, never reused.
	ID string `json:"id"`

	// Owner is the partition key. No item is ever visible to another owner.
	Owner string `json:"owner"`

	// ─────────────────────────────
	// Content (immutable)
	// ─────────────────────────────

	Kind Kind `json:"type"`

	// Content is inline text, or a file reference (image) or a JSON list of
	// file references (files).
	Content string `json:"value"`

	// Fingerprint is unique together with Owner.
	Fingerprint string `json:"content_hash"`

	// ─────────────────────────────
	// Presentation metadata
	// ─────────────────────────────

	Group    string `json:"group,omitempty"`
	Search   string `json:"search,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileName string `json:"file_name,omitempty"`

	// ─────────────────────────────
	// Mutable metadata
	// ─────────────────────────────

	Count    int     `json:"count"`
	Favorite bool    `json:"favorite"`
	Note     *string `json:"note,omitempty"`

	// ─────────────────────────────
	// Provenance & ordering
	// ─────────────────────────────

	OriginDevice     string `json:"device_id"`
	OriginDeviceName string `json:"device_name,omitempty"`

	// CreatedAt orders history and is compared against sync cursors.
	CreatedAt time.Time `json:"createTime"`

	// UpdatedAt changes on any mutation, including dedup refreshes.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (it *Item) Clone() *Item {
	if it == nil {
		return nil
	}
	c := *it
	if it.Note != nil {
		n := *it.Note
		c.Note = &n
	}
	return &c
}
