package domain

import (
	"bytes"
	"encoding/json"
	"sort"
)

type fieldSetter func(it *Item, raw json.RawMessage) error

// updatableFields is the allow-list of metadata a client may edit.
// Content, kind, fingerprint and ordering fields are deliberately absent.
var updatableFields = map[string]fieldSetter{
	"favorite": setFavorite,
	"note":     setNote,
	"count":    setCount,
}

// UpdatableFields lists the editable field names in sorted order.
func UpdatableFields() []string {
	names := make([]string, 0, len(updatableFields))
	for k := range updatableFields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Updates is a validated set of field edits.
type Updates struct {
	fields []string
	raw    map[string]json.RawMessage
}

// ParseUpdates validates a caller-supplied field map. Unknown keys and
// values of the wrong type are rejected before anything is applied.
func ParseUpdates(raw map[string]json.RawMessage) (*Updates, error) {
	if len(raw) == 0 {
		return nil, Validation("updates must not be empty")
	}

	fields := make([]string, 0, len(raw))
	for k := range raw {
		if _, ok := updatableFields[k]; !ok {
			return nil, Validation("field %q cannot be updated", k)
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	// Dry run against a scratch item so Apply can not fail halfway.
	var scratch Item
	for _, f := range fields {
		if err := updatableFields[f](&scratch, raw[f]); err != nil {
			return nil, err
		}
	}

	return &Updates{fields: fields, raw: raw}, nil
}

// Fields returns the edited field names, sorted.
func (u *Updates) Fields() []string { return u.fields }

// Apply writes the edits onto it.
func (u *Updates) Apply(it *Item) {
	for _, f := range u.fields {
		_ = updatableFields[f](it, u.raw[f])
	}
}

// Values returns the edits as decoded JSON values, for broadcasting.
func (u *Updates) Values() map[string]any {
	out := make(map[string]any, len(u.fields))
	var it Item
	u.Apply(&it)
	for _, f := range u.fields {
		switch f {
		case "favorite":
			out[f] = it.Favorite
		case "note":
			if it.Note == nil {
				out[f] = nil
			} else {
				out[f] = *it.Note
			}
		case "count":
			out[f] = it.Count
		}
	}
	return out
}

func setFavorite(it *Item, raw json.RawMessage) error {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		it.Favorite = b
		return nil
	}
	// Older clients send 0/1.
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || (n != 0 && n != 1) {
		return Validation("favorite must be a boolean")
	}
	it.Favorite = n == 1
	return nil
}

func setNote(it *Item, raw json.RawMessage) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		it.Note = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Validation("note must be a string or null")
	}
	it.Note = &s
	return nil
}

func setCount(it *Item, raw json.RawMessage) error {
	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n < 0 {
		return Validation("count must be a non-negative integer")
	}
	it.Count = n
	return nil
}
