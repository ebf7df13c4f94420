// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
)

// Factory returns a fresh, empty backend. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// at returns base shifted by n microseconds.
func at(n int) time.Time { return base.Add(time.Duration(n) * time.Microsecond) }

// ItemID builds a valid 21-character id from n.
func ItemID(n int) string { return fmt.Sprintf("item%017d", n) }

// NewItem builds a text item for owner created at at(n).
func NewItem(owner string, n int) *domain.Item {
	return &domain.Item{
		ID:           ItemID(n),
		Owner:        owner,
		Kind:         domain.KindText,
		Content:      fmt.Sprintf("content-%d", n),
		Fingerprint:  fmt.Sprintf("fp-%s-%d", owner, n),
		Group:        "text",
		OriginDevice: "dev-a",
		CreatedAt:    at(n),
		UpdatedAt:    at(n),
	}
}

// Run executes the conformance suite against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, newStore(t)) })
	t.Run("Uniqueness", func(t *testing.T) { testUniqueness(t, newStore(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
	t.Run("Touch", func(t *testing.T) { testTouch(t, newStore(t)) })
	t.Run("SaveMeta", func(t *testing.T) { testSaveMeta(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Range", func(t *testing.T) { testRange(t, newStore(t)) })
	t.Run("TrimAndOwners", func(t *testing.T) { testTrimAndOwners(t, newStore(t)) })
	t.Run("ConcurrentTrim", func(t *testing.T) { testConcurrentTrim(t, newStore(t)) })
	t.Run("Devices", func(t *testing.T) { testDevices(t, newStore(t)) })
}

func testInsertGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := NewItem("alice", 1)
	note := "pinned"
	it.Note = &note
	it.Width, it.Height = 10, 20

	if err := s.Insert(ctx, it); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := s.Get(ctx, "alice", it.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Content != it.Content || got.Fingerprint != it.Fingerprint || got.Kind != it.Kind {
		t.Errorf("Get() = %+v, want %+v", got, it)
	}
	if !got.CreatedAt.Equal(it.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, it.CreatedAt)
	}
	if got.Note == nil || *got.Note != note || got.Width != 10 || got.Height != 20 {
		t.Errorf("metadata not round-tripped: %+v", got)
	}

	if _, err := s.Get(ctx, "bob", it.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(other owner) error = %v, want ErrNotFound", err)
	}

	byFP, err := s.FindByFingerprint(ctx, "alice", it.Fingerprint)
	if err != nil || byFP.ID != it.ID {
		t.Errorf("FindByFingerprint() = %v, %v", byFP, err)
	}
	if _, err := s.FindByFingerprint(ctx, "bob", it.Fingerprint); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FindByFingerprint(other owner) error = %v, want ErrNotFound", err)
	}
}

func testUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := NewItem("alice", 1)
	if err := s.Insert(ctx, first); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	sameFP := NewItem("alice", 2)
	sameFP.Fingerprint = first.Fingerprint
	if err := s.Insert(ctx, sameFP); !errors.Is(err, domain.ErrFingerprintTaken) {
		t.Errorf("Insert(same fingerprint) error = %v, want ErrFingerprintTaken", err)
	}

	sameID := NewItem("bob", 3)
	sameID.ID = first.ID
	if err := s.Insert(ctx, sameID); !errors.Is(err, domain.ErrIDTaken) {
		t.Errorf("Insert(same id) error = %v, want ErrIDTaken", err)
	}

	// Fingerprints are scoped per owner.
	other := NewItem("bob", 4)
	other.Fingerprint = first.Fingerprint
	if err := s.Insert(ctx, other); err != nil {
		t.Errorf("Insert(other owner, same fingerprint) error = %v", err)
	}

	if n, _ := s.Count(ctx, "alice"); n != 1 {
		t.Errorf("Count(alice) = %d, want 1", n)
	}
}

func testConcurrentInsert(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		dupes   int
		unknown []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			it := NewItem("alice", 100+i)
			it.Fingerprint = "shared"
			err := s.Insert(ctx, it)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrFingerprintTaken):
				dupes++
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	wg.Wait()

	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if wins != 1 || dupes != workers-1 {
		t.Errorf("wins = %d, dupes = %d, want 1 and %d", wins, dupes, workers-1)
	}
}

func testTouch(t *testing.T, s store.Store) {
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		if err := s.Insert(ctx, NewItem("alice", n)); err != nil {
			t.Fatal(err)
		}
	}

	touched, err := s.Touch(ctx, "alice", ItemID(1), at(50))
	if err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if !touched.CreatedAt.Equal(at(50)) || !touched.UpdatedAt.Equal(at(50)) {
		t.Errorf("Touch() = %v/%v, want %v", touched.CreatedAt, touched.UpdatedAt, at(50))
	}

	page, _, err := s.Range(ctx, "alice", store.RangeQuery{Newest: true, Limit: 1})
	if err != nil || len(page) != 1 || page[0].ID != ItemID(1) {
		t.Errorf("newest after Touch = %v, %v, want %s", page, err, ItemID(1))
	}

	if _, err := s.Touch(ctx, "bob", ItemID(1), at(60)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Touch(other owner) error = %v, want ErrNotFound", err)
	}
}

func testSaveMeta(t *testing.T, s store.Store) {
	ctx := context.Background()
	it := NewItem("alice", 1)
	if err := s.Insert(ctx, it); err != nil {
		t.Fatal(err)
	}

	note := "hello"
	upd := it.Clone()
	upd.Favorite = true
	upd.Count = 7
	upd.Note = &note
	upd.UpdatedAt = at(9)
	upd.Content = "must not change"
	if err := s.SaveMeta(ctx, upd); err != nil {
		t.Fatalf("SaveMeta() error = %v", err)
	}

	got, err := s.Get(ctx, "alice", it.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Favorite || got.Count != 7 || got.Note == nil || *got.Note != note {
		t.Errorf("SaveMeta() not applied: %+v", got)
	}
	if got.Content != it.Content {
		t.Errorf("Content = %q, want immutable %q", got.Content, it.Content)
	}
	if !got.CreatedAt.Equal(it.CreatedAt) {
		t.Errorf("CreatedAt moved to %v", got.CreatedAt)
	}

	upd.Note = nil
	if err := s.SaveMeta(ctx, upd); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Get(ctx, "alice", it.ID); got.Note != nil {
		t.Errorf("Note = %q, want cleared", *got.Note)
	}

	missing := NewItem("alice", 99)
	if err := s.SaveMeta(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("SaveMeta(missing) error = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	for n := 1; n <= 4; n++ {
		if err := s.Insert(ctx, NewItem("alice", n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Insert(ctx, NewItem("bob", 5)); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Delete(ctx, "alice", []string{ItemID(1), ItemID(2), ItemID(5), "nope"})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("Delete() removed %d, want 2 (foreign and unknown ids ignored)", len(removed))
	}
	if _, err := s.Get(ctx, "bob", ItemID(5)); err != nil {
		t.Errorf("bob's item was deleted: %v", err)
	}

	// The fingerprint is free again once the item is gone.
	again := NewItem("alice", 1)
	again.ID = ItemID(11)
	if err := s.Insert(ctx, again); err != nil {
		t.Errorf("re-Insert after Delete error = %v", err)
	}

	all, err := s.DeleteAll(ctx, "alice")
	if err != nil || len(all) != 3 {
		t.Errorf("DeleteAll() = %d items, %v, want 3", len(all), err)
	}
	if n, _ := s.Count(ctx, "alice"); n != 0 {
		t.Errorf("Count after DeleteAll = %d", n)
	}
	if n, _ := s.Count(ctx, "bob"); n != 1 {
		t.Errorf("Count(bob) = %d, want 1", n)
	}
}

func testRange(t *testing.T, s store.Store) {
	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		if err := s.Insert(ctx, NewItem("alice", n)); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name      string
		q         store.RangeQuery
		wantIDs   []int
		wantTotal int
	}{
		{"all oldest first", store.RangeQuery{}, []int{1, 2, 3, 4, 5}, 5},
		{"strictly after", store.RangeQuery{After: at(2)}, []int{3, 4, 5}, 3},
		{"after with limit", store.RangeQuery{After: at(2), Limit: 2}, []int{3, 4}, 3},
		{"newest first", store.RangeQuery{Newest: true, Limit: 2}, []int{5, 4}, 5},
		{"newest offset", store.RangeQuery{Newest: true, Limit: 2, Offset: 2}, []int{3, 2}, 5},
		{"newest after", store.RangeQuery{Newest: true, After: at(3)}, []int{5, 4}, 2},
		{"past the end", store.RangeQuery{Offset: 10}, nil, 5},
		{"after everything", store.RangeQuery{After: at(5)}, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.Range(ctx, "alice", tt.q)
			if err != nil {
				t.Fatalf("Range() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("Range() total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Range() = %d items, want %d", len(got), len(tt.wantIDs))
			}
			for i, n := range tt.wantIDs {
				if got[i].ID != ItemID(n) {
					t.Errorf("Range()[%d] = %s, want %s", i, got[i].ID, ItemID(n))
				}
			}
		})
	}

	if got, _, _ := s.Range(ctx, "bob", store.RangeQuery{}); len(got) != 0 {
		t.Errorf("Range(bob) = %d items, want 0", len(got))
	}
}

func testTrimAndOwners(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, n := range []int{3, 1, 2} {
		if err := s.Insert(ctx, NewItem("alice", n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Insert(ctx, NewItem("bob", 9)); err != nil {
		t.Fatal(err)
	}

	owners, err := s.Owners(ctx)
	if err != nil {
		t.Fatalf("Owners() error = %v", err)
	}
	if len(owners) != 2 {
		t.Errorf("Owners() = %v, want alice and bob", owners)
	}

	if got, err := s.TrimTo(ctx, "alice", 3); err != nil || len(got) != 0 {
		t.Errorf("TrimTo(within cap) = %v, %v, want nothing removed", got, err)
	}

	removed, err := s.TrimTo(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("TrimTo() error = %v", err)
	}
	if len(removed) != 2 || removed[0].ID != ItemID(1) || removed[1].ID != ItemID(2) {
		t.Errorf("TrimTo() removed %v, want items 1 and 2", removed)
	}
	if n, _ := s.Count(ctx, "alice"); n != 1 {
		t.Errorf("Count(alice) = %d after trim, want 1", n)
	}
	if n, _ := s.Count(ctx, "bob"); n != 1 {
		t.Errorf("TrimTo(alice) touched bob: Count = %d", n)
	}

	// A trimmed fingerprint is free again.
	again := NewItem("alice", 1)
	again.CreatedAt, again.UpdatedAt = at(10), at(10)
	if err := s.Insert(ctx, again); err != nil {
		t.Errorf("re-insert after trim error = %v", err)
	}

	owners, err = s.Owners(ctx)
	if err != nil {
		t.Fatalf("Owners() error = %v", err)
	}
	if len(owners) != 2 {
		t.Errorf("Owners() = %v, want alice and bob", owners)
	}
}

func testConcurrentTrim(t *testing.T, s store.Store) {
	ctx := context.Background()
	for n := 1; n <= 6; n++ {
		if err := s.Insert(ctx, NewItem("alice", n)); err != nil {
			t.Fatal(err)
		}
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed, err := s.TrimTo(ctx, "alice", 3)
			if err != nil {
				t.Errorf("TrimTo() error = %v", err)
				return
			}
			mu.Lock()
			total += len(removed)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 3 {
		t.Errorf("concurrent trims removed %d items in total, want 3", total)
	}
	kept, _, err := s.Range(ctx, "alice", store.RangeQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 3 || kept[0].ID != ItemID(4) || kept[2].ID != ItemID(6) {
		t.Errorf("kept %v, want items 4..6", kept)
	}
}

func testDevices(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.Device(ctx, "alice", "laptop"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Device(unknown) error = %v, want ErrNotFound", err)
	}

	d, err := s.TouchDevice(ctx, "alice", "laptop", "Work Laptop", at(1))
	if err != nil {
		t.Fatalf("TouchDevice() error = %v", err)
	}
	if d.Name != "Work Laptop" || !d.LastOnline.Equal(at(1)) || d.HasCursor() {
		t.Errorf("TouchDevice() = %+v", d)
	}

	d, err = s.TouchDevice(ctx, "alice", "laptop", "", at(2))
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "Work Laptop" {
		t.Errorf("empty name overwrote stored one: %q", d.Name)
	}
	if !d.CreatedAt.Equal(at(1)) {
		t.Errorf("CreatedAt = %v, want first contact %v", d.CreatedAt, at(1))
	}

	tests := []struct {
		ack  time.Time
		want time.Time
	}{
		{at(10), at(10)},
		{at(5), at(10)}, // regressions are ignored
		{at(20), at(20)},
	}
	for _, tt := range tests {
		got, err := s.AdvanceCursor(ctx, "alice", "laptop", tt.ack, at(30))
		if err != nil {
			t.Fatalf("AdvanceCursor() error = %v", err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("AdvanceCursor(%v) = %v, want %v", tt.ack, got, tt.want)
		}
	}

	// Acking from an unknown device creates it.
	if _, err := s.AdvanceCursor(ctx, "alice", "phone", at(3), at(30)); err != nil {
		t.Fatal(err)
	}
	phone, err := s.Device(ctx, "alice", "phone")
	if err != nil || !phone.SyncCursor.Equal(at(3)) {
		t.Errorf("Device(phone) = %+v, %v", phone, err)
	}

	devices, err := s.ListDevices(ctx, "alice")
	if err != nil || len(devices) != 2 {
		t.Errorf("ListDevices() = %d, %v, want 2", len(devices), err)
	}
	if devices, _ := s.ListDevices(ctx, "bob"); len(devices) != 0 {
		t.Errorf("ListDevices(bob) = %d, want 0", len(devices))
	}
}
