package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
	"github.com/clipsync/clipsync/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "clipsync.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipsync.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, storetest.NewItem("alice", 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, "alice", storetest.ItemID(1)); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
	dup := storetest.NewItem("alice", 1)
	dup.Fingerprint = "other"
	if err := s.Insert(ctx, dup); !errors.Is(err, domain.ErrIDTaken) {
		t.Errorf("Insert(dup) error = %v, want ErrIDTaken", err)
	}
}
