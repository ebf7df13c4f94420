package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipsync/clipsync/internal/auth"
	"github.com/clipsync/clipsync/internal/logger"
)

type fakeEnforcer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (f *fakeEnforcer) EnforceRetention(_ context.Context, owner string, maxItems int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[owner] {
		return 0, errors.New("store unavailable")
	}
	f.calls[owner] = maxItems
	return 1, nil
}

type ownerList []string

func (o ownerList) Owners(context.Context) ([]string, error) { return o, nil }

type failingOwners struct{}

func (failingOwners) Owners(context.Context) ([]string, error) { return nil, errors.New("down") }

type capMap map[string]int

func (c capMap) MaxItems(owner string) int { return c[owner] }

func TestRetentionSweeper_Sweep(t *testing.T) {
	log := logger.New("error", false)
	enf := &fakeEnforcer{calls: map[string]int{}, fail: map[string]bool{"broken": true}}

	rs := NewRetentionSweeper(enf, ownerList{"alice", "bob", "broken"}, capMap{"alice": 5}, 1000, log, time.Hour)

	evicted, err := rs.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if evicted != 2 {
		t.Errorf("Sweep() evicted = %d, want 2", evicted)
	}
	if enf.calls["alice"] != 5 {
		t.Errorf("alice cap = %d, want 5", enf.calls["alice"])
	}
	if enf.calls["bob"] != 1000 {
		t.Errorf("bob cap = %d, want default 1000", enf.calls["bob"])
	}
}

func TestRetentionSweeper_OwnerListFailure(t *testing.T) {
	rs := NewRetentionSweeper(&fakeEnforcer{}, failingOwners{}, nil, 10, logger.New("error", false), time.Hour)
	if _, err := rs.Sweep(context.Background()); err == nil {
		t.Error("Sweep() should fail when owners cannot be listed")
	}
}

func TestRetentionSweeper_StartStop(t *testing.T) {
	enf := &fakeEnforcer{calls: map[string]int{}}
	rs := NewRetentionSweeper(enf, ownerList{"alice"}, nil, 3, logger.New("error", false), 10*time.Millisecond)

	if err := rs.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rs.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		enf.mu.Lock()
		_, ran := enf.calls["alice"]
		enf.mu.Unlock()
		if ran {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("periodic sweep never ran")
}

func TestRetentionSweeper_RejectsZeroInterval(t *testing.T) {
	rs := NewRetentionSweeper(&fakeEnforcer{}, ownerList{}, nil, 3, logger.New("error", false), 0)
	if err := rs.Start(context.Background()); err == nil {
		t.Error("Start() should reject a zero interval")
	}
}

func writeUsersFile(t *testing.T, path string, users ...string) {
	t.Helper()
	content := "users:\n"
	for i, u := range users {
		content += fmt.Sprintf("  - id: id-%d\n    username: %s\n", i, u)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write users file: %v", err)
	}
}

func TestUsersReloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	writeUsersFile(t, path, "alice")

	dir := auth.NewDirectory()
	trigger := make(chan struct{}, 1)
	ur := NewUsersReloader(auth.NewLoader(path), dir, logger.New("error", false), 0, trigger)

	if err := ur.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ur.Stop()

	if _, ok := dir.Lookup("alice"); !ok {
		t.Fatal("initial load did not populate the directory")
	}

	writeUsersFile(t, path, "alice", "bob")
	trigger <- struct{}{}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := dir.Lookup("bob"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if dir.Count() != 2 {
		t.Errorf("directory has %d users after manual reload, want 2", dir.Count())
	}
}

func TestUsersReloader_KeepsDirectoryOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	writeUsersFile(t, path, "alice")

	dir := auth.NewDirectory()
	ur := NewUsersReloader(auth.NewLoader(path), dir, logger.New("error", false), 0, nil)
	if err := ur.Reload(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("users: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ur.Reload(); err == nil {
		t.Fatal("Reload() of a broken file should fail")
	}
	if _, ok := dir.Lookup("alice"); !ok {
		t.Error("failed reload dropped existing users")
	}
}

func TestUsersReloader_StartFailsWithoutFile(t *testing.T) {
	ur := NewUsersReloader(auth.NewLoader(filepath.Join(t.TempDir(), "none.yaml")), auth.NewDirectory(), logger.New("error", false), 0, nil)
	if err := ur.Start(context.Background()); err == nil {
		t.Error("Start() should fail when the users file is missing")
	}
}
