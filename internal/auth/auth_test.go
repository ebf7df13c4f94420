package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clipsync/clipsync/internal/domain"
)

func writeUsers(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}
	return path
}

func TestLoaderLoad(t *testing.T) {
	t.Setenv("CLIPSYNC_TEST_ALICE_CAP", "250")
	path := writeUsers(t, `
users:
  - id: u-alice
    username: alice
    max_history_items: ${CLIPSYNC_TEST_ALICE_CAP}
  - id: u-bob
    username: bob
    active: false
`)

	users, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("Load() returned %d users, want 2", len(users))
	}
	if users[0].MaxHistoryItems != 250 || !users[0].IsActive() {
		t.Errorf("alice = %+v", users[0])
	}
	if users[1].IsActive() {
		t.Error("bob should be inactive")
	}
}

func TestLoaderRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing id", "users:\n  - username: alice\n"},
		{"duplicate id", "users:\n  - {id: a, username: x}\n  - {id: a, username: y}\n"},
		{"duplicate username", "users:\n  - {id: a, username: x}\n  - {id: b, username: x}\n"},
		{"negative cap", "users:\n  - {id: a, username: x, max_history_items: -1}\n"},
		{"not yaml", "users: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(writeUsers(t, tt.content)).Load(); err == nil {
				t.Error("Load() should have failed")
			}
		})
	}

	if _, err := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	if !d.LastReload().IsZero() || d.Count() != 0 {
		t.Fatal("new directory should be empty")
	}

	d.Update([]User{
		{ID: "u2", Username: "bob"},
		{ID: "u1", Username: "alice", MaxHistoryItems: 10},
	})

	if u, ok := d.Lookup("alice"); !ok || u.ID != "u1" {
		t.Errorf("Lookup(alice) = %+v, %v", u, ok)
	}
	if d.MaxItems("u1") != 10 || d.MaxItems("u2") != 0 || d.MaxItems("nobody") != 0 {
		t.Error("MaxItems() returned unexpected caps")
	}
	if got := d.Owners(); len(got) != 2 || got[0] != "u1" {
		t.Errorf("Owners() = %v", got)
	}

	d.Update([]User{{ID: "u3", Username: "carol"}})
	if _, ok := d.Lookup("alice"); ok {
		t.Error("Update() should replace previous users")
	}
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestVerifier(t *testing.T) {
	inactive := false
	dir := NewDirectory()
	dir.Update([]User{
		{ID: "u1", Username: "alice", MaxHistoryItems: 5},
		{ID: "u2", Username: "bob", Active: &inactive},
	})
	v := NewVerifier("s3cret", dir)
	secret := []byte("s3cret")

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: future}), false},
		{"valid without expiry", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "alice"}), false},
		{"empty", "", true},
		{"garbage", "not.a.token", true},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "alice"}), true},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "alice", ExpiresAt: past}), true},
		{"wrong algorithm", sign(t, jwt.SigningMethodHS512, secret, jwt.RegisteredClaims{Subject: "alice"}), true},
		{"unknown user", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "mallory"}), true},
		{"inactive user", sign(t, jwt.SigningMethodHS256, secret, jwt.RegisteredClaims{Subject: "bob"}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(tt.token)
			if tt.wantErr {
				if domain.CodeOf(err) != domain.CodeUnauthorized {
					t.Errorf("Verify() error = %v, want UNAUTHORIZED", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() error = %v", err)
			}
			if id.Owner != "u1" || id.Username != "alice" || id.MaxItems != 5 {
				t.Errorf("Verify() = %+v", id)
			}
		})
	}
}

func TestVerifierMissingTokenCause(t *testing.T) {
	_, err := NewVerifier("x", NewDirectory()).Verify("")
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("Verify(\"\") error = %v, want ErrMissingToken", err)
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should carry no identity")
	}
	ctx := WithIdentity(context.Background(), Identity{Owner: "u1"})
	if id, ok := FromContext(ctx); !ok || id.Owner != "u1" {
		t.Errorf("FromContext() = %+v, %v", id, ok)
	}
}
