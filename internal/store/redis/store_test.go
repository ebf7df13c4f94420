package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/clipsync/clipsync/internal/store"
	"github.com/clipsync/clipsync/internal/store/storetest"
	"github.com/redis/go-redis/v9"
)

// The conformance suite needs a disposable Redis. Point CLIPSYNC_TEST_REDIS_ADDR
// at one; DB 15 is flushed before every case.
func TestConformance(t *testing.T) {
	addr := os.Getenv("CLIPSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLIPSYNC_TEST_REDIS_ADDR not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("FlushDB() error = %v", err)
		}
		t.Cleanup(func() { _ = client.Close() })
		return NewStore(client)
	})
}

func TestScoreRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"zero", time.Time{}, "0"},
		{"micro", time.UnixMicro(1740819600123456), "1740819600123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := score(tt.in)
			if got != tt.want {
				t.Errorf("score() = %s, want %s", got, tt.want)
			}
			if back := parseScore(got); !back.Equal(tt.in) {
				t.Errorf("parseScore(%s) = %v, want %v", got, back, tt.in)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{ItemKey("abc"), "clipsync:item:abc"},
		{TimelineKey("alice"), "clipsync:user:alice:items"},
		{FingerprintsKey("alice"), "clipsync:user:alice:fingerprints"},
		{DevicesKey("alice"), "clipsync:user:alice:devices"},
		{DeviceKey("alice", "laptop"), "clipsync:device:alice:laptop"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %s, want %s", tt.got, tt.want)
		}
	}
}
