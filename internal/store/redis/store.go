package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds optimistic WATCH retries on a contended item.
const maxTxRetries = 8

// Store persists items and devices in Redis.
//
// Layout: one JSON string per item, and per owner a timeline ZSET, a
// fingerprint HASH and a device SET. Multi-key invariants are kept by Lua
// scripts (insert, cursor) or WATCH transactions (touch, metadata).
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new Redis store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeItem(data []byte) (*domain.Item, error) {
	var it domain.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &it, nil
}

// loadItems fetches item documents in ids order, skipping vanished keys.
func (s *Store) loadItems(ctx context.Context, ids []string) ([]*domain.Item, error) {
	if len(ids) == 0 {
		return []*domain.Item{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ItemKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	items := make([]*domain.Item, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Deleted between the index read and MGET.
			continue
		}
		it, err := decodeItem([]byte(raw))
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// updateItem runs fn on the current document under WATCH and writes the
// result back, refreshing the timeline score.
func (s *Store) updateItem(ctx context.Context, owner, id string, fn func(*domain.Item)) (*domain.Item, error) {
	key := ItemKey(id)
	var out *domain.Item

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get item: %w", err)
		}
		it, err := decodeItem(data)
		if err != nil {
			return err
		}
		if it.Owner != owner {
			return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}

		fn(it)
		encoded, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.ZAdd(ctx, TimelineKey(owner), redis.Z{Score: float64(it.CreatedAt.UnixMicro()), Member: id})
			return nil
		})
		out = it
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("item %s: too much contention", id)
}
