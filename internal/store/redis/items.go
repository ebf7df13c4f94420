package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/store"
	"github.com/redis/go-redis/v9"
)

// insertScript claims the fingerprint and the ID in one step.
//
// KEYS: item, fingerprints, timeline, owners
// ARGV: fingerprint, id, document, score, owner
var insertScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  return -1
end
if redis.call('SETNX', KEYS[1], ARGV[3]) == 0 then
  return -2
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
redis.call('SADD', KEYS[4], ARGV[5])
return 1
`)

// Insert stores a new item.
func (s *Store) Insert(ctx context.Context, it *domain.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	keys := []string{ItemKey(it.ID), FingerprintsKey(it.Owner), TimelineKey(it.Owner), KeyOwners}
	res, err := insertScript.Run(ctx, s.client, keys,
		it.Fingerprint, it.ID, data, score(it.CreatedAt), it.Owner).Int()
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}

	switch res {
	case -1:
		return fmt.Errorf("insert %s: %w", it.ID, domain.ErrFingerprintTaken)
	case -2:
		return fmt.Errorf("insert %s: %w", it.ID, domain.ErrIDTaken)
	}
	return nil
}

// Get retrieves one of owner's items.
func (s *Store) Get(ctx context.Context, owner, id string) (*domain.Item, error) {
	data, err := s.client.Get(ctx, ItemKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	it, err := decodeItem(data)
	if err != nil {
		return nil, err
	}
	if it.Owner != owner {
		return nil, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return it, nil
}

func (s *Store) FindByFingerprint(ctx context.Context, owner, fingerprint string) (*domain.Item, error) {
	id, err := s.client.HGet(ctx, FingerprintsKey(owner), fingerprint).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("fingerprint %s: %w", fingerprint, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}
	return s.Get(ctx, owner, id)
}

func (s *Store) Touch(ctx context.Context, owner, id string, at time.Time) (*domain.Item, error) {
	return s.updateItem(ctx, owner, id, func(it *domain.Item) {
		it.CreatedAt = at
		it.UpdatedAt = at
	})
}

func (s *Store) SaveMeta(ctx context.Context, upd *domain.Item) error {
	note := upd.Clone().Note
	_, err := s.updateItem(ctx, upd.Owner, upd.ID, func(it *domain.Item) {
		it.Favorite = upd.Favorite
		it.Count = upd.Count
		it.Note = note
		it.UpdatedAt = upd.UpdatedAt
	})
	return err
}

// deleteScript removes items and frees their fingerprints atomically.
//
// KEYS: fingerprints, timeline, item...
// ARGV: (id, fingerprint) pairs aligned with the item keys
// Returns the 1-based positions of the items this call removed.
var deleteScript = redis.NewScript(`
local removed = {}
for i = 3, #KEYS do
  local id = ARGV[2 * (i - 2) - 1]
  local fp = ARGV[2 * (i - 2)]
  if redis.call('DEL', KEYS[i]) == 1 then
    redis.call('ZREM', KEYS[2], id)
    if redis.call('HGET', KEYS[1], fp) == id then
      redis.call('HDEL', KEYS[1], fp)
    end
    table.insert(removed, i - 2)
  end
end
return removed
`)

// Delete removes owner's items among ids. Only items whose document this
// call actually deleted are returned, so concurrent deletes never report
// the same item twice.
func (s *Store) Delete(ctx context.Context, owner string, ids []string) ([]*domain.Item, error) {
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	owned := items[:0]
	for _, it := range items {
		if it.Owner == owner {
			owned = append(owned, it)
		}
	}
	if len(owned) == 0 {
		return []*domain.Item{}, nil
	}

	keys := make([]string, 0, len(owned)+2)
	keys = append(keys, FingerprintsKey(owner), TimelineKey(owner))
	args := make([]any, 0, 2*len(owned))
	for _, it := range owned {
		keys = append(keys, ItemKey(it.ID))
		args = append(args, it.ID, it.Fingerprint)
	}

	positions, err := deleteScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to delete items: %w", err)
	}

	removed := make([]*domain.Item, 0, len(positions))
	for _, pos := range positions {
		removed = append(removed, owned[pos-1])
	}
	return removed, nil
}

func (s *Store) DeleteAll(ctx context.Context, owner string) ([]*domain.Item, error) {
	ids, err := s.client.ZRange(ctx, TimelineKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return s.Delete(ctx, owner, ids)
}

func (s *Store) Count(ctx context.Context, owner string) (int, error) {
	n, err := s.client.ZCard(ctx, TimelineKey(owner)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return int(n), nil
}

// trimScript removes everything but the newest ARGV[1] timeline entries and
// frees their fingerprints, returning the removed documents oldest first.
//
// KEYS: fingerprints, timeline
// ARGV: keep, item key prefix
var trimScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[2], 0, -(tonumber(ARGV[1]) + 1))
local docs = {}
for _, id in ipairs(ids) do
  local key = ARGV[2] .. id
  local doc = redis.call('GET', key)
  redis.call('DEL', key)
  redis.call('ZREM', KEYS[2], id)
  if doc then
    local ok, item = pcall(cjson.decode, doc)
    if ok and type(item.content_hash) == 'string' and redis.call('HGET', KEYS[1], item.content_hash) == id then
      redis.call('HDEL', KEYS[1], item.content_hash)
    end
    table.insert(docs, doc)
  end
end
return docs
`)

func (s *Store) TrimTo(ctx context.Context, owner string, keep int) ([]*domain.Item, error) {
	keys := []string{FingerprintsKey(owner), TimelineKey(owner)}
	docs, err := trimScript.Run(ctx, s.client, keys, max(keep, 0), KeyPrefixItem).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to trim items: %w", err)
	}

	removed := make([]*domain.Item, 0, len(docs))
	for _, doc := range docs {
		it, err := decodeItem([]byte(doc))
		if err != nil {
			return nil, err
		}
		removed = append(removed, it)
	}
	return removed, nil
}

func (s *Store) Range(ctx context.Context, owner string, q store.RangeQuery) ([]*domain.Item, int, error) {
	key := TimelineKey(owner)
	lo := "-inf"
	if !q.After.IsZero() {
		lo = "(" + score(q.After)
	}

	total, err := s.client.ZCount(ctx, key, lo, "+inf").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count range: %w", err)
	}

	args := redis.ZRangeArgs{
		Key:     key,
		Start:   lo,
		Stop:    "+inf",
		ByScore: true,
		Rev:     q.Newest,
		Offset:  int64(max(q.Offset, 0)),
		Count:   int64(q.Limit),
	}
	if q.Limit <= 0 {
		args.Count = -1
	}

	ids, err := s.client.ZRangeArgs(ctx, args).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read range: %w", err)
	}
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	return items, int(total), nil
}

// Owners lists owners whose timeline is not empty.
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	owners, err := s.client.SMembers(ctx, KeyOwners).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}

	cards := make([]*redis.IntCmd, len(owners))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, owner := range owners {
			cards[i] = pipe.ZCard(ctx, TimelineKey(owner))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count owner items: %w", err)
	}

	active := make([]string, 0, len(owners))
	for i, owner := range owners {
		if cards[i].Val() > 0 {
			active = append(active, owner)
		}
	}
	sort.Strings(active)
	return active, nil
}
