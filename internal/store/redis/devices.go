package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Device hash fields.
const (
	fieldName       = "name"
	fieldLastOnline = "last_online"
	fieldCursor     = "last_sync_time"
	fieldCreatedAt  = "created_at"
)

// advanceCursorScript stores max(current, ARGV[1]) and returns the result.
// Values are compared as numbers but returned as the stored strings: Lua
// would print microsecond timestamps in exponent notation.
//
// KEYS: device, devices
// ARGV: cursor, now, deviceID
var advanceCursorScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[2])
redis.call('HSETNX', KEYS[1], 'name', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[3])
local cur = redis.call('HGET', KEYS[1], 'last_sync_time')
if not cur then
  cur = '0'
end
if tonumber(ARGV[1]) > tonumber(cur) then
  redis.call('HSET', KEYS[1], 'last_sync_time', ARGV[1])
  return ARGV[1]
end
return cur
`)

func decodeDevice(owner, deviceID string, fields map[string]string) *domain.Device {
	return &domain.Device{
		ID:         deviceID,
		Owner:      owner,
		Name:       fields[fieldName],
		LastOnline: parseScore(fields[fieldLastOnline]),
		SyncCursor: parseScore(fields[fieldCursor]),
		CreatedAt:  parseScore(fields[fieldCreatedAt]),
	}
}

func (s *Store) Device(ctx context.Context, owner, deviceID string) (*domain.Device, error) {
	fields, err := s.client.HGetAll(ctx, DeviceKey(owner, deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("device %s: %w", deviceID, domain.ErrNotFound)
	}
	return decodeDevice(owner, deviceID, fields), nil
}

func (s *Store) TouchDevice(ctx context.Context, owner, deviceID, name string, at time.Time) (*domain.Device, error) {
	key := DeviceKey(owner, deviceID)
	var all *redis.MapStringStringCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, score(at))
		if name != "" {
			pipe.HSet(ctx, key, fieldName, name)
		} else {
			pipe.HSetNX(ctx, key, fieldName, deviceID)
		}
		pipe.HSet(ctx, key, fieldLastOnline, score(at))
		pipe.SAdd(ctx, DevicesKey(owner), deviceID)
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to touch device: %w", err)
	}
	return decodeDevice(owner, deviceID, all.Val()), nil
}

func (s *Store) AdvanceCursor(ctx context.Context, owner, deviceID string, cursor, now time.Time) (time.Time, error) {
	keys := []string{DeviceKey(owner, deviceID), DevicesKey(owner)}
	res, err := advanceCursorScript.Run(ctx, s.client, keys, score(cursor), score(now), deviceID).Text()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to advance cursor: %w", err)
	}
	return parseScore(res), nil
}

func (s *Store) ListDevices(ctx context.Context, owner string) ([]*domain.Device, error) {
	ids, err := s.client.SMembers(ctx, DevicesKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, DeviceKey(owner, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	devices := make([]*domain.Device, 0, len(ids))
	for i, id := range ids {
		if fields := cmds[i].Val(); len(fields) > 0 {
			devices = append(devices, decodeDevice(owner, id, fields))
		}
	}
	return devices, nil
}
