package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"bloodlink-push/push"
)

// PendingCache holds acknowledgements that have not reached the backend yet.
// The worker process can be evicted between syncs, so this is the only record
// of what is pending.
type PendingCache interface {
	Put(ctx context.Context, ack push.Ack) error
	// List returns pending acks oldest first.
	List(ctx context.Context) ([]push.Ack, error)
	Remove(ctx context.Context, id string) error
}

func sortAcks(acks []push.Ack) {
	sort.Slice(acks, func(i, j int) bool {
		if acks[i].Timestamp.Equal(acks[j].Timestamp) {
			return acks[i].ID < acks[j].ID
		}
		return acks[i].Timestamp.Before(acks[j].Timestamp)
	})
}

// MemoryCache keeps pending acks in process memory. Entries expire after ttl
// so a backend that never accepts them cannot grow the cache without bound.
type MemoryCache struct {
	c *cache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: cache.New(ttl, ttl/2)}
}

func (m *MemoryCache) Put(ctx context.Context, ack push.Ack) error {
	m.c.SetDefault(ack.ID, ack)
	return nil
}

func (m *MemoryCache) List(ctx context.Context) ([]push.Ack, error) {
	items := m.c.Items()
	acks := make([]push.Ack, 0, len(items))
	for _, item := range items {
		if ack, ok := item.Object.(push.Ack); ok {
			acks = append(acks, ack)
		}
	}
	sortAcks(acks)
	return acks, nil
}

func (m *MemoryCache) Remove(ctx context.Context, id string) error {
	m.c.Delete(id)
	return nil
}

// DefaultRedisKey is the hash holding pending acks.
const DefaultRedisKey = "bloodlink:push:pending-acks"

// RedisCache keeps pending acks in a redis hash keyed by ack id, so they
// survive a worker restart.
type RedisCache struct {
	rdb *redis.Client
	key string
}

func NewRedisCache(rdb *redis.Client, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{rdb: rdb, key: key}
}

func (r *RedisCache) Put(ctx context.Context, ack push.Ack) error {
	data, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.key, ack.ID, data).Err(); err != nil {
		return fmt.Errorf("store pending ack: %w", err)
	}
	return nil
}

func (r *RedisCache) List(ctx context.Context) ([]push.Ack, error) {
	values, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load pending acks: %w", err)
	}
	acks := make([]push.Ack, 0, len(values))
	for id, raw := range values {
		var ack push.Ack
		if err := json.Unmarshal([]byte(raw), &ack); err != nil {
			return nil, fmt.Errorf("decode pending ack %s: %w", id, err)
		}
		acks = append(acks, ack)
	}
	sortAcks(acks)
	return acks, nil
}

func (r *RedisCache) Remove(ctx context.Context, id string) error {
	if err := r.rdb.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("remove pending ack: %w", err)
	}
	return nil
}
