package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "leadflow:session:"

// RedisStore keeps each session in a Redis hash: the full record as JSON
// under "state" plus a few summary fields for operators. Keys expire after
// the configured visit lifetime.
type RedisStore struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisStore{redis: rdb, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := r.redis.HGet(ctx, keyPrefix+id, "state").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget %q: %w", id, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", id, err)
	}
	s.init()
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", s.ID, err)
	}

	key := keyPrefix + s.ID

	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"state", data,
		"score", s.Score,
		"tier", s.Tier,
		"updated_at", s.LastActivity.UnixMilli(),
	)
	pipe.HSetNX(ctx, key, "started_at", s.StartTime.UnixMilli())
	pipe.Expire(ctx, key, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to store session in Redis")
		return fmt.Errorf("redis put %q: %w", s.ID, err)
	}
	return nil
}

// List scans all live session keys.
func (r *RedisStore) List(ctx context.Context) ([]*Session, error) {
	var out []*Session
	iter := r.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), keyPrefix)
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired between scan and read
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.redis.Close()
}
