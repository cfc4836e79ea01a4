// redis.go -- go-redis client for the credential store.
//
// Every record the bridge keeps (sessions, OAuth state nonces, personal
// tokens, device bindings, activity summaries) is one JSON value under one
// key, optionally with a TTL. No scans, no transactions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects, and pings to verify connectivity.
// The returned client is shared by RedisStore and the notification queue.
// Caller owns it and must Close it on shutdown.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisStore wraps a Redis client for get/put/delete by key.
// Safe for concurrent use.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a store backed by the given client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get returns the raw value stored at key.
// Returns ErrCacheMiss when the key does not exist or has expired.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return raw, nil
}

// Put stores value at key, overwriting any prior value.
// ttl <= 0 stores without expiry.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Take returns the value at key and deletes it atomically (GETDEL).
// Returns ErrCacheMiss when the key does not exist or has expired.
func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("taking %s: %w", key, err)
	}
	return raw, nil
}

// CheckHealth pings Redis. Used by GET /health.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
