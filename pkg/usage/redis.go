package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis so that several relay instances share
// one set of counters. Redis expires keys itself; no sweeping is needed.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	opts      options
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string // e.g. "localhost:6379"
	Password  string
	DB        int
	KeyPrefix string // e.g. "relay:"
}

// NewRedisStore creates a Redis-backed store. The connection is established
// lazily; call Ping to verify reachability.
func NewRedisStore(cfg RedisConfig, opts ...Option) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "relay:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		opts:      buildOptions("usage.redis", opts),
	}, nil
}

func (r *RedisStore) key(k string) string {
	return r.keyPrefix + k
}

// Increment implements Store with INCRBYFLOAT and EXPIRE in one transaction.
func (r *RedisStore) Increment(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	k := r.key(key)

	pipe := r.client.TxPipeline()
	incr := pipe.IncrByFloat(ctx, k, amount)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %q: %w", key, err)
	}
	return incr.Val(), nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (float64, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return parseNumber(key, raw)
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %q: %w", key, err)
	}
	return raw, true, nil
}

// SetWithTTL implements Store.
func (r *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

// KeysMatching implements Store with SCAN MATCH; KEYS is never used.
func (r *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(pattern), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
