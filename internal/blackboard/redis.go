package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKey = "blackboard"

// RedisBoard stores blackboard values JSON-encoded in a single Redis hash, so a
// decision engine running in another process can share state with the runners.
type RedisBoard struct {
	client *redis.Client
	key    string
}

// RedisOption configures a RedisBoard.
type RedisOption func(*RedisBoard)

// WithPrefix namespaces the hash key, e.g. "solar:" gives "solar:blackboard".
func WithPrefix(prefix string) RedisOption {
	return func(b *RedisBoard) {
		b.key = prefix + defaultKey
	}
}

// WithKey overrides the full hash key.
func WithKey(key string) RedisOption {
	return func(b *RedisBoard) {
		if key != "" {
			b.key = key
		}
	}
}

// NewRedis connects to addr and returns a board backed by it.
func NewRedis(addr, password string, db int, opts ...RedisOption) *RedisBoard {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisFromClient(client, opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, opts ...RedisOption) *RedisBoard {
	b := &RedisBoard{
		client: client,
		key:    defaultKey,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key returns the hash key holding the board.
func (b *RedisBoard) Key() string {
	return b.key
}

func (b *RedisBoard) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := b.client.HGet(ctx, b.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blackboard key %q: %w", key, err)
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("failed to decode blackboard key %q: %w", key, err)
	}
	return v, true, nil
}

func (b *RedisBoard) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode blackboard key %q: %w", key, err)
	}
	if err := b.client.HSet(ctx, b.key, key, data).Err(); err != nil {
		return fmt.Errorf("failed to write blackboard key %q: %w", key, err)
	}
	return nil
}

func (b *RedisBoard) Delete(ctx context.Context, key string) error {
	return b.client.HDel(ctx, b.key, key).Err()
}

// Snapshot returns every value on the board. Undecodable entries are skipped.
func (b *RedisBoard) Snapshot(ctx context.Context) (map[string]any, error) {
	raw, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read blackboard: %w", err)
	}

	out := make(map[string]any, len(raw))
	for k, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Ping checks connectivity to Redis.
func (b *RedisBoard) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (b *RedisBoard) Close() error {
	return b.client.Close()
}
