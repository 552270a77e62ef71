// Package hotstore implements the HotStore port (C4) over Redis: the hot
// key/value store holding live lobby state plus the pub/sub event bus.
// Key schema is authoritative per spec.md §4.4.
package hotstore

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kairoslabs/session-orchestrator/internal/domain"
)

// Store implements domain.HotStore backed by a single *redis.Client used for
// both KV operations and pub/sub, matching spec.md §4.4's "two physical
// clients are acceptable... the worker treats them as one service".
type Store struct {
	rdb *redis.Client
}

// New constructs a Store from a Redis connection URL (e.g. "redis://host:6379/0").
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=hotstore.new.parse_url: %w", err)
	}
	return &Store{rdb: redis.NewClient(opts)}, nil
}

// NewFromClient wraps an already-constructed client (used by tests against miniredis).
func NewFromClient(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.rdb.Close() }

// Client exposes the underlying *redis.Client for adapters that need
// primitives the HotStore port deliberately doesn't generalize (e.g. the
// leaderlease package's SETNX + Lua compare-and-expire).
func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) Get(ctx domain.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("op=hotstore.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=hotstore.get: %w", err)
	}
	return b, nil
}

func (s *Store) Set(ctx domain.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("op=hotstore.set: %w", err)
	}
	return nil
}

func (s *Store) Del(ctx domain.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=hotstore.del: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx domain.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("op=hotstore.exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SAdd(ctx domain.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("op=hotstore.sadd: %w", err)
	}
	return nil
}

func (s *Store) SMembers(ctx domain.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("op=hotstore.smembers: %w", err)
	}
	return members, nil
}

func (s *Store) RPush(ctx domain.Context, key string, value []byte) error {
	if err := s.rdb.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("op=hotstore.rpush: %w", err)
	}
	return nil
}

func (s *Store) LRange(ctx domain.Context, key string) ([][]byte, error) {
	vals, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("op=hotstore.lrange: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// DeleteByPrefix removes every key matching prefix+"*" via SCAN, used for
// scoped per-session cleanup in place of a blanket FLUSHALL (spec.md §9 Open
// Questions: "Scoped cleanup is preferable").
func (s *Store) DeleteByPrefix(ctx domain.Context, prefix string) error {
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("op=hotstore.delete_by_prefix.scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=hotstore.delete_by_prefix.del: %w", err)
	}
	slog.Info("scoped hot store cleanup", slog.String("prefix", prefix), slog.Int("keys_deleted", len(keys)))
	return nil
}

func (s *Store) Publish(ctx domain.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("op=hotstore.publish: %w", err)
	}
	return nil
}

// Subscribe blocks until a message arrives on channel or ctx is done. The
// subscription is torn down on return either way, matching spec.md §9's
// one-shot-channel abstraction for waitForNextSession.
func (s *Store) Subscribe(ctx domain.Context, channel string) ([]byte, error) {
	sub := s.rdb.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("op=hotstore.subscribe: %w", domain.ErrInternal)
		}
		return []byte(msg.Payload), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
