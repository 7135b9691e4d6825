package cache

import (
	"context"
	"errors"
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"

	"iss-tracker-gateway/internal/fetch"
)

// RedisStorage keeps each named store in a Redis hash
// (<prefix>:cache:<name>, field = key) and tracks store names in a set
// (<prefix>:caches).
type RedisStorage struct {
	client *redis.Client
	prefix string
}

type RedisConfig struct {
	Prefix string
}

// NewRedisStorage creates a Redis-backed cache storage.
func NewRedisStorage(client *redis.Client, config RedisConfig) *RedisStorage {
	return &RedisStorage{
		client: client,
		prefix: config.Prefix,
	}
}

// key builds the final Redis key with prefix.
func (s *RedisStorage) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		if k == "" {
			k = p
			continue
		}
		k += ":" + p
	}
	return k
}

func (s *RedisStorage) namesKey() string { return s.key("caches") }

func (s *RedisStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis open cache failed")
	}
	return &RedisStore{client: s.client, name: name, hash: s.key("cache", name)}, nil
}

func (s *RedisStorage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis has cache failed")
	}
	return ok, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}

	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.key("cache", name))
		return nil
	})
	if err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis delete cache failed")
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis list caches failed")
	}
	return names, nil
}

// Ping checks if Redis connection is healthy.
func (s *RedisStorage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return s.client.Ping(ctx).Err()
}

// RedisStore is one named cache stored as a Redis hash.
type RedisStore struct {
	client *redis.Client
	name   string
	hash   string
}

func (c *RedisStore) Name() string { return c.name }

// Match returns (nil, nil) when the field does not exist.
func (c *RedisStore) Match(ctx context.Context, key string) (*fetch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	res, err := c.client.HGet(ctx, c.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis get failed")
	}

	rec, err := decodeRecord(res)
	if err != nil {
		return nil, err
	}
	return rec.Response, nil
}

func (c *RedisStore) Put(ctx context.Context, key string, resp *fetch.Response) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	b, err := encodeRecord(key, resp)
	if err != nil {
		return err
	}
	if err := c.client.HSet(ctx, c.hash, key, b).Err(); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis set failed")
	}
	return nil
}

func (c *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error: %w", err)
	}
	n, err := c.client.HDel(ctx, c.hash, key).Result()
	if err != nil {
		return false, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis delete failed")
	}
	return n > 0, nil
}

func (c *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.client.HKeys(ctx, c.hash).Result()
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "redis keys failed")
	}
	return keys, nil
}
