package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "flowline:secrets:"

// RedisStore keeps each namespace in one hash: <prefix><namespace> => {key: value}.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL connects to a redis:// URL and checks the connection.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) key(namespace string) string {
	return s.prefix + namespace
}

func (s *RedisStore) Resolve(ctx context.Context, namespace, key string) (string, error) {
	value, err := s.client.HGet(ctx, s.key(namespace), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %s.%s", ErrNotFound, namespace, key)
		}

		return "", fmt.Errorf("failed to read secret %s.%s: %w", namespace, key, err)
	}

	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, namespace, key, value string) error {
	err := s.client.HSet(ctx, s.key(namespace), key, value).Err()
	if err != nil {
		return fmt.Errorf("failed to write secret %s.%s: %w", namespace, key, err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
