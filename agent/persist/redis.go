package persist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	contractx "github.com/tanpawarit/voice-persona-agents/agent/contract"
	"github.com/tanpawarit/voice-persona-agents/agent/domain"
)

type RedisConfig struct {
	Addr     string `envconfig:"ADDR" split_words:"true" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD" split_words:"true"`
	DB       int    `envconfig:"DB" split_words:"true" default:"0"`
}

// RedisBackend stores records in a native Redis server.
type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	owned     bool
}

func NewRedisBackend(ctx context.Context, cfg RedisConfig, keyPrefix string, ttl time.Duration) (*RedisBackend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	b := NewRedisBackendFromClient(client, keyPrefix, ttl)
	b.owned = true
	return b, nil
}

// NewRedisBackendFromClient wraps an existing client. Close leaves it open.
func NewRedisBackendFromClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisBackend {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (b *RedisBackend) key(kind domain.Kind, id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: record id is empty", contractx.ErrValidation)
	}
	return b.keyPrefix + recordKey(kind, id), nil
}

func (b *RedisBackend) Put(ctx context.Context, kind domain.Kind, id string, payload []byte) error {
	key, err := b.key(kind, id)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, key, payload, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error) {
	key, err := b.key(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", contractx.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (b *RedisBackend) List(ctx context.Context, kind domain.Kind) ([]string, error) {
	prefix := b.keyPrefix + recordKey(kind, "")
	var ids []string
	iter := b.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	return ids, nil
}

func (b *RedisBackend) Delete(ctx context.Context, kind domain.Kind, id string) error {
	key, err := b.key(kind, id)
	if err != nil {
		return err
	}
	return b.client.Del(ctx, key).Err()
}

func (b *RedisBackend) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close()
}
