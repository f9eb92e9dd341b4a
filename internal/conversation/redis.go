package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "smoke:conversation:"

type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(ctx context.Context, redisURL string, ttl time.Duration) (*RedisRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRepository{client: client, ttl: ttl}, nil
}

func (r *RedisRepository) Load(ctx context.Context, sessionID string) (*History, error) {
	key := keyPrefix + sessionID
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &History{Messages: []*schema.Message{}}, nil
		}
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var history History
	if err := sonic.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}

	r.client.Expire(ctx, key, r.ttl)
	return &history, nil
}

func (r *RedisRepository) Save(ctx context.Context, sessionID string, history *History) error {
	data, err := sonic.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	return r.client.Set(ctx, keyPrefix+sessionID, data, r.ttl).Err()
}

func (r *RedisRepository) AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	history, err := r.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	history.Messages = append(history.Messages, messages...)
	return r.Save(ctx, sessionID, history)
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}
