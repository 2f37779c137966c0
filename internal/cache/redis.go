package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "courtkeeper:"

// RedisCache stores entries in Redis so every API instance can serve them.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis; a missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, facilityID string, key string) ([]byte, error) {
	if facilityID == "" {
		return nil, errFacilityRequired
	}

	val, err := c.client.Get(ctx, redisKey(facilityID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with TTL.
func (c *RedisCache) Set(ctx context.Context, facilityID string, key string, value []byte, ttl time.Duration) error {
	if facilityID == "" {
		return errFacilityRequired
	}
	return c.client.Set(ctx, redisKey(facilityID, key), value, ttl).Err()
}

// Delete removes a value.
func (c *RedisCache) Delete(ctx context.Context, facilityID string, key string) error {
	if facilityID == "" {
		return errFacilityRequired
	}
	return c.client.Del(ctx, redisKey(facilityID, key)).Err()
}

// GetEvaluation retrieves a cached evaluation result.
func (c *RedisCache) GetEvaluation(ctx context.Context, facilityID string, evaluationID string) (*domain.EvaluationRecord, error) {
	return getEvaluation(ctx, c, facilityID, evaluationID)
}

// SetEvaluation caches an evaluation result.
func (c *RedisCache) SetEvaluation(ctx context.Context, facilityID string, record *domain.EvaluationRecord, ttl time.Duration) error {
	return setEvaluation(ctx, c, facilityID, record, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(facilityID, key string) string {
	return redisKeyPrefix + makeKey(facilityID, key)
}
