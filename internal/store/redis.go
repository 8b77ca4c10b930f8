package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fab-analytics/uplift/internal/pipeline"
)

// RedisStore implements Store using Redis SETNX for atomic first-write-wins
// across replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed report cache.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, fingerprint string) (*pipeline.Report, error) {
	key := reportKey(fingerprint)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}

	var report pipeline.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &report, nil
}

func (r *RedisStore) Set(ctx context.Context, fingerprint string, report *pipeline.Report, ttl time.Duration) error {
	key := reportKey(fingerprint)

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// SETNX with TTL: atomic first-write-wins. Losing a concurrent race
	// is not an error; both writers computed the same report.
	if _, err := r.client.SetNX(ctx, key, data, ttl).Result(); err != nil {
		return fmt.Errorf("redis SETNX failed: %w", err)
	}

	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func reportKey(fingerprint string) string {
	return fmt.Sprintf("uplift:report:%s", fingerprint)
}
