package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/notifyhub/gateway/internal/domain"
)

// RedisStore is a Store backed by Redis. Admission uses SETNX with an
// expiry, which Redis executes as a single atomic operation.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store from a redis:// URL
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// AcquireIdempotency implements Store
func (rs *RedisStore) AcquireIdempotency(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	acquired, err := rs.client.SetNX(ctx, idempotencyKey(requestID), "1", ttl).Result()
	if err != nil {
		return false, errors.Wrapf(domain.ErrStoreUnavailable, "redis setnx: %s", err)
	}
	return acquired, nil
}

// SetStatus implements Store
func (rs *RedisStore) SetStatus(ctx context.Context, requestID string, record domain.StatusRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal status record")
	}
	if err := rs.client.Set(ctx, statusKey(requestID), payload, ttl).Err(); err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "redis set: %s", err)
	}
	return nil
}

// GetStatus implements Store
func (rs *RedisStore) GetStatus(ctx context.Context, requestID string) (*domain.StatusRecord, error) {
	payload, err := rs.client.Get(ctx, statusKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(domain.ErrStoreUnavailable, "redis get: %s", err)
	}

	var record domain.StatusRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal status record")
	}
	return &record, nil
}

// Ping verifies connectivity to the backend
func (rs *RedisStore) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(domain.ErrStoreUnavailable, "redis ping: %s", err)
	}
	return nil
}

// Close releases the underlying client
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
