package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/notifyhub/gateway/internal/domain"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-memory Store with TTL semantics, the backend the
// reference deployment runs with. Expired entries are dropped lazily on
// access, so admission becomes possible again as soon as the TTL elapses.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// AcquireIdempotency implements Store. The check and the set happen under
// one lock, so two concurrent calls with the same request_id can never both
// be admitted.
func (ms *MemoryStore) AcquireIdempotency(ctx context.Context, requestID string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.Wrap(domain.ErrStoreUnavailable, err.Error())
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return false, errors.Wrap(domain.ErrStoreUnavailable, "store is closed")
	}

	key := idempotencyKey(requestID)
	now := time.Now()
	if entry, ok := ms.entries[key]; ok && !entry.expired(now) {
		return false, nil
	}

	ms.entries[key] = memoryEntry{
		payload:   []byte("1"),
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

// SetStatus implements Store
func (ms *MemoryStore) SetStatus(ctx context.Context, requestID string, record domain.StatusRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(domain.ErrStoreUnavailable, err.Error())
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal status record")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return errors.Wrap(domain.ErrStoreUnavailable, "store is closed")
	}

	ms.entries[statusKey(requestID)] = memoryEntry{
		payload:   payload,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// GetStatus implements Store
func (ms *MemoryStore) GetStatus(ctx context.Context, requestID string) (*domain.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(domain.ErrStoreUnavailable, err.Error())
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return nil, errors.Wrap(domain.ErrStoreUnavailable, "store is closed")
	}

	key := statusKey(requestID)
	entry, ok := ms.entries[key]
	if !ok {
		return nil, nil
	}
	if entry.expired(time.Now()) {
		delete(ms.entries, key)
		return nil, nil
	}

	var record domain.StatusRecord
	if err := json.Unmarshal(entry.payload, &record); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal status record")
	}
	return &record, nil
}

// Close marks the store closed; subsequent calls fail with ErrStoreUnavailable
func (ms *MemoryStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	ms.entries = make(map[string]memoryEntry)
	return nil
}
