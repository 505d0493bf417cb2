package store

import (
	"context"
	"time"

	"github.com/notifyhub/gateway/internal/domain"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	statusKeyPrefix      = "notification_status:"
)

// Store is the key/value contract the dispatch pipeline relies on. Any
// backend offering atomic create-if-absent, expiry, get, and set can
// implement it.
type Store interface {
	// AcquireIdempotency atomically creates the idempotency key for the
	// request if and only if it is absent, setting its expiry to ttl.
	// It returns true when this call performed the creation (the caller is
	// the first admitted request for the key) and false on a duplicate.
	// An unreachable backend yields ErrStoreUnavailable, never a guess
	// about duplicate-or-not.
	AcquireIdempotency(ctx context.Context, requestID string, ttl time.Duration) (bool, error)

	// SetStatus records the request's current lifecycle status with a TTL.
	// Best-effort observational state; callers tolerate failures.
	SetStatus(ctx context.Context, requestID string, record domain.StatusRecord, ttl time.Duration) error

	// GetStatus returns the recorded status, or (nil, nil) when absent.
	GetStatus(ctx context.Context, requestID string) (*domain.StatusRecord, error)
}

func idempotencyKey(requestID string) string {
	return idempotencyKeyPrefix + requestID
}

func statusKey(requestID string) string {
	return statusKeyPrefix + requestID
}
