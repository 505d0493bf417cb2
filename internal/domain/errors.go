package domain

// Error is a sentinel error usable in comparisons with errors.Is.
// Callers wrap these with additional context; the sentinel survives
// the wrapping.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrStoreUnavailable means the idempotency/status store could not be
	// reached. The request fails hard; it is never assumed to be a duplicate.
	ErrStoreUnavailable = Error("store unavailable")

	// ErrDuplicateRequest marks a request_id that was already admitted
	// within its TTL window. A defined terminal outcome, not a fault.
	ErrDuplicateRequest = Error("duplicate_request")

	// ErrCircuitOpen means the breaker rejected the request before any
	// broker call was made.
	ErrCircuitOpen = Error("circuit open")

	// ErrSerialization means the request payload could not be reduced to
	// wire-safe JSON.
	ErrSerialization = Error("serialization error")

	// ErrPublish means the broker rejected the message or was unreachable
	// after the publisher's bounded retries.
	ErrPublish = Error("publish error")

	// ErrTopologyConflict means an exchange or queue already exists with
	// different arguments. Fatal to the setup call only, never to the
	// process.
	ErrTopologyConflict = Error("topology conflict")
)
