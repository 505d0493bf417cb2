package breaker

import (
	"sync"
	"time"
)

// State identifies the breaker's current mode
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	// DefaultMaxFailures is the consecutive-failure count that opens the breaker
	DefaultMaxFailures = 3

	// DefaultResetTimeout is the cooldown before a trial probe is allowed
	DefaultResetTimeout = 20 * time.Second
)

// Breaker is a failure-isolation guard for calls to the broker. It never
// performs or retries the guarded operation itself; callers consult Allow
// before every publish attempt and report the outcome afterwards.
//
// One instance is constructed per process and passed by reference to all
// request handlers. All state transitions happen inside a single critical
// section, so concurrent dispatch attempts cannot lose counter updates.
type Breaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failureCount int
	state        State
	openedAt     time.Time
	now          func() time.Time
}

// New creates a breaker in the CLOSED state. Non-positive arguments fall
// back to the defaults.
func New(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// Allow reports whether a publish attempt may proceed.
//
// CLOSED always allows. OPEN rejects until the reset timeout elapses, then
// transitions to HALF_OPEN and allows exactly the call that triggered the
// transition. While the HALF_OPEN trial is in flight, further calls are
// rejected until RecordSuccess or RecordFailure settles the state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) > b.resetTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		// trial probe already granted
		return false
	default:
		return true
	}
}

// RecordFailure increments the failure counter and opens the breaker once
// the counter reaches the threshold. In HALF_OPEN the counter is already at
// or above the threshold, so a failed trial re-opens with a fresh timestamp.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.failureCount >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// RecordSuccess resets the failure counter and forces the state to CLOSED,
// regardless of the current state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.state = StateClosed
	b.openedAt = time.Time{}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
