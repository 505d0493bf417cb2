package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/notifyhub/gateway/internal/domain"
	"github.com/notifyhub/gateway/internal/rabbit"
	"github.com/notifyhub/gateway/internal/store"
)

const (
	defaultIdempotencyTTL     = time.Hour
	defaultStatusTTL          = time.Hour
	defaultStatusWriteTimeout = 2 * time.Second
)

// Publisher is the broker-facing side of the dispatcher
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg rabbit.Message) error
}

// CircuitBreaker guards publish attempts. Consulted before every publish;
// it never performs the guarded operation itself.
type CircuitBreaker interface {
	Allow() bool
	RecordFailure()
	RecordSuccess()
}

// Dispatcher runs the per-request dispatch sequence: idempotency admission,
// status tracking, circuit check, serialization, publish. Each request
// reaches exactly one terminal outcome; no step retries a prior step, and
// retry is confined to the publisher's own transient-failure handling.
type Dispatcher struct {
	store     store.Store
	breaker   CircuitBreaker
	publisher Publisher

	idempotencyTTL     time.Duration
	statusTTL          time.Duration
	statusWriteTimeout time.Duration
	log                zerolog.Logger
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithIdempotencyTTL sets the duplicate-detection window
func WithIdempotencyTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.idempotencyTTL = ttl
		}
	}
}

// WithStatusTTL sets how long status records stay observable
func WithStatusTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.statusTTL = ttl
		}
	}
}

// WithStatusWriteTimeout bounds best-effort status writes
func WithStatusWriteTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.statusWriteTimeout = timeout
		}
	}
}

// WithLogger sets the dispatcher logger
func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// NewDispatcher creates a dispatcher. The breaker is shared across all
// dispatch attempts in the process; the store and publisher each wrap a
// shared connection.
func NewDispatcher(st store.Store, breaker CircuitBreaker, publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:              st,
		breaker:            breaker,
		publisher:          publisher,
		idempotencyTTL:     defaultIdempotencyTTL,
		statusTTL:          defaultStatusTTL,
		statusWriteTimeout: defaultStatusWriteTimeout,
		log:                zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one request through the pipeline. The returned result always
// names the terminal outcome; err is non-nil for every outcome except
// a successful publish. Once admission succeeds the attempt runs to a
// terminal state even if the caller's context is already cancelled, so the
// consumed idempotency key always corresponds to a recorded outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error) {
	admitted, err := d.store.AcquireIdempotency(ctx, req.RequestID, d.idempotencyTTL)
	if err != nil {
		return nil, err
	}
	if !admitted {
		prior, gerr := d.store.GetStatus(ctx, req.RequestID)
		if gerr != nil {
			d.log.Warn().Err(gerr).Str("request_id", req.RequestID).Msg("failed to fetch prior status for duplicate")
		}
		return &domain.DispatchResult{
			Outcome:     domain.OutcomeDuplicate,
			RequestID:   req.RequestID,
			PriorStatus: prior,
		}, domain.ErrDuplicateRequest
	}

	d.writeStatus(ctx, req.RequestID, domain.StatusRecord{Status: domain.StatusQueued, Detail: "enqueued"})

	if !d.breaker.Allow() {
		d.writeStatus(ctx, req.RequestID, domain.StatusRecord{Status: domain.StatusFailed, Detail: "circuit open"})
		return &domain.DispatchResult{
			Outcome:   domain.OutcomeCircuitOpen,
			RequestID: req.RequestID,
		}, domain.ErrCircuitOpen
	}

	envelope := domain.Envelope{
		RequestID:     req.RequestID,
		CorrelationID: uuid.NewString(),
		UserID:        req.UserID,
		TemplateCode:  req.TemplateCode,
		Variables:     req.Variables,
		Priority:      req.Priority,
		Metadata:      req.Metadata,
		RequestedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		// A payload that cannot be reduced to JSON is a caller problem,
		// not a broker health signal; the breaker is left untouched.
		d.writeStatus(ctx, req.RequestID, domain.StatusRecord{
			Status: domain.StatusFailed,
			Detail: "serialization_error: " + err.Error(),
		})
		return &domain.DispatchResult{
			Outcome:   domain.OutcomeSerializationFailed,
			RequestID: req.RequestID,
		}, errors.Wrap(domain.ErrSerialization, err.Error())
	}

	routingKey := req.NotificationType.RoutingKey()
	msg := rabbit.Message{
		Body:          body,
		CorrelationID: envelope.CorrelationID,
		Headers: map[string]interface{}{
			"idempotency_key": req.RequestID,
			"attempt":         int32(0),
		},
	}

	if err := d.publisher.Publish(context.WithoutCancel(ctx), routingKey, msg); err != nil {
		d.writeStatus(ctx, req.RequestID, domain.StatusRecord{Status: domain.StatusFailed, Detail: err.Error()})
		d.breaker.RecordFailure()
		return &domain.DispatchResult{
			Outcome:    domain.OutcomePublishFailed,
			RequestID:  req.RequestID,
			RoutingKey: routingKey,
		}, err
	}

	d.breaker.RecordSuccess()
	d.writeStatus(ctx, req.RequestID, domain.StatusRecord{Status: domain.StatusQueued, Detail: "published to " + routingKey})

	return &domain.DispatchResult{
		Outcome:    domain.OutcomePublished,
		RequestID:  req.RequestID,
		RoutingKey: routingKey,
	}, nil
}

// Status returns the recorded lifecycle status for a request, or (nil, nil)
// when none is observable.
func (d *Dispatcher) Status(ctx context.Context, requestID string) (*domain.StatusRecord, error) {
	return d.store.GetStatus(ctx, requestID)
}

// writeStatus records observational state with a bounded timeout. Failures
// are logged and discarded; the publish path must never block or fail on a
// status write. The parent's cancellation is dropped so an abandoned client
// cannot suppress the write.
func (d *Dispatcher) writeStatus(ctx context.Context, requestID string, record domain.StatusRecord) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.statusWriteTimeout)
	defer cancel()

	if err := d.store.SetStatus(writeCtx, requestID, record, d.statusTTL); err != nil {
		d.log.Warn().
			Err(err).
			Str("request_id", requestID).
			Str("status", string(record.Status)).
			Msg("status write failed")
	}
}
