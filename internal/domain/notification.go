package domain

import (
	"time"
)

// NotificationType defines the channel a notification is delivered through
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypePush  NotificationType = "push"
)

// Valid reports whether the type is one the platform dispatches
func (t NotificationType) Valid() bool {
	return t == TypeEmail || t == TypePush
}

// RoutingKey returns the broker routing key messages of this type are
// published with. Only valid types have a routing key; callers are expected
// to validate before reaching the publish path.
func (t NotificationType) RoutingKey() string {
	return string(t)
}

// Status represents the lifecycle state recorded for a request
type Status string

const (
	StatusQueued    Status = "queued"
	StatusFailed    Status = "failed"
	StatusDuplicate Status = "duplicate"
)

// NotificationRequest is a validated inbound notification request.
// It is immutable once constructed and owned by a single dispatch attempt.
type NotificationRequest struct {
	// RequestID is the client-supplied idempotency key
	RequestID string `json:"request_id"`

	// NotificationType selects the delivery channel (email or push)
	NotificationType NotificationType `json:"notification_type"`

	// UserID is an opaque identifier of the recipient
	UserID string `json:"user_id"`

	// TemplateCode names the template the downstream consumer renders
	TemplateCode string `json:"template_code"`

	// Variables is the template payload; its schema depends on the template
	Variables map[string]interface{} `json:"variables"`

	// Priority is the notification priority level (default 0)
	Priority int `json:"priority"`

	// Metadata contains optional free-form data passed through to consumers
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// StatusRecord is the observational state kept per request_id.
// Absence after the TTL window means "unknown", not "never existed".
type StatusRecord struct {
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Envelope is the wire message handed to the broker. All fields are reduced
// to JSON-safe primitives before publishing; downstream consumers correlate
// on RequestID.
type Envelope struct {
	RequestID     string                 `json:"request_id"`
	CorrelationID string                 `json:"correlation_id"`
	UserID        string                 `json:"user_id"`
	TemplateCode  string                 `json:"template_code"`
	Variables     map[string]interface{} `json:"variables"`
	Priority      int                    `json:"priority"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	RequestedAt   time.Time              `json:"requested_at"`
}

// Outcome is the terminal state of one dispatch attempt
type Outcome string

const (
	OutcomePublished           Outcome = "published"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeCircuitOpen         Outcome = "circuit_open"
	OutcomeSerializationFailed Outcome = "serialization_failed"
	OutcomePublishFailed       Outcome = "publish_failed"
)

// DispatchResult describes how a dispatch attempt terminated
type DispatchResult struct {
	// Outcome is the terminal state the request reached
	Outcome Outcome `json:"outcome"`

	// RequestID echoes the request's idempotency key
	RequestID string `json:"request_id"`

	// RoutingKey is set when the request reached the publish step
	RoutingKey string `json:"routing_key,omitempty"`

	// PriorStatus carries the previously recorded status on duplicates
	PriorStatus *StatusRecord `json:"prior_status,omitempty"`
}
