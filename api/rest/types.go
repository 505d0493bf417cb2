package rest

import (
	"fmt"

	"github.com/notifyhub/gateway/internal/domain"
)

// Machine-readable error codes, stable independently of the free-text
// message so clients can branch without parsing prose.
const (
	CodeValidation         = "validation_error"
	CodeDuplicateRequest   = "duplicate_request"
	CodeCircuitOpen        = "circuit_open"
	CodeStoreUnavailable   = "store_unavailable"
	CodeSerializationError = "serialization_error"
	CodePublishError       = "publish_error"
	CodeStatusUnknown      = "status_unknown"
)

// ResponseEnvelope is the standard API response shape for success and error
type ResponseEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message"`
}

// SendNotificationRequest is the REST API request for dispatching a notification
type SendNotificationRequest struct {
	RequestID        string                 `json:"request_id"`
	NotificationType string                 `json:"notification_type"`
	UserID           string                 `json:"user_id"`
	TemplateCode     string                 `json:"template_code"`
	Variables        map[string]interface{} `json:"variables"`
	Priority         int                    `json:"priority,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Validate validates the request
func (r *SendNotificationRequest) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	if !domain.NotificationType(r.NotificationType).Valid() {
		return fmt.Errorf("notification_type must be %q or %q", domain.TypeEmail, domain.TypePush)
	}

	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	if r.TemplateCode == "" {
		return fmt.Errorf("template_code is required")
	}

	return nil
}

// ToDomain converts the request to a domain notification request
func (r *SendNotificationRequest) ToDomain() *domain.NotificationRequest {
	return &domain.NotificationRequest{
		RequestID:        r.RequestID,
		NotificationType: domain.NotificationType(r.NotificationType),
		UserID:           r.UserID,
		TemplateCode:     r.TemplateCode,
		Variables:        r.Variables,
		Priority:         r.Priority,
		Metadata:         r.Metadata,
	}
}

// SendNotificationData is the success payload for a dispatched notification
type SendNotificationData struct {
	RequestID string `json:"request_id"`
}

// StatusData is the payload for a status lookup
type StatusData struct {
	RequestID string        `json:"request_id"`
	Status    domain.Status `json:"status"`
	Detail    string        `json:"detail"`
}

// HealthData reports gateway component health
type HealthData struct {
	Breaker string `json:"breaker"`
	Broker  string `json:"broker"`
	Store   string `json:"store"`
}
