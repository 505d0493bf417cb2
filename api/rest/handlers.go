package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/notifyhub/gateway/internal/domain"
)

// Dispatcher is the dispatch pipeline the REST layer fronts
type Dispatcher interface {
	Dispatch(ctx context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error)
	Status(ctx context.Context, requestID string) (*domain.StatusRecord, error)
}

// HealthFunc reports component health for the health endpoint
type HealthFunc func() HealthData

// Handler handles REST API requests
type Handler struct {
	dispatcher Dispatcher
	health     HealthFunc
}

// NewHandler creates a new REST handler
func NewHandler(dispatcher Dispatcher, health HealthFunc) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		health:     health,
	}
}

// SendNotification handles POST /api/v1/notifications
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, "invalid request body", nil)
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error(), nil)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), req.ToDomain())
	if err != nil {
		respondDispatchError(w, result, err)
		return
	}

	respondJSON(w, http.StatusAccepted, ResponseEnvelope{
		Success: true,
		Data:    SendNotificationData{RequestID: result.RequestID},
		Message: "Notification queued",
	})
}

// GetStatus handles GET /api/v1/notifications/{request_id}/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["request_id"]

	record, err := h.dispatcher.Status(r.Context(), requestID)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, "status store is unreachable", nil)
		return
	}
	if record == nil {
		// past the TTL window the status is unknown, not "never existed"
		respondError(w, http.StatusNotFound, CodeStatusUnknown, "no status recorded for this request_id", nil)
		return
	}

	respondJSON(w, http.StatusOK, ResponseEnvelope{
		Success: true,
		Data: StatusData{
			RequestID: requestID,
			Status:    record.Status,
			Detail:    record.Detail,
		},
		Message: "Status found",
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ResponseEnvelope{
		Success: true,
		Data:    h.health(),
		Message: "OK",
	})
}

// respondDispatchError maps each terminal failure outcome to its stable
// status code and machine-readable error code.
func respondDispatchError(w http.ResponseWriter, result *domain.DispatchResult, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateRequest):
		var prior interface{}
		if result != nil && result.PriorStatus != nil {
			prior = result.PriorStatus
		}
		respondError(w, http.StatusConflict, CodeDuplicateRequest,
			"This request_id has already been processed or is being processed.", prior)
	case errors.Is(err, domain.ErrCircuitOpen):
		respondError(w, http.StatusServiceUnavailable, CodeCircuitOpen,
			"Service temporarily unavailable", nil)
	case errors.Is(err, domain.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, CodeStoreUnavailable,
			"Idempotency store is unreachable", nil)
	case errors.Is(err, domain.ErrSerialization):
		respondError(w, http.StatusInternalServerError, CodeSerializationError,
			"Failed to serialize notification", nil)
	default:
		respondError(w, http.StatusInternalServerError, CodePublishError,
			"Failed to queue notification", nil)
	}
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes an error envelope
func respondError(w http.ResponseWriter, status int, code, message string, data interface{}) {
	respondJSON(w, status, ResponseEnvelope{
		Success: false,
		Data:    data,
		Error:   code,
		Message: message,
	})
}
