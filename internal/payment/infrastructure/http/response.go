package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmehra2102/payment-service/pkg/apperr"
)

type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []apperr.FieldError `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Error     errorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto a status code. Unexpected errors are
// logged in full and answered with a generic message.
func writeError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	reqID := middleware.GetReqID(r.Context())

	if status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", reqID, "err", err)
	} else {
		log.Info("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "request_id", reqID, "err", err)
	}

	writeJSON(w, status, errorEnvelope{
		Success:   false,
		Message:   body.Message,
		Error:     body,
		Timestamp: time.Now().UTC(),
		RequestID: reqID,
	})
}

func classify(err error) (int, errorBody) {
	var ve *apperr.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorBody{Code: "VALIDATION_ERROR", Message: ve.Message, Details: ve.Fields}
	case errors.Is(err, apperr.ErrSignature):
		return http.StatusBadRequest, errorBody{Code: "INVALID_SIGNATURE", Message: "Invalid signature"}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, apperr.ErrConflict):
		// retries exhausted; a 5xx makes the gateway redeliver
		return http.StatusInternalServerError, errorBody{Code: "CONFLICT", Message: "The payment was modified concurrently, retry the request"}
	case errors.Is(err, apperr.ErrGateway):
		return http.StatusInternalServerError, errorBody{Code: "GATEWAY_ERROR", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}
	}
}
