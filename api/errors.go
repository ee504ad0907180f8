package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/warp/tuition-engine/generic"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// requestError is a client error with per-field details.
type requestError struct {
	err     error
	details map[string]string
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// badRequest wraps a decoding or parsing failure as a validation error.
func badRequest(field, message string) error {
	return &generic.ValidationError{Field: field, Message: message}
}

// classify maps an error to its HTTP status and machine-readable code.
// Permission failures are reported as not found.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrPaymentOutOfRange):
		return http.StatusBadRequest, "payment_out_of_range"
	case errors.Is(err, generic.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, generic.ErrInvalidPeriod):
		return http.StatusBadRequest, "invalid_period"
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, generic.ErrPermissionDenied), errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrDuplicateIdempotencyKey):
		return http.StatusConflict, "duplicate_idempotency_key"
	case errors.Is(err, generic.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, generic.ErrAlreadyReversed):
		return http.StatusConflict, "already_reversed"
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// fail writes err as an ErrorResponse. fallback is shown for internal errors
// so storage details never reach the client; the cause is logged instead.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, code := classify(err)

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var rerr *requestError
	if errors.As(err, &rerr) {
		resp.Details = rerr.details
	}
	if errors.Is(err, generic.ErrPermissionDenied) {
		resp.Error = "not found"
	}

	if status >= http.StatusInternalServerError {
		if fallback == "" {
			fallback = "Something went wrong"
		}
		resp.Error = fallback
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON request body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("", "invalid request body: "+err.Error())
	}
	return validateRequest(v)
}
