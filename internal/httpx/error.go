package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Error is the JSON error envelope returned by the API.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: sanitize(code, 80), Message: sanitize(message, 512), Status: status}
}

func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	cp := make(map[string]any, len(details))
	for k, v := range details {
		cp[k] = v
	}
	e.Details = cp
	return e
}

func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	status := e.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]any{
		"error":   e.Code,
		"message": e.Message,
		"status":  status,
	}
	if id := sanitize(middleware.GetReqID(ctx), 80); id != "" {
		payload["request_id"] = id
	}
	for k, v := range e.Details {
		payload[k] = v
	}
	writeJSON(w, status, payload)
}

// FromError maps workflow errors onto the envelope. Storage failures are
// reported generically; the cause only goes to the log.
func FromError(err error) Error {
	var ref *orders.ReferentialError
	var st *orders.StateTransitionError
	var nf *orders.NotFoundError
	switch {
	case errors.As(err, &ref):
		return NewError("invalid_reference", "given data is incorrect", http.StatusBadRequest).
			WithDetails(map[string]any{"reasons": ref.Reasons})
	case errors.As(err, &st):
		details := map[string]any{"current_state": st.Current}
		if st.Target != "" {
			details["target_state"] = st.Target
		}
		return NewError("invalid_state", st.Error(), http.StatusConflict).WithDetails(details)
	case errors.As(err, &nf):
		return NewError("not_found", nf.Error(), http.StatusNotFound)
	default:
		return NewError("internal", "internal server error", http.StatusInternalServerError)
	}
}

func writeErr(ctx context.Context, w http.ResponseWriter, logger *zap.Logger, err error) {
	e := FromError(err)
	if e.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("request_id", middleware.GetReqID(ctx)), zap.Error(err))
	}
	WriteError(ctx, w, e)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sanitize(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
