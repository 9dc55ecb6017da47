// Package httpserver contains the submission API handlers and middleware.
//
// It exposes analysis submission, status polling, and result retrieval, plus
// the operational endpoints (healthz, readyz, metrics). HTTP concerns stay
// here; business logic lives in the usecase services.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-pr-reviewer/internal/domain"
)

type errorEnvelope struct {
	ErrorCode string      `json:"error_code"`
	Message   string      `json:"message"`
	Context   interface{} `json:"context,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, context interface{}) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "VALIDATION_ERROR"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "RATE_LIMITED"
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusBadGateway
		code = "UPSTREAM_UNAUTHORIZED"
	case errors.Is(err, domain.ErrUpstream):
		status = http.StatusBadGateway
		code = "UPSTREAM_ERROR"
	case errors.Is(err, domain.ErrTaskTimeout):
		status = http.StatusGatewayTimeout
		code = "TASK_TIMEOUT"
	}
	writeJSON(w, status, errorEnvelope{ErrorCode: code, Message: err.Error(), Context: context})
}

// writeShapeError responds 422 for requests whose body cannot be decoded
// into the expected shape.
func writeShapeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusUnprocessableEntity, errorEnvelope{
		ErrorCode: "UNPROCESSABLE",
		Message:   err.Error(),
	})
}
