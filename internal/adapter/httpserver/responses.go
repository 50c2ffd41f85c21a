// Package httpserver exposes the REST surface: cron task dispatch, the
// suggestion inbox, validation control and health. Handlers translate
// between HTTP and the usecase services and carry no business logic.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, _ *http.Request, err error, details any) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusUnprocessableEntity
		codeStr = "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrAuthFailed):
		code = http.StatusUnauthorized
		codeStr = "AUTH_FAILED"
	case errors.Is(err, domain.ErrNotAuthorized):
		code = http.StatusForbidden
		codeStr = "NOT_AUTHORIZED"
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
		codeStr = "NOT_FOUND"
	case errors.Is(err, domain.ErrConflict):
		code = http.StatusConflict
		codeStr = "CONFLICT"
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
	case errors.Is(err, domain.ErrQualityBlocked):
		code = http.StatusUnprocessableEntity
		codeStr = "QUALITY_BLOCKED"
	case errors.Is(err, domain.ErrProviderDown):
		code = http.StatusServiceUnavailable
		codeStr = "PROVIDER_UNAVAILABLE"
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: err.Error(), Details: details}})
}

func writeValidationError(w http.ResponseWriter, fields map[string]string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorEnvelope{Error: apiError{
		Code:    "VALIDATION_FAILED",
		Message: "request validation failed",
		Details: fields,
	}})
}
