package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("concurrent update conflict")
)

// Code is the stable string put on the wire so a remote caller can map a
// failure back to the same sentinel.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrDependencyUnavailable):
		return "DEPENDENCY_UNAVAILABLE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	default:
		return "INTERNAL"
	}
}

func FromCode(code string) error {
	switch code {
	case "INVALID_ARGUMENT":
		return ErrInvalidArgument
	case "INVALID_TRANSITION":
		return ErrInvalidTransition
	case "INSUFFICIENT_STOCK":
		return ErrInsufficientStock
	case "DEPENDENCY_UNAVAILABLE":
		return ErrDependencyUnavailable
	case "NOT_FOUND":
		return ErrNotFound
	case "CONFLICT":
		return ErrConflict
	default:
		return nil
	}
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error shape every service writes.
type Body struct {
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details,omitempty"`
}
