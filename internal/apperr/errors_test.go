package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		ErrInvalidArgument, ErrInvalidTransition, ErrInsufficientStock,
		ErrDependencyUnavailable, ErrNotFound, ErrConflict,
	} {
		wrapped := fmt.Errorf("reduce p1: %w", sentinel)
		got := FromCode(Code(wrapped))
		if !errors.Is(got, sentinel) {
			t.Fatalf("code %q mapped back to %v, want %v", Code(wrapped), got, sentinel)
		}
	}
	if FromCode("INTERNAL") != nil {
		t.Fatalf("unknown code should map to nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("x: %w", ErrInsufficientStock), http.StatusConflict},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrDependencyUnavailable, http.StatusServiceUnavailable},
		{ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
