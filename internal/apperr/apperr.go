// Package apperr holds the caller-facing error kinds shared by the exam core.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrAccessDenied       = errors.New("access denied")
	ErrAttemptNotActive   = errors.New("attempt not active")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidAnswerShape = errors.New("invalid answer shape")
	ErrInvalidInput       = errors.New("invalid input")

	// ErrInvariant marks a broken storage invariant. It is never recovered
	// from silently.
	ErrInvariant = errors.New("invariant violation")
)

// Status maps an error kind to the HTTP status the API answers with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAccessDenied), errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAttemptNotActive):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAnswerShape):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
