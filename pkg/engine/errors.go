package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mrtrick/fireengine/pkg/script"
	"github.com/mrtrick/fireengine/pkg/storage"
)

// ValidationError reports a structural schema violation. It is surfaced to
// the caller with details and never retried.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// NotFoundError reports a missing design, activity or action.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no such %s %q", e.Kind, e.ID)
}

// UnauthorizedError reports a caller with no identity where one is required.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// ForbiddenError reports a guard failure: the caller is known but the
// operation is not permitted.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	if e.Message == "" {
		return "forbidden"
	}
	return e.Message
}

// HandlerError wraps an uncaught failure or explicit error(...) completion
// from a behavior fragment, normalized to a stable classification.
type HandlerError struct {
	Message string
	Status  int
	Inner   error
}

func (e *HandlerError) Error() string {
	if e.Inner != nil {
		return e.Message + ": " + e.Inner.Error()
	}
	return e.Message
}

func (e *HandlerError) Unwrap() error { return e.Inner }

// TimeoutError reports a fire that exceeded its deadline. It is terminal:
// any later completion of that fire is discarded.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "fire timed out"
	}
	return e.Message
}

// ConflictError reports a persistence revision mismatch. The engine
// surfaces it without retrying.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("activity %q was modified concurrently", e.ID)
}

func (e *ConflictError) Unwrap() error { return storage.ErrConflict }

// StatusCode maps an engine error onto the transport-level status callers
// use to classify it.
func StatusCode(err error) int {
	var (
		validation   *ValidationError
		notFound     *NotFoundError
		unauthorized *UnauthorizedError
		forbidden    *ForbiddenError
		handler      *HandlerError
		timeout      *TimeoutError
		conflict     *ConflictError
		compile      *script.CompileError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &timeout):
		return http.StatusRequestTimeout
	case errors.As(err, &conflict), errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.As(err, &compile):
		return http.StatusInternalServerError
	case errors.As(err, &handler):
		if handler.Status != 0 {
			return handler.Status
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
