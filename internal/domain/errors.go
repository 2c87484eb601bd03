package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is wrapped by every NotFoundError.
var ErrNotFound = errors.New("not found")

// ErrWaitTimeout is returned when a caller gave up waiting for a request.
// The request itself keeps its state.
var ErrWaitTimeout = errors.New("timed out waiting for wallet request")

// ConfigurationError reports platform settings that are required but absent.
type ConfigurationError struct {
	Platform Platform
	Missing  []string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("%s wallet not configured: missing %s", e.Platform, strings.Join(e.Missing, ", "))
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// ValidationError reports a malformed identifier or a request that contradicts stored data.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GenerationError wraps a failure while building an artifact.
type GenerationError struct {
	Platform Platform
	Stage    string
	Err      error
}

func (e GenerationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Stage, e.Err)
}

func (e GenerationError) Unwrap() error { return e.Err }

// TransitionError reports a status change the request lifecycle does not allow.
type TransitionError struct {
	From RequestStatus
	To   RequestStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid wallet request transition %s -> %s", e.From, e.To)
}
