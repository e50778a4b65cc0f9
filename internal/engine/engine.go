package engine

import (
	"context"
	"errors"
	"fmt"

	"server/internal/resilience"
)

// TaskStatus enumerates the external engine's task states.
type TaskStatus string

const (
	StatusPending   TaskStatus = "PENDING"
	StatusRunning   TaskStatus = "RUNNING"
	StatusSucceeded TaskStatus = "SUCCEEDED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCanceled  TaskStatus = "CANCELED"
)

// CreateInput is the request to start a generation task.
type CreateInput struct {
	Prompt         string
	SourceImageURL string
	// JobID correlates engine calls with the local job in logs.
	JobID string
}

// PollResult is one observation of an external task.
type PollResult struct {
	Status       TaskStatus
	Progress     int
	OutputURL    string
	ErrorMessage string
}

// Adapter wraps one external engine behind create and poll operations.
// Implementations apply the retry policy and circuit breaker internally.
type Adapter interface {
	Name() string
	CreateJob(ctx context.Context, in CreateInput) (string, error)
	PollJob(ctx context.Context, externalID string) (*PollResult, error)
}

// Error is a classified engine failure with a stable error kind and, when an
// HTTP response was received, its status code.
type Error struct {
	Code       resilience.ErrorCode
	StatusCode int
	Detail     string
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("engine %s: %s: %v", e.Code, e.Detail, e.wrapped)
	}
	return fmt.Sprintf("engine %s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.wrapped }

// UserMessage returns a sanitized message safe to store on the job record.
func (e *Error) UserMessage() string { return e.Code.Message() }

// IsCircuitOpen reports whether the failure was rejected by the breaker
// without any network call.
func IsCircuitOpen(err error) bool {
	var engErr *Error
	return errors.As(err, &engErr) && engErr.Code == resilience.CodeEngineCircuitOpen
}

// UserMessage extracts the sanitized message for any engine error; unknown
// errors map to the generic message.
func UserMessage(err error) string {
	var engErr *Error
	if errors.As(err, &engErr) {
		return engErr.UserMessage()
	}
	return resilience.CodeUnknown.Message()
}
