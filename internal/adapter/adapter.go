// Package adapter defines the uniform interface every external video
// generation model is driven through — initiate, poll, fetch, cancel —
// plus the retryable/terminal error taxonomy the AI worker uses to decide
// whether to retry an initiate attempt or fail the segment outright.
package adapter

import (
	"context"
	"fmt"
)

// Status is the state of a generation job as reported by GetStatus.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrorCode classifies why an adapter call failed. Connection, Timeout and
// Generation are retryable; Workflow, Parameters and Output are terminal —
// retrying them wastes an attempt budget on something that can't succeed.
type ErrorCode string

const (
	ErrConnection ErrorCode = "connection"
	ErrTimeout    ErrorCode = "timeout"
	ErrWorkflow   ErrorCode = "workflow"
	ErrParameters ErrorCode = "parameters"
	ErrGeneration ErrorCode = "generation"
	ErrOutput     ErrorCode = "output"
)

// Retryable reports whether an initiate/poll attempt that failed with this
// code is worth retrying.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrConnection, ErrTimeout, ErrGeneration:
		return true
	default:
		return false
	}
}

// Error is the typed error returned by adapter calls. It wraps the
// underlying transport/SDK error while carrying the classification the
// worker's retry logic needs.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Code.Retryable() }

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// userFriendlyMessages maps each error code to a short, non-technical
// explanation to surface wherever a segment's failure reason is displayed.
var userFriendlyMessages = map[ErrorCode]string{
	ErrConnection: "Could not reach the video generation service. This is usually temporary.",
	ErrTimeout:    "The video generation service did not respond in time. This is usually temporary.",
	ErrWorkflow:   "The generation request was rejected by the model's workflow. This will not succeed on retry.",
	ErrParameters: "One or more generation parameters were invalid for this model.",
	ErrGeneration: "The model failed to generate a video for this prompt. It may succeed on retry.",
	ErrOutput:     "The model produced output that could not be used (missing, corrupt, or wrong format).",
}

// UserFriendlyMessage returns a human-readable explanation for an error
// code, used for troubleshooting/status surfaces.
func UserFriendlyMessage(code ErrorCode) string {
	if msg, ok := userFriendlyMessages[code]; ok {
		return msg
	}
	return "Video generation failed for an unknown reason."
}

// Result is what GetResult returns for a completed generation.
type Result struct {
	Status       Status
	AssetURL     string
	ErrorCode    ErrorCode
	ErrorMessage string
	Metadata     map[string]interface{}
}

// Adapter is implemented by every pluggable video model integration.
// Initiate starts an asynchronous generation job and returns an opaque
// external job id; GetStatus and GetResult poll it; Cancel makes a
// best-effort attempt to stop it server-side.
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, prompt string, params map[string]interface{}) (externalJobID string, err error)
	GetStatus(ctx context.Context, externalJobID string) (Status, error)
	GetResult(ctx context.Context, externalJobID string) (Result, error)
	Cancel(ctx context.Context, externalJobID string) (bool, error)
}
