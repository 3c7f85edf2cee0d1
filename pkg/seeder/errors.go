// Package seeder provides the core types and orchestration pipeline for
// remote execution of registered functions on an AWS CodeBuild seedkit.
// A remote call flows through six stages: Resolve -> Bundle -> Ensure ->
// Submit -> Watch -> Fetch.
package seeder

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, missing seedkit, a failed remote phase.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes identifying the failure category of a remote call.
const (
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
	ErrCodeBundle              = "BUNDLE_ERROR"
	ErrCodeEnvironmentNotFound = "ENVIRONMENT_NOT_FOUND"
	ErrCodeDispatch            = "DISPATCH_ERROR"
	ErrCodeMonitor             = "MONITOR_ERROR"
	ErrCodeJobFailure          = "JOB_FAILURE"
	ErrCodeResultDecode        = "RESULT_DECODE_ERROR"
	ErrCodeSerialization       = "SERIALIZATION_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// SeederError represents a classified error with enough context to diagnose a
// failed remote call without re-running it.
// nolint:revive // SeederError is intentionally named to distinguish from standard errors
type SeederError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code identifies the failure category (see ErrCode constants).
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Seedkit is the name of the seedkit involved, if applicable.
	Seedkit string `json:"seedkit,omitempty"`

	// JobID is the CodeBuild build id involved, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Phase is the job phase that produced the failure, if applicable.
	Phase string `json:"phase,omitempty"`

	// LogTail holds the last log lines observed before the failure.
	LogTail []string `json:"log_tail,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *SeederError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Seedkit != "" {
		msg += fmt.Sprintf(" (seedkit=%s", e.Seedkit)
		if e.JobID != "" {
			msg += fmt.Sprintf(", job=%s", e.JobID)
		}
		if e.Phase != "" {
			msg += fmt.Sprintf(", phase=%s", e.Phase)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *SeederError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *SeederError) Is(target error) bool {
	t, ok := target.(*SeederError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new permanent error with the given code.
func NewError(code, message string, err error) *SeederError {
	return &SeederError{
		Class:   ErrorClassPermanent,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewTransientError creates a new transient error with the given code.
func NewTransientError(code, message string, err error) *SeederError {
	return &SeederError{
		Class:   ErrorClassTransient,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithSeedkit adds seedkit context to an error.
func (e *SeederError) WithSeedkit(name string) *SeederError {
	e.Seedkit = name
	return e
}

// WithJob adds job context to an error.
func (e *SeederError) WithJob(jobID string) *SeederError {
	e.JobID = jobID
	return e
}

// WithPhase adds the failing phase to an error.
func (e *SeederError) WithPhase(phase string) *SeederError {
	e.Phase = phase
	return e
}

// WithLogTail attaches the last observed log lines to an error.
func (e *SeederError) WithLogTail(lines []string) *SeederError {
	e.LogTail = lines
	return e
}

// codeOf extracts the SeederError code from an error chain, or "".
func codeOf(err error) string {
	var e *SeederError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfigurationError returns true if the error is a configuration failure.
func IsConfigurationError(err error) bool {
	return codeOf(err) == ErrCodeConfiguration
}

// IsBundleError returns true if the error is a local packaging failure.
func IsBundleError(err error) bool {
	return codeOf(err) == ErrCodeBundle
}

// IsEnvironmentNotFound returns true if the seedkit is missing and
// deploy-if-missing was disabled.
func IsEnvironmentNotFound(err error) bool {
	return codeOf(err) == ErrCodeEnvironmentNotFound
}

// IsDispatchError returns true if the error is an upload or start failure.
func IsDispatchError(err error) bool {
	return codeOf(err) == ErrCodeDispatch
}

// IsMonitorError returns true if polling exhausted its retries. This is infra
// flakiness, not a failed remote function.
func IsMonitorError(err error) bool {
	return codeOf(err) == ErrCodeMonitor
}

// IsJobFailure returns true if a remote phase failed.
func IsJobFailure(err error) bool {
	return codeOf(err) == ErrCodeJobFailure
}

// IsResultDecodeError returns true if the job succeeded but its output
// artifact was malformed.
func IsResultDecodeError(err error) bool {
	return codeOf(err) == ErrCodeResultDecode
}

// IsSerializationError returns true if a value could not cross the process
// boundary as JSON.
func IsSerializationError(err error) bool {
	return codeOf(err) == ErrCodeSerialization
}

// IsTimeout returns true if the watch timed out before the job reached a
// terminal state.
func IsTimeout(err error) bool {
	return codeOf(err) == ErrCodeTimeout
}

// IsRetryable returns true if the whole call can be retried as-is.
func IsRetryable(err error) bool {
	var e *SeederError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient || e.Class == ErrorClassThrottled
	}
	return false
}
