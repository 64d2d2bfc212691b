package errors

import "fmt"

// Error kind constants
const (
	ValidationError      = "VALIDATION_ERROR"
	OrderingViolation    = "ORDERING_VIOLATION"
	ActionNotFound       = "ACTION_NOT_FOUND"
	DownloadFailure      = "DOWNLOAD_FAILURE"
	PackageFailure       = "PACKAGE_FAILURE"
	RestoreFailure       = "RESTORE_FAILURE"
	StepFailed           = "STEP_FAILED"
	VerificationMismatch = "VERIFICATION_MISMATCH"
	Timeout              = "TIMEOUT"
	Cancelled            = "CANCELLED"
)

// RunError is a structured error carried in the run log.
type RunError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	StepID    string `json:"step_id,omitempty"`
	Retryable bool   `json:"retryable"`
	Hint      string `json:"hint,omitempty"`
}

func (e *RunError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Type, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func NewValidationError(msg, hint string) *RunError {
	return &RunError{Type: ValidationError, Message: msg, Hint: hint}
}

func NewOrderingViolation(stepID, msg string) *RunError {
	return &RunError{Type: OrderingViolation, StepID: stepID, Message: msg,
		Hint: "Declare the resource in an earlier step's 'produces' list"}
}

func NewStepError(kind, stepID, msg, hint string) *RunError {
	return &RunError{Type: kind, StepID: stepID, Message: msg, Hint: hint, Retryable: kind == DownloadFailure}
}
