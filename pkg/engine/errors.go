package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a reconciliation error by the lifecycle phase it
// belongs to. Every class except reporting is terminal for the request.
type ErrorClass string

const (
	// ErrorClassPrecondition indicates a failure raised before any mutating
	// runtime interaction. Examples: missing backing tool, missing file,
	// permission that cannot be granted.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassTeardown indicates an existing instance could not be removed.
	// The engine never applies over an unremovable prior instance.
	ErrorClassTeardown ErrorClass = "teardown"

	// ErrorClassApply indicates the creation or update action itself failed.
	ErrorClassApply ErrorClass = "apply"

	// ErrorClassVerify indicates the post-apply state never reached running
	// within the verification bound.
	ErrorClassVerify ErrorClass = "verify"

	// ErrorClassReporting indicates a collector send failure. Never fatal;
	// logged at warning level and discarded.
	ErrorClassReporting ErrorClass = "reporting"
)

// Stage maps the error class onto the outcome stage it is reported under.
// Reporting errors never surface in an outcome and map to the verify stage
// only as a defensive default.
func (c ErrorClass) Stage() Stage {
	switch c {
	case ErrorClassPrecondition:
		return StagePrecondition
	case ErrorClassTeardown:
		return StageTeardown
	case ErrorClassApply:
		return StageApply
	default:
		return StageVerify
	}
}

// DeployError represents a classified reconciliation error with context.
type DeployError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Identity is the deployment identity that caused the error, if applicable.
	Identity string `json:"identity,omitempty"`

	// Operation is the runtime operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *DeployError) Error() string {
	if e.Identity != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (identity=%s, operation=%s): %s",
			e.Class, e.Message, e.Identity, e.Operation, e.unwrapMessage())
	}
	if e.Identity != "" {
		return fmt.Sprintf("[%s] %s (identity=%s): %s",
			e.Class, e.Message, e.Identity, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeployError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *DeployError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *DeployError) Is(target error) bool {
	t, ok := target.(*DeployError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPreconditionError creates a new precondition error.
func NewPreconditionError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassPrecondition,
		Message: message,
		Err:     err,
	}
}

// NewTeardownError creates a new teardown error.
func NewTeardownError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassTeardown,
		Message: message,
		Err:     err,
	}
}

// NewApplyError creates a new apply error.
func NewApplyError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassApply,
		Message: message,
		Err:     err,
	}
}

// NewVerifyError creates a new verify error.
func NewVerifyError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassVerify,
		Message: message,
		Err:     err,
	}
}

// NewReportingError creates a new reporting error.
func NewReportingError(message string, err error) *DeployError {
	return &DeployError{
		Class:   ErrorClassReporting,
		Message: message,
		Err:     err,
	}
}

// WithIdentity adds deployment identity context to an error.
func (e *DeployError) WithIdentity(identity string) *DeployError {
	e.Identity = identity
	return e
}

// WithOperation adds operation context to an error.
func (e *DeployError) WithOperation(operation string) *DeployError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *DeployError) WithCode(code string) *DeployError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *DeployError) WithDetail(key string, value interface{}) *DeployError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsPrecondition returns true if the error is classified as a precondition failure.
func IsPrecondition(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPrecondition
	}
	return false
}

// IsTeardown returns true if the error is classified as a teardown failure.
func IsTeardown(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTeardown
	}
	return false
}

// IsApply returns true if the error is classified as an apply failure.
func IsApply(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassApply
	}
	return false
}

// IsVerify returns true if the error is classified as a verify failure.
func IsVerify(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassVerify
	}
	return false
}

// IsReporting returns true if the error is classified as a reporting failure.
func IsReporting(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class == ErrorClassReporting
	}
	return false
}

// IsTerminal returns true if the error ends the reconciliation of its
// request. Every class except reporting is terminal.
func IsTerminal(err error) bool {
	var e *DeployError
	if errors.As(err, &e) {
		return e.Class != ErrorClassReporting
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeRuntimeMissing   = "RUNTIME_MISSING"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodePullFailed       = "PULL_FAILED"
	ErrCodeRemoveFailed     = "REMOVE_FAILED"
	ErrCodeStartFailed      = "START_FAILED"
	ErrCodeNotConverged     = "NOT_CONVERGED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeReportRejected   = "REPORT_REJECTED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
