package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an intake error code.
type ErrorCode string

const (
	ErrValidation      ErrorCode = "VALIDATION"       // 422
	ErrDecode          ErrorCode = "DECODE"           // 422
	ErrNetworkTimeout  ErrorCode = "NETWORK_TIMEOUT"  // 504
	ErrNetworkRejected ErrorCode = "NETWORK_REJECTED" // 502
	ErrUnexpected      ErrorCode = "UNEXPECTED"       // 500
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrBusy            ErrorCode = "BUSY"             // 409
)

// Messages shown when a submission does not go through. They are shown to the
// person filling the form, so they stay short and say what to do next.
const (
	MsgTimeout  = "That took longer than expected. Please tap Submit again."
	MsgNetwork  = "We couldn't send that just yet. Please tap Submit again."
	MsgRejected = "Something didn't go through. Please tap Submit again."
)

// IntakeError represents a structured error with code, status, and details.
// Message is always safe to show to the user; the underlying cause (if any)
// is kept in Err for logs.
type IntakeError struct {
	Code      ErrorCode
	Status    int
	Message   string
	Details   map[string]any
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *IntakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *IntakeError) Unwrap() error {
	return e.Err
}

// NewValidation creates a 422 error for a field or step the user can fix.
func NewValidation(field, msg string) *IntakeError {
	return &IntakeError{
		Code:    ErrValidation,
		Status:  422,
		Message: msg,
		Details: map[string]any{"field": field},
	}
}

// NewDecode creates a 422 error for a selected file that is not a readable image.
func NewDecode(filename string, cause error) *IntakeError {
	return &IntakeError{
		Code:    ErrDecode,
		Status:  422,
		Message: fmt.Sprintf("We couldn't read %q as a photo. Please remove it and choose another.", filename),
		Details: map[string]any{"filename": filename},
		Err:     cause,
	}
}

// NewNetworkTimeout creates a 504 error for a submission that ran out of time.
func NewNetworkTimeout(cause error) *IntakeError {
	return &IntakeError{
		Code:      ErrNetworkTimeout,
		Status:    504,
		Message:   MsgTimeout,
		Retryable: true,
		Err:       cause,
	}
}

// NewNetworkRejected creates a 502 error for a submission the intake service declined.
// The service's own message is passed through when it sent one.
func NewNetworkRejected(serverMsg string, status int) *IntakeError {
	msg := serverMsg
	if msg == "" {
		msg = MsgRejected
	}
	return &IntakeError{
		Code:      ErrNetworkRejected,
		Status:    502,
		Message:   msg,
		Details:   map[string]any{"upstream_status": status},
		Retryable: true,
	}
}

// NewUnexpected creates a 500 catch-all error. The cause stays out of Message.
func NewUnexpected(cause error) *IntakeError {
	return &IntakeError{
		Code:      ErrUnexpected,
		Status:    500,
		Message:   MsgNetwork,
		Retryable: true,
		Err:       cause,
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *IntakeError {
	return &IntakeError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(identifier string) *IntakeError {
	return &IntakeError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewBusy creates a 409 error for a command that arrived while a submission is in flight.
func NewBusy() *IntakeError {
	return &IntakeError{
		Code:    ErrBusy,
		Status:  409,
		Message: "Your consultation is being sent. Hang tight for a moment.",
	}
}

// Is checks if err (or anything it wraps) is an IntakeError with the given code.
func Is(err error, code ErrorCode) bool {
	var iErr *IntakeError
	if stderrors.As(err, &iErr) {
		return iErr.Code == code
	}
	return false
}

// IsRetryable reports whether the user can simply try the same action again.
func IsRetryable(err error) bool {
	var iErr *IntakeError
	if stderrors.As(err, &iErr) {
		return iErr.Retryable
	}
	return false
}

// Message returns the user-facing message for err. Errors that are not
// IntakeErrors get the generic network message, never their raw text.
func Message(err error) string {
	var iErr *IntakeError
	if stderrors.As(err, &iErr) {
		return iErr.Message
	}
	return MsgNetwork
}

// As extracts the IntakeError from err's chain.
func As(err error, target **IntakeError) bool {
	return stderrors.As(err, target)
}
