// Package errs defines the error taxonomy shared by every depotci component.
//
// Each failure carries a Code so callers can branch with errors.Is against
// the sentinel values below without matching on message text.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	// CodeConfiguration covers missing or invalid fields, unknown action
	// kinds, unknown scm references and malformed secret references.
	CodeConfiguration Code = "CONFIGURATION_ERROR"

	// CodeAuthentication covers trust or login failures against the depot.
	CodeAuthentication Code = "AUTHENTICATION_ERROR"

	// CodeSync indicates the depot returned an unexpected sync outcome.
	CodeSync Code = "SYNC_ERROR"

	// CodeReconcile indicates the depot returned an unexpected reconcile outcome.
	CodeReconcile Code = "RECONCILE_ERROR"

	// CodeSubmit indicates the depot rejected a submission.
	CodeSubmit Code = "SUBMIT_ERROR"

	// CodeCommandExecution indicates a shell step exited non-zero.
	CodeCommandExecution Code = "COMMAND_EXECUTION_ERROR"

	// CodeResolution indicates a referenced secret or key does not exist.
	CodeResolution Code = "RESOLUTION_ERROR"
)

// Sentinels for errors.Is.
var (
	ErrConfiguration    = &Error{Code: CodeConfiguration}
	ErrAuthentication   = &Error{Code: CodeAuthentication}
	ErrSync             = &Error{Code: CodeSync}
	ErrReconcile        = &Error{Code: CodeReconcile}
	ErrSubmit           = &Error{Code: CodeSubmit}
	ErrCommandExecution = &Error{Code: CodeCommandExecution}
	ErrResolution       = &Error{Code: CodeResolution}
)

// Error is a coded failure with an optional underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel (or any *Error) with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New returns a coded error with a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(code Code, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" when
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Configf is shorthand for a configuration error.
func Configf(format string, args ...interface{}) *Error {
	return New(CodeConfiguration, format, args...)
}
