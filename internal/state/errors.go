package state

import (
	"errors"
	"fmt"
)

// Code classifies a store failure.
type Code string

const (
	// CodeInvalidInput covers malformed path applications and payloads that
	// are not JSON.
	CodeInvalidInput Code = "invalid_input"
	// CodeInternal means a backend reached a state it should never be in.
	CodeInternal Code = "internal"
	// CodeUnavailable means the backend transport could not be reached or a
	// command failed at the transport level.
	CodeUnavailable Code = "unavailable"
)

// Sentinels for errors.Is checks against an *Error of the matching code.
var (
	ErrInvalidInput = errors.New("state: invalid input")
	ErrInternal     = errors.New("state: internal error")
	ErrUnavailable  = errors.New("state: unavailable")
)

// Error is the typed failure returned by every Store operation.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("state: %s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("state: %s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's code.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Code)
}

func sentinel(code Code) error {
	switch code {
	case CodeInvalidInput:
		return ErrInvalidInput
	case CodeUnavailable:
		return ErrUnavailable
	default:
		return ErrInternal
	}
}

// InvalidInput builds a CodeInvalidInput error.
func InvalidInput(format string, args ...any) error {
	return &Error{Code: CodeInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

// Internal builds a CodeInternal error.
func Internal(format string, args ...any) error {
	return &Error{Code: CodeInternal, Msg: fmt.Sprintf(format, args...)}
}

// Unavailable wraps a transport failure with context.
func Unavailable(context string, err error) error {
	return &Error{Code: CodeUnavailable, Msg: context, Err: err}
}

// Wrap attaches a code and context to err.
func Wrap(code Code, context string, err error) error {
	return &Error{Code: code, Msg: context, Err: err}
}

// CodeOf returns the taxonomy code carried by err. Errors that did not come
// from this package are reported as CodeInternal.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// ParseCode maps a wire code back onto the taxonomy.
func ParseCode(s string) Code {
	switch Code(s) {
	case CodeInvalidInput, CodeUnavailable:
		return Code(s)
	default:
		return CodeInternal
	}
}

// Message is err's text without the "state: <code>: " preamble, so a remote
// peer can rebuild the same *Error from Code and Message.
func Message(err error) string {
	var se *Error
	if !errors.As(err, &se) {
		return err.Error()
	}
	if se.Err != nil {
		return se.Msg + ": " + se.Err.Error()
	}
	return se.Msg
}
