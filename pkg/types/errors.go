package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies execution failures
type ErrorKind string

const (
	KindAllowance           ErrorKind = "AllowanceError"
	KindChainSwitch         ErrorKind = "ChainSwitchError"
	KindSubmission          ErrorKind = "SubmissionError"
	KindConfirmation        ErrorKind = "ConfirmationError"
	KindQuote               ErrorKind = "QuoteError"
	KindCounterpartyTimeout ErrorKind = "CounterpartyTimeoutError"
	KindUnknown             ErrorKind = "UnknownError"
)

// ExecutionError is the error type raised by every engine component
type ExecutionError struct {
	Kind    ErrorKind
	Code    string
	Message string
	// Hint points the user at an out-of-band status check
	Hint string
	Err  error
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// codedError is implemented by wallet errors that carry a provider code
type codedError interface {
	ErrorCode() string
}

// NewError builds an ExecutionError, lifting any provider code from err
func NewError(kind ErrorKind, err error, format string, args ...interface{}) *ExecutionError {
	e := &ExecutionError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
	var coded codedError
	if errors.As(err, &coded) {
		e.Code = coded.ErrorCode()
	}
	return e
}

// KindOf returns the error kind, KindUnknown for foreign errors
func KindOf(err error) ErrorKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is an ExecutionError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Kind == kind
}

// ErrorCode returns the code recorded on an ExecutionError
func ErrorCode(err error) string {
	var execErr *ExecutionError
	if errors.As(err, &execErr) && execErr.Code != "" {
		return execErr.Code
	}
	var coded codedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
