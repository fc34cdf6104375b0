package httpx

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed          = errors.New("httpx: malformed message")
	ErrBadRequest         = errors.New("httpx: bad request")
	ErrHeaderTooLarge     = errors.New("httpx: header too large")
	ErrBodyTooLarge       = errors.New("httpx: body too large")
	ErrUnsupportedVersion = errors.New("httpx: unsupported protocol version")
	ErrExpectation        = errors.New("httpx: unsupported expectation")
	ErrTimeout            = errors.New("httpx: timeout")
	ErrNilResponse        = errors.New("httpx: responder returned no response")
	ErrInvalidResponse    = errors.New("httpx: invalid response")
)

// StatusError is an error carrying the HTTP status the server should answer
// with. Responders return it to fail a request with a specific 4xx/5xx code.
type StatusError struct {
	Code int
	Err  error
}

// Error returns a StatusError for code with message msg.
func Error(code int, msg string) error {
	return &StatusError{Code: code, Err: errors.New(msg)}
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("httpx: status %d", e.Code)
	}
	return fmt.Sprintf("httpx: status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panicking responder.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("httpx: responder panic: %v", e.Value)
}
