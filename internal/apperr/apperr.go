// Package apperr defines the error kinds shared by the turn engine, the
// feedback and prompt stores, and the synthesis pipeline.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	// ErrValidation marks bad input rejected before any state change.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a reference to a turn, record, or version that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCapability marks a single failed capability invocation.
	ErrCapability = errors.New("capability error")
	// ErrGenerationUnavailable marks an unreachable or failing generation backend.
	ErrGenerationUnavailable = errors.New("generation unavailable")
	// ErrSynthesis marks a malformed or failed prompt synthesis.
	ErrSynthesis = errors.New("synthesis error")
)

// Error carries an error kind, the failing operation, and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Validation returns an ErrValidation error.
func Validation(op, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: msg}
}

// NotFound returns an ErrNotFound error.
func NotFound(op, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: msg}
}

// Capability wraps a capability invocation failure.
func Capability(name string, err error) error {
	return &Error{Kind: ErrCapability, Op: name, Err: err}
}

// Unavailable wraps a generation backend failure.
func Unavailable(op string, err error) error {
	return &Error{Kind: ErrGenerationUnavailable, Op: op, Err: err}
}

// Synthesis returns an ErrSynthesis error with an optional cause.
func Synthesis(msg string, err error) error {
	return &Error{Kind: ErrSynthesis, Op: "synthesize", Msg: msg, Err: err}
}

// HTTPStatus maps an error kind to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrGenerationUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrSynthesis):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
