package wire

import (
	"fmt"

	"github.com/beemesh/meshcore/pkg/constants"
)

// Error is a typed protocol error carrying one of the numeric error codes
// exchanged between mesh nodes. The mesh package does not construct or
// inspect it: its event handlers log protocol failures through slog. Callers
// should not synthesize fmt.Errorf values for protocol-level failures.
type Error struct {
	Code uint16
	Op   string
	Err  error
}

func (e *Error) Error() string {
	name := ErrorCodeName(e.Code)
	if e.Err != nil {
		return fmt.Sprintf("wire: %s: %s (code %d): %v", e.Op, name, e.Code, e.Err)
	}
	return fmt.Sprintf("wire: %s: %s (code %d)", e.Op, name, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code, so callers can
// use errors.Is(err, &wire.Error{Code: constants.ErrorProtocolMismatch}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ErrorCodeName maps a numeric error code to its symbolic name for logging.
func ErrorCodeName(code uint16) string {
	switch code {
	case constants.ErrorProtocolMismatch:
		return "PROTOCOL_MISMATCH"
	case constants.ErrorMalformedMessage:
		return "MALFORMED_MESSAGE"
	case constants.ErrorInvariantViolation:
		return "INVARIANT_VIOLATION"
	case constants.ErrorLinkLayerFailure:
		return "LINK_LAYER_FAILURE"
	case constants.ErrorResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case constants.ErrorFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func NewProtocolMismatch(op string, err error) *Error {
	return &Error{Code: constants.ErrorProtocolMismatch, Op: op, Err: err}
}

func NewMalformedMessage(op string, err error) *Error {
	return &Error{Code: constants.ErrorMalformedMessage, Op: op, Err: err}
}

func NewInvariantViolation(op string, err error) *Error {
	return &Error{Code: constants.ErrorInvariantViolation, Op: op, Err: err}
}

func NewLinkLayerFailure(op string, err error) *Error {
	return &Error{Code: constants.ErrorLinkLayerFailure, Op: op, Err: err}
}

func NewResourceExhausted(op string, err error) *Error {
	return &Error{Code: constants.ErrorResourceExhausted, Op: op, Err: err}
}

func NewFatal(op string, err error) *Error {
	return &Error{Code: constants.ErrorFatal, Op: op, Err: err}
}
