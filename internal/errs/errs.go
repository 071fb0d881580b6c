// Package errs defines the error taxonomy used across weecore: a small set
// of sentinel kinds that callers can match with errors.Is, each wrapping the
// underlying cause rather than replacing it.
package errs

import "fmt"

// Kind is one of the error categories from the error-handling design.
type Kind string

const (
	ConfigParse             Kind = "config_parse"
	Network                 Kind = "network"
	ProtocolDecode          Kind = "protocol_decode"
	DispatchCallbackFailure Kind = "dispatch_callback_failure"
	ResourceExhaustion      Kind = "resource_exhaustion"
	UserInputInvalid        Kind = "user_input_invalid"
	RelayAuth               Kind = "relay_auth"
)

// Error wraps an underlying cause with a Kind and a short description of
// where it happened.
type Error struct {
	Kind   Kind
	Where  string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Where)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Where, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, errs.New(Network, "", nil)) style matching works without
// callers constructing a matching Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, where string, cause error) *Error {
	return &Error{Kind: kind, Where: where, Cause: cause}
}

// Sentinel returns a zero-cause *Error usable as an errors.Is target, e.g.
// errors.Is(err, errs.Sentinel(errs.RelayAuth)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
