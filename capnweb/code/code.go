// Package code defines the error kinds carried on the wire by capnweb error
// values (spec §7 "Taxonomy").
package code

import (
	"context"
	"errors"
	"fmt"
)

// A Code is an error kind. Unlike jrpc2's numeric JSON-RPC codes, capnweb
// writes kinds as short strings on the wire (["error", kind, message, data?]),
// so Code is backed by a string rather than an int32.
type Code string

func (c Code) String() string {
	if s, ok := registered[c]; ok {
		return s
	}
	return fmt.Sprintf("error kind %q", string(c))
}

// A Coder is a value that can report an error kind.
type Coder interface {
	Code() Code
}

// codeError wraps a Code to satisfy the standard error interface without
// letting a bare Code be mistaken for an error value.
type codeError Code

func (c codeError) Error() string { return Code(c).String() }
func (c codeError) Code() Code    { return Code(c) }

func (c codeError) Is(err error) bool {
	v, ok := err.(Coder)
	return ok && v.Code() == Code(c)
}

// Err converts c to an error, nil for NoError.
func (c Code) Err() error {
	if c == NoError {
		return nil
	}
	return codeError(c)
}

// The six protocol-level error kinds from spec §7.
const (
	BadRequest       Code = "bad_request"
	NotFound         Code = "not_found"
	CapRevoked       Code = "cap_revoked"
	PermissionDenied Code = "permission_denied"
	Canceled         Code = "canceled"
	Internal         Code = "internal"
)

// NoError is used by FromError to denote a nil error.
const NoError Code = ""

var registered = map[Code]string{
	BadRequest:       "bad request",
	NotFound:         "not found",
	CapRevoked:       "capability revoked",
	PermissionDenied: "permission denied",
	Canceled:         "canceled",
	Internal:         "internal error",
	NoError:          "no error (success)",
}

// Register adds a new Code value with the specified message string, for
// application-defined error kinds riding alongside the six protocol kinds.
// It panics if value is already registered with a different message.
func Register(value, message string) Code {
	c := Code(value)
	if s, ok := registered[c]; ok && s != message {
		panic(fmt.Sprintf("code %q is already registered for %q", value, s))
	}
	registered[c] = message
	return c
}

// FromError categorizes err into a Code. If err == nil, it returns NoError.
// If err is a Coder, its reported kind is returned. context.Canceled and
// context.DeadlineExceeded map to Canceled. Anything else maps to Internal.
func FromError(err error) Code {
	if err == nil {
		return NoError
	}
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}
