package capnweb

import (
	"encoding/json"
	"fmt"

	"github.com/nikileshsa/capnweb-go/capnweb/code"
)

// Aliases for the protocol-level error kinds, so callers outside capnweb
// rarely need to import capnweb/code directly.
const (
	CodeBadRequest       = code.BadRequest
	CodeNotFound         = code.NotFound
	CodeCapRevoked       = code.CapRevoked
	CodePermissionDenied = code.PermissionDenied
	CodeCanceled         = code.Canceled
	CodeInternal         = code.Internal
)

// Error is the Go representation of a wire error value, the
// ["error", kind, message, data?] special form from spec §3/§7.
type Error struct {
	Kind    code.Code
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Code satisfies code.Coder so errors.As(err, &code.Coder) and code.FromError
// recover the wire kind from an error returned by application code.
func (e *Error) Code() code.Code { return e.Kind }

// Errorf constructs an *Error of the given kind, formatting its message like
// fmt.Sprintf.
func Errorf(kind code.Code, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// DataErrorf is like Errorf but also attaches structured data, marshaled to
// JSON, that survives the round trip on the wire.
func DataErrorf(kind code.Code, data any, format string, args ...any) *Error {
	e := Errorf(kind, format, args...)
	if data == nil {
		return e
	}
	raw, err := json.Marshal(data)
	if err != nil {
		e.Data = json.RawMessage(fmt.Sprintf("%q", err.Error()))
		return e
	}
	e.Data = raw
	return e
}

// asError converts any error into an *Error, categorizing it via
// code.FromError when it isn't already one.
func asError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: code.FromError(err), Message: err.Error()}
}
