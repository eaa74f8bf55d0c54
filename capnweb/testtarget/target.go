// Package testtarget provides the demo capability the serve command offers
// as its main capability, mirroring the TestTarget server used by the
// original implementation's interop suite (echo, square, getUser,
// throwError, and a Counter capability returned from a call to exercise
// capability passing).
package testtarget

import (
	"context"
	"sync/atomic"

	"github.com/nikileshsa/capnweb-go/capnweb"
	"github.com/nikileshsa/capnweb-go/capnweb/handler"
)

var users = map[string]map[string]any{
	"alice": {"name": "Alice", "age": float64(30)},
	"bob":   {"name": "Bob", "age": float64(25)},
}

func methods() handler.Map {
	return handler.Map{
		"echo":       handler.New(echo),
		"square":     handler.New(square),
		"getUser":    handler.New(getUser),
		"throwError": handler.New(throwError),
		"newCounter": handler.New(newCounter),
	}
}

// New builds the demo target's method map.
func New() capnweb.Target { return methods() }

// MethodNames reports the demo target's method set, exposed so callers
// (the serve command's startup log, in particular) can report what's
// available without holding a live session open.
func MethodNames() []string { return methods().Names() }

// echo returns its argument unchanged, whatever shape it takes — including a
// plain array, exercising the wire codec's array-escaping round trip (spec
// §8 scenario (f): echo([1,2,3]) carries wire args [[[[1,2,3]]]], the
// argument list's escape around the array argument's own [[1,2,3]] escape).
func echo(ctx context.Context, v any) (any, error) {
	return v, nil
}

func square(ctx context.Context, n float64) (float64, error) {
	return n * n, nil
}

func getUser(ctx context.Context, name string) (map[string]any, error) {
	u, ok := users[name]
	if !ok {
		return nil, capnweb.Errorf(capnweb.CodeNotFound, "no such user %q", name)
	}
	return u, nil
}

func throwError(ctx context.Context, message string) (any, error) {
	return nil, capnweb.Errorf(capnweb.CodeBadRequest, "%s", message)
}

// newCounter returns a fresh Counter capability, exercising spec §8
// scenario (c): capability passing and pipelined method calls on the
// returned stub.
func newCounter(ctx context.Context, start float64) (capnweb.Target, error) {
	return &counter{n: int64(start)}, nil
}

type counter struct {
	n int64
}

func (c *counter) Dispatch(ctx context.Context, method string, args []any) (any, error) {
	switch method {
	case "increment":
		return float64(atomic.AddInt64(&c.n, 1)), nil
	case "value":
		return float64(atomic.LoadInt64(&c.n)), nil
	default:
		return nil, capnweb.Errorf(capnweb.CodeNotFound, "counter has no method %q", method)
	}
}

// Release satisfies capnweb.Releaser; the counter holds no resources worth
// closing, so this only exists to document the lifecycle hook.
func (c *counter) Release() {}
