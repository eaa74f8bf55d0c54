package capnweb

import "context"

// Target is a capability: something a session can export to its peer and
// the peer can invoke by method name (spec §1 "Capability", §4.6 "Call
// Engine"). Implementations are typically backed by a handler built with
// capnweb/handler.New, which adapts an ordinary Go method set into Target.
type Target interface {
	// Dispatch invokes method with the decoded argument list args and
	// returns the result (or error) to be delivered back across the wire.
	// The returned value, and any value nested within it, may itself be a
	// Target, in which case it is exported afresh to the caller.
	Dispatch(ctx context.Context, method string, args []any) (any, error)
}

// Releaser is implemented by targets that hold resources which must be
// freed once the last reference is released (spec §4.3 "dispose at zero").
type Releaser interface {
	Release()
}

// TargetFunc adapts a single-method function into a Target, useful for
// small capabilities that don't warrant a full handler.Map.
type TargetFunc func(ctx context.Context, method string, args []any) (any, error)

func (f TargetFunc) Dispatch(ctx context.Context, method string, args []any) (any, error) {
	return f(ctx, method, args)
}
