package context

import (
	"context"
	"time"
)

type contextKey struct {
	Name string
}

func (k *contextKey) String() string {
	return k.Name
}

var (
	ctxCallTimeout = &contextKey{"per-call timeout"}
	ctxSessionID   = &contextKey{"session id"}
)

func missingContextErr(ctxKey *contextKey) *MissingContextErr {
	return &MissingContextErr{ctxKey}
}

// WithCallTimeout attaches a per-call timeout that a Session reading frames
// under ctx applies to each pushed expression it evaluates, ahead of the
// session's own WithCallTimeout default; an evaluation that runs past it is
// rejected with a canceled error. It does not bound how long a caller
// waits for its own calls to resolve.
func WithCallTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, ctxCallTimeout, d)
}

// CallTimeout returns the timeout set by WithCallTimeout, if any.
func CallTimeout(ctx context.Context) (time.Duration, error) {
	d, ok := ctx.Value(ctxCallTimeout).(time.Duration)
	if !ok {
		return 0, missingContextErr(ctxCallTimeout)
	}
	return d, nil
}

// WithSessionID attaches a session's correlation ID for logging and metrics.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxSessionID, id)
}

// SessionID returns the ID set by WithSessionID, if any.
func SessionID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(ctxSessionID).(string)
	if !ok {
		return "", missingContextErr(ctxSessionID)
	}
	return id, nil
}
