package capnweb

import "context"

// Stub is a proxy for a capability the peer hosts: a capability the peer
// exported to us, or one of our own the peer handed back without us having
// a local handle on it. Calling a Stub pipelines a new push/pull pair
// against the session that produced it (spec §1, "Stub").
type Stub struct {
	sess     *Session
	localKey int64
}

// Call invokes method on the capability this stub refers to.
func (st *Stub) Call(ctx context.Context, method string, args ...any) (any, error) {
	return st.sess.call(ctx, st.localKey, method, args)
}

// Dispatch lets a Stub itself satisfy Target, so a capability received from
// one peer can be forwarded as an argument toward another session (or back
// to its own).
func (st *Stub) Dispatch(ctx context.Context, method string, args []any) (any, error) {
	return st.sess.call(ctx, st.localKey, method, args)
}

// Release gives up this stub's reference, allowing the peer to dispose of
// the underlying capability once no other stub refers to it.
func (st *Stub) Release() {
	st.sess.releaseImport(st.localKey)
}
