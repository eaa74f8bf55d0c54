package capnweb

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikileshsa/capnweb-go/capnweb/channel"
	capctx "github.com/nikileshsa/capnweb-go/internal/context"
)

// sessionPair wires up two Sessions over an in-process net.Pipe, the same
// role jrpc2's channel.Direct plays in its own client/server tests.
func sessionPair(t *testing.T, serverMain, clientMain Target) (client, server *Session) {
	t.Helper()
	a, b := net.Pipe()

	client = NewSession(channel.NewLine(a, a), clientMain)
	server = NewSession(channel.NewLine(b, b), serverMain)

	go server.Serve(context.Background())
	go client.Serve(context.Background())

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func echoTarget() Target {
	return TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		switch method {
		case "echo":
			if len(args) == 0 {
				return nil, Errorf(CodeBadRequest, "echo needs an argument")
			}
			return args[0], nil
		case "boom":
			return nil, Errorf(CodeBadRequest, "boom")
		default:
			return nil, Errorf(CodeNotFound, "no such method %q", method)
		}
	})
}

func TestSessionServeAttachesSessionIDToContext(t *testing.T) {
	seen := make(chan string, 1)
	tgt := TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		id, err := capctx.SessionID(ctx)
		require.NoError(t, err)
		seen <- id
		return nil, nil
	})

	client, server := sessionPair(t, tgt, nil)
	require.NotEmpty(t, server.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "whatever")
	require.NoError(t, err)

	select {
	case id := <-seen:
		assert.Equal(t, server.ID(), id)
	case <-time.After(time.Second):
		t.Fatal("target was never dispatched")
	}
}

// TestSessionEchoesPlainArrayArgument exercises spec §8 scenario (f):
// echo([1,2,3]) must round-trip the array through the wire's [[...]]
// escape rather than losing its shape or colliding with a tagged special
// form.
func TestSessionEchoesPlainArrayArgument(t *testing.T) {
	client, _ := sessionPair(t, echoTarget(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "echo", []any{1.0, 2.0, 3.0})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, result)
}

func TestSessionSimpleCall(t *testing.T) {
	client, _ := sessionPair(t, echoTarget(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestSessionCallPropagatesRejection(t *testing.T) {
	client, _ := sessionPair(t, echoTarget(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "boom")
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeBadRequest, capErr.Kind)
}

// counterCap is the fresh capability newCounterTarget returns per call, used
// to exercise capability passing: a call returns a Target, which the peer
// must be able to invoke via a Stub without any further bookkeeping on our
// part.
type counterCap struct{ n int64 }

func (c *counterCap) Dispatch(ctx context.Context, method string, args []any) (any, error) {
	switch method {
	case "increment":
		return float64(atomic.AddInt64(&c.n, 1)), nil
	case "value":
		return float64(atomic.LoadInt64(&c.n)), nil
	default:
		return nil, Errorf(CodeNotFound, "no such method %q", method)
	}
}

func newCounterTarget() Target {
	return TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		if method != "newCounter" {
			return nil, Errorf(CodeNotFound, "no such method %q", method)
		}
		return &counterCap{}, nil
	})
}

func TestSessionCapabilityPassingAndSequentialCall(t *testing.T) {
	client, _ := sessionPair(t, newCounterTarget(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.Call(ctx, "newCounter")
	require.NoError(t, err)

	stub, ok := result.(*Stub)
	require.True(t, ok, "expected a *Stub proxying the peer's capability, got %T", result)

	v1, err := stub.Call(ctx, "increment")
	require.NoError(t, err)
	assert.Equal(t, float64(1), v1)

	v2, err := stub.Call(ctx, "increment")
	require.NoError(t, err)
	assert.Equal(t, float64(2), v2)

	stub.Release()
}

// TestSessionPipelinedCallChainsOffUnresolvedResult exercises spec §8
// scenario (b)/(c): a dependent call on a capability the peer hasn't
// finished producing yet is expressed as data (a pipeline expression naming
// the still-unresolved push) and flushed in one batch, rather than waiting
// for the capability-returning call to resolve before issuing the next one.
func TestSessionPipelinedCallChainsOffUnresolvedResult(t *testing.T) {
	client, _ := sessionPair(t, newCounterTarget(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Both steps are enqueued before any wire traffic is sent: Call on the
	// PipelineStub returned by the first Call extends the chain with a
	// pipeline reference to a push that has not been flushed, let alone
	// resolved, yet.
	chain := client.Pipeline().Call("newCounter").Call("increment")
	v1, err := chain.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), v1)

	// Each Call is rooted at the previous step's result, so the second
	// "increment" is invoked on the number the first one returned, not on
	// the counter, and the peer rejects it.
	chain2 := client.Pipeline().Call("newCounter").Call("increment").Call("increment")
	_, err = chain2.Await(ctx)
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeBadRequest, capErr.Kind)
}

// TestSessionPipelinedPropertyGet exercises a pure property walk pipelined
// off a call result, without any trailing Call (spec §8 scenario (b)'s
// `.name` access on a pending getUser(...) result).
func TestSessionPipelinedPropertyGet(t *testing.T) {
	tgt := TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		if method != "getUser" {
			return nil, Errorf(CodeNotFound, "no such method %q", method)
		}
		return map[string]any{"name": "Alice", "age": float64(30)}, nil
	})
	client, _ := sessionPair(t, tgt, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	name, err := client.Pipeline().Call("getUser", "alice").Get("name").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

// blackholeChannel accepts every Send without complaint and never yields
// anything from Recv, modeling a peer that received a call but will never
// answer it.
type blackholeChannel struct {
	recv chan []byte
}

func (b *blackholeChannel) Send([]byte) error { return nil }
func (b *blackholeChannel) Recv() ([]byte, error) {
	raw, ok := <-b.recv
	if !ok {
		return nil, io.EOF
	}
	return raw, nil
}
func (b *blackholeChannel) Close() error {
	close(b.recv)
	return nil
}

func TestSessionWithConcurrencySerializesIndependentPushes(t *testing.T) {
	var active int32
	var maxActive int32
	tgt := TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})

	a, b := net.Pipe()
	server := NewSession(channel.NewLine(b, b), tgt, WithConcurrency(1))
	client := NewSession(channel.NewLine(a, a), nil)
	go server.Serve(context.Background())
	go client.Serve(context.Background())
	t.Cleanup(func() { client.Close(); server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Call(ctx, "slow")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(1))
}

func TestSessionWithCallTimeoutRejectsSlowCapability(t *testing.T) {
	blocker := TargetFunc(func(ctx context.Context, method string, args []any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	a, b := net.Pipe()
	server := NewSession(channel.NewLine(b, b), blocker, WithCallTimeout(20*time.Millisecond))
	client := NewSession(channel.NewLine(a, a), nil)
	go server.Serve(context.Background())
	go client.Serve(context.Background())
	t.Cleanup(func() { client.Close(); server.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Call(ctx, "slow")
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeCanceled, capErr.Kind)
}

// TestSessionAbortsOnReleaseOfUnknownExport covers spec §4.4/§7: an inbound
// release naming an export ID the session never created is a protocol
// violation and must abort the session, not be silently ignored.
func TestSessionAbortsOnReleaseOfUnknownExport(t *testing.T) {
	a, b := net.Pipe()
	raw := channel.NewLine(a, a)
	server := NewSession(channel.NewLine(b, b), echoTarget())
	t.Cleanup(func() { server.Close() })

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(context.Background()) }()

	// net.Pipe is unbuffered: drain what the server writes (its abort frame)
	// so that send does not keep Serve from returning.
	go func() {
		for {
			if _, err := raw.Recv(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, raw.Send([]byte(`["release", -999, 1]`)))

	select {
	case err := <-serveErr:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not abort on release of an unknown export")
	}
}

func TestSessionCallTimesOutWhenPeerNeverReplies(t *testing.T) {
	client := NewSession(&blackholeChannel{recv: make(chan []byte)}, nil)
	defer client.Close()
	go client.Serve(context.Background())
	// Recv never yields a frame, so the pull this call sends is never
	// answered; the call must still return once ctx expires.

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Call(ctx, "whatever")
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeCanceled, capErr.Kind)
}
