// Package capnweb implements the capability-passing RPC protocol described
// by the project's specification: a JSON-based wire codec with a small set
// of "special forms" for capabilities, promises and non-JSON scalars, laid
// over a four-table (imports/exports x push/pull) reference model that lets
// dependent calls pipeline into a single round trip.
//
// The engine's shape is modeled on creachadair/jrpc2: a Session plays the
// role jrpc2's Server and Client jointly play, since capnweb peers are
// symmetric (either side may push calls to the other over the same
// connection).
package capnweb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/nikileshsa/capnweb-go/capnweb/channel"
	"github.com/nikileshsa/capnweb-go/capnweb/code"
	"github.com/nikileshsa/capnweb-go/capnweb/metrics"
	capctx "github.com/nikileshsa/capnweb-go/internal/context"
)

// defaultConcurrency bounds how many pushed expressions a Session will
// evaluate at once when no WithConcurrency option overrides it. Unlike
// jrpc2.Server, which defaults to one in-flight handler, capnweb pushes
// routinely depend on sibling pushes resolving within the same flush
// (spec §4.6), so a tight default would deadlock ordinary pipelining;
// this default is generous and meant only as a backstop against unbounded
// goroutine growth from a hostile or buggy peer.
const defaultConcurrency = 256

// mainCapID is the well-known ID of the capability each side offers the
// other as the session's entry point (spec §2, ID conventions: "main
// capability = 0").
const mainCapID = 0

// Session is one capnweb connection: a channel.Channel, the imports/exports
// bookkeeping for it, and the main capability this side exposes to its
// peer.
type Session struct {
	ch  channel.Channel
	id  string
	log *log.Logger
	ids *idAllocator

	exports *exportsTable
	imports *importsTable
	main    Target

	sendMu      sync.Mutex
	m           *metrics.Metrics
	callTimeout time.Duration
	sem         *semaphore.Weighted
	inFlight    sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Idle blocks until every push this session has received has finished
// evaluating. A batch transport (one HTTP request/response, no further
// polling) must call this before flushing its response, since push
// evaluation runs concurrently with the read loop.
func (s *Session) Idle() {
	s.inFlight.Wait()
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger overrides the session's logger, which otherwise discards
// output.
func WithLogger(l *log.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics attaches a shared Metrics bundle, typically constructed once
// per process and passed to every Session a server accepts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.m = m }
}

// WithConcurrency bounds how many pushed expressions this session will
// evaluate at once, the capnweb analogue of jrpc2.Server's own concurrency
// option (jrpc2/server.go's semaphore.Weighted over handler invocations).
func WithConcurrency(n int64) Option {
	return func(s *Session) { s.sem = semaphore.NewWeighted(n) }
}

// WithCallTimeout bounds how long a single pushed expression may take to
// evaluate before its export is rejected with CodeCanceled, guarding
// against a capability method that never returns. Zero (the default)
// means no bound beyond ctx passed to Serve.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) { s.callTimeout = d }
}

// NewSession builds a Session over ch, exposing main as capability 0 to the
// peer. Call Serve to run its read loop.
func NewSession(ch channel.Channel, main Target, opts ...Option) *Session {
	s := &Session{
		ch:      ch,
		id:      uuid.NewString(),
		log:     log.New(io.Discard, "", 0),
		ids:     &idAllocator{},
		exports: newExportsTable(&idAllocator{}),
		imports: newImportsTable(),
		main:    main,
		sem:     semaphore.NewWeighted(defaultConcurrency),
		done:    make(chan struct{}),
	}
	s.exports.ids = s.ids
	for _, opt := range opts {
		opt(s)
	}
	if s.m != nil {
		s.m.SessionsOpened.Inc()
	}
	return s
}

// ID returns the session's correlation ID, a fresh UUID minted at
// construction, used to tie together log lines and metrics for one
// connection's lifetime.
func (s *Session) ID() string { return s.id }

// Serve runs the session's read loop until ctx is canceled, the peer
// closes the channel, or an abort frame is exchanged. It always returns a
// non-nil error (io.EOF on a clean peer-initiated close).
func (s *Session) Serve(ctx context.Context) error {
	ctx = capctx.WithSessionID(ctx, s.id)
	s.log.Printf("capnweb: session %s started", s.id)
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	for {
		raw, err := s.ch.Recv()
		if err != nil {
			s.closeWith(err)
			return err
		}
		if err := s.handleFrame(ctx, raw); err != nil {
			s.log.Printf("capnweb: frame error: %v", err)
			s.sendAbort(asError(err))
			s.closeWith(err)
			return err
		}
	}
}

// Close tears down the session by closing its channel. It sends no release
// frames, does not call Release on exported targets, and does not fail
// calls still waiting on the peer; those return when their own ctx ends.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ch.Close()
		if s.m != nil {
			s.m.SessionsClosed.Inc()
		}
		s.log.Printf("capnweb: session %s closed", s.id)
		close(s.done)
	})
	return s.closeErr
}

func (s *Session) closeWith(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		s.ch.Close()
		if s.m != nil {
			s.m.SessionsClosed.Inc()
		}
		close(s.done)
	})
}

func (s *Session) send(tag string, fields ...any) error {
	raw, err := marshalFrame(tag, fields...)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.ch.Send(raw)
}

func (s *Session) sendAbort(e *Error) {
	_ = s.send(string(frameAbort), string(e.Kind), e.Message)
}

// handleFrame dispatches one inbound frame by tag (spec §3 "Message
// types").
func (s *Session) handleFrame(ctx context.Context, raw json.RawMessage) error {
	kind, fields, err := decodeFrame(raw)
	if err != nil {
		return err
	}
	switch kind {
	case framePush:
		return s.handlePush(ctx, fields)
	case framePull:
		return s.handlePull(ctx, fields)
	case frameResolve:
		return s.handleResolve(fields)
	case frameReject:
		return s.handleReject(fields)
	case frameRelease:
		return s.handleRelease(fields)
	case frameAbort:
		return s.handleAbort(fields)
	default:
		return fmt.Errorf("capnweb: unknown frame tag %q", kind)
	}
}

func (s *Session) handlePush(ctx context.Context, fields []any) error {
	if len(fields) < 2 {
		return fmt.Errorf("capnweb: malformed push frame")
	}
	id, err := asInt64(fields[0])
	if err != nil {
		return err
	}
	exprRaw, err := json.Marshal(fields[1])
	if err != nil {
		return err
	}
	var genericExpr any
	if err := json.Unmarshal(exprRaw, &genericExpr); err != nil {
		return err
	}
	expr, err := decodeValue(s.imports, genericExpr)
	if err != nil {
		return err
	}

	s.exports.reservePending(id)
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		// Bound concurrent evaluation so a flood of pushes from a hostile
		// or buggy peer can't spawn unbounded goroutines; Acquire can
		// itself be interrupted by ctx so a canceled session doesn't wait
		// forever for a slot.
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.exports.reject(id, asError(err))
			_ = s.send(string(frameReject), id, string(asError(err).Kind), asError(err).Message)
			return
		}
		defer s.sem.Release(1)

		// An explicit per-call timeout already attached to ctx (via
		// capctx.WithCallTimeout) takes precedence over the session's
		// configured default.
		timeout := s.callTimeout
		if d, err := capctx.CallTimeout(ctx); err == nil {
			timeout = d
		}
		evalCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			evalCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		s.evaluatePush(evalCtx, id, expr)
	}()
	return nil
}

// evaluatePush carries out spec §4.6's evaluation rules for one pushed
// expression, then resolves or rejects the export slot it was given.
func (s *Session) evaluatePush(ctx context.Context, id int64, expr any) {
	val, err := s.eval(ctx, expr)
	if err != nil {
		s.exports.reject(id, asError(err))
		_ = s.send(string(frameReject), id, string(asError(err).Kind), asError(err).Message)
		return
	}
	s.exports.resolve(id, val)
	wireVal, err := encodeValue(s.exports, val)
	if err != nil {
		ae := asError(err)
		s.exports.reject(id, ae)
		_ = s.send(string(frameReject), id, string(ae.Kind), ae.Message)
		return
	}
	_ = s.send(string(frameResolve), id, wireVal)
}

// eval evaluates a decoded expression to a value, following capability
// references and pipelined property/method chains.
func (s *Session) eval(ctx context.Context, expr any) (any, error) {
	ref, ok := expr.(PipelineRef)
	if !ok {
		return expr, nil
	}
	root, err := s.resolveTarget(ctx, ref.TargetID)
	if err != nil {
		return nil, err
	}
	cur := root
	for i, seg := range ref.Path {
		last := i == len(ref.Path)-1
		if last && ref.HasCall {
			t, ok := cur.(Target)
			if !ok {
				return nil, Errorf(CodeBadRequest, "cannot call method %q on non-capability value", seg)
			}
			return t.Dispatch(ctx, seg, ref.Args)
		}
		cur, err = stepPath(cur, seg)
		if err != nil {
			return nil, err
		}
	}
	if !ref.HasCall {
		return cur, nil
	}
	// HasCall with an empty path means "invoke the root capability itself
	// with no method name"; reject rather than guess a convention.
	return nil, Errorf(CodeBadRequest, "pipeline has no method to call")
}

func stepPath(cur any, seg string) (any, error) {
	switch x := cur.(type) {
	case map[string]any:
		v, ok := x[seg]
		if !ok {
			return nil, Errorf(CodeNotFound, "no property %q", seg)
		}
		return v, nil
	case []any:
		var idx int
		if _, err := fmt.Sscanf(seg, "%d", &idx); err != nil || idx < 0 || idx >= len(x) {
			return nil, Errorf(CodeBadRequest, "invalid index %q", seg)
		}
		return x[idx], nil
	default:
		return nil, Errorf(CodeBadRequest, "cannot access property %q on %T", seg, cur)
	}
}

// resolveTarget resolves a pipeline's root target ID to either our main
// capability, a Target we host (export), or a value/Stub we hold (import).
// Per spec §4.6, a same-flush dependent push names its target by the
// literal (already-negative) export ID the earlier push was given; an
// established capability reference is named by negating the wire ID.
func (s *Session) resolveTarget(ctx context.Context, id int64) (any, error) {
	if id == mainCapID {
		return s.main, nil
	}
	if entry, ok := s.exports.get(id); ok {
		return s.awaitExport(ctx, id, entry)
	}
	if entry, ok := s.exports.get(-id); ok {
		return s.awaitExport(ctx, -id, entry)
	}
	if entry, ok := s.imports.get(-id); ok {
		return s.awaitImport(ctx, -id, entry)
	}
	return nil, Errorf(CodeNotFound, "unknown reference %d", id)
}

func (s *Session) awaitExport(ctx context.Context, id int64, entry *exportEntry) (any, error) {
	if entry.target != nil {
		return entry.target, nil
	}
	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, Errorf(CodeCanceled, "waiting for export %d: %v", id, ctx.Err())
	}
	if entry.rejected != nil {
		return nil, entry.rejected
	}
	return entry.resolved, nil
}

func (s *Session) awaitImport(ctx context.Context, id int64, entry *importEntry) (any, error) {
	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, Errorf(CodeCanceled, "waiting for import %d: %v", id, ctx.Err())
	}
	if entry.rejected != nil {
		return nil, entry.rejected
	}
	return entry.resolved, nil
}

func (s *Session) handlePull(ctx context.Context, fields []any) error {
	if len(fields) < 1 {
		return fmt.Errorf("capnweb: malformed pull frame")
	}
	wire, err := asInt64(fields[0])
	if err != nil {
		return err
	}
	// A pull names its export the same way a pipeline target does (spec
	// §4.6): literally, for a same-flush dependent push, or negated, when
	// naming an export through the positive key the peer holds it under.
	id := wire
	entry, ok := s.exports.get(id)
	if !ok {
		id = -wire
		entry, ok = s.exports.get(id)
	}
	if !ok {
		ae := Errorf(CodeNotFound, "pull of unknown export %d", wire)
		return s.send(string(frameReject), wire, string(ae.Kind), ae.Message)
	}
	if entry.pending {
		// The evaluatePush goroutine will send resolve/reject itself once
		// done; nothing further to do here.
		return nil
	}
	if entry.rejected != nil {
		return s.send(string(frameReject), id, string(entry.rejected.Kind), entry.rejected.Message)
	}
	wireVal, err := encodeValue(s.exports, entry.resolved)
	if err != nil {
		return err
	}
	return s.send(string(frameResolve), id, wireVal)
}

func (s *Session) handleResolve(fields []any) error {
	if len(fields) < 2 {
		return fmt.Errorf("capnweb: malformed resolve frame")
	}
	wire, err := asInt64(fields[0])
	if err != nil {
		return err
	}
	localKey := -wire
	raw, err := json.Marshal(fields[1])
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	val, err := decodeValue(s.imports, generic)
	if err != nil {
		return err
	}
	s.imports.resolve(localKey, s.bind(val))
	return nil
}

func (s *Session) handleReject(fields []any) error {
	if len(fields) < 2 {
		return fmt.Errorf("capnweb: malformed reject frame")
	}
	wire, err := asInt64(fields[0])
	if err != nil {
		return err
	}
	kind, _ := fields[1].(string)
	msg := ""
	if len(fields) > 2 {
		msg, _ = fields[2].(string)
	}
	s.imports.reject(-wire, &Error{Kind: code.Code(kind), Message: msg})
	return nil
}

func (s *Session) handleRelease(fields []any) error {
	if len(fields) < 2 {
		return fmt.Errorf("capnweb: malformed release frame")
	}
	wire, err := asInt64(fields[0])
	if err != nil {
		return err
	}
	delta, err := asInt64(fields[1])
	if err != nil {
		return err
	}
	if _, err := s.exports.release(-wire, int(delta)); err != nil {
		return err
	}
	return nil
}

func (s *Session) handleAbort(fields []any) error {
	kind, msg := "internal", "peer aborted the session"
	if len(fields) > 0 {
		if k, ok := fields[0].(string); ok {
			kind = k
		}
	}
	if len(fields) > 1 {
		if m, ok := fields[1].(string); ok {
			msg = m
		}
	}
	return &Error{Kind: code.Code(kind), Message: msg}
}

// bind replaces decoded wire-reference placeholders with usable Go values:
// capabilities the peer handed us become *Stub, and capabilities we
// originally exported (handed back to us) resolve to the Target we
// registered.
func (s *Session) bind(v any) any {
	switch x := v.(type) {
	case ExportRef:
		return &Stub{sess: s, localKey: x.LocalKey}
	case PromiseRef:
		return &Stub{sess: s, localKey: x.LocalKey}
	case ImportRef:
		if entry, ok := s.exports.get(x.LocalKey); ok && entry.target != nil {
			return entry.target
		}
		return &Stub{sess: s, localKey: x.LocalKey}
	case ErrorValue:
		return x.toError()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = s.bind(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = s.bind(e)
		}
		return out
	default:
		return v
	}
}
