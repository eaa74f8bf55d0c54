package capnweb

import (
	"context"
	"time"
)

// pipelineStep is one property/method access already turned into a push
// message but not yet written to the wire (spec §4.7: "enqueues (but does
// not yet flush) a push message").
type pipelineStep struct {
	exportID int64
	expr     []any
}

// PipelineStub builds a chain of property access and method calls rooted at
// a capability, entirely client-side: no wire traffic is generated until
// the chain is awaited, at which point every queued push in the chain is
// written in one batch followed by a single pull for the final result
// (spec §4.7 "Pipelining / Stub Layer", §8 scenario (b)). This is how
// `stub.a.b(x).c` becomes one round trip instead of three.
type PipelineStub struct {
	sess     *Session
	targetID int64
	path     []string
	steps    []pipelineStep
	err      error
}

// pipeline starts a chain rooted at targetID, the wire value a pipeline
// expression should name as its target: mainCapID, an established Stub's
// import key, or (internally, when extending a chain) a prior step's fresh
// export id.
func (s *Session) pipeline(targetID int64) *PipelineStub {
	return &PipelineStub{sess: s, targetID: targetID}
}

// Pipeline returns a chain builder rooted at the peer's main capability,
// for composing dependent calls without awaiting each one individually.
func (s *Session) Pipeline() *PipelineStub {
	return s.pipeline(mainCapID)
}

// Pipeline returns a chain builder rooted at this stub's capability.
func (st *Stub) Pipeline() *PipelineStub {
	return st.sess.pipeline(st.localKey)
}

// Get extends the chain with a property access. No push is enqueued yet:
// a pure property walk is folded into whatever push or pull eventually
// materializes it.
func (p *PipelineStub) Get(prop string) *PipelineStub {
	if p.err != nil {
		return p
	}
	path := make([]string, len(p.path)+1)
	copy(path, p.path)
	path[len(p.path)] = prop
	return &PipelineStub{sess: p.sess, targetID: p.targetID, path: path, steps: p.steps}
}

// Call extends the chain with a method invocation, enqueuing the push that
// will compute it (not yet sent). The returned PipelineStub is rooted at
// that push's own export slot, so further Get/Call steps can chain off a
// result the peer hasn't produced yet, without an intervening round trip.
func (p *PipelineStub) Call(method string, args ...any) *PipelineStub {
	if p.err != nil {
		return p
	}
	wireArgs, err := encodeValue(p.sess.exports, []any(args))
	if err != nil {
		return &PipelineStub{sess: p.sess, err: err}
	}

	path := make([]string, len(p.path)+1)
	copy(path, p.path)
	path[len(p.path)] = method
	pathAny := make([]any, len(path))
	for i, seg := range path {
		pathAny[i] = seg
	}

	exportID := p.sess.ids.nextExport()
	expr := []any{"pipeline", p.targetID, pathAny, wireArgs}
	steps := make([]pipelineStep, len(p.steps)+1)
	copy(steps, p.steps)
	steps[len(p.steps)] = pipelineStep{exportID: exportID, expr: expr}

	return &PipelineStub{sess: p.sess, targetID: exportID, steps: steps}
}

// Await flushes every step queued on this chain as one batch of push
// frames, followed by a single pull for the final result, and waits for
// it to resolve. This is the chain's only blocking operation; everything
// before it (Get, Call) is pure bookkeeping.
func (p *PipelineStub) Await(ctx context.Context) (any, error) {
	if p.err != nil {
		return nil, p.err
	}

	steps := p.steps
	finalExport := p.targetID
	if len(p.path) > 0 || len(steps) == 0 {
		// A trailing property walk (or a chain with no Call at all) still
		// has to be evaluated by the peer, so it gets one last push of its
		// own, carrying no args field so it decodes without HasCall.
		pathAny := make([]any, len(p.path))
		for i, seg := range p.path {
			pathAny[i] = seg
		}
		exportID := p.sess.ids.nextExport()
		expr := []any{"pipeline", p.targetID, pathAny}
		steps = append(append([]pipelineStep{}, steps...), pipelineStep{exportID: exportID, expr: expr})
		finalExport = exportID
	}

	importKey := -finalExport
	entry := p.sess.imports.reservePending(importKey)

	start := time.Now()
	for _, step := range steps {
		if err := p.sess.send(string(framePush), step.exportID, step.expr); err != nil {
			return nil, err
		}
		if p.sess.m != nil {
			p.sess.m.CallsPushed.Inc()
		}
	}
	if err := p.sess.send(string(framePull), importKey); err != nil {
		return nil, err
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, Errorf(CodeCanceled, "pipeline await: %v", ctx.Err())
	}
	if p.sess.m != nil {
		p.sess.m.CallLatency.Observe(time.Since(start).Seconds())
	}
	if entry.rejected != nil {
		if p.sess.m != nil {
			p.sess.m.CallsRejected.WithLabelValues(string(entry.rejected.Kind)).Inc()
		}
		return nil, entry.rejected
	}
	return entry.resolved, nil
}
