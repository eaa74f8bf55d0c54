package capnweb

import (
	"context"
	"time"
)

// call issues a pipelined call against targetID (mainCapID for our peer's
// main capability, or a Stub's positive import key), following spec §4.6:
// a push carrying a pipeline expression immediately followed by a pull for
// the same slot, batched so dependent calls never wait on an intermediate
// round trip.
func (s *Session) call(ctx context.Context, targetID int64, method string, args []any) (any, error) {
	exportID := s.ids.nextExport()
	importKey := -exportID
	entry := s.imports.reservePending(importKey)

	// args is encoded as a single plain-array value, not element by
	// element, so it picks up the mandatory [[…]] escape the wire codec
	// applies to any array value (spec §8 scenario (a): square(5)'s args
	// field is `[[5]]`, not `[5]`).
	wireArgs, err := encodeValue(s.exports, args)
	if err != nil {
		return nil, err
	}
	expr := []any{"pipeline", targetID, []any{method}, wireArgs}
	start := time.Now()
	if err := s.send(string(framePush), exportID, expr); err != nil {
		return nil, err
	}
	if s.m != nil {
		s.m.CallsPushed.Inc()
	}
	if err := s.send(string(framePull), importKey); err != nil {
		return nil, err
	}

	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, Errorf(CodeCanceled, "call %q: %v", method, ctx.Err())
	}
	if s.m != nil {
		s.m.CallLatency.Observe(time.Since(start).Seconds())
	}
	if entry.rejected != nil {
		if s.m != nil {
			s.m.CallsRejected.WithLabelValues(string(entry.rejected.Kind)).Inc()
		}
		return nil, entry.rejected
	}
	return entry.resolved, nil
}

// Call invokes method on the peer's main capability, waiting for the
// result.
func (s *Session) Call(ctx context.Context, method string, args ...any) (any, error) {
	return s.call(ctx, mainCapID, method, args)
}

// releaseImport drops one reference to localKey, emitting a wire release
// frame once the count reaches zero (spec §4.3 acquire/release symmetry).
func (s *Session) releaseImport(localKey int64) {
	disposed, err := s.imports.release(localKey, 1)
	if err != nil {
		// Releasing a key we minted and already hold ourselves should never
		// be unknown or over-released; surface it rather than hide a bug.
		s.log.Printf("capnweb: releasing import %d: %v", localKey, err)
		return
	}
	if disposed {
		_ = s.send(string(frameRelease), localKey, 1)
	}
}
