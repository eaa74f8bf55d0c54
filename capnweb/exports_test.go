package capnweb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type releaseRecorder struct{ released int }

func (r *releaseRecorder) Release() { r.released++ }

func (r *releaseRecorder) Dispatch(ctx context.Context, method string, args []any) (any, error) {
	return nil, nil
}

func TestExportsInternMintsDistinctIDs(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	tgt := TargetFunc(func(ctx context.Context, method string, args []any) (any, error) { return nil, nil })

	first := table.intern(tgt)
	second := table.intern(tgt)

	assert.NotEqual(t, first, second)
	assert.Less(t, first, int64(0))
	assert.Less(t, second, int64(0))
}

func TestExportsReservePendingThenResolve(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	entry := table.reservePending(-5)
	require.True(t, entry.pending)

	select {
	case <-entry.ready:
		t.Fatal("ready should not be closed before resolve")
	default:
	}

	table.resolve(-5, "done")

	got, ok := table.get(-5)
	require.True(t, ok)
	assert.Same(t, entry, got)
	<-entry.ready // must not block
	assert.Equal(t, "done", entry.resolved)
	assert.False(t, entry.pending)
}

func TestExportsReject(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	entry := table.reservePending(-9)
	table.reject(-9, Errorf(CodeNotFound, "nope"))

	<-entry.ready
	require.NotNil(t, entry.rejected)
	assert.Equal(t, CodeNotFound, entry.rejected.Kind)
}

func TestExportsReleaseDisposesAtZeroAndCallsReleaser(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	rec := &releaseRecorder{}
	id := table.intern(rec)

	disposed, err := table.release(id, 1)
	require.NoError(t, err)
	assert.True(t, disposed)
	assert.Equal(t, 1, rec.released)

	_, ok := table.get(id)
	assert.False(t, ok)
}

func TestExportsReleasePartialDoesNotDispose(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	entry := &exportEntry{target: &releaseRecorder{}, refcount: 2, ready: closedChan()}
	table.byID[-1] = entry

	disposed, err := table.release(-1, 1)
	require.NoError(t, err)
	assert.False(t, disposed)
	_, ok := table.get(-1)
	assert.True(t, ok)

	disposed, err = table.release(-1, 1)
	require.NoError(t, err)
	assert.True(t, disposed)
}

// TestExportsReleaseUnknownIDIsProtocolViolation covers spec §4.4/§7: a
// release naming an export ID we never created is fatal, not a no-op, so
// the session can abort rather than silently ignore a misbehaving peer.
func TestExportsReleaseUnknownIDIsProtocolViolation(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	disposed, err := table.release(-123, 1)
	assert.False(t, disposed)
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeBadRequest, capErr.Kind)
}

// TestExportsReleaseOverReleaseIsProtocolViolation covers the other half of
// spec §4.4/§7: a delta larger than the current refcount is fatal too.
func TestExportsReleaseOverReleaseIsProtocolViolation(t *testing.T) {
	table := newExportsTable(&idAllocator{})
	entry := &exportEntry{target: &releaseRecorder{}, refcount: 1, ready: closedChan()}
	table.byID[-1] = entry

	disposed, err := table.release(-1, 2)
	assert.False(t, disposed)
	require.Error(t, err)
	capErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, CodeBadRequest, capErr.Kind)

	_, ok = table.get(-1)
	assert.True(t, ok, "an over-release must not dispose the entry")
}
