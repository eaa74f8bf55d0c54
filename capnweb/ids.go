package capnweb

import "sync"

// idAllocator hands out the monotonically increasing magnitudes used to mint
// fresh export and call-correlation IDs (spec §4.2 "ID Allocator"). IDs are
// never reused within a session even after the entry they named is disposed,
// so a late-arriving release for a stale ID is unambiguous.
type idAllocator struct {
	mu   sync.Mutex
	next int64
}

// alloc returns the next unused positive magnitude.
func (a *idAllocator) alloc() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return a.next
}

// nextExport mints a fresh export ID (always negative, per the ID
// conventions in spec §2: "negative IDs identify exports we created").
func (a *idAllocator) nextExport() int64 {
	return -a.alloc()
}
