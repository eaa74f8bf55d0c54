package capnweb

import "sync"

// exportEntry is a capability or pending call result that this side hosts
// (spec §3 "Export entry"). Keys in exportsTable are always negative.
type exportEntry struct {
	target   Target
	refcount int

	pending  bool
	resolved any
	rejected *Error
	ready    chan struct{} // closed once pending transitions to false
}

// exportsTable is the set of things we host that the peer may reference,
// keyed by our own negative export IDs (spec §4.3 "Exports Table
// operations").
type exportsTable struct {
	mu   sync.Mutex
	ids  *idAllocator
	byID map[int64]*exportEntry
}

func newExportsTable(ids *idAllocator) *exportsTable {
	return &exportsTable{
		ids:  ids,
		byID: make(map[int64]*exportEntry),
	}
}

// intern mints a fresh negative export ID for t every time it's encoded.
// Targets are not required to be comparable (handler.Map is a map type, for
// instance), so unlike jrpc2's object caches this does not deduplicate
// repeated references to the same Go value; the peer sees one export per
// occurrence, each independently released.
func (e *exportsTable) intern(t Target) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.ids.nextExport()
	e.byID[id] = &exportEntry{target: t, refcount: 1, ready: closedChan()}
	return id
}

// reservePending creates the implicit export placeholder for an inbound
// push's result slot, keyed literally by the push's own (negative)
// export_id, per spec §3: "Created ... implicitly when receiving a push
// that names an uncreated result slot."
func (e *exportsTable) reservePending(id int64) *exportEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.byID[id]; ok {
		return entry
	}
	entry := &exportEntry{pending: true, refcount: 1, ready: make(chan struct{})}
	e.byID[id] = entry
	return entry
}

func (e *exportsTable) get(id int64) (*exportEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.byID[id]
	return entry, ok
}

// resolve completes a pending export entry and wakes anyone awaiting it.
func (e *exportsTable) resolve(id int64, value any) {
	e.mu.Lock()
	entry, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	entry.resolved = value
	e.finish(entry)
	e.mu.Unlock()
}

func (e *exportsTable) reject(id int64, err *Error) {
	e.mu.Lock()
	entry, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	entry.rejected = err
	e.finish(entry)
	e.mu.Unlock()
}

func (e *exportsTable) finish(entry *exportEntry) {
	if entry.pending {
		entry.pending = false
		close(entry.ready)
	}
}

// release decrements id's refcount by delta and disposes it, releasing its
// Target if it implements Releaser, once the count reaches zero (spec
// §4.3 "release: decrement; dispose at zero"). A release naming an unknown
// ID, or one whose delta exceeds the current refcount, is a protocol
// violation (spec §4.4, §7: "Errors in the tables ... are fatal") and is
// reported as an error rather than silently ignored.
func (e *exportsTable) release(id int64, delta int) (disposed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.byID[id]
	if !ok {
		return false, Errorf(CodeBadRequest, "release of unknown export %d", id)
	}
	if delta > entry.refcount {
		return false, Errorf(CodeBadRequest, "release delta %d exceeds refcount %d for export %d", delta, entry.refcount, id)
	}
	entry.refcount -= delta
	if entry.refcount > 0 {
		return false, nil
	}
	delete(e.byID, id)
	if r, ok := entry.target.(Releaser); ok {
		r.Release()
	}
	return true, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
