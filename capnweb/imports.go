package capnweb

import "sync"

// importEntry is a reference to something the peer hosts: either a
// capability stub or the pending result of a call we pushed (spec §3
// "Import entry"). Keys in importsTable are always positive.
type importEntry struct {
	refcount int

	pending  bool
	resolved any
	rejected *Error
	ready    chan struct{}
}

// importsTable is the set of references we hold into the peer's exports,
// keyed by our own positive import IDs (spec §4.4 "Imports Table
// operations").
type importsTable struct {
	mu   sync.Mutex
	byID map[int64]*importEntry
}

func newImportsTable() *importsTable {
	return &importsTable{byID: make(map[int64]*importEntry)}
}

// acquire bumps (or creates) the import entry at localKey, a positive key
// already derived by negating an incoming wire reference.
func (im *importsTable) acquire(localKey int64) int64 {
	im.mu.Lock()
	defer im.mu.Unlock()
	entry, ok := im.byID[localKey]
	if !ok {
		entry = &importEntry{ready: closedChan()}
		im.byID[localKey] = entry
	}
	entry.refcount++
	return localKey
}

// reservePending registers the import entry for a call we are about to
// push, keyed at the positive negation of the export ID we minted for it.
func (im *importsTable) reservePending(localKey int64) *importEntry {
	im.mu.Lock()
	defer im.mu.Unlock()
	entry := &importEntry{pending: true, refcount: 1, ready: make(chan struct{})}
	im.byID[localKey] = entry
	return entry
}

func (im *importsTable) get(localKey int64) (*importEntry, bool) {
	im.mu.Lock()
	defer im.mu.Unlock()
	entry, ok := im.byID[localKey]
	return entry, ok
}

func (im *importsTable) resolve(localKey int64, value any) {
	im.mu.Lock()
	entry, ok := im.byID[localKey]
	if !ok {
		im.mu.Unlock()
		return
	}
	entry.resolved = value
	im.finish(entry)
	im.mu.Unlock()
}

func (im *importsTable) reject(localKey int64, err *Error) {
	im.mu.Lock()
	entry, ok := im.byID[localKey]
	if !ok {
		im.mu.Unlock()
		return
	}
	entry.rejected = err
	im.finish(entry)
	im.mu.Unlock()
}

func (im *importsTable) finish(entry *importEntry) {
	if entry.pending {
		entry.pending = false
		close(entry.ready)
	}
}

// release drops delta references from localKey, removing the entry once
// the count reaches zero. Returns whether the caller should emit a wire
// release message for it. As with exportsTable.release, an unknown key or
// an over-release is a protocol violation (spec §4.4, §7) and is reported
// rather than swallowed.
func (im *importsTable) release(localKey int64, delta int) (disposed bool, err error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	entry, ok := im.byID[localKey]
	if !ok {
		return false, Errorf(CodeBadRequest, "release of unknown import %d", localKey)
	}
	if delta > entry.refcount {
		return false, Errorf(CodeBadRequest, "release delta %d exceeds refcount %d for import %d", delta, entry.refcount, localKey)
	}
	entry.refcount -= delta
	if entry.refcount > 0 {
		return false, nil
	}
	delete(im.byID, localKey)
	return true, nil
}
