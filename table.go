package mux

import "sync"

// streamHandle is the engine-side state for one table entry. Only the
// engine goroutine ever mutates pendingAck; recvWin is the one field
// shared with the Stream, and only ever read here (see window.go).
type streamHandle struct {
	recvWin    *recvWindow
	inbox      chan Item
	closed     chan struct{} // closed by the Stream once it will read no more
	pendingAck bool
}

// table is the connection's stream handle table. An ordered structure
// isn't necessary; a plain map guarded by a mutex is enough because only
// the single engine goroutine ever calls these methods (no concurrent
// readers to justify an RWMutex).
type table struct {
	mu      sync.Mutex
	entries map[uint32]*streamHandle
}

func newTable() *table {
	return &table{entries: make(map[uint32]*streamHandle, 128)}
}

func (t *table) insert(id uint32, h *streamHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		// Invariant 1: at most one handle per id. The engine always checks
		// existence before calling insert, so this is an internal bug if hit.
		return
	}
	t.entries[id] = h
}

func (t *table) get(id uint32) (*streamHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[id]
	return h, ok
}

func (t *table) has(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[id]
	return ok
}

func (t *table) remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// clear empties the table, used by terminate.
func (t *table) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[uint32]*streamHandle)
}

// each takes a snapshot before calling fn, matching stream_map.go's Each,
// so fn is free to call back into the table (e.g. remove) without
// deadlocking on the same mutex.
func (t *table) each(fn func(id uint32, h *streamHandle)) {
	t.mu.Lock()
	snap := make(map[uint32]*streamHandle, len(t.entries))
	for k, v := range t.entries {
		snap[k] = v
	}
	t.mu.Unlock()
	for id, h := range snap {
		fn(id, h)
	}
}
