// Package tracker keeps the set of in-flight requests so they can all be
// cancelled at shutdown.
package tracker

import (
	"sort"
	"sync"
)

// Handle is an in-flight operation that can be aborted.
type Handle interface {
	ID() string
	Abort()
}

type tracked struct {
	h   Handle
	seq uint64
}

// Tracker records in-flight handles. The zero value is ready to use.
type Tracker struct {
	mu      sync.Mutex
	handles map[Handle]tracked
	seq     uint64
	closed  bool
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Track records h. Once AbortAll has run, h is aborted immediately and
// Track returns false.
func (t *Tracker) Track(h Handle) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		h.Abort()
		return false
	}
	if t.handles == nil {
		t.handles = make(map[Handle]tracked)
	}
	if _, ok := t.handles[h]; !ok {
		t.seq++
		t.handles[h] = tracked{h: h, seq: t.seq}
	}
	t.mu.Unlock()
	return true
}

// Untrack removes h. Removing a handle that is not tracked is a no-op.
func (t *Tracker) Untrack(h Handle) {
	t.mu.Lock()
	delete(t.handles, h)
	t.mu.Unlock()
}

// AbortAll closes the tracker, empties it and aborts every handle that
// was tracked at that moment. Handles are aborted outside the lock, so
// their completion hooks may call Untrack. It returns the number of
// aborted handles.
func (t *Tracker) AbortAll() int {
	t.mu.Lock()
	t.closed = true
	pending := t.sortedLocked()
	t.handles = nil
	t.mu.Unlock()

	for _, h := range pending {
		h.Abort()
	}
	return len(pending)
}

// Len returns the number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Pending returns the tracked handles in the order they were tracked.
func (t *Tracker) Pending() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// Closed reports whether AbortAll has run.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) sortedLocked() []Handle {
	ts := make([]tracked, 0, len(t.handles))
	for _, e := range t.handles {
		ts = append(ts, e)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].seq < ts[j].seq })
	out := make([]Handle, len(ts))
	for i, e := range ts {
		out[i] = e.h
	}
	return out
}
