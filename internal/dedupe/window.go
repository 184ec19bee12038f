// ABOUTME: Bounded TTL window of recently seen message ids
// ABOUTME: Guards against double delivery (live push plus REST acknowledgement)

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Window remembers message ids for a limited time so the same server
// message arriving twice - once over the socket and once inside a REST
// response - is processed only once. Oldest ids are evicted when the
// size limit is reached; insertion order is kept in a list for O(1)
// eviction.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a window with the given TTL and maximum number of tracked
// ids. A background goroutine sweeps out expired entries.
func New(ttl time.Duration, maxSize int) *Window {
	w := &Window{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go w.sweepLoop()
	return w
}

// Observe records the id and reports whether it was already seen within
// the TTL. The check and the mark are atomic, so concurrent observers of
// the same id agree on exactly one of them being first.
func (w *Window) Observe(id string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if e, ok := w.seen[id]; ok && now.Sub(e.seenAt) < w.ttl {
		e.seenAt = now
		w.order.MoveToBack(e.element)
		return true
	}

	if e, ok := w.seen[id]; ok {
		// Expired entry, refresh in place.
		e.seenAt = now
		w.order.MoveToBack(e.element)
		return false
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldestLocked()
	}
	w.seen[id] = &entry{seenAt: now, element: w.order.PushBack(id)}
	return false
}

// Len returns the number of tracked ids, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Close stops the background sweeper. Safe to call more than once.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		close(w.done)
		w.closed = true
	}
}

func (w *Window) evictOldestLocked() {
	front := w.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, id)
}

func (w *Window) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for id, e := range w.seen {
		if now.Sub(e.seenAt) > w.ttl {
			w.order.Remove(e.element)
			delete(w.seen, id)
		}
	}
}
