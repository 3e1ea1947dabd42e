package capture

import "sync/atomic"

// DefaultQueueSize is the ring capacity used when none is configured.
const DefaultQueueSize = 1024

// Queue carries events from the capture goroutine to the consumer. Key,
// button and scroll events go through a ring and are never dropped; motion
// only keeps the latest sample.
type Queue struct {
	ring      *Ring[RawEvent]
	motion    atomic.Pointer[RawEvent]
	coalesced atomic.Uint64
}

// NewQueue creates a queue holding at least size non-motion events.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ring: NewRing[RawEvent](size)}
}

// TryPush enqueues ev. Motion always succeeds and replaces any unread
// sample. Other events fail when the ring is full.
func (q *Queue) TryPush(ev RawEvent) bool {
	if ev.Kind == Move {
		if q.motion.Swap(&ev) != nil {
			q.coalesced.Add(1)
		}
		return true
	}
	return q.ring.Push(ev)
}

// Next pops one event without blocking. Queued key, button and scroll
// events come first, then the pending motion sample.
func (q *Queue) Next() (RawEvent, bool) {
	if ev, ok := q.ring.Pop(); ok {
		return ev, true
	}
	if m := q.motion.Swap(nil); m != nil {
		return *m, true
	}
	return RawEvent{}, false
}

// Drain appends every queued event to dst in arrival order, followed by at
// most one motion sample.
func (q *Queue) Drain(dst []RawEvent) []RawEvent {
	for {
		ev, ok := q.ring.Pop()
		if !ok {
			break
		}
		dst = append(dst, ev)
	}
	if m := q.motion.Swap(nil); m != nil {
		dst = append(dst, *m)
	}
	return dst
}

// Len returns the number of queued non-motion events.
func (q *Queue) Len() int {
	return q.ring.Len()
}

// Coalesced returns how many motion samples were overwritten unread.
func (q *Queue) Coalesced() uint64 {
	return q.coalesced.Load()
}
