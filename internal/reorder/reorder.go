// Package reorder implements the chiaki-style ReorderQueue<T> described in
// spec §4.3: a sequence-number-indexed bounded buffer over a 16-bit
// wrap-around sequence space, with reservation slots for not-yet-arrived
// packets, timeout-driven progress, and a configurable drop strategy.
package reorder

import (
	"sync"
	"time"
)

// DropStrategy selects which item is discarded when an incoming packet
// would grow the queue past its configured maximum size (§4.3).
type DropStrategy int

const (
	// DropEnd discards the incoming packet, keeping the existing buffer
	// contents untouched. This is the pipeline default: it protects
	// memory under a sudden forward jump without disturbing in-flight
	// reassembly.
	DropEnd DropStrategy = iota
	// DropBegin discards the oldest slot (which may be a reserved hole
	// or a real item) to make room for the incoming packet.
	DropBegin
)

// SeqFunc extracts the wrap-around sequence number from an item of type T.
type SeqFunc[T any] func(item T) uint16

type entry[T any] struct {
	present bool
	item    T
	// reservedAt marks when this slot entered the buffer, whether it
	// arrived with real data or was opened as a hole by a forward jump.
	// Flush measures a hole's staleness from this timestamp; a present
	// slot is released without an age check.
	reservedAt time.Time
}

// Queue is a generic, wrap-safe reorder buffer. A Queue must not be copied
// after first use.
type Queue[T any] struct {
	mu sync.Mutex

	seqOf    SeqFunc[T]
	sizeMax  int
	timeout  time.Duration
	strategy DropStrategy

	initialized bool
	begin       uint16
	slots       []entry[T]

	timeoutDropped int

	// DropCallback fires for every packet dropped as late, duplicate, or
	// over-capacity; TimeoutCallback fires for every hole dropped by
	// Flush. Both may be left nil.
	DropCallback    func(seq uint16)
	TimeoutCallback func()
}

// New creates a Queue that starts empty and grows from sizeStart (a hint
// for the caller's expected working set; the buffer itself grows lazily
// on demand) up to sizeMax, dropping a timed-out head slot after timeout
// and applying strategy when an insert would exceed sizeMax.
func New[T any](seqOf SeqFunc[T], sizeStart, sizeMax int, timeout time.Duration, strategy DropStrategy) *Queue[T] {
	if sizeMax < 1 {
		sizeMax = 1
	}
	q := &Queue[T]{
		seqOf:    seqOf,
		sizeMax:  sizeMax,
		timeout:  timeout,
		strategy: strategy,
	}
	q.slots = make([]entry[T], 0, sizeStart)
	return q
}

// lt implements the half-space "less than" rule over a 16-bit sequence
// space: lt(a,b) iff a != b and (b-a)&0xFFFF < 0x8000 (§4.3). Equal values
// are never "less than" each other; excluding that case keeps lt a proper
// strict order, which callers rely on to tell "this is the expected next
// sequence" apart from "this already arrived".
func lt(a, b uint16) bool {
	return a != b && uint16(b-a) < 0x8000
}

// ge is the complement of lt.
func ge(a, b uint16) bool {
	return !lt(a, b)
}

// TimeoutDropped returns the running count of holes dropped by Flush.
func (q *Queue[T]) TimeoutDropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.timeoutDropped
}

// Len returns the current buffer span (begin to the highest reserved or
// filled slot), not the number of arrived items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// Push inserts item and returns the run of items now ready for delivery in
// ascending sequence order (possibly empty, possibly more than one if the
// insert fills a gap at the head). Items are delivered to the caller
// strictly once, in ascending order; loss only ever appears as a gap
// between returned sequence numbers, never a duplicate (§4.3 ordering
// guarantee).
func (q *Queue[T]) Push(item T) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.seqOf(item)
	now := time.Now()

	if !q.initialized {
		q.initialized = true
		q.begin = s
		q.slots = append(q.slots, entry[T]{present: true, item: item, reservedAt: now})
		return q.pullForwardLocked()
	}

	end := q.begin + uint16(len(q.slots))

	switch {
	case lt(s, q.begin):
		// Late arrival: drop.
		q.drop(s)
		return nil

	case lt(s, end): // s in [begin, end)
		idx := int(s - q.begin)
		if q.slots[idx].present {
			q.drop(s) // duplicate
			return nil
		}
		q.slots[idx] = entry[T]{present: true, item: item, reservedAt: now}
		if idx == 0 {
			return q.pullForwardLocked()
		}
		return nil

	default: // ge(s, end): forward jump, reserve [end, s) as holes
		idxTarget := int(uint16(s - q.begin)) // wrap-safe forward distance
		growBy := idxTarget - len(q.slots) + 1
		if len(q.slots)+growBy > q.sizeMax {
			if q.strategy == DropEnd {
				q.drop(s)
				return nil
			}
			excess := len(q.slots) + growBy - q.sizeMax
			for i := 0; i < excess && len(q.slots) > 0; i++ {
				q.timeoutDroppedNote(q.begin)
				q.slots = q.slots[1:]
				q.begin++
			}
			idxTarget = int(uint16(s - q.begin))
		}
		for len(q.slots) <= idxTarget {
			q.slots = append(q.slots, entry[T]{reservedAt: now})
		}
		q.slots[idxTarget] = entry[T]{present: true, item: item, reservedAt: now}
		if idxTarget == 0 {
			return q.pullForwardLocked()
		}
		return nil
	}
}

func (q *Queue[T]) drop(seq uint16) {
	if q.DropCallback != nil {
		q.DropCallback(seq)
	}
}

// timeoutDroppedNote is used when DropBegin evicts a slot to make room;
// this counts as any other drop (via DropCallback), not as a Flush
// timeout, so it does not touch timeoutDropped.
func (q *Queue[T]) timeoutDroppedNote(seq uint16) {
	q.drop(seq)
}

func (q *Queue[T]) pullForwardLocked() []T {
	var out []T
	for len(q.slots) > 0 && q.slots[0].present {
		out = append(out, q.slots[0].item)
		q.slots = q.slots[1:]
		q.begin++
	}
	return out
}

// Flush releases the head if it is older than the configured timeout (or
// unconditionally, if force is true), continuing through any further
// expired holes or now-present slots in the same call. A reserved hole at
// the head is dropped and counted in TimeoutDropped only once it has aged
// past timeout; a present slot is never itself gated on age — once the
// hole(s) ahead of it are gone, an item sitting behind them is released
// immediately rather than waiting out its own reservation timestamp.
// Returns the items released.
func (q *Queue[T]) Flush(force bool) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []T
	for len(q.slots) > 0 {
		head := q.slots[0]
		if head.present {
			out = append(out, head.item)
			q.slots = q.slots[1:]
			q.begin++
			continue
		}
		if !force && time.Since(head.reservedAt) < q.timeout {
			break
		}
		q.timeoutDropped++
		if q.TimeoutCallback != nil {
			q.TimeoutCallback()
		}
		q.slots = q.slots[1:]
		q.begin++
	}
	return out
}
