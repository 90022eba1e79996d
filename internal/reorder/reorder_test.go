package reorder

import (
	"testing"
	"time"
)

type packet struct {
	seq  uint16
	data string
}

func seqOfPacket(p packet) uint16 { return p.seq }

func newTestQueue(timeout time.Duration, strategy DropStrategy) *Queue[packet] {
	return New(seqOfPacket, 4, 8, timeout, strategy)
}

func seqs(pkts []packet) []uint16 {
	out := make([]uint16, len(pkts))
	for i, p := range pkts {
		out[i] = p.seq
	}
	return out
}

func sameSeqs(got []uint16, want ...uint16) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestInOrderDeliversImmediately(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, DropEnd)
	for _, s := range []uint16{0, 1, 2, 3} {
		out := q.Push(packet{seq: s})
		if !sameSeqs(seqs(out), s) {
			t.Fatalf("seq %d: got %v, want [%d]", s, seqs(out), s)
		}
	}
}

func TestGapFillReleasesRun(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, DropEnd)

	if out := q.Push(packet{seq: 0}); !sameSeqs(seqs(out), 0) {
		t.Fatalf("seq 0: got %v", seqs(out))
	}
	if out := q.Push(packet{seq: 1}); !sameSeqs(seqs(out), 1) {
		t.Fatalf("seq 1: got %v", seqs(out))
	}
	// 3 arrives before 2: reserves a hole at 2, nothing released yet.
	if out := q.Push(packet{seq: 3}); len(out) != 0 {
		t.Fatalf("seq 3: expected nothing released, got %v", seqs(out))
	}
	if out := q.Push(packet{seq: 4}); len(out) != 0 {
		t.Fatalf("seq 4: expected nothing released, got %v", seqs(out))
	}
	// 2 arrives: fills the hole, releasing 2,3,4 together.
	out := q.Push(packet{seq: 2})
	if !sameSeqs(seqs(out), 2, 3, 4) {
		t.Fatalf("seq 2 fill: got %v, want [2 3 4]", seqs(out))
	}
}

// TestGapTimeoutScenario: feeding [0,1,3,2,4] with 2 withheld past the
// timeout yields output [0,1,3,4] and timeout_dropped=1.
func TestGapTimeoutScenario(t *testing.T) {
	q := newTestQueue(10*time.Millisecond, DropEnd)

	var delivered []uint16
	delivered = append(delivered, seqs(q.Push(packet{seq: 0}))...)
	delivered = append(delivered, seqs(q.Push(packet{seq: 1}))...)
	delivered = append(delivered, seqs(q.Push(packet{seq: 3}))...)
	delivered = append(delivered, seqs(q.Push(packet{seq: 4}))...)

	if !sameSeqs(delivered, 0, 1) {
		t.Fatalf("before timeout: got %v, want [0 1]", delivered)
	}

	time.Sleep(15 * time.Millisecond)
	delivered = append(delivered, seqs(q.Flush(false))...)

	if !sameSeqs(delivered, 0, 1, 3, 4) {
		t.Fatalf("after timeout flush: got %v, want [0 1 3 4]", delivered)
	}
	if got := q.TimeoutDropped(); got != 1 {
		t.Fatalf("TimeoutDropped = %d, want 1", got)
	}
}

func TestLateArrivalIsDroppedNotDelivered(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, DropEnd)
	var dropped []uint16
	q.DropCallback = func(seq uint16) { dropped = append(dropped, seq) }

	q.Push(packet{seq: 5})
	out := q.Push(packet{seq: 3}) // behind begin=5
	if len(out) != 0 {
		t.Fatalf("late packet should not be delivered, got %v", seqs(out))
	}
	if !sameSeqs(dropped, 3) {
		t.Fatalf("DropCallback seqs = %v, want [3]", dropped)
	}
}

func TestDuplicateIsDropped(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, DropEnd)
	var dropped []uint16
	q.DropCallback = func(seq uint16) { dropped = append(dropped, seq) }

	q.Push(packet{seq: 0})
	q.Push(packet{seq: 2}) // reserve a hole at 1
	out := q.Push(packet{seq: 2})
	if len(out) != 0 {
		t.Fatalf("duplicate should not be delivered, got %v", seqs(out))
	}
	if !sameSeqs(dropped, 2) {
		t.Fatalf("DropCallback seqs = %v, want [2]", dropped)
	}
}

func TestDropEndRejectsOverflowingInsert(t *testing.T) {
	q := New(seqOfPacket, 2, 4, 50*time.Millisecond, DropEnd)
	var dropped []uint16
	q.DropCallback = func(seq uint16) { dropped = append(dropped, seq) }

	q.Push(packet{seq: 0}) // begin=0, delivered immediately
	// Growing to include seq=10 would need 11 slots, far over sizeMax=4.
	out := q.Push(packet{seq: 10})
	if len(out) != 0 {
		t.Fatalf("expected overflow insert dropped, got %v", seqs(out))
	}
	if !sameSeqs(dropped, 10) {
		t.Fatalf("DropCallback seqs = %v, want [10]", dropped)
	}
	if q.Len() != 0 {
		t.Fatalf("buffer should be untouched by a DropEnd overflow, Len=%d", q.Len())
	}
}

func TestDropBeginEvictsOldestToMakeRoom(t *testing.T) {
	q := New(seqOfPacket, 2, 4, 50*time.Millisecond, DropBegin)
	var dropped []uint16
	q.DropCallback = func(seq uint16) { dropped = append(dropped, seq) }

	if out := q.Push(packet{seq: 0}); !sameSeqs(seqs(out), 0) {
		t.Fatalf("seq 0: got %v", seqs(out))
	}
	// begin is now 1; seq=3 reserves holes at 1,2 and holds 3 (not head).
	if out := q.Push(packet{seq: 3}); len(out) != 0 {
		t.Fatalf("seq 3: expected nothing released, got %v", seqs(out))
	}
	// A further jump to seq=7 needs more room than sizeMax=4 allows, so
	// DropBegin evicts from the front (holes at 1,2 and the held seq=3
	// item) until the incoming packet fits.
	out := q.Push(packet{seq: 7})
	if len(out) != 0 {
		t.Fatalf("seq 7: expected nothing released yet (not head), got %v", seqs(out))
	}
	if !sameSeqs(dropped, 1, 2, 3) {
		t.Fatalf("DropCallback seqs = %v, want [1 2 3]", dropped)
	}
	if q.Len() > 4 {
		t.Fatalf("Len = %d, want <= sizeMax(4)", q.Len())
	}
}

func TestWraparoundOrdering(t *testing.T) {
	q := newTestQueue(50*time.Millisecond, DropEnd)
	out := q.Push(packet{seq: 0xFFFE})
	if !sameSeqs(seqs(out), 0xFFFE) {
		t.Fatalf("got %v", seqs(out))
	}
	out = q.Push(packet{seq: 0xFFFF})
	if !sameSeqs(seqs(out), 0xFFFF) {
		t.Fatalf("got %v", seqs(out))
	}
	// Wraps around to 0, still "after" 0xFFFF in the half-space ordering.
	out = q.Push(packet{seq: 0})
	if !sameSeqs(seqs(out), 0) {
		t.Fatalf("wraparound delivery: got %v", seqs(out))
	}
}

func TestFlushForceDrainsEverythingRegardlessOfAge(t *testing.T) {
	q := newTestQueue(time.Hour, DropEnd) // timeout far in the future
	q.Push(packet{seq: 0})
	q.Push(packet{seq: 2}) // reserves hole at 1, nothing released

	out := q.Flush(true)
	if !sameSeqs(seqs(out), 2) {
		t.Fatalf("force flush: got %v, want [2] (hole at 1 dropped silently)", seqs(out))
	}
	if q.TimeoutDropped() != 1 {
		t.Fatalf("TimeoutDropped = %d, want 1", q.TimeoutDropped())
	}
}

func TestFlushWithoutExpiryIsNoop(t *testing.T) {
	q := newTestQueue(time.Hour, DropEnd)
	q.Push(packet{seq: 0})
	q.Push(packet{seq: 2})

	out := q.Flush(false)
	if len(out) != 0 {
		t.Fatalf("expected no progress before timeout, got %v", seqs(out))
	}
}

func TestLtHalfSpaceWraparound(t *testing.T) {
	cases := []struct {
		a, b uint16
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0xFFFF, 0, true},
		{0, 0xFFFF, false},
		{0, 0x7FFF, true},
		{0, 0x8000, false}, // exactly half the space: not defined as less-than
	}
	for _, c := range cases {
		if got := lt(c.a, c.b); got != c.want {
			t.Errorf("lt(%d,%d) = %v, want %v", c.a, c.b, got, c.want)
		}
		if got := ge(c.a, c.b); got == c.want {
			t.Errorf("ge(%d,%d) should be the complement of lt", c.a, c.b)
		}
	}
}
