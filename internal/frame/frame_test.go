package frame

import (
	"testing"
	"time"
)

func pkt(frameIndex, unitIndex, unitsInFrameSrc uint16, isLastSrc bool) PacketInfo {
	return PacketInfo{
		FrameIndex:      frameIndex,
		UnitIndex:       unitIndex,
		UnitsInFrameSrc: unitsInFrameSrc,
		IsLastSrc:       isLastSrc,
	}
}

func TestCompleteFrameNoGapsIsSuccess(t *testing.T) {
	a := NewAssembler(true, 50*time.Millisecond)
	var health []HealthEvent
	a.HealthCallback = func(ev HealthEvent) { health = append(health, ev) }

	a.Push(pkt(1, 0, 3, false), []byte("a"))
	a.Push(pkt(1, 1, 3, false), []byte("b"))
	got := a.Push(pkt(1, 2, 3, true), []byte("c"))

	if got == nil {
		t.Fatal("expected a completed frame")
	}
	if string(got.Data) != "abc" {
		t.Fatalf("Data = %q, want %q", got.Data, "abc")
	}
	if got.MissingUnits != 0 {
		t.Fatalf("MissingUnits = %d, want 0", got.MissingUnits)
	}
	if len(health) != 1 || health[0].Status != Success {
		t.Fatalf("health = %+v, want one Success event", health)
	}
}

func TestGapWithinFrameFillsPlaceholderAndReportsRecovered(t *testing.T) {
	a := NewAssembler(true, 50*time.Millisecond)
	var health []HealthEvent
	a.HealthCallback = func(ev HealthEvent) { health = append(health, ev) }

	a.Push(pkt(1, 0, 4, false), []byte("a"))
	// unit 1 never arrives
	a.Push(pkt(1, 2, 4, false), []byte("c"))
	got := a.Push(pkt(1, 3, 4, true), []byte("d"))

	if got == nil {
		t.Fatal("expected a completed frame despite the gap")
	}
	if got.MissingUnits != 1 {
		t.Fatalf("MissingUnits = %d, want 1", got.MissingUnits)
	}
	if len(got.Data) != 3 { // "a" + "" (hole) + "c" + "d"
		t.Fatalf("Data length = %d, want 3 (hole contributes no bytes)", len(got.Data))
	}
	if len(health) != 1 || health[0].Status != Recovered {
		t.Fatalf("health = %+v, want one Recovered event", health)
	}
	if !health[0].RecoveredByFEC {
		t.Fatalf("expected small single-unit gap to be FEC-eligible: %+v", health[0])
	}
}

func TestFrameIndexJumpEmitsCorruptRange(t *testing.T) {
	a := NewAssembler(true, 50*time.Millisecond)
	var corrupt []CorruptRange
	a.CorruptCallback = func(r CorruptRange) { corrupt = append(corrupt, r) }

	a.Push(pkt(1, 0, 1, true), []byte("a")) // frame 1 completes cleanly
	a.Push(pkt(5, 0, 1, true), []byte("b")) // frames 2,3,4 never arrived

	if len(corrupt) != 1 {
		t.Fatalf("corrupt = %+v, want one range", corrupt)
	}
	if corrupt[0] != (CorruptRange{Start: 2, End: 5}) {
		t.Fatalf("corrupt range = %+v, want [2,5)", corrupt[0])
	}
}

func TestIncompleteFrameInterruptedByNextFrameIsDroppedWithNoPriorFrame(t *testing.T) {
	a := NewAssembler(true, 50*time.Millisecond)
	var health []HealthEvent
	a.HealthCallback = func(ev HealthEvent) { health = append(health, ev) }

	a.Push(pkt(1, 0, 4, false), []byte("a")) // frame 1 never finishes
	a.Push(pkt(2, 0, 1, true), []byte("b"))  // interrupts it, frame 2 completes

	if len(health) != 2 {
		t.Fatalf("health = %+v, want [Dropped, Success]", health)
	}
	if health[0].Status != Dropped || health[0].FrameIndex != 1 {
		t.Fatalf("health[0] = %+v, want Dropped for frame 1", health[0])
	}
	if health[0].ReusedLastFrame {
		t.Fatal("no prior complete frame existed, ReusedLastFrame should be false")
	}
	if health[1].Status != Success {
		t.Fatalf("health[1] = %+v, want Success for frame 2", health[1])
	}
}

func TestIncompleteFrameAfterAPriorCompletionIsFrozen(t *testing.T) {
	a := NewAssembler(true, 50*time.Millisecond)
	var health []HealthEvent
	a.HealthCallback = func(ev HealthEvent) { health = append(health, ev) }

	a.Push(pkt(1, 0, 1, true), []byte("a")) // frame 1 completes
	a.Push(pkt(2, 0, 4, false), []byte("b")) // frame 2 never finishes
	a.Push(pkt(3, 0, 1, true), []byte("c"))  // interrupts it

	if len(health) != 3 {
		t.Fatalf("health = %+v, want 3 events", health)
	}
	if health[1].Status != Frozen || !health[1].ReusedLastFrame {
		t.Fatalf("health[1] = %+v, want Frozen with ReusedLastFrame", health[1])
	}
	if health[1].ConsecutiveFailures != 1 {
		t.Fatalf("ConsecutiveFailures = %d, want 1", health[1].ConsecutiveFailures)
	}
}

func TestConsecutiveFailuresAccumulateAndResetOnSuccess(t *testing.T) {
	a := NewAssembler(true, 50*time.Millisecond)
	var health []HealthEvent
	a.HealthCallback = func(ev HealthEvent) { health = append(health, ev) }

	a.Push(pkt(1, 0, 4, false), []byte("a")) // incomplete
	a.Push(pkt(2, 0, 4, false), []byte("b")) // interrupts 1 -> Dropped(1 failure)
	a.Push(pkt(3, 0, 1, true), []byte("c"))  // interrupts 2 -> Dropped(2 failures), completes 3

	if health[0].ConsecutiveFailures != 1 {
		t.Fatalf("failures after first drop = %d, want 1", health[0].ConsecutiveFailures)
	}
	if health[1].ConsecutiveFailures != 2 {
		t.Fatalf("failures after second drop = %d, want 2", health[1].ConsecutiveFailures)
	}
	if health[2].Status != Success || health[2].ConsecutiveFailures != 0 {
		t.Fatalf("third event = %+v, want Success with failures reset to 0", health[2])
	}
}

func TestCheckStallAbandonsFrameWithNoFurtherPackets(t *testing.T) {
	a := NewAssembler(true, 10*time.Millisecond)
	var health []HealthEvent
	a.HealthCallback = func(ev HealthEvent) { health = append(health, ev) }

	a.Push(pkt(1, 0, 4, false), []byte("a")) // never completes

	a.CheckStall(time.Now()) // too soon, no-op
	if len(health) != 0 {
		t.Fatalf("health = %+v, want none yet", health)
	}

	time.Sleep(15 * time.Millisecond)
	a.CheckStall(time.Now())
	if len(health) != 1 || health[0].Status != Dropped {
		t.Fatalf("health = %+v, want one Dropped event", health)
	}

	// A second stall check shouldn't re-report the same frame.
	a.CheckStall(time.Now())
	if len(health) != 1 {
		t.Fatalf("health = %+v, want stall reported only once", health)
	}
}

func TestAudioAssemblerConcatenatesAllUnits(t *testing.T) {
	a := NewAssembler(false, 50*time.Millisecond)
	a.Push(pkt(1, 0, 2, false), []byte("x"))
	got := a.Push(pkt(1, 1, 2, true), []byte("y"))
	if got == nil || string(got.Data) != "xy" {
		t.Fatalf("got %+v, want concatenated xy", got)
	}
}
