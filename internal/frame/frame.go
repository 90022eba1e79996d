// Package frame reassembles decoded AV units into complete frames per
// spec §4.4: one Assembler per kind (video, audio), tracking gaps within
// a frame, corrupt ranges between frames, and abandonment once a frame
// has been under assembly longer than its configured timeout.
package frame

import (
	"sync"
	"time"
)

// HealthStatus mirrors the StreamHealthEvent.status enumeration (§3).
type HealthStatus int

const (
	Success HealthStatus = iota
	Recovered
	Frozen
	Dropped
)

func (s HealthStatus) String() string {
	switch s {
	case Success:
		return "success"
	case Recovered:
		return "recovered"
	case Frozen:
		return "frozen"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// HealthEvent is emitted once per frame outcome and consumed by the
// emergency-recovery supervisor.
type HealthEvent struct {
	Timestamp           time.Time
	FrameIndex          uint16
	Status              HealthStatus
	ConsecutiveFailures int
	ReusedLastFrame     bool
	RecoveredByFEC      bool
	Message             string
}

// CorruptRange is a half-open [Start, End) range of frame indices the
// assembler never saw any unit for.
type CorruptRange struct {
	Start, End uint16
}

// PacketInfo carries the subset of AVPacket fields the assembler needs
// (§3 AVPacket).
type PacketInfo struct {
	FrameIndex        uint16
	UnitIndex         uint16
	UnitsInFrameSrc   uint16
	UnitsInFrameTotal uint16
	IsLast            bool
	IsLastSrc         bool
}

// CompletedFrame is the concatenated payload of one finished frame.
type CompletedFrame struct {
	FrameIndex  uint16
	Data        []byte
	MissingUnits int
	FECEligible bool
}

type unitSlot struct {
	present bool
	data    []byte
}

// Assembler reassembles one kind of elementary stream (video or audio).
// It is safe for concurrent use; in practice it is driven by a single
// pipeline goroutine.
type Assembler struct {
	mu sync.Mutex

	isVideo      bool
	maxFrameWait time.Duration

	initialized            bool
	currentFrameIndex      uint16
	lastResolvedFrameIndex uint16
	lastUnitIndex          int // -1 sentinel: no unit seen yet in this frame
	unitsInFrameSrc        uint16
	units                  []unitSlot
	missingUnits           int
	frameStart             time.Time

	consecutiveFailures int
	lastCompleteData    []byte
	haveLastComplete    bool
	stallReported       bool
	frameResolved       bool

	// CorruptCallback fires synchronously from Push when a jump in
	// frame_index leaves a gap of unseen frames. HealthCallback fires
	// synchronously whenever a frame resolves (completed or abandoned).
	CorruptCallback func(CorruptRange)
	HealthCallback  func(HealthEvent)
}

// NewAssembler builds an Assembler for one elementary stream kind.
// maxFrameWait is the §4.4 max_frame_wait_ms budget (~50ms).
func NewAssembler(isVideo bool, maxFrameWait time.Duration) *Assembler {
	return &Assembler{
		isVideo:      isVideo,
		maxFrameWait: maxFrameWait,
		lastUnitIndex: -1,
	}
}

func (a *Assembler) resetForFrame(frameIndex uint16, now time.Time) {
	a.currentFrameIndex = frameIndex
	a.lastUnitIndex = -1
	a.unitsInFrameSrc = 0
	a.units = a.units[:0]
	a.missingUnits = 0
	a.frameStart = now
	a.stallReported = false
	a.frameResolved = false
}

// Push feeds one arrived unit into the assembler. It returns a completed
// frame if this unit finished one, or nil otherwise.
func (a *Assembler) Push(pkt PacketInfo, unitData []byte) *CompletedFrame {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()

	if !a.initialized {
		a.initialized = true
		a.lastResolvedFrameIndex = pkt.FrameIndex - 1
		a.resetForFrame(pkt.FrameIndex, now)
	} else if pkt.FrameIndex != a.currentFrameIndex {
		a.abandonCurrentLocked(now)
		if a.currentFrameIndex+1 != pkt.FrameIndex {
			a.emitCorruptLocked(a.lastResolvedFrameIndex+1, pkt.FrameIndex)
		}
		a.resetForFrame(pkt.FrameIndex, now)
	}

	idx := int(pkt.UnitIndex)
	a.growTo(idx + 1)

	for i := a.lastUnitIndex + 1; i < idx; i++ {
		a.missingUnits++ // left not-present: a zero-length placeholder
	}
	if !a.units[idx].present {
		a.units[idx] = unitSlot{present: true, data: unitData}
	}
	if idx > a.lastUnitIndex {
		a.lastUnitIndex = idx
	}
	if pkt.UnitsInFrameSrc > 0 {
		a.unitsInFrameSrc = pkt.UnitsInFrameSrc
	}

	// §4.4: a frame completes once its last unit arrives and the number
	// of units recorded (including zero-length gap placeholders, which
	// still occupy a slot once their index has been spanned by a later
	// arrival) reaches units_in_frame_src.
	isLast := pkt.IsLastSrc || pkt.IsLast
	if isLast && uint16(len(a.units)) >= a.unitsInFrameSrc {
		return a.completeLocked(now)
	}
	return nil
}

func (a *Assembler) growTo(n int) {
	for len(a.units) < n {
		a.units = append(a.units, unitSlot{})
	}
}

// fecEligible applies a simple, documented threshold: a video frame with
// missing units is FEC-eligible only when the gap is small relative to
// the frame's declared unit count. Audio never attempts FEC recovery.
func (a *Assembler) fecEligible() bool {
	if !a.isVideo || a.missingUnits == 0 || a.unitsInFrameSrc == 0 {
		return false
	}
	return a.missingUnits*4 <= int(a.unitsInFrameSrc)
}

func (a *Assembler) completeLocked(now time.Time) *CompletedFrame {
	limit := int(a.unitsInFrameSrc)
	if limit > len(a.units) || !a.isVideo {
		limit = len(a.units)
	}
	var data []byte
	for _, u := range a.units[:limit] {
		data = append(data, u.data...)
	}

	fec := a.fecEligible()
	status := Success
	if a.missingUnits > 0 {
		status = Recovered
	}

	a.consecutiveFailures = 0
	a.lastCompleteData = data
	a.haveLastComplete = true
	a.lastResolvedFrameIndex = a.currentFrameIndex
	a.frameResolved = true

	a.emitHealthLocked(HealthEvent{
		Timestamp:           now,
		FrameIndex:          a.currentFrameIndex,
		Status:              status,
		ConsecutiveFailures: a.consecutiveFailures,
		RecoveredByFEC:      fec,
	})

	return &CompletedFrame{
		FrameIndex:   a.currentFrameIndex,
		Data:         data,
		MissingUnits: a.missingUnits,
		FECEligible:  fec,
	}
}

// abandonCurrentLocked is called when a new frame_index interrupts an
// in-progress, incomplete frame (the normal in-band path; CheckStall
// covers the case where no further packet ever arrives).
func (a *Assembler) abandonCurrentLocked(now time.Time) {
	if !a.initialized || a.lastUnitIndex < 0 || a.stallReported || a.frameResolved {
		return
	}
	a.reportAbandonedLocked(now)
}

func (a *Assembler) reportAbandonedLocked(now time.Time) {
	a.consecutiveFailures++
	status := Dropped
	reused := false
	if a.haveLastComplete {
		status = Frozen
		reused = true
	}
	a.lastResolvedFrameIndex = a.currentFrameIndex
	a.frameResolved = true
	a.emitHealthLocked(HealthEvent{
		Timestamp:           now,
		FrameIndex:          a.currentFrameIndex,
		Status:              status,
		ConsecutiveFailures: a.consecutiveFailures,
		ReusedLastFrame:     reused,
	})
}

func (a *Assembler) emitHealthLocked(ev HealthEvent) {
	if a.HealthCallback != nil {
		a.HealthCallback(ev)
	}
}

func (a *Assembler) emitCorruptLocked(start, end uint16) {
	if a.CorruptCallback != nil {
		a.CorruptCallback(CorruptRange{Start: start, End: end})
	}
}

// CheckStall abandons the in-progress frame if it has been under
// assembly longer than maxFrameWait without a new packet arriving at
// all (no frame_index change to trigger abandonCurrentLocked). Call
// periodically from the pipeline's stall-check task.
func (a *Assembler) CheckStall(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized || a.lastUnitIndex < 0 || a.stallReported || a.frameResolved {
		return
	}
	if now.Sub(a.frameStart) < a.maxFrameWait {
		return
	}
	a.reportAbandonedLocked(now)
	a.stallReported = true
}

// LastCompleteFrameIndex reports the most recent frame the assembler
// considers resolved (completed or abandoned), used to size corrupt
// ranges for the next gap.
func (a *Assembler) LastCompleteFrameIndex() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastResolvedFrameIndex
}
