package pipeline

import (
	"time"

	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/reorder"
	"github.com/remoteplay/takion/internal/wire"
)

// unitStride bounds the per-frame unit count so that combinedSeq below
// keeps distinct (frameIndex, unitIndex) pairs apart within any 256
// consecutive frame indices, for unit indices below 256. Frame indices
// 256 apart map to the same value modulo 2^16. §3 caps
// units_in_frame_total well under this.
const unitStride = 256

// combinedSeq synthesizes the single wrap-aware sequence number that
// reorder.Queue requires from AVPacket's two-field (frame_index,
// unit_index) position, since a video AVPacket carries no dedicated
// transport sequence number distinct from those two fields.
func combinedSeq(frameIndex, unitIndex uint16) uint16 {
	return frameIndex*unitStride + (unitIndex % unitStride)
}

// keyframeHint is a best-effort scan for an IDR NAL unit in a completed
// H.264/H.265 Annex-B frame. It is advisory only: a false negative just
// means a keyframe isn't flagged as one, it never affects decoding.
func keyframeHint(codec uint8, data []byte) bool {
	switch codec {
	case wire.CodecH264, wire.CodecH265:
	default:
		return false
	}
	for i := 0; i+3 < len(data); i++ {
		start := 0
		switch {
		case data[i] == 0 && data[i+1] == 0 && data[i+2] == 1:
			start = i + 3
		case i+4 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1:
			start = i + 4
		default:
			continue
		}
		if start >= len(data) {
			continue
		}
		if codec == wire.CodecH264 {
			if data[start]&0x1F == 5 {
				return true
			}
		} else {
			nalType := (data[start] >> 1) & 0x3F
			if nalType >= 19 && nalType <= 21 {
				return true
			}
		}
	}
	return false
}

// VideoFrame is a fully reassembled video frame, stamped with the codec
// and a best-effort keyframe hint for the AVReceiver (§4.5, §6).
type VideoFrame struct {
	FrameIndex  uint16
	Data        []byte
	Codec       uint8
	IsKeyframe  bool
	MissingUnits int
	FECEligible bool
}

// VideoPipeline reorders incoming video AVPackets by their synthesized
// combined sequence, reassembles them into frames, and emits completed
// frames on a bounded, DropOldest-policy output channel (§4.5).
type VideoPipeline struct {
	queue     *reorder.Queue[AVPacket]
	assembler *frame.Assembler
	out       chan VideoFrame

	lastCodec uint8

	Counters    Counters
	HealthEvents chan frame.HealthEvent
	Corrupt      chan frame.CorruptRange
}

// NewVideoPipeline builds a VideoPipeline. reorderStart/reorderMax and
// reorderTimeout configure the underlying reorder.Queue (§4.3);
// maxFrameWait configures the frame.Assembler (§4.4); capacity sizes the
// output and event channels.
func NewVideoPipeline(reorderStart, reorderMax int, reorderTimeout, maxFrameWait time.Duration, capacity int) *VideoPipeline {
	vp := &VideoPipeline{
		out:          make(chan VideoFrame, capacity),
		HealthEvents: make(chan frame.HealthEvent, capacity),
		Corrupt:      make(chan frame.CorruptRange, capacity),
	}
	vp.assembler = frame.NewAssembler(true, maxFrameWait)
	vp.assembler.HealthCallback = func(ev frame.HealthEvent) {
		select {
		case vp.HealthEvents <- ev:
		default:
		}
	}
	vp.assembler.CorruptCallback = func(r frame.CorruptRange) {
		select {
		case vp.Corrupt <- r:
		default:
		}
	}
	vp.queue = reorder.New(func(p AVPacket) uint16 {
		return combinedSeq(p.FrameIndex, p.UnitIndex)
	}, reorderStart, reorderMax, reorderTimeout, reorder.DropEnd)
	return vp
}

// Out is the channel the AVReceiver drains completed video frames from.
func (vp *VideoPipeline) Out() <-chan VideoFrame { return vp.out }

// SetReorderCallbacks wires the underlying reorder.Queue's drop/timeout
// hooks. onDrop fires for every packet the queue rejects as late,
// duplicate, or over-capacity; onTimeout fires for every reserved hole
// Flush abandons. Either may be nil.
func (vp *VideoPipeline) SetReorderCallbacks(onDrop func(seq uint16), onTimeout func()) {
	vp.queue.DropCallback = onDrop
	vp.queue.TimeoutCallback = onTimeout
}

// Push feeds one decrypted AVPacket read from the ingest pipeline's
// video channel through reordering and frame assembly.
func (vp *VideoPipeline) Push(p AVPacket) {
	vp.Counters.Received.Add(1)
	for _, ready := range vp.queue.Push(p) {
		vp.feedAssembler(ready)
	}
}

// FlushReorder drains any packets whose reorder timeout has elapsed
// (§4.3), delivering them to the assembler in order. Call periodically
// from the session's reorder-timeout ticker task.
func (vp *VideoPipeline) FlushReorder() {
	for _, ready := range vp.queue.Flush(false) {
		vp.feedAssembler(ready)
	}
}

// CheckStall abandons the in-progress frame if it has stalled (§4.4).
// Call periodically from the session's stall-check task.
func (vp *VideoPipeline) CheckStall(now time.Time) {
	vp.assembler.CheckStall(now)
}

func (vp *VideoPipeline) feedAssembler(p AVPacket) {
	vp.Counters.Processed.Add(1)
	vp.lastCodec = p.Codec
	info := frame.PacketInfo{
		FrameIndex:        p.FrameIndex,
		UnitIndex:         p.UnitIndex,
		UnitsInFrameSrc:   p.UnitsInFrameSrc,
		UnitsInFrameTotal: p.UnitsInFrameTotal,
		IsLast:            p.IsLast,
		IsLastSrc:         p.IsLastSrc,
	}
	completed := vp.assembler.Push(info, p.Data)
	if completed == nil {
		return
	}
	vp.Counters.CompleteFrames.Add(1)
	vf := VideoFrame{
		FrameIndex:   completed.FrameIndex,
		Data:         completed.Data,
		Codec:        vp.lastCodec,
		IsKeyframe:   keyframeHint(vp.lastCodec, completed.Data),
		MissingUnits: completed.MissingUnits,
		FECEligible:  completed.FECEligible,
	}
	sendDropOldest(vp.out, vf, &vp.Counters.Dropped)
}
