package pipeline

import (
	"time"

	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/wire"
)

// AudioFrame is a fully reassembled audio frame, stamped with the
// auto-detected codec (§4.5).
type AudioFrame struct {
	FrameIndex   uint16
	Data         []byte
	Codec        uint8
	MissingUnits int
}

// AudioPipeline takes the fast path described in §4.5: audio units are
// handed straight to the frame assembler without going through a
// reorder queue, since out-of-order audio is rare and the latency cost
// of waiting for a resequence outweighs the benefit.
type AudioPipeline struct {
	assembler *frame.Assembler
	out       chan AudioFrame

	codecDetected bool
	codec         uint8

	Counters     Counters
	HealthEvents chan frame.HealthEvent
}

// NewAudioPipeline builds an AudioPipeline. maxFrameWait configures the
// underlying frame.Assembler (§4.4); capacity sizes the output and
// event channels.
func NewAudioPipeline(maxFrameWait time.Duration, capacity int) *AudioPipeline {
	ap := &AudioPipeline{
		out:          make(chan AudioFrame, capacity),
		HealthEvents: make(chan frame.HealthEvent, capacity),
	}
	ap.assembler = frame.NewAssembler(false, maxFrameWait)
	ap.assembler.HealthCallback = func(ev frame.HealthEvent) {
		select {
		case ap.HealthEvents <- ev:
		default:
		}
	}
	return ap
}

// Out is the channel the AVReceiver drains completed audio frames from.
func (ap *AudioPipeline) Out() <-chan AudioFrame { return ap.out }

// DetectedCodec reports the codec byte seen on the first audio packet,
// or false if none has arrived yet.
func (ap *AudioPipeline) DetectedCodec() (codec uint8, ok bool) {
	return ap.codec, ap.codecDetected
}

// Push feeds one decrypted AVPacket read from the ingest pipeline's
// audio channel directly into frame assembly.
func (ap *AudioPipeline) Push(p AVPacket) {
	ap.Counters.Received.Add(1)
	if !ap.codecDetected && (wire.IsOpusCodec(p.Codec) || wire.IsAACCodec(p.Codec)) {
		ap.codec = p.Codec
		ap.codecDetected = true
	}

	info := frame.PacketInfo{
		FrameIndex:        p.FrameIndex,
		UnitIndex:         p.UnitIndex,
		UnitsInFrameSrc:   p.UnitsInFrameSrc,
		UnitsInFrameTotal: p.UnitsInFrameTotal,
		IsLast:            p.IsLast,
		IsLastSrc:         p.IsLastSrc,
	}
	ap.Counters.Processed.Add(1)
	completed := ap.assembler.Push(info, p.Data)
	if completed == nil {
		return
	}
	ap.Counters.CompleteFrames.Add(1)
	af := AudioFrame{
		FrameIndex:   completed.FrameIndex,
		Data:         completed.Data,
		Codec:        ap.codec,
		MissingUnits: completed.MissingUnits,
	}
	sendDropOldest(ap.out, af, &ap.Counters.Dropped)
}

// CheckStall abandons the in-progress frame if it has stalled (§4.4).
// Call periodically from the session's stall-check task.
func (ap *AudioPipeline) CheckStall(now time.Time) {
	ap.assembler.CheckStall(now)
}
