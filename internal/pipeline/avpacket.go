// Package pipeline implements the ingest/video/audio pipelines of §4.5:
// decrypting arrived datagrams into AVPacket values, reordering video
// packets, handing units to a frame.Assembler, and exposing bounded,
// back-pressured output channels to the AVReceiver.
package pipeline

import "sync/atomic"

// AVPacket is the decrypted, parsed form of a VIDEO or AUDIO envelope
// packet (§3 AVPacket).
type AVPacket struct {
	FrameIndex          uint16
	UnitIndex           uint16
	UnitsInFrameSrc     uint16
	UnitsInFrameTotal   uint16
	Codec               uint8
	KeyPos              uint32
	IsVideo             bool
	IsLast              bool
	IsLastSrc           bool
	DataType            uint8
	AdaptiveStreamIndex uint8
	Data                []byte
}

// Counters are the diagnostic counters §4.5 requires from both pipelines:
// {received, processed, dropped, complete_frames, output_queue_depth}.
type Counters struct {
	Received       atomic.Int64
	Processed      atomic.Int64
	Dropped        atomic.Int64
	CompleteFrames atomic.Int64
}

// OutputQueueDepth reports how many completed frames are currently
// buffered in ch, waiting for the AVReceiver to drain them.
func OutputQueueDepth[T any](ch chan T) int {
	return len(ch)
}

// sendDropOldest is the §4.5/§5 pipeline-output back-pressure policy: if
// the output channel is full, the oldest buffered frame is evicted to
// make room for the newest one, rather than blocking the pipeline or
// dropping the newest arrival (that policy belongs to the ingest side,
// via a plain non-blocking send).
func sendDropOldest[T any](ch chan T, item T, dropped *atomic.Int64) {
	select {
	case ch <- item:
		return
	default:
	}
	select {
	case <-ch:
		dropped.Add(1)
	default:
	}
	select {
	case ch <- item:
	default:
		dropped.Add(1)
	}
}
