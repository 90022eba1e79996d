package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/remoteplay/takion/internal/wire"
)

// Cipher is the narrow surface the ingest pipeline needs from the stream
// cipher: decrypt at a caller-supplied offset, and verify the truncated
// GMAC carried in the envelope. Kept as an interface so this package
// never imports internal/cipher directly (§9 design note).
type Cipher interface {
	Decrypt(ciphertext []byte, keyPos uint64) []byte
	VerifyGMAC(buf []byte, keyPos uint64, want [4]byte) error
}

// IngestPipeline is the single-writer (UDP receive task), single-reader
// front door described in §4.5: it parses each datagram, verifies and
// decrypts the payload at its declared key_pos, and forwards the result
// to the video or audio output channel depending on envelope type.
type IngestPipeline struct {
	cipher   Cipher
	videoOut chan AVPacket
	audioOut chan AVPacket

	Counters Counters

	// OnDrop, if set, fires for every datagram HandleDatagram drops,
	// naming the stage that rejected it ("parse", "gmac", "av_parse").
	// Left nil by default; the session wires it to per-reason metrics.
	OnDrop func(stage string)
}

// NewIngestPipeline builds an IngestPipeline whose per-kind output
// channels have the given capacity (§5 PipelineOutputCapacity).
func NewIngestPipeline(cipher Cipher, capacity int) *IngestPipeline {
	return &IngestPipeline{
		cipher:   cipher,
		videoOut: make(chan AVPacket, capacity),
		audioOut: make(chan AVPacket, capacity),
	}
}

// VideoOut is the channel VideoPipeline reads parsed video packets from.
func (p *IngestPipeline) VideoOut() <-chan AVPacket { return p.videoOut }

// AudioOut is the channel AudioPipeline reads parsed audio packets from.
func (p *IngestPipeline) AudioOut() <-chan AVPacket { return p.audioOut }

func (p *IngestPipeline) notifyDrop(stage string) {
	if p.OnDrop != nil {
		p.OnDrop(stage)
	}
}

func gmacBytes(v uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

// HandleDatagram parses, authenticates, and decrypts one received UDP
// datagram already known to carry a VIDEO or AUDIO envelope. Parse
// failures, GMAC mismatches, and AV-header parse failures all increment
// Counters.Dropped and are otherwise silent (§4.5, §7): the stream is
// lossy by design and a single bad packet must never interrupt it.
//
// Back-pressure on the output side is DropWrite: if the per-kind channel
// is full, this datagram is dropped rather than blocking the receive
// loop that called HandleDatagram.
func (p *IngestPipeline) HandleDatagram(buf []byte) error {
	pkt, err := wire.Parse(buf)
	if err != nil {
		p.Counters.Dropped.Add(1)
		p.notifyDrop("parse")
		return err
	}
	if pkt.Envelope.Type != wire.TypeVideo && pkt.Envelope.Type != wire.TypeAudio {
		return fmt.Errorf("pipeline: envelope type %v is not AV", pkt.Envelope.Type)
	}
	p.Counters.Received.Add(1)

	keyPos := uint64(pkt.Envelope.KeyPos)
	want := gmacBytes(pkt.Envelope.GMAC)
	if err := p.cipher.VerifyGMAC(wire.GMACInput(buf), keyPos, want); err != nil {
		p.Counters.Dropped.Add(1)
		p.notifyDrop("gmac")
		return err
	}

	plain := p.cipher.Decrypt(pkt.Data, keyPos)
	hdr, unitData, err := wire.ParseAV(plain)
	if err != nil {
		p.Counters.Dropped.Add(1)
		p.notifyDrop("av_parse")
		return err
	}

	av := AVPacket{
		FrameIndex:          hdr.FrameIndex,
		UnitIndex:           hdr.UnitIndex,
		UnitsInFrameSrc:     hdr.UnitsInFrameSrc,
		UnitsInFrameTotal:   hdr.UnitsInFrameTotal,
		Codec:               hdr.Codec,
		KeyPos:              pkt.Envelope.KeyPos,
		IsVideo:             pkt.Envelope.Type == wire.TypeVideo,
		IsLast:              hdr.IsLast,
		IsLastSrc:           hdr.IsLastSrc,
		DataType:            hdr.DataType,
		AdaptiveStreamIndex: hdr.AdaptiveStreamIndex,
		Data:                unitData,
	}

	out := p.audioOut
	if av.IsVideo {
		out = p.videoOut
	}
	select {
	case out <- av:
		p.Counters.Processed.Add(1)
	default:
		p.Counters.Dropped.Add(1)
	}
	return nil
}
