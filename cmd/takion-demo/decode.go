package main

import (
	"fmt"
	"sync"

	openh264 "github.com/y9o/go-openh264"

	"github.com/remoteplay/takion/internal/logging"
)

var decodeLog = logging.L("decode")

// framePreviewDecoder turns completed H.264 access units into the
// width/height pair the preview hub reports alongside each frame. It is
// best-effort: a console stream that decodes cleanly gets real dimensions
// in the preview, one that doesn't just falls back to metadata-only
// preview messages rather than taking the demo down.
type framePreviewDecoder struct {
	mu      sync.Mutex
	dec     *openh264.Decoder
	disable bool
}

func newFramePreviewDecoder() *framePreviewDecoder {
	dec, err := openh264.NewDecoder()
	if err != nil {
		decodeLog.Warn("openh264 decoder unavailable, preview will be metadata-only", "error", err)
		return &framePreviewDecoder{disable: true}
	}
	return &framePreviewDecoder{dec: dec}
}

// decode feeds a single NAL-unit-delimited access unit to the decoder and
// returns the decoded picture's dimensions. ok is false whenever decoding
// didn't produce a picture (non-IDR unit before the first IDR, corrupt
// input tolerated upstream by FEC, or the decoder failing to initialize).
func (d *framePreviewDecoder) decode(data []byte) (width, height int, ok bool) {
	if d.disable {
		return 0, 0, false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := d.dec.Decode(data)
	if err != nil {
		decodeLog.Debug("h264 decode failed for preview frame", "error", err)
		return 0, 0, false
	}
	if img == nil {
		return 0, 0, false
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), true
}

func (d *framePreviewDecoder) close() error {
	if d.disable || d.dec == nil {
		return nil
	}
	if closer, ok := interface{}(d.dec).(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (d *framePreviewDecoder) String() string {
	return fmt.Sprintf("framePreviewDecoder{disabled=%v}", d.disable)
}
