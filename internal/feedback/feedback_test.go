package feedback

import (
	"testing"
	"time"

	"github.com/remoteplay/takion/internal/cipher"
	"github.com/remoteplay/takion/internal/takionpb"
	"github.com/remoteplay/takion/internal/wire"
)

func testCipher(t *testing.T) *cipher.StreamCipher {
	t.Helper()
	handshakeKey := make([]byte, 16)
	ecdhSecret := make([]byte, 32)
	c, err := cipher.New(handshakeKey, ecdhSecret)
	if err != nil {
		t.Fatalf("cipher.New: %v", err)
	}
	return c
}

func TestSerializerForSelectsByControllerType(t *testing.T) {
	if _, ok := SerializerFor(takionpb.DualShock4).(ps4Serializer); !ok {
		t.Fatal("DualShock4 should select ps4Serializer")
	}
	if _, ok := SerializerFor(takionpb.DualSense).(ps5Serializer); !ok {
		t.Fatal("DualSense should select ps5Serializer")
	}
}

func TestPS4AndPS5StatePayloadsDifferInShape(t *testing.T) {
	s := ControllerState{LeftX: 100, LeftY: -100, RightX: 0, RightY: 0, L2: 255, R2: 128, DPad: DPadUp, Buttons: ButtonCross | ButtonPS}

	p4 := ps4Serializer{}.State(s)
	p5 := ps5Serializer{}.State(s)
	if len(p4) == len(p5) {
		t.Fatalf("expected PS4/PS5 state payloads to differ in length, got %d for both", len(p4))
	}
}

func TestTickSendsStateAndAdvancesSequence(t *testing.T) {
	c := testCipher(t)
	var sent [][]byte
	sender := NewSender(c, SerializerFor(takionpb.DualSense), func(buf []byte) {
		sent = append(sent, buf)
	})

	now := time.Now()
	sender.UpdateState(ControllerState{LeftX: 42})
	sender.Tick(now)
	sender.Tick(now.Add(StateInterval))

	if len(sent) != 2 {
		t.Fatalf("sent = %d packets, want 2", len(sent))
	}
	fp0, err := wire.ParseFeedback(sent[0], c)
	if err != nil {
		t.Fatalf("ParseFeedback: %v", err)
	}
	fp1, err := wire.ParseFeedback(sent[1], c)
	if err != nil {
		t.Fatalf("ParseFeedback: %v", err)
	}
	if fp0.Sequence != 0 || fp1.Sequence != 1 {
		t.Fatalf("sequences = %d,%d want 0,1", fp0.Sequence, fp1.Sequence)
	}
}

func TestTickWithinCoalesceWindowOfEventIsSuppressed(t *testing.T) {
	c := testCipher(t)
	var sent [][]byte
	sender := NewSender(c, SerializerFor(takionpb.DualShock4), func(buf []byte) {
		sent = append(sent, buf)
	})

	now := time.Now()
	sender.ReportButton(ButtonCross, true, now)
	sender.Tick(now.Add(CoalesceWindow / 2))

	if len(sent) != 1 {
		t.Fatalf("sent = %d packets, want 1 (tick coalesced into the event)", len(sent))
	}

	sender.Tick(now.Add(CoalesceWindow * 10))
	if len(sent) != 2 {
		t.Fatalf("sent = %d packets, want 2 (tick outside the coalesce window sends separately)", len(sent))
	}
}

func TestReportButtonTogglesStateBitmask(t *testing.T) {
	c := testCipher(t)
	sender := NewSender(c, SerializerFor(takionpb.DualSense), func([]byte) {})

	now := time.Now()
	sender.ReportButton(ButtonCircle, true, now)
	if sender.current.Buttons&ButtonCircle == 0 {
		t.Fatal("expected ButtonCircle to be set after press")
	}
	sender.ReportButton(ButtonCircle, false, now.Add(time.Millisecond))
	if sender.current.Buttons&ButtonCircle != 0 {
		t.Fatal("expected ButtonCircle to be cleared after release")
	}
}
