package takionpb

import "testing"

func TestBigRoundTrip(t *testing.T) {
	m := Big{
		ClientVersion: 9,
		SessionKey:    "session-key",
		LaunchSpec:    "{\"bitrate\":15000}",
		EncryptedKey:  []byte{1, 2, 3, 4},
		ECDHPub:       []byte{5, 6, 7, 8},
		ECDHSig:       []byte{9, 10},
	}
	got, err := UnmarshalBig(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalBig: %v", err)
	}
	if got.ClientVersion != m.ClientVersion || got.SessionKey != m.SessionKey || got.LaunchSpec != m.LaunchSpec {
		t.Fatalf("got %+v, want %+v", got, m)
	}
	if string(got.EncryptedKey) != string(m.EncryptedKey) || string(got.ECDHPub) != string(m.ECDHPub) {
		t.Fatalf("byte fields mismatch: got %+v", got)
	}
}

func TestBangRoundTrip(t *testing.T) {
	m := Bang{ServerVersion: 3, VersionAccepted: true, ECDHPub: []byte{1, 1, 1}, ECDHSig: []byte{2, 2}}
	got, err := UnmarshalBang(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalBang: %v", err)
	}
	if got.ServerVersion != m.ServerVersion || got.VersionAccepted != m.VersionAccepted {
		t.Fatalf("got %+v, want %+v", *got, m)
	}
	if string(got.ECDHPub) != string(m.ECDHPub) || string(got.ECDHSig) != string(m.ECDHSig) {
		t.Fatalf("byte fields mismatch: got %+v, want %+v", *got, m)
	}
}

func TestBangVersionRejectedRoundTrips(t *testing.T) {
	m := Bang{ServerVersion: 1, VersionAccepted: false}
	got, err := UnmarshalBang(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalBang: %v", err)
	}
	if got.VersionAccepted {
		t.Fatal("expected version_accepted=false to survive round trip")
	}
}

func TestStreamInfoRoundTrip(t *testing.T) {
	m := StreamInfo{
		Resolution: []Resolution{
			{Width: 1920, Height: 1080, VideoHeader: []byte{0xAA, 0xBB}},
			{Width: 960, Height: 540, VideoHeader: []byte{0xCC}},
		},
		AudioHeader: []byte{0x01, 0x02, 0x03},
	}
	got, err := UnmarshalStreamInfo(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalStreamInfo: %v", err)
	}
	if len(got.Resolution) != 2 {
		t.Fatalf("got %d resolutions, want 2", len(got.Resolution))
	}
	if got.Resolution[0].Width != 1920 || got.Resolution[1].Height != 540 {
		t.Fatalf("resolution fields mismatch: %+v", got.Resolution)
	}
	if string(got.AudioHeader) != string(m.AudioHeader) {
		t.Fatalf("AudioHeader mismatch: got %v want %v", got.AudioHeader, m.AudioHeader)
	}
}

func TestCorruptFrameSwapsReversedRange(t *testing.T) {
	m := CorruptFrame{Start: 50, End: 10}
	got, err := UnmarshalCorruptFrame(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalCorruptFrame: %v", err)
	}
	if got.Start != 10 || got.End != 50 {
		t.Fatalf("expected swap-and-send, got Start=%d End=%d", got.Start, got.End)
	}
}

func TestControllerConnectionRoundTrip(t *testing.T) {
	m := ControllerConnection{Connected: true, ControllerType: DualSense}
	got, err := UnmarshalControllerConnection(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalControllerConnection: %v", err)
	}
	if !got.Connected || got.ControllerType != DualSense {
		t.Fatalf("got %+v, want %+v", got, m)
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	inner := Heartbeat{}.Marshal()
	wrapped := Wrap(TypeHeartbeat, inner)

	gotType, gotPayload, err := Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if gotType != TypeHeartbeat {
		t.Fatalf("gotType = %v, want TypeHeartbeat", gotType)
	}
	if len(gotPayload) != 0 {
		t.Fatalf("expected empty heartbeat payload, got %v", gotPayload)
	}
}

func TestWrapUnwrapBigMessage(t *testing.T) {
	inner := Big{ClientVersion: 1, SessionKey: "k"}.Marshal()
	wrapped := Wrap(TypeBig, inner)

	gotType, gotPayload, err := Unwrap(wrapped)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if gotType != TypeBig {
		t.Fatalf("gotType = %v, want TypeBig", gotType)
	}
	big, err := UnmarshalBig(gotPayload)
	if err != nil {
		t.Fatalf("UnmarshalBig: %v", err)
	}
	if big.SessionKey != "k" {
		t.Fatalf("SessionKey = %q, want %q", big.SessionKey, "k")
	}
}

func TestDisconnectRoundTrip(t *testing.T) {
	m := Disconnect{Reason: "peer requested teardown"}
	got, err := UnmarshalDisconnect(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalDisconnect: %v", err)
	}
	if got.Reason != m.Reason {
		t.Fatalf("Reason = %q, want %q", got.Reason, m.Reason)
	}
}
