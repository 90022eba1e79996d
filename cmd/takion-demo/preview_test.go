package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/remoteplay/takion/pkg/takion"
)

func TestPreviewHubBroadcastsToRegisteredClients(t *testing.T) {
	h := newPreviewHub()
	go h.run()

	c := &previewClient{send: make(chan []byte, 4)}
	h.register <- c

	h.publish(previewMessage{Type: "videoFrame", FrameIndex: 7, FrameBytes: 1024})

	select {
	case msg := <-c.send:
		if len(msg) == 0 {
			t.Fatal("expected non-empty broadcast payload")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestPreviewHubDropsClientWithFullSendBuffer(t *testing.T) {
	h := newPreviewHub()
	go h.run()

	c := &previewClient{send: make(chan []byte)} // unbuffered: any send blocks unless drained
	h.register <- c

	inHub := func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.clients[c]
	}
	waitFor := func(want bool) {
		deadline := time.Now().Add(time.Second)
		for inHub() != want {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for client registration = %v", want)
			}
			time.Sleep(time.Millisecond)
		}
	}
	waitFor(true)

	// First broadcast: nothing is receiving on c.send, so the hub's send
	// falls through to its select's default branch; the client is dropped
	// and its channel closed rather than stalling the broadcaster.
	h.publish(previewMessage{Type: "rumble"})
	waitFor(false)

	select {
	case _, ok := <-c.send:
		if ok {
			t.Fatal("expected send channel to be closed after drop, not to deliver a message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dropped client's channel to close")
	}
}

func TestPreviewPublishEngineEventForwardsRumbleAndPadInfoOnly(t *testing.T) {
	h := newPreviewHub()
	go h.run()

	c := &previewClient{send: make(chan []byte, 4)}
	h.register <- c

	h.publishEngineEvent(takion.EngineEvent{Kind: takion.EventRumble, RumbleLeft: 0.5, RumbleRight: 0.25})
	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatal("expected rumble event to be forwarded to preview clients")
	}

	h.publishEngineEvent(takion.EngineEvent{Kind: takion.EventHealth})
	h.publishEngineEvent(takion.EngineEvent{Kind: takion.EventPadInfo, PlayerIndex: 2})
	select {
	case b := <-c.send:
		var msg previewMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("unmarshal preview message: %v", err)
		}
		if msg.Type != "padInfo" {
			t.Fatalf("next forwarded message type = %q, want padInfo (health events are not forwarded)", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("expected pad-info event to be forwarded to preview clients")
	}
}
