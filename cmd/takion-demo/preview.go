package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remoteplay/takion/internal/logging"
	"github.com/remoteplay/takion/pkg/takion"
)

// previewHub fans decoded-frame metadata and pad/rumble events out to any
// browser tab connected to /preview, the same register/unregister/broadcast
// shape as a server-side chat room: a single shared room (there is only
// ever one console session per demo process), clients dropped instead of
// blocking the broadcaster when their send buffer is full.
type previewHub struct {
	clients    map[*previewClient]bool
	broadcast  chan []byte
	register   chan *previewClient
	unregister chan *previewClient
	mu         sync.Mutex
}

type previewClient struct {
	conn *websocket.Conn
	send chan []byte
}

var previewLog = logging.L("preview")

func newPreviewHub() *previewHub {
	return &previewHub{
		clients:    make(map[*previewClient]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *previewClient),
		unregister: make(chan *previewClient),
	}
}

func (h *previewHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// previewMessage is the JSON shape forwarded to a connected browser tab.
// Exactly one of the payload groups below is populated per message.
type previewMessage struct {
	Type string `json:"type"`

	FrameIndex   uint16 `json:"frameIndex,omitempty"`
	FrameBytes   int    `json:"frameBytes,omitempty"`
	IsKeyframe   bool   `json:"isKeyframe,omitempty"`
	FrameWidth   int    `json:"frameWidth,omitempty"`
	FrameHeight  int    `json:"frameHeight,omitempty"`
	DecodeFailed bool   `json:"decodeFailed,omitempty"`

	RumbleLeft  float64 `json:"rumbleLeft,omitempty"`
	RumbleRight float64 `json:"rumbleRight,omitempty"`

	LED         [3]byte `json:"led,omitempty"`
	PlayerIndex uint8   `json:"playerIndex,omitempty"`
}

func (h *previewHub) publish(msg previewMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		previewLog.Error("marshal preview message", "error", err)
		return
	}
	select {
	case h.broadcast <- b:
	default:
		previewLog.Warn("preview broadcast channel full, dropping message", "type", msg.Type)
	}
}

// publishEngineEvent forwards the subset of a takion.EngineEvent that is
// meaningful to a frame/feedback preview; health and lifecycle events stay
// log-only.
func (h *previewHub) publishEngineEvent(ev takion.EngineEvent) {
	switch ev.Kind {
	case takion.EventRumble:
		h.publish(previewMessage{Type: "rumble", RumbleLeft: ev.RumbleLeft, RumbleRight: ev.RumbleRight})
	case takion.EventPadInfo:
		h.publish(previewMessage{Type: "padInfo", LED: ev.LED, PlayerIndex: ev.PlayerIndex})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *previewHub) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		previewLog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &previewClient{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go c.writePump()
	go c.readPump(h)
}

// readPump drains (and discards) inbound messages purely to detect the
// client going away; the preview is one-directional.
func (c *previewClient) readPump(h *previewHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *previewClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// servePreview starts the loopback preview HTTP server and returns it
// (nil if addr is empty, mirroring takion.ServeMetrics's convention).
func servePreview(addr string, hub *previewHub) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/preview", hub.handleWebsocket)
	srv := &http.Server{Addr: addr, Handler: mux}
	go hub.run()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			previewLog.Error("preview server stopped", "error", err)
		}
	}()
	previewLog.Info("preview server listening", "addr", addr)
	return srv
}
