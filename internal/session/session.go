// Package session implements TakionSession, the orchestration layer: the
// client-side handshake state machine (INIT through READY), the fixed
// set of long-lived tasks, single send-lock header stamping, incoming
// dispatch by data_type, and the glue wiring internal/cipher,
// internal/wire, internal/takionpb, internal/pipeline,
// internal/feedback, internal/congestion, internal/adaptive,
// internal/idr, and internal/supervisor together into one running
// session. Lifecycle follows a sync.Once-guarded Start/Stop, a
// WaitGroup gating task shutdown, and a done channel every task
// selects on.
package session

import (
	"bytes"
	"context"
	"crypto/aes"
	cryptocipher "crypto/cipher"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/remoteplay/takion/internal/adaptive"
	"github.com/remoteplay/takion/internal/cipher"
	"github.com/remoteplay/takion/internal/congestion"
	"github.com/remoteplay/takion/internal/feedback"
	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/handshake"
	"github.com/remoteplay/takion/internal/idr"
	"github.com/remoteplay/takion/internal/logging"
	"github.com/remoteplay/takion/internal/metrics"
	"github.com/remoteplay/takion/internal/pipeline"
	"github.com/remoteplay/takion/internal/supervisor"
	"github.com/remoteplay/takion/internal/takionpb"
	"github.com/remoteplay/takion/internal/wire"
	"github.com/remoteplay/takion/internal/workerpool"
)

var log = logging.L("session")

// ErrHandshakeTimeout is returned by Start/reconnect when no BANG arrives
// within the BIG retry budget.
var ErrHandshakeTimeout = errors.New("session: handshake timed out")

// ErrAlreadyStarted is returned by Start on a Session that is already running.
var ErrAlreadyStarted = errors.New("session: already started")

// Identity is the immutable-per-session registration state described in
// §3: it is created by the registration layer, never read from config,
// and is preserved verbatim across an emergency reconnect (§4.9).
type Identity struct {
	SessionID    string
	Secret       []byte // shared secret from registration; seeds the pre-BANG handshake key
	SessionIV    []byte // 16-byte IV paired with Secret
	HostEndpoint string // "host:port" of the console's stream port

	SigningKey    ed25519.PrivateKey // signs our ECDH public key in BIG
	PeerVerifyKey ed25519.PublicKey  // verifies the console's ECDH signature in BANG
}

// LaunchOptions is the client's requested stream shape, sent in BIG
// before the console has advertised STREAMINFO profiles (§6).
type LaunchOptions struct {
	Width, Height, FPS, BitrateKbps int
	Codec                           string // "h264", "h265", "av1"
	HDR                             bool
}

// Tunables bundles every task cadence and limit from internal/config
// relevant to session construction, so this package doesn't import
// internal/config directly (kept narrow per §9's design notes).
type Tunables struct {
	HostType string // "ps4" or "ps5"

	VideoReorderSizeStart int
	VideoReorderSizeMax   int
	VideoReorderTimeout   time.Duration
	MaxFrameWait          time.Duration
	PipelineOutputCap     int
	DuplicateTSNCacheSize int

	HeartbeatInterval  time.Duration
	FeedbackInterval   time.Duration
	CongestionInterval time.Duration
	StallCheckInterval time.Duration
	StallThreshold     time.Duration

	IDRBurstCount    int
	IDRBurstInterval time.Duration
	IDRSteady        time.Duration
	IDRCooldown      time.Duration

	DegradedHeavyThreshold   int
	ReconnectThreshold       int
	RecoverySuccessThreshold int
	RecoveryFrameAdvance     int
	RecoveryMinElapsed       time.Duration

	WorkerPoolSize      int
	WorkerPoolQueueSize int
}

// Callbacks are the push-model hooks the outer pkg/takion.Session wires up
// to turn engine activity into its EngineEvent stream and AVReceiver
// calls; narrow and one-directional per §9's design notes.
type Callbacks struct {
	OnStreamInfo func(videoHeader, audioHeader []byte)
	OnVideoFrame func(data []byte, isKeyframe bool, frameIndex uint16)
	OnAudioFrame func(data []byte, frameIndex uint16)
	OnRumble     func(left, right float64)
	OnPadInfo    func(led [3]byte, playerIndex uint8, motionReset bool)
	OnHealth     func(frame.HealthEvent)
	OnDisconnect func(reason string)
}

func (c Callbacks) streamInfo(v, a []byte) {
	if c.OnStreamInfo != nil {
		c.OnStreamInfo(v, a)
	}
}
func (c Callbacks) videoFrame(d []byte, kf bool, idx uint16) {
	if c.OnVideoFrame != nil {
		c.OnVideoFrame(d, kf, idx)
	}
}
func (c Callbacks) audioFrame(d []byte, idx uint16) {
	if c.OnAudioFrame != nil {
		c.OnAudioFrame(d, idx)
	}
}
func (c Callbacks) rumble(l, r float64) {
	if c.OnRumble != nil {
		c.OnRumble(l, r)
	}
}
func (c Callbacks) padInfo(led [3]byte, player uint8, reset bool) {
	if c.OnPadInfo != nil {
		c.OnPadInfo(led, player, reset)
	}
}
func (c Callbacks) health(ev frame.HealthEvent) {
	if c.OnHealth != nil {
		c.OnHealth(ev)
	}
}
func (c Callbacks) disconnect(reason string) {
	if c.OnDisconnect != nil {
		c.OnDisconnect(reason)
	}
}

// rawConn is the narrow socket surface Session needs; *net.UDPConn
// satisfies it, and tests substitute a loopback pair.
type rawConn interface {
	Write(b []byte) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Session is TakionSession (§4.10): it owns the UDP socket, the
// StreamCipher, and every long-lived task listed in §5.
type Session struct {
	identity Identity
	launch   LaunchOptions
	tune     Tunables
	cb       Callbacks
	metrics  *metrics.Registry

	dial func(endpoint string) (rawConn, error)

	mu          sync.Mutex // guards conn/tagRemote/tsn/cipher swap during reconnect
	conn        rawConn
	connID      string // correlates log lines to one physical UDP connection across reconnects
	tagLocal    uint32
	tagRemote   uint32
	tsn         uint32
	keyPair     *handshake.KeyPair
	handshakeCh chan *wire.Packet // routes CONTROL packets to runHandshake; nil once READY

	sc      atomic.Pointer[cipher.StreamCipher]
	sendMu  sync.Mutex // single send-lock serializing (key_pos, gmac) stamping
	ready   atomic.Bool
	reconAt atomic.Bool // true while reconnectTakion is in flight

	hapticLevelBits  atomic.Int32 // hapticLevel for rumble scaling, from pad-info
	triggerLevelBits atomic.Int32 // hapticLevel for adaptive-trigger gating

	seen      *tsnCache
	lastPktAt atomic.Value // time.Time

	ingest *pipeline.IngestPipeline
	video  *pipeline.VideoPipeline
	audio  *pipeline.AudioPipeline
	adapt  *adaptive.Manager

	fbSender    *feedback.Sender
	congCtrl    *congestion.Controller
	idrReq      *idr.Requester
	supervisor  *supervisor.Supervisor
	pool        *workerpool.Pool

	rawIn chan []byte

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	started   atomic.Bool

	controllerType takionpb.ControllerType
}

// New constructs a Session; call Start to run the handshake and spin up
// the task set.
func New(id Identity, launch LaunchOptions, tune Tunables, cb Callbacks, reg *metrics.Registry) *Session {
	ct := takionpb.DualSense
	if tune.HostType == "ps4" {
		ct = takionpb.DualShock4
	}
	s := &Session{
		identity:       id,
		launch:         launch,
		tune:           tune,
		cb:             cb,
		metrics:        reg,
		dial:           dialUDP,
		seen:           newTSNCache(tune.DuplicateTSNCacheSize),
		done:           make(chan struct{}),
		controllerType: ct,
		adapt:          adaptive.NewManager(),
	}
	s.lastPktAt.Store(time.Now())
	s.hapticLevelBits.Store(int32(hapticFull))
	s.triggerLevelBits.Store(int32(hapticFull))
	return s
}

func dialUDP(endpoint string) (rawConn, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("session: resolve %q: %w", endpoint, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("session: dial %q: %w", endpoint, err)
	}
	return conn, nil
}

// Start runs the handshake to completion and launches every task in §5.
// It blocks until the session reaches READY or the handshake times out.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, err := s.dial(s.identity.HostEndpoint)
	if err != nil {
		return err
	}
	s.conn = conn
	s.connID = uuid.NewString()
	log.Info("session connecting", "sessionID", s.identity.SessionID, "connID", s.connID, "host", s.identity.HostEndpoint)

	s.pool = workerpool.New(s.tune.WorkerPoolSize, s.tune.WorkerPoolQueueSize)
	s.rawIn = make(chan []byte, s.tune.PipelineOutputCap)

	s.wg.Add(1)
	go s.receiveLoop()

	if err := s.runHandshake(ctx); err != nil {
		s.Stop()
		return err
	}

	s.supervisor = supervisor.New(supervisor.Config{
		DegradedHeavyThreshold:   s.tune.DegradedHeavyThreshold,
		ReconnectThreshold:       s.tune.ReconnectThreshold,
		NoPacketTimeout:          s.tune.StallThreshold,
		RecoverySuccessThreshold: s.tune.RecoverySuccessThreshold,
		RecoveryFrameAdvance:     uint16(s.tune.RecoveryFrameAdvance),
		RecoveryMinElapsed:       s.tune.RecoveryMinElapsed,
	}, supervisor.Callbacks{
		RequestKeyframe:  func() { s.idrReq.RequestNow() },
		SetSustained:     func(on bool) { s.congCtrl.SetSustained(on) },
		SendCorruptFrame: func(start, end uint16) {
			if err := s.sendCorruptFrame(start, end); err != nil {
				log.Warn("send corrupt frame report failed", "error", err)
			}
		},
		ResetStreamState: s.resetStreamState,
		ReconnectTakion:  s.reconnectTakion,
		OnStateChange:    s.onSupervisorStateChange,
	})

	s.startRuntimeTasks()
	return nil
}

// Stop idempotently tears the session down: every task exits within its
// own cadence, the socket is closed, and Stop returns once everything has
// settled or a 1 s budget elapses (§5 cancellation contract).
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.idrReq != nil {
			s.idrReq.Stop()
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}

		waitDone := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-time.After(time.Second):
			log.Warn("session stop: task shutdown budget exceeded")
		}

		if s.pool != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			s.pool.Shutdown(ctx)
			cancel()
		}
		log.Info("session stopped", "sessionID", s.identity.SessionID)
	})
}

// cipherOrNil returns the current StreamCipher, or nil before BANG.
func (s *Session) cipherOrNil() *cipher.StreamCipher {
	return s.sc.Load()
}

// deriveHandshakeKey builds the pre-BANG handshake key from the
// registration secret and session IV: sha256(secret||session_iv)[:16].
// The full StreamCipher additionally needs ecdh_secret from BANG before
// it can be constructed (§4.1), so BIG itself travels without StreamCipher
// protection — authenticated only by possession of Secret via EncryptedKey.
func deriveHandshakeKey(secret, sessionIV []byte) [16]byte {
	h := sha256.Sum256(append(append([]byte{}, secret...), sessionIV...))
	var out [16]byte
	copy(out[:], h[:16])
	return out
}

// encryptLaunchProof proves possession of Secret without revealing it on
// the wire: AES-CFB over the marshaled LaunchOptions, keyed by Secret and
// seeded by SessionIV. The console already knows Secret from registration
// and can decrypt the same way to validate the BIG request.
func encryptLaunchProof(secret, sessionIV []byte, launch LaunchOptions) ([]byte, error) {
	plain, err := json.Marshal(launch)
	if err != nil {
		return nil, err
	}
	key := sha256.Sum256(secret)
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, sessionIV)
	stream := cryptocipher.NewCFBEncrypter(block, iv)
	out := make([]byte, len(plain))
	stream.XORKeyStream(out, plain)
	return out, nil
}

// tsnCache is the bounded FIFO of the last N processed DATA TSNs used to
// suppress duplicate dispatch (§4.10); every DATA is still ACKed.
type tsnCache struct {
	mu    sync.Mutex
	seen  map[uint32]struct{}
	order []uint32
	max   int
}

func newTSNCache(max int) *tsnCache {
	if max < 1 {
		max = 1000
	}
	return &tsnCache{seen: make(map[uint32]struct{}, max), max: max}
}

// SeenOrAdd reports whether tsn was already processed, and otherwise
// records it, evicting the oldest entry once the FIFO is full.
func (c *tsnCache) SeenOrAdd(tsn uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[tsn]; ok {
		return true
	}
	c.seen[tsn] = struct{}{}
	c.order = append(c.order, tsn)
	if len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	return false
}

func mustCompactJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out bytes.Buffer
	_ = json.Compact(&out, b)
	return out.Bytes()
}
