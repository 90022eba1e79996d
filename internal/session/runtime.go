package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/remoteplay/takion/internal/cipher"
	"github.com/remoteplay/takion/internal/congestion"
	"github.com/remoteplay/takion/internal/feedback"
	"github.com/remoteplay/takion/internal/frame"
	"github.com/remoteplay/takion/internal/idr"
	"github.com/remoteplay/takion/internal/pipeline"
	"github.com/remoteplay/takion/internal/supervisor"
	"github.com/remoteplay/takion/internal/takionpb"
	"github.com/remoteplay/takion/internal/wire"
)

// data_type values carried as the first byte of a decrypted DATA chunk
// payload (§4.10's "Incoming dispatch by data_type").
const (
	dataTypeProtobuf       uint8 = 0
	dataTypeRumble         uint8 = 7
	dataTypePadInfo        uint8 = 9
	dataTypeTriggerEffects uint8 = 11
)

// channelControl carries BIG/BANG/STREAMINFOACK/HEARTBEAT/
// CONTROLLERCONNECTION/IDRREQUEST traffic; channelCorruptFrame is the
// dedicated channel the emergency-recovery supervisor reports ranges on
// (scenario 3, §8).
const (
	channelControl      uint16 = 0
	channelCorruptFrame uint16 = 2
)

// hapticLevel mirrors the host's haptic/trigger-intensity codes carried in
// a pad-info DATA message (§4.10): Off disables rumble entirely, the rest
// scale the raw left/right magnitudes before they reach OnRumble.
type hapticLevel int8

const (
	hapticOff    hapticLevel = -1
	hapticWeak   hapticLevel = 0
	hapticMedium hapticLevel = 1
	hapticFull   hapticLevel = 2
)

func (h hapticLevel) scale() float64 {
	switch h {
	case hapticOff:
		return -1
	case hapticFull:
		return 1.0
	case hapticMedium:
		return 0.5
	case hapticWeak:
		return 0.33
	default:
		return 1.0
	}
}

// startRuntimeTasks launches every long-lived task in §5 once the
// handshake has reached READY: the ingest/video/audio pipeline workers,
// heartbeat, feedback, congestion, IDR requester, the stall-check
// supervisor driver, and the reorder-timeout ticker.
func (s *Session) startRuntimeTasks() {
	sc := s.cipherOrNil()

	s.ingest = pipeline.NewIngestPipeline(cipherAdapter{sc}, s.tune.PipelineOutputCap)
	s.ingest.OnDrop = s.onIngestDrop
	s.video = pipeline.NewVideoPipeline(
		s.tune.VideoReorderSizeStart, s.tune.VideoReorderSizeMax, s.tune.VideoReorderTimeout,
		s.tune.MaxFrameWait, s.tune.PipelineOutputCap,
	)
	s.video.SetReorderCallbacks(s.onReorderDrop, s.onReorderTimeout)
	s.audio = pipeline.NewAudioPipeline(s.tune.MaxFrameWait, s.tune.PipelineOutputCap)

	s.fbSender = feedback.NewSender(sc, feedback.SerializerFor(s.controllerType), s.sendFeedbackRaw)
	s.congCtrl = congestion.NewController(sc, s.sendCongestionRaw)

	s.idrReq.StartAfterBang()

	tasks := []func(){
		s.runIngestWorker,
		s.runVideoWorker,
		s.runAudioWorker,
		s.runHeartbeat,
		s.runFeedback,
		s.runCongestion,
		s.runStallCheck,
		s.runReorderTicker,
	}
	for _, t := range tasks {
		s.wg.Add(1)
		go func(fn func()) {
			defer s.wg.Done()
			fn()
		}(t)
	}
}

// cipherAdapter narrows *cipher.StreamCipher to pipeline.Cipher so the
// pipeline package never imports internal/cipher directly (§9).
type cipherAdapter struct{ sc *cipher.StreamCipher }

func (c cipherAdapter) Decrypt(ciphertext []byte, keyPos uint64) []byte { return c.sc.Decrypt(ciphertext, keyPos) }
func (c cipherAdapter) VerifyGMAC(buf []byte, keyPos uint64, want [4]byte) error {
	return c.sc.VerifyGMAC(buf, keyPos, want)
}

// onIngestDrop, onReorderDrop, and onReorderTimeout attribute pipeline
// losses to their Prometheus counters by stage/reason, a breakdown the
// pipeline and reorder packages themselves stay silent on.
func (s *Session) onIngestDrop(stage string) {
	if s.metrics == nil {
		return
	}
	switch stage {
	case "gmac":
		s.metrics.GMACMismatches.Inc()
	case "parse":
		s.metrics.ParseErrors.Inc()
	default:
		s.metrics.DecryptFailures.Inc()
	}
}

func (s *Session) onReorderDrop(seq uint16) {
	if s.metrics != nil {
		s.metrics.ReorderDrops.WithLabelValues("late").Inc()
	}
}

func (s *Session) onReorderTimeout() {
	if s.metrics != nil {
		s.metrics.ReorderTimeouts.Inc()
	}
}

func newIDRRequesterFor(s *Session) *idr.Requester {
	return idr.New(idr.Config{
		BurstCount:     s.tune.IDRBurstCount,
		BurstInterval:  s.tune.IDRBurstInterval,
		SteadyInterval: s.tune.IDRSteady,
		Cooldown:       s.tune.IDRCooldown,
	}, s.sendIDRRequest)
}

// --- receive path -----------------------------------------------------

// receiveLoop is task 1 of §5: it blocks on recv-with-timeout, dispatching
// every datagram by envelope type. A read timeout is non-fatal; only the
// stall-check task (watching last_packet_received_time) decides whether
// silence means trouble.
func (s *Session) receiveLoop() {
	defer s.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			log.Warn("udp receive error", "error", err)
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleDatagram(datagram)
	}
}

func (s *Session) handleDatagram(buf []byte) {
	if len(buf) < 1 {
		return
	}
	now := time.Now()
	s.lastPktAt.Store(now)
	if s.supervisor != nil {
		s.supervisor.NotePacketReceived(now)
	}

	switch wire.PacketType(buf[0] & 0x0F) {
	case wire.TypeVideo:
		if s.ingest != nil {
			_ = s.ingest.HandleDatagram(buf)
		}
	case wire.TypeAudio:
		if s.ingest != nil {
			_ = s.ingest.HandleDatagram(buf)
		}
	case wire.TypeControl:
		pkt, err := wire.Parse(buf)
		if err != nil {
			if s.metrics != nil {
				s.metrics.ParseErrors.Inc()
			}
			return
		}
		if s.handshakeCh != nil {
			select {
			case s.handshakeCh <- pkt:
			default:
			}
			return
		}
		s.dispatchControl(buf, pkt)
	default:
		// Feedback/congestion/ack-only envelopes are outbound-only from
		// the client's perspective; nothing of that shape arrives here.
	}
}

// dispatchControl handles a CONTROL packet once the session is past the
// handshake: DATA_ACK (peer acking our sends, nothing to do) and DATA
// (decrypt, ack, duplicate-suppress, dispatch by data_type; §4.10).
func (s *Session) dispatchControl(raw []byte, pkt *wire.Packet) {
	switch pkt.ChunkType {
	case wire.ChunkDataAck:
		return
	case wire.ChunkData:
		s.handleIncomingData(raw, pkt)
	default:
	}
}

func (s *Session) handleIncomingData(raw []byte, pkt *wire.Packet) {
	sc := s.cipherOrNil()
	if sc == nil {
		return
	}
	keyPos := uint64(pkt.Envelope.KeyPos)
	if err := sc.VerifyGMAC(wire.GMACInput(raw), keyPos, gmacBytes32(pkt.Envelope.GMAC)); err != nil {
		if s.metrics != nil {
			s.metrics.GMACMismatches.Inc()
		}
		return
	}
	plain := sc.Decrypt(pkt.Data, keyPos)

	// Every DATA is acked regardless of duplicate status (§4.10).
	s.sendDataAck(pkt.TSN)

	if s.seen.SeenOrAdd(pkt.TSN) {
		return
	}
	if len(plain) < 1 {
		return
	}

	dataType, body := plain[0], plain[1:]
	switch dataType {
	case dataTypeProtobuf:
		s.dispatchProtobuf(body)
	case dataTypeRumble:
		s.dispatchRumble(body)
	case dataTypePadInfo:
		s.dispatchPadInfo(body)
	case dataTypeTriggerEffects:
		s.dispatchTriggerEffects(body)
	}
}

func gmacBytes32(v uint32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b
}

func (s *Session) dispatchProtobuf(body []byte) {
	mt, inner, err := takionpb.Unwrap(body)
	if err != nil {
		return
	}
	switch mt {
	case takionpb.TypeHeartbeat:
		// Echo within the same tick (§4.10 step 6).
		_ = s.sendEncryptedData(takionpb.Wrap(takionpb.TypeHeartbeat, takionpb.Heartbeat{}.Marshal()), channelControl, 0)
	case takionpb.TypeDisconnect:
		s.handleDisconnect(inner)
	case takionpb.TypeStreamInfo:
		_ = s.handleStreamInfo(inner)
	case takionpb.TypeBang:
		// Only relevant mid-handshake; handshakeCh already routes BANG
		// there, so a BANG arriving here post-READY is a stray retransmit.
	default:
	}
}

func (s *Session) handleDisconnect(body []byte) {
	if s.reconAt.Load() {
		// Ignored during emergency reconnect (§4.9, §7): the console's
		// Disconnect during our own reset window is expected noise.
		return
	}
	reason := ""
	if d, err := takionpb.UnmarshalDisconnect(body); err == nil {
		reason = d.Reason
	}
	s.dispatchCallback(func() { s.cb.disconnect(reason) })
}

func (s *Session) dispatchRumble(body []byte) {
	if len(body) < 3 {
		return
	}
	left, right := body[1], body[2]
	scale := s.hapticScale()
	if scale < 0 {
		return
	}
	s.dispatchCallback(func() { s.cb.rumble(float64(left)/255.0*scale, float64(right)/255.0*scale) })
}

func (s *Session) dispatchPadInfo(body []byte) {
	if len(body) < 5 {
		return
	}
	var led [3]byte
	copy(led[:], body[0:3])
	player := body[3]
	motionReset := body[4] != 0
	if len(body) >= 6 {
		s.setHapticLevel(hapticLevel(int8(body[5])))
	}
	if len(body) >= 7 {
		s.setTriggerLevel(hapticLevel(int8(body[6])))
	}
	s.dispatchCallback(func() { s.cb.padInfo(led, player, motionReset) })
}

func (s *Session) dispatchTriggerEffects(body []byte) {
	if s.triggerScale() < 0 {
		return
	}
	// The opaque adaptive-trigger payload is gated on the trigger level and
	// then discarded: no Callbacks hook or EngineEvent carries trigger
	// effects, so none of it reaches the receiver.
	_ = body
}

func (s *Session) hapticScale() float64 {
	return hapticLevel(s.hapticLevelBits.Load()).scale()
}

func (s *Session) setHapticLevel(h hapticLevel) {
	s.hapticLevelBits.Store(int32(h))
}

func (s *Session) triggerScale() float64 {
	return hapticLevel(s.triggerLevelBits.Load()).scale()
}

func (s *Session) setTriggerLevel(h hapticLevel) {
	s.triggerLevelBits.Store(int32(h))
}

// handleStreamInfo implements §4.10 step 5: register profiles, forward
// padded headers to the receiver, ack, announce the controller, and
// schedule an IDR request 250ms out.
func (s *Session) handleStreamInfo(body []byte) error {
	si, err := takionpb.UnmarshalStreamInfo(body)
	if err != nil {
		return fmt.Errorf("session: parse STREAMINFO: %w", err)
	}
	resolutions := make([]struct {
		Width, Height int32
		VideoHeader   []byte
	}, len(si.Resolution))
	for i, r := range si.Resolution {
		resolutions[i].Width = r.Width
		resolutions[i].Height = r.Height
		resolutions[i].VideoHeader = r.VideoHeader
	}
	s.adapt.SetProfiles(resolutions)

	if profile, ok := s.adapt.Current(); ok {
		video, audio := profile.VideoHeader, si.AudioHeader
		s.dispatchCallback(func() { s.cb.streamInfo(video, audio) })
	}

	if err := s.sendEncryptedData(takionpb.Wrap(takionpb.TypeStreamInfoAck, takionpb.StreamInfoAck{}.Marshal()), channelControl, 0); err != nil {
		return err
	}
	cc := takionpb.ControllerConnection{Connected: true, ControllerType: s.controllerType}
	if err := s.sendEncryptedData(takionpb.Wrap(takionpb.TypeControllerConnection, cc.Marshal()), channelControl, 0); err != nil {
		return err
	}

	time.AfterFunc(250*time.Millisecond, func() {
		if s.idrReq != nil {
			s.idrReq.RequestNow()
		}
	})
	return nil
}

// --- pipeline workers ---------------------------------------------------

func (s *Session) runIngestWorker() {
	// IngestPipeline.HandleDatagram is invoked directly from
	// handleDatagram (the UDP receive task); this worker instead drains
	// the per-kind output channels into the video/audio pipelines, which
	// is the single-reader side §4.5 describes.
	video := s.ingest.VideoOut()
	audio := s.ingest.AudioOut()
	for {
		select {
		case <-s.done:
			return
		case p, ok := <-video:
			if !ok {
				return
			}
			if profile, switched := s.adapt.Observe(p.AdaptiveStreamIndex); switched {
				vh := profile.VideoHeader
				s.dispatchCallback(func() { s.cb.streamInfo(vh, nil) })
			}
			s.video.Push(p)
		case p, ok := <-audio:
			if !ok {
				return
			}
			s.audio.Push(p)
		}
	}
}

func (s *Session) runVideoWorker() {
	health := s.video.HealthEvents
	corrupt := s.video.Corrupt
	out := s.video.Out()
	for {
		select {
		case <-s.done:
			return
		case vf, ok := <-out:
			if !ok {
				return
			}
			s.cb.videoFrame(vf.Data, vf.IsKeyframe, vf.FrameIndex)
		case ev, ok := <-health:
			if !ok {
				return
			}
			s.onHealthEvent("video", ev)
		case cr, ok := <-corrupt:
			if !ok {
				return
			}
			_ = s.sendCorruptFrame(cr.Start, cr.End)
		}
	}
}

func (s *Session) runAudioWorker() {
	health := s.audio.HealthEvents
	out := s.audio.Out()
	for {
		select {
		case <-s.done:
			return
		case af, ok := <-out:
			if !ok {
				return
			}
			s.cb.audioFrame(af.Data, af.FrameIndex)
		case ev, ok := <-health:
			if !ok {
				return
			}
			s.onHealthEvent("audio", ev)
		}
	}
}

// dispatchCallback fans a single callback invocation out through the
// bounded worker pool so a slow consumer can never stall the receive
// dispatch loop or a pipeline worker; if the pool is absent or its queue
// is full, task runs inline rather than dropping the occurrence.
func (s *Session) dispatchCallback(task func()) {
	if s.pool == nil || !s.pool.Submit(task) {
		task()
	}
}

func (s *Session) onHealthEvent(kind string, ev frame.HealthEvent) {
	s.dispatchCallback(func() { s.cb.health(ev) })
	if s.metrics != nil {
		switch ev.Status {
		case frame.Success, frame.Recovered:
			s.metrics.FramesCompleted.WithLabelValues(kind).Inc()
		case frame.Frozen:
			s.metrics.FramesFrozen.WithLabelValues(kind).Inc()
		case frame.Dropped:
			s.metrics.FramesDropped.WithLabelValues(kind).Inc()
		}
	}
	if s.supervisor != nil {
		s.supervisor.Observe(ev)
	}
}

// --- periodic tasks -----------------------------------------------------

func (s *Session) runHeartbeat() {
	t := time.NewTicker(s.tune.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if s.cipherOrNil() == nil {
				continue
			}
			_ = s.sendEncryptedData(takionpb.Wrap(takionpb.TypeHeartbeat, takionpb.Heartbeat{}.Marshal()), channelControl, 0)
		}
	}
}

func (s *Session) runFeedback() {
	t := time.NewTicker(s.tune.FeedbackInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			s.fbSender.Tick(now)
		}
	}
}

func (s *Session) runCongestion() {
	t := time.NewTicker(s.tune.CongestionInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.congCtrl.Tick()
			if s.metrics != nil {
				s.metrics.CongestionSent.Inc()
			}
		}
	}
}

func (s *Session) runReorderTicker() {
	t := time.NewTicker(s.tune.VideoReorderTimeout)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.video.FlushReorder()
		}
	}
}

// runStallCheck is task 9 of §5: every StallCheckInterval, check whether
// the socket has gone silent past StallThreshold and the supervisor
// hasn't already started a recovery; if so, synthesize a Dropped event,
// request a keyframe, and resend CONTROLLER_CONNECTION as a light wake
// attempt (§4.10).
func (s *Session) runStallCheck() {
	t := time.NewTicker(s.tune.StallCheckInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-t.C:
			s.video.CheckStall(now)
			s.audio.CheckStall(now)
			s.supervisor.CheckStall(now)

			last, _ := s.lastPktAt.Load().(time.Time)
			if !last.IsZero() && now.Sub(last) > s.tune.StallThreshold && !s.reconAt.Load() {
				if s.idrReq != nil {
					s.idrReq.RequestNow()
				}
				cc := takionpb.ControllerConnection{Connected: true, ControllerType: s.controllerType}
				_ = s.sendEncryptedData(takionpb.Wrap(takionpb.TypeControllerConnection, cc.Marshal()), channelControl, 0)
			}
		}
	}
}

// --- outgoing send helpers ----------------------------------------------

func (s *Session) sendIDRRequest() {
	if err := s.sendEncryptedData(takionpb.Wrap(takionpb.TypeIDRRequest, takionpb.IDRRequest{}.Marshal()), channelControl, 0); err != nil {
		log.Warn("send IDRREQUEST failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IDRRequestsTotal.Inc()
	}
}

// sendCorruptFrame reports a [start, end) frame range the assembler never
// saw any unit for. A range with start > end is swapped rather than
// treated as an error — takionpb.CorruptFrame.Marshal already does the
// swap.
func (s *Session) sendCorruptFrame(start, end uint16) error {
	cf := takionpb.CorruptFrame{Start: int32(start), End: int32(end)}
	return s.sendEncryptedData(takionpb.Wrap(takionpb.TypeCorruptFrame, cf.Marshal()), channelCorruptFrame, 0)
}

func (s *Session) sendDataAck(tsn uint32) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	buf := wire.BuildDataAck(tsn)

	sc := s.cipherOrNil()
	if sc == nil {
		wire.SetHeader(buf, s.tagRemote, [4]byte{}, 0)
		_, _ = s.conn.Write(buf)
		return
	}

	keyPos := sc.KeyPos()
	wire.SetHeader(buf, s.tagRemote, [4]byte{}, uint32(keyPos))
	tag := sc.GMACAt(wire.GMACInput(buf), keyPos)
	wire.SetHeader(buf, s.tagRemote, tag, uint32(keyPos))

	if _, err := s.conn.Write(buf); err != nil {
		log.Warn("send DATA_ACK failed", "error", err)
		return
	}
	// DATA_ACK advances key_pos by a fixed opcode-specific constant
	// rather than by its own payload length, since it carries no
	// encrypted payload of its own.
	sc.Advance(dataAckKeyPosAdvance)
}

const dataAckKeyPosAdvance = 29

// sendEncryptedData builds and sends one DATA chunk under the single
// send-lock (§4.10, §5): the payload is encrypted at the cipher's current
// key_pos, the header is stamped with (tag_remote, gmac, key_pos), and
// only after the write succeeds does the cipher advance — so the header
// that reaches the wire always matches the cipher state that produced it.
func (s *Session) sendEncryptedData(payload []byte, channel uint16, flag uint8) error {
	sc := s.cipherOrNil()
	if sc == nil {
		return errNoCipher
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	keyPos := sc.KeyPos()
	ciphertext := sc.Encrypt(payload, keyPos)

	s.mu.Lock()
	tsn := s.tsn
	s.tsn++
	tagRemote := s.tagRemote
	s.mu.Unlock()

	buf := wire.BuildData(tsn, channel, flag, ciphertext)
	wire.SetHeader(buf, tagRemote, [4]byte{}, uint32(keyPos))
	tag := sc.GMACAt(wire.GMACInput(buf), keyPos)
	wire.SetHeader(buf, tagRemote, tag, uint32(keyPos))

	if _, err := s.conn.Write(buf); err != nil {
		return fmt.Errorf("session: send DATA: %w", err)
	}
	sc.Advance(uint64(len(payload)))
	if s.metrics != nil {
		s.metrics.CipherKeyPos.Set(float64(sc.KeyPos()))
	}
	return nil
}

var errNoCipher = errors.New("session: stream cipher not ready")

func (s *Session) sendFeedbackRaw(buf []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if _, err := s.conn.Write(buf); err != nil {
		log.Warn("send feedback failed", "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.FeedbackSent.WithLabelValues(feedbackKindLabel(buf)).Inc()
	}
}

func feedbackKindLabel(buf []byte) string {
	if len(buf) > 0 && buf[0] == 0x02 {
		return "event"
	}
	return "state"
}

func (s *Session) sendCongestionRaw(buf []byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_, _ = s.conn.Write(buf)
}

// UpdateControllerState feeds the latest stick/trigger/dpad snapshot to
// the feedback sender (the SessionControl.update_controller_state
// surface of §6).
func (s *Session) UpdateControllerState(state feedback.ControllerState) {
	if s.fbSender != nil {
		s.fbSender.UpdateState(state)
	}
}

// ReportButton reports a button press/release transition immediately
// (§4.6), coalescing with the next state tick if within 16ms.
func (s *Session) ReportButton(button feedback.Button, isPress bool) {
	if s.fbSender != nil {
		s.fbSender.ReportButton(button, isPress, time.Now())
	}
}

// RequestKeyframe is the public request_keyframe() surface of §6/§4.10:
// rate-limited, and deferred until the cipher is ready if called early.
func (s *Session) RequestKeyframe() {
	if s.idrReq != nil {
		s.idrReq.RequestNow()
	}
}

// --- emergency recovery callbacks (§4.9) --------------------------------

func (s *Session) onSupervisorStateChange(from, to supervisor.State) {
	log.Info("emergency recovery transition", "from", from, "to", to)
	if s.metrics != nil {
		s.metrics.SupervisorState.Set(float64(to))
		s.metrics.SupervisorTrans.WithLabelValues(to.String()).Inc()
	}
}

// resetStreamState clears the stream cipher, tag_remote, the TSN counter,
// the ready flag, and the duplicate-TSN cache in preparation for a full
// Takion reconnect (§4.9), without releasing the outer user session:
// Identity, LaunchOptions, and every registered callback are left
// untouched. The ECDH key pair and cached STREAMINFO profiles are not
// cleared here; the rerun handshake replaces them.
func (s *Session) resetStreamState() {
	s.sc.Store(nil)
	s.mu.Lock()
	s.tagRemote = 0
	s.tsn = 0
	s.mu.Unlock()
	s.ready.Store(false)
	s.seen = newTSNCache(s.tune.DuplicateTSNCacheSize)
}

// reconnectTakion re-runs the handshake against a fresh socket while
// preserving session_id/secret/session_iv/launch_options, then rehydrates
// every cipher-dependent subsystem (§4.9's reconnect_takion contract).
// Incoming Disconnect messages are ignored for the duration (enforced by
// reconAt in dispatchProtobuf/handleDisconnect).
func (s *Session) reconnectTakion() error {
	s.reconAt.Store(true)
	defer s.reconAt.Store(false)

	if s.conn != nil {
		_ = s.conn.Close()
	}
	conn, err := s.dial(s.identity.HostEndpoint)
	if err != nil {
		return fmt.Errorf("session: reconnect dial: %w", err)
	}
	s.conn = conn
	s.connID = uuid.NewString()
	log.Info("session reconnecting", "sessionID", s.identity.SessionID, "connID", s.connID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.runHandshake(ctx); err != nil {
		return fmt.Errorf("session: reconnect handshake: %w", err)
	}

	sc := s.cipherOrNil()
	s.fbSender = feedback.NewSender(sc, feedback.SerializerFor(s.controllerType), s.sendFeedbackRaw)
	s.congCtrl = congestion.NewController(sc, s.sendCongestionRaw)
	s.ingest = pipeline.NewIngestPipeline(cipherAdapter{sc}, s.tune.PipelineOutputCap)
	s.ingest.OnDrop = s.onIngestDrop

	if s.metrics != nil {
		s.metrics.ReconnectsTotal.Inc()
	}
	log.Info("emergency reconnect complete", "sessionID", s.identity.SessionID, "connID", s.connID)
	return nil
}
