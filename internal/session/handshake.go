package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/remoteplay/takion/internal/backoff"
	"github.com/remoteplay/takion/internal/cipher"
	"github.com/remoteplay/takion/internal/handshake"
	"github.com/remoteplay/takion/internal/takionpb"
	"github.com/remoteplay/takion/internal/wire"
)

// runHandshake drives INIT -> INIT_ACK -> COOKIE -> COOKIE_ACK -> BIG ->
// BANG -> STREAMINFO -> READY (§4.10). It owns the control-packet inbox
// directly; the ingest worker and every other task are not yet running.
func (s *Session) runHandshake(ctx context.Context) error {
	s.handshakeCh = make(chan *wire.Packet, 8)
	defer func() { s.handshakeCh = nil }()

	var tagLocal [4]byte
	_, _ = rand.Read(tagLocal[:])
	s.tagLocal = binary.BigEndian.Uint32(tagLocal[:])
	s.tsn = 1

	initTSN := s.tsn
	if err := s.sendHandshakeRaw(wire.BuildInit(s.tagLocal, initTSN)); err != nil {
		return fmt.Errorf("session: send INIT: %w", err)
	}

	initAck, err := s.awaitControl(ctx, wire.ChunkInitAck, backoff.InitResend, func() error {
		return s.sendHandshakeRaw(wire.BuildInit(s.tagLocal, initTSN))
	})
	if err != nil {
		return fmt.Errorf("session: INIT_ACK: %w", err)
	}
	s.tagRemote = initAck.TagLocal

	if err := s.sendHandshakeRaw(wire.BuildCookie(s.tagLocal, s.tagRemote, initAck.Cookie)); err != nil {
		return fmt.Errorf("session: send COOKIE: %w", err)
	}
	if _, err := s.awaitControl(ctx, wire.ChunkCookieAck, backoff.InitResend, func() error {
		return s.sendHandshakeRaw(wire.BuildCookie(s.tagLocal, s.tagRemote, initAck.Cookie))
	}); err != nil {
		return fmt.Errorf("session: COOKIE_ACK: %w", err)
	}

	kp, err := handshake.NewKeyPair(s.identity.SigningKey)
	if err != nil {
		return fmt.Errorf("session: generate ECDH keypair: %w", err)
	}
	s.keyPair = kp

	proof, err := encryptLaunchProof(s.identity.Secret, s.identity.SessionIV, s.launch)
	if err != nil {
		return fmt.Errorf("session: encrypt launch proof: %w", err)
	}
	big := takionpb.Big{
		ClientVersion: protocolClientVersion,
		SessionKey:    s.identity.SessionID,
		LaunchSpec:    string(mustCompactJSON(s.launch)),
		EncryptedKey:  proof,
		ECDHPub:       kp.Public[:],
		ECDHSig:       kp.Signature,
	}
	bigMsg := takionpb.Wrap(takionpb.TypeBig, big.Marshal())
	if err := s.sendUnencryptedData(bigMsg); err != nil {
		return fmt.Errorf("session: send BIG: %w", err)
	}

	bangPkt, err := s.awaitDataOfType(ctx, takionpb.TypeBang, backoff.BigRetry, func() error {
		return s.sendUnencryptedData(bigMsg)
	})
	if err != nil {
		return fmt.Errorf("session: BANG: %w", err)
	}
	bang, err := takionpb.UnmarshalBang(bangPkt)
	if err != nil {
		return fmt.Errorf("session: parse BANG: %w", err)
	}

	secret, err := kp.DeriveSecret(bang.ECDHPub, bang.ECDHSig, s.identity.PeerVerifyKey)
	if err != nil {
		return fmt.Errorf("session: derive ECDH secret: %w", err)
	}
	hsKey := deriveHandshakeKey(s.identity.Secret, s.identity.SessionIV)
	sc, err := cipher.New(hsKey[:], secret)
	if err != nil {
		return fmt.Errorf("session: build stream cipher: %w", err)
	}
	s.sc.Store(sc)

	if s.idrReq == nil {
		s.idrReq = newIDRRequesterFor(s)
	}

	siPkt, err := s.awaitDataOfType(ctx, takionpb.TypeStreamInfo, backoff.Schedule{}, nil)
	if err != nil {
		return fmt.Errorf("session: STREAMINFO: %w", err)
	}
	if err := s.handleStreamInfo(siPkt); err != nil {
		return fmt.Errorf("session: handle STREAMINFO: %w", err)
	}

	s.ready.Store(true)
	log.Info("session ready", "sessionID", s.identity.SessionID, "connID", s.connID)
	return nil
}

const protocolClientVersion = 1

// sendHandshakeRaw writes a pre-cipher CONTROL packet (INIT/COOKIE) with a
// zeroed gmac/key_pos header, matching the unauthenticated wire state
// before any StreamCipher exists.
func (s *Session) sendHandshakeRaw(buf []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	wire.SetHeader(buf, s.tagRemote, [4]byte{}, 0)
	_, err := s.conn.Write(buf)
	return err
}

// sendUnencryptedData sends a DATA chunk carrying BIG before any
// StreamCipher exists; see deriveHandshakeKey's doc comment for why BIG
// itself can't be GMAC'd.
func (s *Session) sendUnencryptedData(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	tsn := s.tsn
	s.tsn++
	buf := wire.BuildData(tsn, 0, 0, payload)
	wire.SetHeader(buf, s.tagRemote, [4]byte{}, 0)
	_, err := s.conn.Write(buf)
	return err
}

// awaitControl waits for a CONTROL chunk of the given type on the
// handshake inbox, resending via retry on each backoff tick.
func (s *Session) awaitControl(ctx context.Context, want wire.ChunkType, sched backoff.Schedule, retry func() error) (*wire.Packet, error) {
	attempt := 0
	for {
		delay, ok := sched.Next(attempt)
		if !ok {
			delay = time.Second
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.done:
			timer.Stop()
			return nil, fmt.Errorf("session stopped during handshake")
		case pkt := <-s.handshakeCh:
			timer.Stop()
			if pkt.ChunkType == want {
				return pkt, nil
			}
		case <-timer.C:
			attempt++
			if !ok && attempt > 1 {
				return nil, fmt.Errorf("timed out waiting for chunk type %d", want)
			}
			if retry != nil {
				if err := retry(); err != nil {
					return nil, err
				}
			}
		}
	}
}

// awaitDataOfType waits for a DATA chunk whose decrypted (or, pre-cipher,
// plaintext) payload unwraps to the given TakionMessage type.
func (s *Session) awaitDataOfType(ctx context.Context, want takionpb.MessageType, sched backoff.Schedule, retry func() error) ([]byte, error) {
	attempt := 0
	for {
		delay, ok := sched.Next(attempt)
		if !ok {
			delay = 2 * time.Second
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.done:
			timer.Stop()
			return nil, fmt.Errorf("session stopped during handshake")
		case pkt := <-s.handshakeCh:
			timer.Stop()
			if pkt.ChunkType != wire.ChunkData {
				continue
			}
			payload := pkt.Data
			if sc := s.cipherOrNil(); sc != nil && len(payload) > 0 {
				payload = sc.Decrypt(payload, pkt.Envelope.KeyPos)
			}
			if len(payload) < 1 {
				continue
			}
			if payload[0] != dataTypeProtobuf {
				continue
			}
			mt, inner, err := takionpb.Unwrap(payload[1:])
			if err != nil || mt != want {
				continue
			}
			return inner, nil
		case <-timer.C:
			attempt++
			if retry == nil {
				return nil, fmt.Errorf("timed out waiting for message type %d", want)
			}
			if !ok {
				return nil, fmt.Errorf("%w: waiting for message type %d", ErrHandshakeTimeout, want)
			}
			if err := retry(); err != nil {
				return nil, err
			}
		}
	}
}
