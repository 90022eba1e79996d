package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/remoteplay/takion/internal/config"
	"github.com/remoteplay/takion/internal/logging"
	"github.com/remoteplay/takion/pkg/takion"
)

var (
	version = "0.1.0"
	cfgFile string
)

var (
	sessionID    string
	secretHex    string
	sessionIVHex string
	hostEndpoint string
	signingHex   string
	peerKeyHex   string
	metricsAddr  string
	previewAddr  string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "takion-demo",
	Short: "Takion streaming engine demo client",
	Long:  `takion-demo drives a Takion session against a console that has already completed registration, printing decoded frame and health events to the log.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a console and stream until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		runDemo()
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing key pair for local testing",
	Long:  `Prints a hex-encoded Ed25519 private (signing) key and its public (verify) key. The registration layer that exchanges these with the console is out of scope for this engine; keygen exists to produce test fixtures.`,
	Run: func(cmd *cobra.Command, args []string) {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("signing_key=%s\n", hex.EncodeToString(priv))
		fmt.Printf("verify_key=%s\n", hex.EncodeToString(pub))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("takion-demo v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/takion/takion.yaml)")

	runCmd.Flags().StringVar(&sessionID, "session-id", "", "session_id assigned during registration (required)")
	runCmd.Flags().StringVar(&secretHex, "secret", "", "hex-encoded 32-byte shared secret from registration (required)")
	runCmd.Flags().StringVar(&sessionIVHex, "session-iv", "", "hex-encoded 16-byte session IV from registration (required)")
	runCmd.Flags().StringVar(&hostEndpoint, "host", "", "console stream endpoint, host:port (required)")
	runCmd.Flags().StringVar(&signingHex, "signing-key", "", "hex-encoded Ed25519 private key to sign the ECDH exchange (required)")
	runCmd.Flags().StringVar(&peerKeyHex, "peer-verify-key", "", "hex-encoded Ed25519 public key to verify the console's ECDH signature (required)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus listen address, e.g. :9090 (empty disables metrics)")
	runCmd.Flags().StringVar(&previewAddr, "preview-addr", "", "loopback HTTP address serving a /preview WebSocket for frame and feedback events, e.g. :8787 (empty disables preview)")
	for _, name := range []string{"session-id", "secret", "session-iv", "host", "signing-key", "peer-verify-key"} {
		_ = runCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// frameSink is the demo's AVReceiver: it counts frames, logs a summary
// line every 120/480 frames rather than printing per-frame noise, and —
// when a preview hub is attached — forwards per-frame metadata (and, for
// h264 streams, decoded dimensions) to any connected browser tab.
type frameSink struct {
	videoFrames uint64
	audioFrames uint64

	preview *previewHub
	decoder *framePreviewDecoder // nil unless LaunchCodec == "h264"
}

func (f *frameSink) OnVideoFrame(data []byte, isKeyframe bool, frameIndex uint16) {
	f.videoFrames++
	if f.videoFrames%120 == 0 {
		log.Info("video frames decoded", "count", f.videoFrames, "lastFrameIndex", frameIndex, "lastKeyframe", isKeyframe)
	}

	if f.preview == nil {
		return
	}
	msg := previewMessage{Type: "videoFrame", FrameIndex: frameIndex, FrameBytes: len(data), IsKeyframe: isKeyframe}
	if f.decoder != nil {
		if w, h, ok := f.decoder.decode(data); ok {
			msg.FrameWidth, msg.FrameHeight = w, h
		} else {
			msg.DecodeFailed = true
		}
	}
	f.preview.publish(msg)
}

func (f *frameSink) OnAudioFrame(data []byte, frameIndex uint16) {
	f.audioFrames++
	if f.audioFrames%480 == 0 {
		log.Info("audio frames decoded", "count", f.audioFrames, "lastFrameIndex", frameIndex)
	}
}

func runDemo() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	log = logging.L("main")

	identity, err := identityFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid identity flags: %v\n", err)
		os.Exit(1)
	}

	launch := takion.LaunchOptions{
		Width: cfg.LaunchWidth, Height: cfg.LaunchHeight, FPS: cfg.LaunchFPS,
		BitrateKbps: cfg.LaunchBitrateKbps, Codec: cfg.LaunchCodec, HDR: cfg.LaunchHDR,
	}

	reg := takion.NewMetrics(prometheus.DefaultRegisterer)
	metricsSrv := takion.ServeMetrics(cfg.MetricsAddr, prometheus.DefaultGatherer)

	var preview *previewHub
	var previewSrv *http.Server
	if previewAddr != "" {
		preview = newPreviewHub()
		previewSrv = servePreview(previewAddr, preview)
	}

	sink := &frameSink{preview: preview}
	if preview != nil && launch.Codec == "h264" {
		sink.decoder = newFramePreviewDecoder()
	}

	session := takion.New(identity, launch, cfg, sink, reg)

	log.Info("starting session", "sessionID", identity.SessionID, "host", identity.HostEndpoint)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelStart()
	if err := session.Start(startCtx); err != nil {
		log.Error("session failed to start", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range session.Events() {
			logEvent(ev)
			if preview != nil {
				preview.publishEngineEvent(ev)
			}
		}
	}()

	<-sigCh
	log.Info("shutting down")
	session.Stop()
	<-done

	if sink.decoder != nil {
		sink.decoder.close()
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if previewSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		previewSrv.Shutdown(shutdownCtx)
		cancel()
	}
	log.Info("stopped")
}

func logEvent(ev takion.EngineEvent) {
	switch ev.Kind {
	case takion.EventReady:
		log.Info("session ready")
	case takion.EventStreamInfo:
		log.Info("stream info received", "videoHeaderLen", len(ev.VideoHeader), "audioHeaderLen", len(ev.AudioHeader))
	case takion.EventHealth:
		log.Debug("frame health", "status", ev.Health.Status.String(), "frameIndex", ev.Health.FrameIndex)
	case takion.EventRumble:
		log.Debug("rumble", "left", ev.RumbleLeft, "right", ev.RumbleRight)
	case takion.EventPadInfo:
		log.Debug("pad info", "led", ev.LED, "playerIndex", ev.PlayerIndex)
	case takion.EventDisconnected:
		log.Warn("session disconnected", "reason", ev.Reason)
	}
}

func identityFromFlags() (takion.Identity, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return takion.Identity{}, fmt.Errorf("secret: %w", err)
	}
	sessionIV, err := hex.DecodeString(sessionIVHex)
	if err != nil {
		return takion.Identity{}, fmt.Errorf("session-iv: %w", err)
	}
	signingKey, err := hex.DecodeString(signingHex)
	if err != nil {
		return takion.Identity{}, fmt.Errorf("signing-key: %w", err)
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return takion.Identity{}, fmt.Errorf("signing-key must be %d bytes, got %d", ed25519.PrivateKeySize, len(signingKey))
	}
	peerKey, err := hex.DecodeString(peerKeyHex)
	if err != nil {
		return takion.Identity{}, fmt.Errorf("peer-verify-key: %w", err)
	}
	if len(peerKey) != ed25519.PublicKeySize {
		return takion.Identity{}, fmt.Errorf("peer-verify-key must be %d bytes, got %d", ed25519.PublicKeySize, len(peerKey))
	}

	return takion.Identity{
		SessionID:     sessionID,
		Secret:        secret,
		SessionIV:     sessionIV,
		HostEndpoint:  hostEndpoint,
		SigningKey:    ed25519.PrivateKey(signingKey),
		PeerVerifyKey: ed25519.PublicKey(peerKey),
	}, nil
}
