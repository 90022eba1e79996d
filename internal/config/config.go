// Package config loads the Takion engine's tunables: stream ports, reorder
// and frame-assembly limits, task cadences, emergency-recovery thresholds,
// and launch-option defaults. Session identity (session_id, secret,
// session_iv, host_endpoint) comes from the registration layer at runtime,
// not from this file — it is immutable to the engine per session and has no
// business living in a config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/remoteplay/takion/internal/logging"
)

var log = logging.L("config")

type Config struct {
	// HostType selects the feedback payload shape and default stream ports.
	HostType     string `mapstructure:"host_type"` // "ps4" or "ps5"
	StreamPort   int    `mapstructure:"stream_port"`
	SenkushaPort int    `mapstructure:"senkusha_port"`

	// Launch options sent during BIG, before the console has advertised
	// its own STREAMINFO profiles.
	LaunchWidth       int    `mapstructure:"launch_width"`
	LaunchHeight      int    `mapstructure:"launch_height"`
	LaunchFPS         int    `mapstructure:"launch_fps"`
	LaunchBitrateKbps int    `mapstructure:"launch_bitrate_kbps"`
	LaunchCodec       string `mapstructure:"launch_codec"` // h264, h265, av1
	LaunchHDR         bool   `mapstructure:"launch_hdr"`

	// Reorder queue and frame-assembly limits (video only reorders; audio
	// takes the fast path).
	VideoReorderSizeStart  int `mapstructure:"video_reorder_size_start"`
	VideoReorderSizeMax    int `mapstructure:"video_reorder_size_max"`
	VideoReorderTimeoutMs  int `mapstructure:"video_reorder_timeout_ms"`
	MaxFrameWaitMs         int `mapstructure:"max_frame_wait_ms"`
	PipelineOutputCapacity int `mapstructure:"pipeline_output_capacity"`
	DuplicateTSNCacheSize  int `mapstructure:"duplicate_tsn_cache_size"`

	// Task cadences, all owned by TakionSession.
	HeartbeatIntervalMs     int `mapstructure:"heartbeat_interval_ms"`
	FeedbackStateIntervalMs int `mapstructure:"feedback_state_interval_ms"`
	CongestionIntervalMs    int `mapstructure:"congestion_interval_ms"`
	StallCheckIntervalMs    int `mapstructure:"stall_check_interval_ms"`
	StallThresholdMs        int `mapstructure:"stall_threshold_ms"`

	IDRBurstCount       int `mapstructure:"idr_burst_count"`
	IDRBurstIntervalMs  int `mapstructure:"idr_burst_interval_ms"`
	IDRSteadyIntervalMs int `mapstructure:"idr_steady_interval_ms"`
	IDRCooldownMs       int `mapstructure:"idr_cooldown_ms"`

	// Emergency-recovery supervisor thresholds.
	DegradedLightThreshold   int `mapstructure:"degraded_light_threshold"`
	DegradedHeavyThreshold   int `mapstructure:"degraded_heavy_threshold"`
	NoPacketTimeoutMs        int `mapstructure:"no_packet_timeout_ms"`
	RecoverySuccessThreshold int `mapstructure:"recovery_success_threshold"`
	RecoveryFrameAdvance     int `mapstructure:"recovery_frame_advance"`
	RecoveryMinElapsedMs     int `mapstructure:"recovery_min_elapsed_ms"`

	// Event dispatch worker pool (fans StreamHealthEvent/EngineEvent out to
	// consumers without blocking a task loop).
	WorkerPoolSize      int `mapstructure:"worker_pool_size"`
	WorkerPoolQueueSize int `mapstructure:"worker_pool_queue_size"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// MetricsAddr is the Prometheus listen address; empty disables the
	// metrics HTTP server entirely.
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func Default() *Config {
	return &Config{
		HostType:     "ps5",
		StreamPort:   9296,
		SenkushaPort: 9297,

		LaunchWidth:       1920,
		LaunchHeight:      1080,
		LaunchFPS:         60,
		LaunchBitrateKbps: 15000,
		LaunchCodec:       "h265",
		LaunchHDR:         false,

		VideoReorderSizeStart:  32,
		VideoReorderSizeMax:    128,
		VideoReorderTimeoutMs:  50,
		MaxFrameWaitMs:         50,
		PipelineOutputCapacity: 512,
		DuplicateTSNCacheSize:  1000,

		HeartbeatIntervalMs:     1000,
		FeedbackStateIntervalMs: 200,
		CongestionIntervalMs:    66,
		StallCheckIntervalMs:    2000,
		StallThresholdMs:        8000,

		IDRBurstCount:       5,
		IDRBurstIntervalMs:  500,
		IDRSteadyIntervalMs: 2000,
		IDRCooldownMs:       1000,

		DegradedLightThreshold:   2,
		DegradedHeavyThreshold:   6,
		NoPacketTimeoutMs:        8000,
		RecoverySuccessThreshold: 10,
		RecoveryFrameAdvance:     3,
		RecoveryMinElapsedMs:     2000,

		WorkerPoolSize:      4,
		WorkerPoolQueueSize: 256,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("takion")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TAKION")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("host_type", cfg.HostType)
	viper.Set("stream_port", cfg.StreamPort)
	viper.Set("senkusha_port", cfg.SenkushaPort)
	viper.Set("launch_width", cfg.LaunchWidth)
	viper.Set("launch_height", cfg.LaunchHeight)
	viper.Set("launch_fps", cfg.LaunchFPS)
	viper.Set("launch_bitrate_kbps", cfg.LaunchBitrateKbps)
	viper.Set("launch_codec", cfg.LaunchCodec)
	viper.Set("launch_hdr", cfg.LaunchHDR)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "takion.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0644)
}

// GetDataDir returns the platform-specific data directory for engine state
// (e.g. captured STREAMINFO dumps for diagnostics).
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Takion", "data")
	case "darwin":
		return "/Library/Application Support/Takion/data"
	default:
		return "/var/lib/takion"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Takion")
	case "darwin":
		return "/Library/Application Support/Takion"
	default:
		return "/etc/takion"
	}
}
