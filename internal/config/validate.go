package config

import (
	"fmt"
	"strings"
)

var validHostTypes = map[string]bool{
	"ps4": true,
	"ps5": true,
}

var validLaunchCodecs = map[string]bool{
	"h264": true,
	"h265": true,
	"av1":  true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits config problems into Fatals (block startup) and
// Warnings (auto-corrected or merely surprising, logged and continued).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just want
// a flat list to print.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Values that would
// make the engine misbehave rather than merely run with a nonstandard
// cadence (bad host_type, reorder queue sized below its own start size) are
// fatal. Everything else is clamped to a safe value and reported as a
// warning.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if !validHostTypes[strings.ToLower(c.HostType)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("host_type %q must be ps4 or ps5", c.HostType))
	}

	if c.StreamPort <= 0 || c.StreamPort > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("stream_port %d is not a valid UDP port", c.StreamPort))
	}
	if c.SenkushaPort <= 0 || c.SenkushaPort > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("senkusha_port %d is not a valid UDP port", c.SenkushaPort))
	}

	if c.LaunchCodec != "" && !validLaunchCodecs[strings.ToLower(c.LaunchCodec)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("launch_codec %q must be one of h264, h265, av1", c.LaunchCodec))
	}

	if c.VideoReorderSizeMax < c.VideoReorderSizeStart {
		r.Fatals = append(r.Fatals, fmt.Errorf(
			"video_reorder_size_max %d is below video_reorder_size_start %d",
			c.VideoReorderSizeMax, c.VideoReorderSizeStart))
	}

	clampInt(&r, &c.LaunchWidth, 256, 7680, "launch_width")
	clampInt(&r, &c.LaunchHeight, 256, 4320, "launch_height")
	clampInt(&r, &c.LaunchFPS, 15, 120, "launch_fps")
	clampInt(&r, &c.LaunchBitrateKbps, 1000, 100000, "launch_bitrate_kbps")

	clampInt(&r, &c.VideoReorderSizeStart, 1, 4096, "video_reorder_size_start")
	clampInt(&r, &c.VideoReorderTimeoutMs, 1, 5000, "video_reorder_timeout_ms")
	clampInt(&r, &c.MaxFrameWaitMs, 1, 5000, "max_frame_wait_ms")
	clampInt(&r, &c.PipelineOutputCapacity, 1, 65536, "pipeline_output_capacity")
	clampInt(&r, &c.DuplicateTSNCacheSize, 1, 1_000_000, "duplicate_tsn_cache_size")

	clampInt(&r, &c.HeartbeatIntervalMs, 10, 60_000, "heartbeat_interval_ms")
	clampInt(&r, &c.FeedbackStateIntervalMs, 10, 60_000, "feedback_state_interval_ms")
	clampInt(&r, &c.CongestionIntervalMs, 10, 60_000, "congestion_interval_ms")
	clampInt(&r, &c.StallCheckIntervalMs, 10, 60_000, "stall_check_interval_ms")
	clampInt(&r, &c.StallThresholdMs, 1000, 120_000, "stall_threshold_ms")

	clampInt(&r, &c.IDRBurstCount, 1, 100, "idr_burst_count")
	clampInt(&r, &c.IDRBurstIntervalMs, 10, 60_000, "idr_burst_interval_ms")
	clampInt(&r, &c.IDRSteadyIntervalMs, 10, 60_000, "idr_steady_interval_ms")
	clampInt(&r, &c.IDRCooldownMs, 10, 60_000, "idr_cooldown_ms")

	clampInt(&r, &c.DegradedLightThreshold, 1, 100, "degraded_light_threshold")
	clampInt(&r, &c.DegradedHeavyThreshold, c.DegradedLightThreshold, 1000, "degraded_heavy_threshold")
	clampInt(&r, &c.NoPacketTimeoutMs, 1000, 300_000, "no_packet_timeout_ms")
	clampInt(&r, &c.RecoverySuccessThreshold, 1, 1000, "recovery_success_threshold")
	clampInt(&r, &c.RecoveryFrameAdvance, 1, 1000, "recovery_frame_advance")
	clampInt(&r, &c.RecoveryMinElapsedMs, 0, 60_000, "recovery_min_elapsed_ms")

	clampInt(&r, &c.WorkerPoolSize, 1, 256, "worker_pool_size")
	clampInt(&r, &c.WorkerPoolQueueSize, 1, 65536, "worker_pool_queue_size")

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

// clampInt forces *v into [min, max], recording a warning if it had to.
func clampInt(r *ValidationResult, v *int, min, max int, name string) {
	if *v < min {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", name, *v, min))
		*v = min
	} else if *v > max {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", name, *v, max))
		*v = max
	}
}
