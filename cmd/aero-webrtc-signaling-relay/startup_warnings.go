package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is unset (any browser origin may connect)",
			"warning_code", "allowed_origins_unset",
			"mode", cfg.Mode,
		)
	} else if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.RateLimitMaxMessages <= 0 || cfg.RateLimitWindow <= 0 {
		logger.Warn("startup security warning: per-connection rate limiting is disabled",
			"warning_code", "rate_limit_disabled",
			"rate_limit_window", cfg.RateLimitWindow,
			"rate_limit_max_messages", cfg.RateLimitMaxMessages,
			"mode", cfg.Mode,
		)
	}

	if cfg.HeartbeatInterval <= 0 {
		logger.Warn("startup security warning: heartbeat sweep is disabled (dead connections are never reaped)",
			"warning_code", "heartbeat_disabled",
			"heartbeat_interval", cfg.HeartbeatInterval,
			"mode", cfg.Mode,
		)
	} else if cfg.HeartbeatInterval < time.Second {
		logger.Warn("startup warning: heartbeat interval is very short (probes every connection each sweep)",
			"warning_code", "heartbeat_interval_short",
			"heartbeat_interval", cfg.HeartbeatInterval,
			"mode", cfg.Mode,
		)
	}

	// Oversized inbound frames are the cheapest memory DoS vector here.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
