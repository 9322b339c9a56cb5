package config

import (
	"os"
	"strconv"
)

// FromEnv overlays FLUME_* environment variables onto cfg. Credentials are
// expected to come from the environment in most deployments.
func FromEnv(cfg *Config) {
	if v := os.Getenv("FLUME_REMOTE_ENDPOINT"); v != "" {
		cfg.Remote.Endpoint = v
	}
	if v := os.Getenv("FLUME_CLIENT_ID"); v != "" {
		cfg.Remote.ClientID = v
	}
	if v := os.Getenv("FLUME_CLIENT_SECRET"); v != "" {
		cfg.Remote.ClientSecret = v
	}
	if v := os.Getenv("FLUME_DEFAULT_DURABLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Defaults.Durable = b
		}
	}
	if v := os.Getenv("FLUME_MAX_INFLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.MaxInflight = n
		}
	}
	if v := os.Getenv("FLUME_OPEN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.OpenTimeoutMs = n
		}
	}
	if v := os.Getenv("FLUME_ACK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.AckTimeoutMs = n
		}
	}
	if v := os.Getenv("FLUME_DRAIN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Defaults.DrainTimeoutMs = n
		}
	}
}
