package config

import (
	"strings"
	"time"

	"github.com/pixelvault/pixelvault/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyCacheDefaults(&cfg.Cache)
	applyUpstreamDefaults(&cfg.Upstream)
	applyResizerDefaults(&cfg.Resizer)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Must outlast the upstream fetch, which can take a full minute.
		cfg.WriteTimeout = 90 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	// Root has no default; it is required and must be configured.
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 4 * bytesize.MiB
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
}

func applyResizerDefaults(cfg *ResizerConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.RecycleAfter == 0 {
		cfg.RecycleAfter = 250
	}
}

// applyMetricsDefaults sets metrics defaults. Metrics are opt-in; the port
// defaults to 9090 once enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config with all default values applied.
// Useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			Root: "/var/cache/pixelvault",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
