package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-level validation
// tags plus a few cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics port %d collides with server port", cfg.Metrics.Port)
	}
	if cfg.Upstream.MaxSize == 0 {
		return fmt.Errorf("upstream max_size must be positive")
	}
	if cfg.Server.WriteTimeout != 0 && cfg.Server.WriteTimeout <= cfg.Upstream.Timeout {
		return fmt.Errorf("server write_timeout (%s) must exceed upstream timeout (%s)",
			cfg.Server.WriteTimeout, cfg.Upstream.Timeout)
	}
	return nil
}
