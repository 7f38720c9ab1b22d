// Package config loads and validates the pixelvault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pixelvault/pixelvault/internal/bytesize"
)

// Config captures the static configuration of the proxy.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PIXELVAULT_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the public HTTP listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Cache configures the on-disk payload cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Upstream bounds the outbound image fetches
	Upstream UpstreamConfig `mapstructure:"upstream" yaml:"upstream"`

	// Referer configures the allowed-referer gate
	Referer RefererConfig `mapstructure:"referer" yaml:"referer"`

	// Resizer configures the transform worker pool
	Resizer ResizerConfig `mapstructure:"resizer" yaml:"resizer"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Assets points at the static error image directory
	Assets AssetsConfig `mapstructure:"assets" yaml:"assets"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	// Port is the listen port for proxy traffic
	// Default: 8080
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Prefix is the mount prefix under which image paths are interpreted
	// Default: "/"
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// ReadTimeout bounds reading the request headers and body
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. It must comfortably exceed
	// the upstream fetch timeout, since a first request for a URL holds the
	// response open for the whole download.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout bounds keep-alive connections
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// CacheConfig configures the on-disk payload cache.
type CacheConfig struct {
	// Root is the cache directory (required)
	// Example: /var/cache/pixelvault
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// TTL is how long entries stay valid
	// Default: 720h (30 days)
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// UpstreamConfig bounds the outbound image fetches.
type UpstreamConfig struct {
	// MaxSize caps upstream payloads
	// Supports human-readable formats: "4Mi", "500Ki", "10MB"
	// Default: 4Mi
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`

	// Timeout bounds a whole upstream exchange, headers and body
	// Default: 60s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// BypassHosts are origin hosts whose responses always skip the cache
	// read (the entry is still written through)
	BypassHosts []string `mapstructure:"bypass_hosts" yaml:"bypass_hosts,omitempty"`

	// TempDir is the spool directory for in-progress downloads
	// Default: a process-private directory under the system temp dir
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
}

// RefererConfig configures the allowed-referer gate.
type RefererConfig struct {
	// Allowed is the list of regex patterns a Referer header may match.
	// Empty means every referer is accepted.
	Allowed []string `mapstructure:"allowed" yaml:"allowed,omitempty"`
}

// ResizerConfig configures the transform worker pool.
type ResizerConfig struct {
	// Workers is the number of subprocess workers
	// Default: 4
	Workers int `mapstructure:"workers" validate:"omitempty,min=1,max=64" yaml:"workers"`

	// RecycleAfter is the per-worker job limit before a restart
	// Default: 250
	RecycleAfter int `mapstructure:"recycle_after" validate:"omitempty,min=1" yaml:"recycle_after"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// AssetsConfig points at the static error image directory.
type AssetsConfig struct {
	// Dir holds toolarge.gif, badformat.gif, and cannotread.gif. Missing
	// files fall back to generated placeholders.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`

	// Watch reloads the assets when files in Dir change
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PIXELVAULT_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  pixelvault init\n\n"+
				"Or specify a custom config file:\n"+
				"  pixelvault <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  pixelvault init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the PIXELVAULT_ prefix with
// underscores, e.g. PIXELVAULT_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("PIXELVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns whether
// a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "4Mi" or "500KB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s" or "720h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, following
// XDG_CONFIG_HOME with a ~/.config fallback.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "pixelvault")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "pixelvault")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
