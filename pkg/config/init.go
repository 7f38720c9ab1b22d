package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the annotated configuration written by `pixelvault init`.
const sampleConfig = `# pixelvault Configuration File
#
# Every option can be overridden with an environment variable:
#   PIXELVAULT_<SECTION>_<KEY> (underscores for nested keys)
# Example: PIXELVAULT_LOGGING_LEVEL=DEBUG

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text or json
  format: text
  # Where logs are written: stdout, stderr, or a file path
  output: stdout

server:
  # Listen port for proxy traffic
  port: 8080
  # Mount prefix under which image paths are interpreted
  prefix: /
  # write_timeout must exceed upstream.timeout; a first request for a URL
  # holds the response open for the whole download
  read_timeout: 10s
  write_timeout: 90s
  idle_timeout: 60s

cache:
  # Cache directory (required)
  root: /var/cache/pixelvault
  # Entry lifetime
  ttl: 720h

upstream:
  # Payload size cap; human-readable sizes accepted ("4Mi", "500Ki")
  max_size: 4Mi
  # Whole-exchange timeout, headers and body
  timeout: 60s
  # Hosts whose responses always skip the cache read
  bypass_hosts: []
  # Spool directory for in-progress downloads (default: system temp dir)
  # temp_dir: /var/spool/pixelvault

referer:
  # Regex patterns a Referer header may match; empty allows everything
  allowed: []

resizer:
  # Subprocess worker count
  workers: 4
  # Jobs per worker before recycling
  recycle_after: 250

metrics:
  enabled: false
  port: 9090

assets:
  # Directory holding toolarge.gif, badformat.gif, cannotread.gif.
  # Missing files fall back to generated placeholders.
  # dir: /etc/pixelvault/assets
  watch: false

# Maximum time to wait for graceful shutdown
shutdown_timeout: 30s
`

// InitConfig writes the sample configuration to the default location and
// returns the path. Refuses to overwrite unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
