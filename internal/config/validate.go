package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for values that would leave the notifier
// in a broken state. Empty optional values are allowed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DaemonSocketPath) == "" {
		return fmt.Errorf("config: daemon_socket_path must not be empty")
	}
	if c.SilenceDurationSeconds < 0 {
		return fmt.Errorf("config: silence_duration_seconds must not be negative (got %d)", c.SilenceDurationSeconds)
	}
	if c.LogMaxSizeMB < 0 {
		return fmt.Errorf("config: log_max_size_mb must not be negative (got %d)", c.LogMaxSizeMB)
	}
	if c.LogMaxBackups < 0 {
		return fmt.Errorf("config: log_max_backups must not be negative (got %d)", c.LogMaxBackups)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log_format must be \"text\" or \"json\" (got %q)", c.LogFormat)
	}
	if c.PushEnabled && strings.TrimSpace(c.SyncServerURL) == "" {
		return fmt.Errorf("config: push_enabled requires sync_server_url")
	}
	return nil
}
