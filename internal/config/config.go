package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds the notifier agent settings. Loaded from the platform
// config dir (or an explicit file) with WARDEN_* env overrides.
type Config struct {
	DaemonSocketPath    string `mapstructure:"daemon_socket_path"`
	BundleSocketPath    string `mapstructure:"bundle_socket_path"`
	BroadcastSocketPath string `mapstructure:"broadcast_socket_path"`
	DataDir             string `mapstructure:"data_dir"`

	// SilentMode suppresses all on-screen notifications. The distributed
	// broadcast of blocked executions still fires.
	SilentMode bool `mapstructure:"silent_mode"`

	// SilenceDurationSeconds is the period offered to the user when they
	// choose to silence a notification. 0 disables user silencing.
	SilenceDurationSeconds int `mapstructure:"silence_duration_seconds"`

	// BundleHashingEnabled controls whether blocked-execution notifications
	// are enriched with an app bundle hash.
	BundleHashingEnabled bool `mapstructure:"bundle_hashing_enabled"`

	SyncServerURL string `mapstructure:"sync_server_url"`
	PushEnabled   bool   `mapstructure:"push_enabled"`

	LogFormat     string `mapstructure:"log_format"`
	LogLevel      string `mapstructure:"log_level"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	AuditMaxSizeMB  int `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int `mapstructure:"audit_max_backups"`
}

func Default() *Config {
	return &Config{
		DaemonSocketPath:       defaultDaemonSocket(),
		BundleSocketPath:       defaultBundleSocket(),
		BroadcastSocketPath:    defaultBroadcastSocket(),
		DataDir:                defaultDataDir(),
		SilenceDurationSeconds: int(24 * time.Hour / time.Second),
		BundleHashingEnabled:   true,
		LogFormat:              "text",
		LogLevel:               "info",
		LogMaxSizeMB:           20,
		LogMaxBackups:          3,
		AuditMaxSizeMB:         50,
		AuditMaxBackups:        3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("notifier")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WARDEN")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("daemon_socket_path", cfg.DaemonSocketPath)
	viper.Set("bundle_socket_path", cfg.BundleSocketPath)
	viper.Set("broadcast_socket_path", cfg.BroadcastSocketPath)
	viper.Set("data_dir", cfg.DataDir)
	viper.Set("silent_mode", cfg.SilentMode)
	viper.Set("silence_duration_seconds", cfg.SilenceDurationSeconds)
	viper.Set("bundle_hashing_enabled", cfg.BundleHashingEnabled)
	viper.Set("sync_server_url", cfg.SyncServerURL)
	viper.Set("push_enabled", cfg.PushEnabled)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	viper.Set("log_max_backups", cfg.LogMaxBackups)
	viper.Set("audit_max_size_mb", cfg.AuditMaxSizeMB)
	viper.Set("audit_max_backups", cfg.AuditMaxBackups)

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
		cfgPath = filepath.Join(configDir(), "notifier.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// SilenceDuration returns the configured silence period as a time.Duration.
func (c *Config) SilenceDuration() time.Duration {
	return time.Duration(c.SilenceDurationSeconds) * time.Second
}

// GetDataDir returns the directory for the notifier's durable state
// (silence database, local log).
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return defaultDataDir()
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Warden")
	case "darwin":
		return "/Library/Application Support/Warden"
	default:
		return "/etc/warden"
	}
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Warden", "notifier")
	case "darwin":
		return "/Library/Application Support/Warden/notifier"
	default:
		return "/var/lib/warden/notifier"
	}
}

func defaultDaemonSocket() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\warden-daemon`
	}
	return "/var/run/warden/daemon.sock"
}

func defaultBundleSocket() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\warden-bundleservice`
	}
	return "/var/run/warden/bundleservice.sock"
}

func defaultBroadcastSocket() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\warden-events`
	}
	return "/var/run/warden/events.sock"
}
