// Package config loads the WishWell client configuration file stored at
// ~/.wishwell/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// DefaultConfigDir is the directory under the user's home for client state.
const DefaultConfigDir = ".wishwell"

// DefaultConfigFile is the config file name within the config directory.
const DefaultConfigFile = "config.yaml"

// Environment variables that override file values.
const (
	EnvConfig    = "WISHWELL_CONFIG"
	EnvDataDir   = "WISHWELL_DATA_DIR"
	EnvRemoteURL = "WISHWELL_REMOTE_URL"
	EnvUserID    = "WISHWELL_USER_ID"
	EnvLogLevel  = "WISHWELL_LOG_LEVEL"
)

// Config represents the contents of config.yaml.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Session    SessionConfig    `yaml:"session"`
	Queue      QueueConfig      `yaml:"queue"`
	Probe      ProbeConfig      `yaml:"probe"`
	Remote     RemoteConfig     `yaml:"remote"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Engagement EngagementConfig `yaml:"engagement"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// SessionConfig identifies the signed-in user.
type SessionConfig struct {
	UserID string `yaml:"user_id"`
}

// QueueConfig tunes the offline wish queue.
type QueueConfig struct {
	MaxLength  int           `yaml:"max_length"`
	RetryBase  time.Duration `yaml:"retry_base"`
	RetryMax   time.Duration `yaml:"retry_max"`
	StorageKey string        `yaml:"storage_key"`
}

// ProbeConfig configures the reachability probe.
type ProbeConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RemoteConfig points at the hosted wish API.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenEncrypted string        `yaml:"token_encrypted,omitempty"`
	MachineID      string        `yaml:"machine_id,omitempty"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SchedulerConfig controls background flushing.
type SchedulerConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	TriggerRate   float64       `yaml:"trigger_rate"`
	TriggerBurst  int           `yaml:"trigger_burst"`
}

// EngagementConfig controls the streak ledger.
type EngagementConfig struct {
	Timezone      string `yaml:"timezone"`
	MaxTxAttempts int    `yaml:"max_tx_attempts"`
}

// LoggingConfig sets the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls metrics collection. Disabled by default.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Queue: QueueConfig{
			MaxLength:  20,
			RetryBase:  15 * time.Second,
			RetryMax:   10 * time.Minute,
			StorageKey: "pendingWishQueue.v1",
		},
		Probe: ProbeConfig{
			URL:     "https://clients3.google.com/generate_204",
			Timeout: 2500 * time.Millisecond,
		},
		Remote: RemoteConfig{
			Timeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			FlushInterval: time.Minute,
			TriggerRate:   0.2,
			TriggerBurst:  1,
		},
		Engagement: EngagementConfig{
			Timezone:      "Local",
			MaxTxAttempts: 5,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "localhost:8090",
		},
	}
}

// Path returns the config file path: $WISHWELL_CONFIG when set, otherwise
// ~/.wishwell/config.yaml.
func Path() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile), nil
}

// Load reads the config from the default path and applies env overrides.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "locate config", err)
	}
	return LoadFrom(path)
}

// LoadFrom reads the config at path. A missing file yields defaults.
// Keys absent from the file keep their default values.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("parse config %s", path), err)
		}
	case os.IsNotExist(err):
	default:
		return nil, apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("read config %s", path), err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "create config dir", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "write config", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		c.Session.UserID = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DataDir) == "" {
		problems = append(problems, "data_dir is empty")
	}
	if c.Queue.MaxLength <= 0 {
		problems = append(problems, "queue.max_length must be positive")
	}
	if c.Queue.RetryBase <= 0 {
		problems = append(problems, "queue.retry_base must be positive")
	}
	if c.Queue.RetryMax < c.Queue.RetryBase {
		problems = append(problems, "queue.retry_max must not be below queue.retry_base")
	}
	if strings.TrimSpace(c.Queue.StorageKey) == "" {
		problems = append(problems, "queue.storage_key is empty")
	}
	if c.Probe.Timeout <= 0 {
		problems = append(problems, "probe.timeout must be positive")
	}
	if c.Remote.Timeout <= 0 {
		problems = append(problems, "remote.timeout must be positive")
	}
	if c.Scheduler.FlushInterval <= 0 {
		problems = append(problems, "scheduler.flush_interval must be positive")
	}
	if c.Scheduler.TriggerRate <= 0 {
		problems = append(problems, "scheduler.trigger_rate must be positive")
	}
	if c.Scheduler.TriggerBurst <= 0 {
		problems = append(problems, "scheduler.trigger_burst must be positive")
	}
	if c.Engagement.MaxTxAttempts <= 0 {
		problems = append(problems, "engagement.max_tx_attempts must be positive")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("engagement.timezone: %v", err))
	}
	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrConfig, "invalid config: "+strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves engagement.timezone. Empty and "Local" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	switch tz := strings.TrimSpace(c.Engagement.Timezone); tz {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(tz)
	}
}
