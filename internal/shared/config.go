package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Source      InstanceConfig   `toml:"source"`
	Target      InstanceConfig   `toml:"target"`
	Copy        CopyConfig       `toml:"copy"`
	Timeouts    TimeoutConfig    `toml:"timeouts"`
	Checkpoints CheckpointConfig `toml:"checkpoints"`
	Database    DatabaseConfig   `toml:"database"`
}

// InstanceConfig contains credentials for one retail instance.
type InstanceConfig struct {
	Instance string `toml:"instance"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	StoreID  int64  `toml:"store_id"`
}

// CopyConfig contains the batch pipeline settings. Validate applies the
// documented bounds before any batch starts.
type CopyConfig struct {
	BatchSize           int     `toml:"batch_size"`
	MaxRetries          int     `toml:"max_retries"`
	BaseDelaySeconds    int     `toml:"base_delay_seconds"`
	BatchTimeoutMinutes int     `toml:"batch_timeout_minutes"`
	DownloadWorkers     int     `toml:"download_workers"`
	UploadWorkers       int     `toml:"upload_workers"`
	CreateWorkers       int     `toml:"create_workers"`
	DownloadThreshold   float64 `toml:"download_threshold"`
	UploadThreshold     float64 `toml:"upload_threshold"`
	CreateThreshold     float64 `toml:"create_threshold"`
	RateLimit           float64 `toml:"rate_limit"`
}

// BaseDelay returns the base backoff between batch retry attempts.
func (c CopyConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds) * time.Second
}

// BatchTimeout returns the wall-clock budget for one batch including retries.
func (c CopyConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMinutes) * time.Minute
}

// TimeoutConfig contains per-task timeouts for each stage operation.
type TimeoutConfig struct {
	DownloadMetaSeconds    int `toml:"download_meta_seconds"`
	DownloadContentSeconds int `toml:"download_content_seconds"`
	UploadSeconds          int `toml:"upload_seconds"`
	CreateSeconds          int `toml:"create_seconds"`
}

// Download returns the total per-task timeout for the download stage, which
// covers the metadata fetch plus the content fetch.
func (t TimeoutConfig) Download() time.Duration {
	return time.Duration(t.DownloadMetaSeconds+t.DownloadContentSeconds) * time.Second
}

func (t TimeoutConfig) Upload() time.Duration {
	return time.Duration(t.UploadSeconds) * time.Second
}

func (t TimeoutConfig) Create() time.Duration {
	return time.Duration(t.CreateSeconds) * time.Second
}

// CheckpointConfig contains checkpoint discovery settings.
type CheckpointConfig struct {
	Directory string `toml:"directory"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the copy pipeline settings and fails fast before any batch
// starts. Thresholds are rates in [0, 1].
func (c *Config) Validate() error {
	cp := c.Copy
	if cp.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be >= 1, got %d", ErrInvalidConfig, cp.BatchSize)
	}
	if cp.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidConfig, cp.MaxRetries)
	}
	for name, workers := range map[string]int{
		"download_workers": cp.DownloadWorkers,
		"upload_workers":   cp.UploadWorkers,
		"create_workers":   cp.CreateWorkers,
	} {
		if workers < 1 {
			return fmt.Errorf("%w: %s must be >= 1, got %d", ErrInvalidConfig, name, workers)
		}
	}
	for name, threshold := range map[string]float64{
		"download_threshold": cp.DownloadThreshold,
		"upload_threshold":   cp.UploadThreshold,
		"create_threshold":   cp.CreateThreshold,
	} {
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidConfig, name, threshold)
		}
	}
	if cp.BaseDelaySeconds < 0 {
		return fmt.Errorf("%w: base_delay_seconds must be >= 0, got %d", ErrInvalidConfig, cp.BaseDelaySeconds)
	}
	if cp.BatchTimeoutMinutes < 1 {
		return fmt.Errorf("%w: batch_timeout_minutes must be >= 1, got %d", ErrInvalidConfig, cp.BatchTimeoutMinutes)
	}
	return nil
}
