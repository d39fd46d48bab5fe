package spanpipe

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the host-facing configuration for wiring a pipeline. Loaded from
// YAML with environment overrides under the SPANPIPE_ prefix
// (e.g. SPANPIPE_COLLECTOR_ENDPOINT).
type Config struct {
	// CollectorEndpoint is the URL the HTTP sink posts batches to.
	CollectorEndpoint string `yaml:"collector_endpoint" envconfig:"COLLECTOR_ENDPOINT"`

	// BatchMaxSize caps spans per export call.
	BatchMaxSize int `yaml:"batch_max_size" envconfig:"BATCH_MAX_SIZE"`

	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL"`

	// ExportRetryLimit is the number of retries before a batch is dropped.
	// Zero selects the default; a negative value disables retries.
	ExportRetryLimit int `yaml:"export_retry_limit" envconfig:"EXPORT_RETRY_LIMIT"`

	// RetryBackoff is the initial backoff between export retries.
	RetryBackoff time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF"`

	// ExportTimeout bounds a single sink call.
	ExportTimeout time.Duration `yaml:"export_timeout" envconfig:"EXPORT_TIMEOUT"`

	// ShutdownTimeout bounds the final flush on shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`

	// RedactedKeys are the attribute keys scrubbed before export.
	RedactedKeys []string `yaml:"redacted_keys" envconfig:"REDACTED_KEYS"`

	// LogLevel is the pipeline log level ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() Config {
	return Config{
		CollectorEndpoint: "http://localhost:4318/v1/spans",
		BatchMaxSize:      512,
		FlushInterval:     2 * time.Second,
		ExportRetryLimit:  3,
		RetryBackoff:      100 * time.Millisecond,
		ExportTimeout:     10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RedactedKeys:      []string{"payment.amount"},
		LogLevel:          "info",
	}
}

// LoadConfig reads YAML from path (skipped when path is empty), fills in
// defaults, applies SPANPIPE_ environment overrides, and validates the
// result. Environment variables always win over the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", path, err)
		}
	}

	if err := envconfig.Process("spanpipe", &cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.CollectorEndpoint == "" {
		return fmt.Errorf("collector_endpoint must not be empty")
	}
	if c.BatchMaxSize <= 0 {
		return fmt.Errorf("batch_max_size must be positive, got %d", c.BatchMaxSize)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %s", c.FlushInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// BatchConfig converts the file-level options into exporter settings.
func (c Config) BatchConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:  c.BatchMaxSize,
		FlushInterval: c.FlushInterval,
		RetryLimit:    c.ExportRetryLimit,
		RetryBackoff:  c.RetryBackoff,
		ExportTimeout: c.ExportTimeout,
	}
}
