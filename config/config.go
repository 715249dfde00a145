// Package config loads intake service configuration.
// Values are resolved in order: defaults, an optional YAML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/intake/credentials"
	"github.com/otherjamesbrown/intake/pkg/db"
	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/pipeline"
	"github.com/otherjamesbrown/intake/pkg/queues"
	"github.com/otherjamesbrown/intake/pkg/recovery"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Default configuration values.
const (
	DefaultRedisURL   = "redis://localhost:6379/0"
	DefaultHTTPAddr   = ":8080"
	DefaultConfigFile = "intake.yaml"
)

// LogConfig controls logger output.
type LogConfig struct {
	Level       string `yaml:"level"`
	JSON        bool   `yaml:"json"`
	Environment string `yaml:"environment"`
}

// Config is the full service configuration.
type Config struct {
	Store            string              `yaml:"store"`
	Database         db.Config           `yaml:"database"`
	RedisURL         string              `yaml:"redis_url"`
	HTTPAddr         string              `yaml:"http_addr"`
	Log              LogConfig           `yaml:"log"`
	Inference        inference.Config    `yaml:"inference"`
	Thresholds       pipeline.Thresholds `yaml:"thresholds"`
	Recovery         recovery.Config     `yaml:"recovery"`
	Retry            queues.RetryPolicy  `yaml:"retry"`
	PropertyCacheTTL time.Duration       `yaml:"property_cache_ttl"`

	// Workers overrides the goroutine count per job type, keyed by job type name.
	Workers map[string]int `yaml:"workers,omitempty"`
}

// Default returns a Config with production defaults.
func Default() *Config {
	return &Config{
		Store:    StorePostgres,
		Database: db.DefaultConfig(),
		RedisURL: DefaultRedisURL,
		HTTPAddr: DefaultHTTPAddr,
		Log: LogConfig{
			Level:       string(logging.LevelInfo),
			Environment: "development",
		},
		Inference: inference.Config{
			Provider:          inference.ProviderMock,
			Anthropic:         inference.DefaultAnthropicConfig(),
			TranscribeTimeout: 2 * time.Minute,
		},
		Thresholds:       pipeline.DefaultThresholds(),
		Recovery:         recovery.DefaultConfig(),
		Retry:            queues.DefaultRetryPolicy(),
		PropertyCacheTTL: pipeline.DefaultPropertyCacheTTL,
	}
}

// Load reads path (skipped when empty) and overlays the environment. The
// Anthropic key falls back to keys when ANTHROPIC_API_KEY is unset.
func Load(path string, keys credentials.Store) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}
	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.Inference.Anthropic.APIKey = credentials.Resolve(keys, credentials.AnthropicAPIKey, os.Getenv("ANTHROPIC_API_KEY"))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("INTAKE_STORE"); v != "" {
		cfg.Store = strings.ToLower(v)
	}
	if v := os.Getenv("INTAKE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("INTAKE_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("INTAKE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("INTAKE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("INTAKE_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INTAKE_LOG_JSON: %w", err)
		}
		cfg.Log.JSON = b
	}
	if v := os.Getenv("INTAKE_INFERENCE_PROVIDER"); v != "" {
		cfg.Inference.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("INTAKE_ANTHROPIC_MODEL"); v != "" {
		cfg.Inference.Anthropic.Model = v
	}
	if v := os.Getenv("INTAKE_TRANSCRIBE_URL"); v != "" {
		cfg.Inference.TranscribeURL = v
	}

	var errs []error
	envMillis("INTAKE_STALE_AFTER_MS", &cfg.Recovery.StaleAfter, &errs)
	envMillis("INTAKE_SWEEP_INTERVAL_MS", &cfg.Recovery.SweepInterval, &errs)
	envInt("INTAKE_MAX_ATTEMPTS", &cfg.Recovery.MinAttempts, &errs)
	envFloat("INTAKE_AUTO_ATTACH_THRESHOLD", &cfg.Thresholds.AutoAttach, &errs)
	envFloat("INTAKE_DOCUMENT_THRESHOLD", &cfg.Thresholds.DocumentType, &errs)
	envFloat("INTAKE_VOCAL_TYPE_THRESHOLD", &cfg.Thresholds.VocalType, &errs)
	envFloat("INTAKE_INSIGHTS_THRESHOLD", &cfg.Thresholds.Insights, &errs)
	envFloat("INTAKE_PROPERTY_PARAMS_THRESHOLD", &cfg.Thresholds.PropertyParams, &errs)
	return errors.Join(errs...)
}

func envMillis(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if err := c.Database.Validate(); err != nil {
			return err
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StorePostgres, StoreMemory)
	}

	switch c.Inference.Provider {
	case inference.ProviderMock, inference.ProviderAnthropic:
	default:
		return fmt.Errorf("unknown inference provider %q", c.Inference.Provider)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("redis url is required")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Recovery.Validate(); err != nil {
		return err
	}
	if c.Retry.MaxRetries < 0 || c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return fmt.Errorf("invalid retry policy")
	}
	for name, n := range c.Workers {
		if !isJobType(name) {
			return fmt.Errorf("unknown job type %q in workers", name)
		}
		if n < 1 {
			return fmt.Errorf("workers.%s must be at least 1", name)
		}
	}
	return nil
}

func isJobType(name string) bool {
	for _, t := range queues.JobTypes {
		if string(t) == name {
			return true
		}
	}
	return false
}

// QueueConfigs returns the per-job-type queue settings with the configured
// retry policy applied.
func (c *Config) QueueConfigs() map[queues.JobType]queues.QueueConfig {
	configs := queues.DefaultQueueConfigs()
	for t, qc := range configs {
		qc.Retry = c.Retry
		configs[t] = qc
	}
	return configs
}

// Logging returns the logger configuration.
func (c *Config) Logging(service string) *logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.Log.Level)
	lc.JSONFormat = c.Log.JSON
	lc.ServiceName = service
	if c.Log.Environment != "" {
		lc.Environment = c.Log.Environment
	}
	return lc
}
