package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/otherjamesbrown/intake/credentials"
	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

func emptyKeyring(t *testing.T) credentials.Store {
	t.Helper()
	keyring.MockInit()
	t.Setenv("ANTHROPIC_API_KEY", "")
	return credentials.NewKeyringStore()
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intake.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", emptyKeyring(t))
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, DefaultRedisURL, cfg.RedisURL)
	assert.Equal(t, inference.ProviderMock, cfg.Inference.Provider)
	assert.Equal(t, 0.75, cfg.Thresholds.AutoAttach)
	assert.Equal(t, 0.70, cfg.Thresholds.DocumentType)
	assert.Equal(t, 0.60, cfg.Thresholds.PropertyParams)
	assert.Equal(t, 15*time.Minute, cfg.Recovery.StaleAfter)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.SweepInterval)
	assert.Equal(t, 3, cfg.Recovery.MinAttempts)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.PropertyCacheTTL)
	assert.Empty(t, cfg.Inference.Anthropic.APIKey)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
store: memory
redis_url: redis://cache:6379/2
thresholds:
  auto_attach: 0.9
recovery:
  stale_after: 30m
  min_attempts: 5
retry:
  max_retries: 6
workers:
  vocal_transcription: 4
`)
	cfg, err := Load(path, emptyKeyring(t))
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisURL)
	assert.Equal(t, 0.9, cfg.Thresholds.AutoAttach)
	assert.Equal(t, 0.60, cfg.Thresholds.Insights, "unset keys keep defaults")
	assert.Equal(t, 30*time.Minute, cfg.Recovery.StaleAfter)
	assert.Equal(t, 5, cfg.Recovery.MinAttempts)
	assert.Equal(t, 6, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, 4, cfg.Workers[string(queues.JobVocalTranscription)])
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store: memory\nthresholds:\n  auto_attach: 0.9\n")
	keys := emptyKeyring(t)
	t.Setenv("INTAKE_AUTO_ATTACH_THRESHOLD", "0.8")
	t.Setenv("INTAKE_PROPERTY_PARAMS_THRESHOLD", "0.85")
	t.Setenv("INTAKE_STALE_AFTER_MS", "120000")
	t.Setenv("INTAKE_SWEEP_INTERVAL_MS", "1000")
	t.Setenv("INTAKE_MAX_ATTEMPTS", "7")
	t.Setenv("INTAKE_REDIS_URL", "redis://env:6379/0")
	t.Setenv("INTAKE_LOG_JSON", "true")
	t.Setenv("INTAKE_LOG_LEVEL", "debug")

	cfg, err := Load(path, keys)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Thresholds.AutoAttach)
	assert.Equal(t, 0.85, cfg.Thresholds.PropertyParams)
	assert.Equal(t, 2*time.Minute, cfg.Recovery.StaleAfter)
	assert.Equal(t, time.Second, cfg.Recovery.SweepInterval)
	assert.Equal(t, 7, cfg.Recovery.MinAttempts)
	assert.Equal(t, "redis://env:6379/0", cfg.RedisURL)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "debug", string(cfg.Logging("intake").Level))
}

func TestLoad_BadEnvNumber(t *testing.T) {
	keys := emptyKeyring(t)
	t.Setenv("INTAKE_STALE_AFTER_MS", "soon")
	t.Setenv("INTAKE_INSIGHTS_THRESHOLD", "high")

	_, err := Load("", keys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTAKE_STALE_AFTER_MS")
	assert.Contains(t, err.Error(), "INTAKE_INSIGHTS_THRESHOLD")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), emptyKeyring(t))
	require.Error(t, err)
}

func TestLoad_APIKeyResolution(t *testing.T) {
	keys := emptyKeyring(t)
	require.NoError(t, keys.Set(credentials.AnthropicAPIKey, "from-keyring"))

	cfg, err := Load("", keys)
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", cfg.Inference.Anthropic.APIKey)

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	cfg, err = Load("", keys)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Inference.Anthropic.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown store", func(c *Config) { c.Store = "sqlite" }, "unknown store"},
		{"memory skips database", func(c *Config) { c.Store = StoreMemory; c.Database.URL = "" }, ""},
		{"postgres needs url", func(c *Config) { c.Database.URL = "" }, "database url"},
		{"unknown provider", func(c *Config) { c.Inference.Provider = "oracle" }, "unknown inference provider"},
		{"threshold above one", func(c *Config) { c.Thresholds.VocalType = 1.2 }, "vocal_type"},
		{"negative threshold", func(c *Config) { c.Thresholds.AutoAttach = -0.1 }, "auto_attach"},
		{"property params threshold above one", func(c *Config) { c.Thresholds.PropertyParams = 1.5 }, "property_params"},
		{"zero stale after", func(c *Config) { c.Recovery.StaleAfter = 0 }, "stale"},
		{"bad retry", func(c *Config) { c.Retry.InitialBackoff = 0 }, "retry"},
		{"unknown worker type", func(c *Config) { c.Workers = map[string]int{"fax": 1} }, "unknown job type"},
		{"zero workers", func(c *Config) {
			c.Workers = map[string]int{string(queues.JobMessageAI): 0}
		}, "at least 1"},
		{"missing redis", func(c *Config) { c.RedisURL = "" }, "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQueueConfigs_ApplyRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxRetries = 9

	for jt, qc := range cfg.QueueConfigs() {
		assert.Equal(t, 9, qc.Retry.MaxRetries, jt)
	}
}
