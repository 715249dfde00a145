package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/intake/pkg/logging"
)

// Provider names accepted by New.
const (
	ProviderMock      = "mock"
	ProviderAnthropic = "anthropic"
)

// Config selects and configures the inference provider.
type Config struct {
	Provider          string          `yaml:"provider"`
	Anthropic         AnthropicConfig `yaml:"anthropic"`
	TranscribeURL     string          `yaml:"transcribe_url"`
	TranscribeTimeout time.Duration   `yaml:"transcribe_timeout"`
}

// New builds the configured Capability.
func New(cfg Config, logger logging.Logger) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderMock:
		return NewMockProvider(), nil
	case ProviderAnthropic:
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		var transcriber Transcriber
		if cfg.TranscribeURL != "" {
			transcriber = NewHTTPTranscriber(cfg.TranscribeURL, cfg.TranscribeTimeout)
		}
		return NewAnthropicProvider(cfg.Anthropic, transcriber, logger), nil
	}
	return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
}
