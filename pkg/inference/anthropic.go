package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
)

// MessageCreator is the slice of the Anthropic SDK the provider calls.
// *sdk.MessageService satisfies it.
type MessageCreator interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicConfig configures the Anthropic-backed provider.
type AnthropicConfig struct {
	APIKey            string  `yaml:"-"`
	Model             string  `yaml:"model"`
	MaxTokens         int64   `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// DefaultAnthropicConfig returns conservative defaults.
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:             "claude-3-5-haiku-latest",
		MaxTokens:         1024,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// AnthropicProvider answers text questions with Claude and delegates audio
// to a Transcriber. Calls are rate limited per process.
type AnthropicProvider struct {
	messages    MessageCreator
	transcriber Transcriber
	limiter     *rate.Limiter
	cfg         AnthropicConfig
	logger      logging.Logger
}

var _ Capability = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a provider using the official SDK client.
func NewAnthropicProvider(cfg AnthropicConfig, transcriber Transcriber, logger logging.Logger) *AnthropicProvider {
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewAnthropicProviderWithClient(&client.Messages, cfg, transcriber, logger)
}

// NewAnthropicProviderWithClient creates a provider around an existing message client.
func NewAnthropicProviderWithClient(messages MessageCreator, cfg AnthropicConfig, transcriber Transcriber, logger logging.Logger) *AnthropicProvider {
	defaults := DefaultAnthropicConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &AnthropicProvider{
		messages:    messages,
		transcriber: transcriber,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:         cfg,
		logger:      logger.With(logging.F("component", "inference.anthropic"), logging.F("model", cfg.Model)),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic:" + p.cfg.Model }

const systemPrompt = `You assist a real-estate agency triaging inbound content.
Answer with a single JSON object and nothing else. Always include a "confidence"
number between 0 and 1 describing how sure you are. When unsure, say so with a
low confidence rather than guessing.`

// answer is the envelope every prompt asks for.
type answer struct {
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
}

// ask sends prompt and decodes the JSON envelope. An unparseable reply is a
// zero-confidence answer, not an error.
func (p *AnthropicProvider) ask(ctx context.Context, operation, prompt string) (answer, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return answer{}, err
	}

	msg, err := p.messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.cfg.Model),
		MaxTokens: p.cfg.MaxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return answer{}, fmt.Errorf("anthropic %s: %w", operation, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var a answer
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &a); err != nil {
		p.logger.Warn("Unparseable model reply", logging.F("operation", operation), logging.Err(err))
		return answer{}, nil
	}
	a.Confidence = clamp(a.Confidence)
	return a, nil
}

// extractJSON trims prose or code fences around the outermost JSON object.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func (p *AnthropicProvider) Match(ctx context.Context, req MatchRequest) (Result[string], error) {
	if len(req.Candidates) == 0 {
		return Result[string]{}, nil
	}
	candidates, err := json.Marshal(req.Candidates)
	if err != nil {
		return Result[string]{}, err
	}
	prompt := fmt.Sprintf(`Which property is this message about?
Candidates (JSON): %s
Message:
"""%s"""
Reply {"value": "<candidate ID or empty string>", "confidence": <0..1>}.`, candidates, req.Text)

	a, err := p.ask(ctx, "match", prompt)
	if err != nil {
		return Result[string]{}, err
	}
	var id string
	if json.Unmarshal(a.Value, &id) != nil {
		return Result[string]{}, nil
	}
	for _, c := range req.Candidates {
		if c.ID == id {
			return Result[string]{Value: id, Confidence: a.Confidence}, nil
		}
	}
	return Result[string]{}, nil
}

func (p *AnthropicProvider) ClassifyDocument(ctx context.Context, req DocumentRequest) (Result[intake.DocumentType], error) {
	types := make([]string, len(intake.DocumentTypes))
	for i, t := range intake.DocumentTypes {
		types[i] = string(t)
	}
	prompt := fmt.Sprintf(`Classify this uploaded document from its metadata.
File name: %q
MIME type: %q
Allowed types: %s
Reply {"value": "<type>", "confidence": <0..1>}.`, req.FileName, req.MimeType, strings.Join(types, ", "))

	a, err := p.ask(ctx, "classify_document", prompt)
	if err != nil {
		return Result[intake.DocumentType]{}, err
	}
	var s string
	if json.Unmarshal(a.Value, &s) != nil {
		return Result[intake.DocumentType]{Value: intake.DocumentOther}, nil
	}
	return Result[intake.DocumentType]{Value: intake.ParseDocumentType(s), Confidence: a.Confidence}, nil
}

func (p *AnthropicProvider) Transcribe(ctx context.Context, req AudioRequest) (Result[string], error) {
	if p.transcriber == nil {
		return Result[string]{}, fmt.Errorf("anthropic transcribe: no transcription service configured")
	}
	return p.transcriber.Transcribe(ctx, req)
}

func (p *AnthropicProvider) ClassifyVocalType(ctx context.Context, transcript string) (Result[intake.VocalType], error) {
	types := make([]string, len(intake.VocalTypes))
	for i, t := range intake.VocalTypes {
		types[i] = string(t)
	}
	prompt := fmt.Sprintf(`An estate agent recorded this voice note. What kind of note is it?
Allowed types: %s
Transcript:
"""%s"""
Reply {"value": "<type>", "confidence": <0..1>}.`, strings.Join(types, ", "), transcript)

	a, err := p.ask(ctx, "classify_vocal_type", prompt)
	if err != nil {
		return Result[intake.VocalType]{}, err
	}
	var s string
	if json.Unmarshal(a.Value, &s) != nil {
		return Result[intake.VocalType]{Value: intake.VocalTypeOther}, nil
	}
	return Result[intake.VocalType]{Value: intake.ParseVocalType(s), Confidence: a.Confidence}, nil
}

func (p *AnthropicProvider) ExtractPropertyParameters(ctx context.Context, transcript string) (Result[map[string]interface{}], error) {
	prompt := fmt.Sprintf(`Extract the property characteristics stated in this first-visit voice note.
Use snake_case keys such as surface_m2, rooms, bedrooms, floor, garden, parking,
balcony, elevator, heating, condition, asking_price. Omit anything not stated.
Transcript:
"""%s"""
Reply {"value": {<key>: <value>}, "confidence": <0..1>}.`, transcript)

	a, err := p.ask(ctx, "extract_property_parameters", prompt)
	if err != nil {
		return Result[map[string]interface{}]{}, err
	}
	params := map[string]interface{}{}
	if json.Unmarshal(a.Value, &params) != nil {
		return Result[map[string]interface{}]{Value: map[string]interface{}{}}, nil
	}
	return Result[map[string]interface{}]{Value: params, Confidence: a.Confidence}, nil
}

func (p *AnthropicProvider) ExtractInsights(ctx context.Context, req InsightsRequest) (Result[string], error) {
	prompt := fmt.Sprintf(`Extract structured insights from this %s voice note: sentiment,
next_actions (list), prices (list), objections (list), people mentioned (list).
Transcript:
"""%s"""
Reply {"value": {<insights object>}, "confidence": <0..1>}.`, req.VocalType, req.Transcript)

	a, err := p.ask(ctx, "extract_insights", prompt)
	if err != nil {
		return Result[string]{}, err
	}
	if len(a.Value) == 0 {
		return Result[string]{}, nil
	}
	return Result[string]{Value: string(a.Value), Confidence: a.Confidence}, nil
}
