package inference

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

type fakeMessages struct {
	replies []string
	err     error
	calls   []sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.calls = append(f.calls, body)
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return &sdk.Message{Content: []sdk.ContentBlockUnion{{Type: "text", Text: reply}}}, nil
}

func newTestProvider(f *fakeMessages, tr Transcriber) *AnthropicProvider {
	return NewAnthropicProviderWithClient(f, AnthropicConfig{Model: "claude-test", RequestsPerSecond: 1000, Burst: 100}, tr, nil)
}

func TestAnthropicProvider_Match(t *testing.T) {
	f := &fakeMessages{replies: []string{
		"```json\n{\"value\": \"p-lilas\", \"confidence\": 0.83}\n```",
		`{"value": "p-unknown", "confidence": 0.99}`,
	}}
	p := newTestProvider(f, nil)

	res, err := p.Match(context.Background(), MatchRequest{Text: "T3 rue des Lilas", Candidates: candidates})
	require.NoError(t, err)
	assert.Equal(t, "p-lilas", res.Value)
	assert.Equal(t, 0.83, res.Confidence)

	// ids outside the candidate set are discarded
	res, err = p.Match(context.Background(), MatchRequest{Text: "x", Candidates: candidates})
	require.NoError(t, err)
	assert.Empty(t, res.Value)
	assert.Zero(t, res.Confidence)

	require.Len(t, f.calls, 2)
	assert.Equal(t, sdk.Model("claude-test"), f.calls[0].Model)
}

func TestAnthropicProvider_UnparseableReplyIsLowConfidence(t *testing.T) {
	f := &fakeMessages{replies: []string{"I think it is a mandate"}}
	p := newTestProvider(f, nil)

	res, err := p.ClassifyDocument(context.Background(), DocumentRequest{FileName: "x.pdf"})
	require.NoError(t, err)
	assert.Equal(t, intake.DocumentOther, res.Value)
	assert.Zero(t, res.Confidence)
}

func TestAnthropicProvider_ClampsConfidence(t *testing.T) {
	f := &fakeMessages{replies: []string{`{"value": "INITIAL_VISIT", "confidence": 7}`}}
	p := newTestProvider(f, nil)

	res, err := p.ClassifyVocalType(context.Background(), "première visite")
	require.NoError(t, err)
	assert.Equal(t, intake.VocalTypeInitialVisit, res.Value)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestAnthropicProvider_TransportErrorPropagates(t *testing.T) {
	f := &fakeMessages{err: errors.New("529 overloaded")}
	p := newTestProvider(f, nil)

	_, err := p.ExtractInsights(context.Background(), InsightsRequest{Transcript: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract_insights")
}

func TestAnthropicProvider_ExtractParamsAndInsights(t *testing.T) {
	f := &fakeMessages{replies: []string{
		`{"value": {"surface_m2": 72, "garden": true}, "confidence": 0.7}`,
		`{"value": {"sentiment": "positive"}, "confidence": 0.9}`,
	}}
	p := newTestProvider(f, nil)

	params, err := p.ExtractPropertyParameters(context.Background(), "72 m2 avec jardin")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"surface_m2": 72.0, "garden": true}, params.Value)

	insights, err := p.ExtractInsights(context.Background(), InsightsRequest{Transcript: "super visite", VocalType: intake.VocalTypeBuyerFeedback})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sentiment": "positive"}`, insights.Value)
	assert.Equal(t, 0.9, insights.Confidence)
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, AudioRequest) (Result[string], error) {
	return Result[string]{Value: s.text, Confidence: 0.9}, nil
}

func TestAnthropicProvider_Transcribe(t *testing.T) {
	p := newTestProvider(&fakeMessages{}, nil)
	_, err := p.Transcribe(context.Background(), AudioRequest{StorageKey: "k"})
	assert.Error(t, err)

	p = newTestProvider(&fakeMessages{}, stubTranscriber{text: "bonjour"})
	res, err := p.Transcribe(context.Background(), AudioRequest{StorageKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", res.Value)
}
