package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPTranscriber calls a speech-to-text service that reads recordings from
// the shared blob store by key.
type HTTPTranscriber struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTranscriber creates a transcriber posting to endpoint.
func NewHTTPTranscriber(endpoint string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPTranscriber{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type transcribeRequest struct {
	StorageKey      string  `json:"storage_key"`
	FileName        string  `json:"file_name,omitempty"`
	MimeType        string  `json:"mime_type,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type transcribeResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// Transcribe posts the recording reference and returns the transcript.
// Services that omit confidence get 1 for non-empty text and 0 otherwise.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, req AudioRequest) (Result[string], error) {
	body, err := json.Marshal(transcribeRequest{
		StorageKey:      req.StorageKey,
		FileName:        req.FileName,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return Result[string]{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result[string]{}, fmt.Errorf("building transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result[string]{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result[string]{}, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result[string]{}, fmt.Errorf("decoding transcription response: %w", err)
	}

	confidence := 0.0
	switch {
	case out.Confidence != nil:
		confidence = clamp(*out.Confidence)
	case out.Text != "":
		confidence = 1
	}
	return Result[string]{Value: out.Text, Confidence: confidence}, nil
}
