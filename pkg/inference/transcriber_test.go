package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transcribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.StorageKey {
		case "ok":
			_, _ = w.Write([]byte(`{"text": "Première visite", "confidence": 0.93}`))
		case "no-confidence":
			_, _ = w.Write([]byte(`{"text": "bonjour"}`))
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTranscriber(srv.URL, 0)

	res, err := tr.Transcribe(context.Background(), AudioRequest{StorageKey: "ok", MimeType: "audio/mp4"})
	require.NoError(t, err)
	assert.Equal(t, "Première visite", res.Value)
	assert.Equal(t, 0.93, res.Confidence)

	res, err = tr.Transcribe(context.Background(), AudioRequest{StorageKey: "no-confidence"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)

	_, err = tr.Transcribe(context.Background(), AudioRequest{StorageKey: "fail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
