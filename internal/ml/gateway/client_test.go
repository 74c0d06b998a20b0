package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestTranslate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/translate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "casewire")

		var req textRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "नमस्ते", req.Text)
		assert.Equal(t, "hi", req.SourceLanguage)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "Hello"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithToken("test-token"))

	text, err := client.Translate(context.Background(), "नमस्ते", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
}

func TestTranscribe_Success(t *testing.T) {
	audio := []byte{0x49, 0x44, 0x33, 0x04} // fake mp3 header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transcribe", r.URL.Path)

		var req fileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "call.mp3", req.Filename)
		assert.Equal(t, audio, req.Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "hello from the call", "language": "en"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	tr, err := client.Transcribe(context.Background(), audio, "call.mp3")
	require.NoError(t, err)
	assert.Equal(t, "hello from the call", tr.Text)
	assert.Equal(t, "en", tr.Language)
}

func TestEmbed_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embed", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding": [0.1, -0.2, 0.3]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	vec, err := client.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, -0.2, 0.3}, vec)
}

func TestEmbed_EmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.Embed(context.Background(), "some text")
	assert.ErrorContains(t, err, "empty embedding")
}

func TestExtractGraph_ValidatesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graph", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"nodes": [{"id": "n1", "label": "Lawrence Bishnoi", "type": "PERSON"}],
			"edges": []
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	payload, err := client.ExtractGraph(context.Background(), "text about a suspect")
	require.NoError(t, err)
	require.Len(t, payload.Nodes, 1)
	assert.Equal(t, "Lawrence Bishnoi", payload.Nodes[0].Label)
}

func TestExtractGraph_RejectsMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// missing required edges field
		_, _ = w.Write([]byte(`{"nodes": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	_, err := client.ExtractGraph(context.Background(), "text")
	assert.ErrorContains(t, err, "schema validation")
}

func TestFramePipeline_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/frames":
			_, _ = w.Write([]byte(`{"frames": [{"name": "frame_000.jpg", "image": "/9j/AA=="}]}`))
		case "/v1/faces":
			var req framesRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Frames, 1)
			_, _ = w.Write([]byte(`{"matches": [{"label": "Lawrence Bishnoi", "confidence": 0.92}]}`))
		case "/v1/describe":
			var req describeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Len(t, req.Faces, 1)
			_, _ = w.Write([]byte(`{"text": "Two men exchange a bag outside a warehouse."}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	frames, err := client.ExtractFrames(ctx, []byte{0x00, 0x01}, "cctv.mp4")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "frame_000.jpg", frames[0].Name)

	matches, err := client.MatchFaces(ctx, frames)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Lawrence Bishnoi", matches[0].Label)
	assert.InDelta(t, 0.92, matches[0].Confidence, 0.001)

	desc, err := client.Describe(ctx, frames, matches)
	require.NoError(t, err)
	assert.Contains(t, desc, "warehouse")
}

func TestRetryOn5xx(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRateLimit(100.0))

	text, err := client.Summarize(context.Background(), "long report")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, callCount)
}

func TestRetryOn429(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRateLimit(100.0))

	_, err := client.Rewrite(context.Background(), "umm so like")
	require.NoError(t, err)
	assert.Equal(t, 2, callCount)
}

func TestMaxRetriesExceeded(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRateLimit(100.0))

	_, err := client.Extract(context.Background(), []byte("data"), "report.pdf")
	assert.ErrorContains(t, err, "max retries exceeded")
	assert.Equal(t, MaxRetries+1, callCount)
}

func TestClientError_NoRetry(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "unsupported file type"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRateLimit(100.0))

	_, err := client.Extract(context.Background(), []byte("data"), "report.xyz")
	assert.ErrorContains(t, err, "unexpected status code 400")
	assert.Equal(t, 1, callCount)
}

func TestNewClient_CustomOptions(t *testing.T) {
	customHTTP := &http.Client{Timeout: 5 * time.Second}

	client := NewClient(
		"https://ml.internal",
		WithHTTPClient(customHTTP),
		WithToken("secret"),
		WithRateLimit(2.0),
	)

	assert.Equal(t, "https://ml.internal", client.baseURL)
	assert.Equal(t, "secret", client.token)
	assert.Equal(t, customHTTP, client.httpClient)
	assert.Equal(t, rate.Limit(2.0), client.limiter.Limit())
}
