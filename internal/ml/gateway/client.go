// Package gateway is the default ML provider: a single HTTP client against
// the internal ML gateway service, which fronts every capability the
// pipelines need (extraction, speech-to-text, translation, summarization,
// embeddings, frame and face analysis, graph extraction).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/casewire/casewire/internal/ml"
)

const (
	// DefaultUserAgent identifies this client
	DefaultUserAgent = "casewire/1.0"
	// DefaultTimeout for HTTP requests; transcription and video calls are slow
	DefaultTimeout = 5 * time.Minute
	// DefaultRateLimit is 5 requests per second
	DefaultRateLimit = rate.Limit(5.0)
	// MaxRetries for transient errors
	MaxRetries = 2
	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay = 1 * time.Second
)

// Client communicates with the ML gateway over JSON/HTTP. File content
// travels base64-encoded inside the JSON body.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	limiter    *rate.Limiter
}

var (
	_ ml.Extractor      = (*Client)(nil)
	_ ml.Transcriber    = (*Client)(nil)
	_ ml.Translator     = (*Client)(nil)
	_ ml.Rewriter       = (*Client)(nil)
	_ ml.Summarizer     = (*Client)(nil)
	_ ml.Embedder       = (*Client)(nil)
	_ ml.FrameAnalyzer  = (*Client)(nil)
	_ ml.FaceMatcher    = (*Client)(nil)
	_ ml.GraphExtractor = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithRateLimit sets a custom rate limit (requests per second).
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new ML gateway client.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
		limiter:   rate.NewLimiter(DefaultRateLimit, 1),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

type fileRequest struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type textRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
}

type textResponse struct {
	Text string `json:"text"`
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type framesResponse struct {
	Frames []ml.Frame `json:"frames"`
}

type framesRequest struct {
	Frames []ml.Frame `json:"frames"`
}

type describeRequest struct {
	Frames []ml.Frame     `json:"frames"`
	Faces  []ml.FaceMatch `json:"faces,omitempty"`
}

type matchesResponse struct {
	Matches []ml.FaceMatch `json:"matches"`
}

// Extract sends a document file for text extraction.
func (c *Client) Extract(ctx context.Context, content []byte, filename string) (string, error) {
	var out textResponse
	if err := c.postJSON(ctx, "/v1/extract", fileRequest{Filename: filename, Content: content}, &out); err != nil {
		return "", fmt.Errorf("extract %s: %w", filename, err)
	}
	return out.Text, nil
}

// Transcribe sends an audio file for speech-to-text.
func (c *Client) Transcribe(ctx context.Context, content []byte, filename string) (*ml.Transcription, error) {
	var out transcribeResponse
	if err := c.postJSON(ctx, "/v1/transcribe", fileRequest{Filename: filename, Content: content}, &out); err != nil {
		return nil, fmt.Errorf("transcribe %s: %w", filename, err)
	}
	return &ml.Transcription{Text: out.Text, Language: out.Language}, nil
}

// Translate translates text to English.
func (c *Client) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	var out textResponse
	if err := c.postJSON(ctx, "/v1/translate", textRequest{Text: text, SourceLanguage: sourceLang}, &out); err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out.Text, nil
}

// Rewrite cleans up raw transcription text.
func (c *Client) Rewrite(ctx context.Context, text string) (string, error) {
	var out textResponse
	if err := c.postJSON(ctx, "/v1/rewrite", textRequest{Text: text}, &out); err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}
	return out.Text, nil
}

// Summarize produces a summary of artifact text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	var out textResponse
	if err := c.postJSON(ctx, "/v1/summarize", textRequest{Text: text}, &out); err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out.Text, nil
}

// Embed produces an embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	if err := c.postJSON(ctx, "/v1/embed", textRequest{Text: text}, &out); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embed: gateway returned empty embedding")
	}
	return out.Embedding, nil
}

// ExtractFrames sends a video file and receives key frames.
func (c *Client) ExtractFrames(ctx context.Context, content []byte, filename string) ([]ml.Frame, error) {
	var out framesResponse
	if err := c.postJSON(ctx, "/v1/frames", fileRequest{Filename: filename, Content: content}, &out); err != nil {
		return nil, fmt.Errorf("extract frames %s: %w", filename, err)
	}
	return out.Frames, nil
}

// Describe produces a textual description of the video from its frames and
// any recognized faces.
func (c *Client) Describe(ctx context.Context, frames []ml.Frame, faces []ml.FaceMatch) (string, error) {
	var out textResponse
	if err := c.postJSON(ctx, "/v1/describe", describeRequest{Frames: frames, Faces: faces}, &out); err != nil {
		return "", fmt.Errorf("describe video: %w", err)
	}
	return out.Text, nil
}

// MatchFaces matches faces in the frames against the known-person gallery.
func (c *Client) MatchFaces(ctx context.Context, frames []ml.Frame) ([]ml.FaceMatch, error) {
	var out matchesResponse
	if err := c.postJSON(ctx, "/v1/faces", framesRequest{Frames: frames}, &out); err != nil {
		return nil, fmt.Errorf("match faces: %w", err)
	}
	return out.Matches, nil
}

// ExtractGraph extracts entities and relations from artifact text. The raw
// response is validated against the graph payload schema before it is
// returned.
func (c *Client) ExtractGraph(ctx context.Context, text string) (*ml.GraphPayload, error) {
	body, err := json.Marshal(textRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, c.baseURL+"/v1/graph", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract graph: %w", err)
	}

	payload, err := ml.ParseGraphPayload(respBody)
	if err != nil {
		return nil, fmt.Errorf("extract graph: %w", err)
	}
	return payload, nil
}

// postJSON marshals req, POSTs it to path and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, path string, req, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// doWithRetry executes a JSON POST with exponential backoff retry logic.
// Network errors, 429s and 5xx responses are retried; other non-200
// statuses fail immediately.
func (c *Client) doWithRetry(ctx context.Context, reqURL string, body *bytes.Reader) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 1s, 2s, 4s, ...
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Wait for rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		// Rewind the body for retries
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("reset request body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue // Retry on network errors
		}

		respBody, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue // Retry on read errors
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue // Retry rate limits
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
			continue // Retry server errors
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
		}

		return respBody, nil // Success
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
