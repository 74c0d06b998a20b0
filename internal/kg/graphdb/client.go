// Package graphdb talks to a Cypher-speaking graph store over its HTTP
// transaction commit endpoint. Only the merge surface the sync layer needs
// is implemented; queries stay in Postgres.
package graphdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultDatabase is the graph database name used when none is configured
	DefaultDatabase = "neo4j"
	// DefaultUserAgent identifies this client
	DefaultUserAgent = "casewire/1.0"
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 30 * time.Second
	// DefaultRateLimit is 10 requests per second
	DefaultRateLimit = rate.Limit(10.0)
	// MaxRetries for transient errors
	MaxRetries = 2
	// RetryBaseDelay is the initial backoff delay
	RetryBaseDelay = 1 * time.Second
)

// labelPattern is the set of node labels safe to interpolate into a query.
// Labels come from our own constants, not from payloads; this guards the
// call site, not the data.
var labelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Client communicates with the graph store's transaction commit endpoint.
type Client struct {
	httpClient *http.Client
	commitURL  string
	username   string
	password   string
	userAgent  string
	limiter    *rate.Limiter
}

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

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client for the graph store at baseURL, committing every
// statement against the named database.
func NewClient(baseURL, database string, opts ...Option) *Client {
	if database == "" {
		database = DefaultDatabase
	}
	client := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		commitURL: strings.TrimRight(baseURL, "/") + "/db/" + database + "/tx/commit",
		userAgent: DefaultUserAgent,
		limiter:   rate.NewLimiter(DefaultRateLimit, 1),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// MergeNode upserts a node by id and folds props into it. Node ids are
// globally unique across labels, so the id alone identifies the node.
func (c *Client) MergeNode(ctx context.Context, label, id string, props map[string]any) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid node label %q", label)
	}
	if id == "" {
		return fmt.Errorf("node id cannot be empty")
	}
	query := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props", label)
	return c.run(ctx, query, map[string]any{"id": id, "props": encodeProps(props)})
}

// MergeEdge upserts a directed relationship between two existing nodes and
// folds props into it. If either endpoint is missing the merge matches
// nothing and the call is a silent no-op. The relationship type is normalized
// before interpolation because types arrive from extraction payloads, not
// from a fixed vocabulary.
func (c *Client) MergeEdge(ctx context.Context, relType, fromID, toID string, props map[string]any) error {
	if fromID == "" || toID == "" {
		return fmt.Errorf("edge endpoints cannot be empty")
	}
	query := fmt.Sprintf(
		"MATCH (a {id: $from}) MATCH (b {id: $to}) MERGE (a)-[r:%s]->(b) SET r += $props",
		NormalizeRelType(relType),
	)
	return c.run(ctx, query, map[string]any{"from": fromID, "to": toID, "props": encodeProps(props)})
}

// NormalizeRelType coerces an arbitrary relationship name into a Cypher
// identifier: upper-cased ASCII, every run of other characters collapsed to
// a single "_". Cypher cannot parameterize relationship types, so nothing
// else may reach the query text. Names that normalize away entirely become
// RELATED_TO.
func NormalizeRelType(relType string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToUpper(relType) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			pendingSep = false
			continue
		}
		pendingSep = true
	}
	out := b.String()
	if out == "" {
		return "RELATED_TO"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "R_" + out
	}
	return out
}

// encodeProps keeps scalar and string-array values as-is and stores anything
// richer as JSON text, because Cypher parameters only take primitives and
// homogeneous arrays.
func encodeProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch v.(type) {
		case nil:
			continue
		case string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64,
			[]string:
			out[k] = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			out[k] = string(encoded)
		}
	}
	return out
}

// txRequest is the transaction endpoint's statement batch.
type txRequest struct {
	Statements []txStatement `json:"statements"`
}

type txStatement struct {
	Statement  string         `json:"statement"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// txResponse carries only the error list; result rows are ignored because
// every statement this client issues is a write.
type txResponse struct {
	Errors []txError `json:"errors"`
}

type txError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// run commits a single statement. The endpoint reports statement failures in
// the response body with HTTP 200, so both layers are checked.
func (c *Client) run(ctx context.Context, statement string, params map[string]any) error {
	reqJSON, err := json.Marshal(txRequest{
		Statements: []txStatement{{Statement: statement, Parameters: params}},
	})
	if err != nil {
		return fmt.Errorf("marshal statement: %w", err)
	}

	respBody, err := c.doWithRetry(ctx, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("commit statement: %w", err)
	}

	var parsed txResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		return fmt.Errorf("cypher error %s: %s", first.Code, first.Message)
	}

	return nil
}

// doWithRetry executes a commit request with exponential backoff retry logic.
func (c *Client) doWithRetry(ctx context.Context, body *bytes.Reader) ([]byte, error) {
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

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.commitURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
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

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
		}

		return respBody, nil // Success
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
