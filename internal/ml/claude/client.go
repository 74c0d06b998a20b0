// Package claude implements the LLM-shaped ML capabilities (translation,
// transcript rewriting, summarization, graph extraction) on the Anthropic
// Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/ml"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultMaxTokens bounds completion length
	DefaultMaxTokens = 8192
)

const translateSystem = `You translate case-file material into English for investigators.
Preserve names, phone numbers, addresses, dates and monetary amounts exactly as written.
Output only the translation, nothing else.`

const rewriteSystem = `You clean up raw speech-to-text transcripts of intercepted calls and interviews.
Fix sentence boundaries and punctuation, remove filler words and obvious transcription artifacts.
Do not add, drop, summarize or reorder content. Output only the cleaned transcript.`

const summarizeSystem = `You summarize case-file material for investigators.
Cover the people involved and their relationships, places, dates, phone numbers,
monetary amounts and notable events. Stay factual and do not speculate.
Output only the summary.`

const graphSystem = `You extract entities and relationships from case-file text.
Respond with a single JSON object, no prose and no markdown fences, of the form:
{"nodes": [{"id": "n1", "label": "<surface name>", "type": "<PERSON|ORGANIZATION|LOCATION|PHONE|VEHICLE|EVENT|OTHER>", "properties": {}}],
 "edges": [{"source": "n1", "target": "n2", "type": "<RELATION_IN_CAPS>", "properties": {}}]}
Node ids are local to this response. Every edge must reference node ids that appear in "nodes".
Use the exact surface form of each entity as its label. Include phone numbers as PHONE nodes.`

// Client implements Translator, Rewriter, Summarizer and GraphExtractor on
// the Messages API. Extraction, transcription and the video capabilities
// stay on the gateway.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

var (
	_ ml.Translator     = (*Client)(nil)
	_ ml.Rewriter       = (*Client)(nil)
	_ ml.Summarizer     = (*Client)(nil)
	_ ml.GraphExtractor = (*Client)(nil)
)

// NewClient creates a Messages API backed provider.
func NewClient(apiKey, model string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: DefaultMaxTokens,
		logger:    logger.With().Str("component", "ml_claude").Logger(),
	}, nil
}

// Translate translates text to English, preserving identifying details.
func (c *Client) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	prompt := text
	if sourceLang != "" {
		prompt = fmt.Sprintf("Source language: %s\n\n%s", sourceLang, text)
	}

	out, err := c.complete(ctx, translateSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out, nil
}

// Rewrite cleans up a raw transcript without changing its content.
func (c *Client) Rewrite(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, rewriteSystem, text)
	if err != nil {
		return "", fmt.Errorf("rewrite: %w", err)
	}
	return out, nil
}

// Summarize produces an investigator-facing summary.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, summarizeSystem, text)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}

// ExtractGraph extracts entities and relations as a schema-validated
// payload. Markdown fences around the JSON are tolerated and stripped.
func (c *Client) ExtractGraph(ctx context.Context, text string) (*ml.GraphPayload, error) {
	out, err := c.complete(ctx, graphSystem, text)
	if err != nil {
		return nil, fmt.Errorf("extract graph: %w", err)
	}

	payload, err := ml.ParseGraphPayload([]byte(stripMarkdownFences(out)))
	if err != nil {
		c.logger.Warn().Err(err).Int("response_length", len(out)).Msg("graph extraction returned malformed payload")
		return nil, fmt.Errorf("extract graph: %w", err)
	}
	return payload, nil
}

// complete runs one user-turn completion and concatenates the text blocks.
func (c *Client) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("messages API: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(variant.Text)
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("empty completion from model %s", c.model)
	}
	return out, nil
}

// stripMarkdownFences removes a surrounding ```json ... ``` fence if the
// model added one despite instructions.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
