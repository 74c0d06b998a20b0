// Package gemini implements the embedding capability on the Gemini API.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/casewire/casewire/internal/ml"
)

const (
	// DefaultModel is used when no embedding model is configured
	DefaultModel = "gemini-embedding-001"
	// DefaultDimension is the output dimensionality when none is configured
	DefaultDimension = 768
)

// Embedder produces embedding vectors via EmbedContent with a fixed output
// dimensionality.
type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
}

var _ ml.Embedder = (*Embedder)(nil)

// NewEmbedder creates a Gemini API backed embedder.
func NewEmbedder(ctx context.Context, apiKey, model string, dimension int) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize genai client: %w", err)
	}

	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
	}, nil
}

// Embed returns a vector of the configured dimensionality.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	outputDim := int32(e.dimension)
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, config)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}

	if len(embedding) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(embedding))
	}

	return embedding, nil
}
