// Package ml defines the external machine-learning capabilities the
// pipelines depend on. Each capability is a narrow interface so tests can
// substitute fakes and deployments can mix providers: the HTTP gateway
// implements every capability, while the anthropic and gemini providers
// override the LLM-shaped and embedding ones.
package ml

import "context"

// Transcription is speech-to-text output plus the detected source language
// (ISO 639-1 code, empty when detection failed).
type Transcription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Frame is a single still extracted from a video.
type Frame struct {
	Name  string `json:"name"`
	Image []byte `json:"image"`
}

// FaceMatch is a recognized individual across one or more frames.
type FaceMatch struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// GraphNode is one extracted entity with a document-local ID. IDs are only
// unique within a single extraction payload; resolution into case-wide
// entity IDs happens downstream.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdge is one extracted relation between two document-local node IDs.
type GraphEdge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphPayload is the raw entity/relation extraction result for one piece
// of artifact text.
type GraphPayload struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Extractor pulls plain text out of a document file.
type Extractor interface {
	Extract(ctx context.Context, content []byte, filename string) (string, error)
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, content []byte, filename string) (*Transcription, error)
}

// Translator translates text to English. sourceLang is a hint and may be
// empty when the source language is unknown.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) (string, error)
}

// Rewriter cleans up raw transcription output (filler words, broken
// sentence boundaries) without changing its meaning.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

// Summarizer produces an investigator-facing summary of artifact text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Embedder produces a dense vector for semantic search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FrameAnalyzer extracts stills from a video and describes their content.
// Describe may use the supplied face matches to name individuals in the
// description.
type FrameAnalyzer interface {
	ExtractFrames(ctx context.Context, content []byte, filename string) ([]Frame, error)
	Describe(ctx context.Context, frames []Frame, faces []FaceMatch) (string, error)
}

// FaceMatcher matches faces in frames against the known-person gallery.
type FaceMatcher interface {
	MatchFaces(ctx context.Context, frames []Frame) ([]FaceMatch, error)
}

// GraphExtractor pulls entities and relations out of artifact text.
type GraphExtractor interface {
	ExtractGraph(ctx context.Context, text string) (*GraphPayload, error)
}

// Capabilities bundles the full capability set the worker pools need. The
// serve command assembles it from the configured providers; every field is
// populated before workers start.
type Capabilities struct {
	Extractor      Extractor
	Transcriber    Transcriber
	Translator     Translator
	Rewriter       Rewriter
	Summarizer     Summarizer
	Embedder       Embedder
	FrameAnalyzer  FrameAnalyzer
	FaceMatcher    FaceMatcher
	GraphExtractor GraphExtractor
}
