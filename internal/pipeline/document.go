package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/sanitize"
)

// RunDocument drives one document artifact through extraction, conditional
// translation, summarization and embeddings. The caller hands over the
// downloaded file content; the runner persists every stage boundary. It stops
// short of the graph hand-off: flipping to awaiting_graph and enqueueing
// graph work stay with the worker.
func (r *Runner) RunDocument(ctx context.Context, artifact *cases.Artifact, sourcePath string, content []byte) error {
	var text string
	err := r.runStage(ctx, artifact, cases.StageExtraction, func(ctx context.Context) (stageOutputs, error) {
		extracted, err := r.extractText(ctx, content, artifact.Filename)
		if err != nil {
			return stageOutputs{}, err
		}
		text = extracted
		p := derivedPath(sourcePath, "extracted.txt")
		if err := r.uploadText(ctx, p, text); err != nil {
			return stageOutputs{}, err
		}
		return stageOutputs{extractedPath: &p}, nil
	})
	if err != nil {
		return err
	}

	if r.needsTranslation(artifact) {
		text, err = r.translate(ctx, artifact, sourcePath, text)
		if err != nil {
			return err
		}
	}

	if err := r.summarize(ctx, artifact, sourcePath, text); err != nil {
		return err
	}
	return r.embed(ctx, artifact, cases.StageEmbeddings, sourcePath, text)
}

// extractText is the extraction stage body. Local fast paths first: .txt is
// already text, .html has its readable text pulled out of the markup;
// everything else goes to the Extractor capability.
func (r *Runner) extractText(ctx context.Context, content []byte, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return string(content), nil
	case ".html", ".htm":
		text, err := sanitize.HTMLText(content)
		if err != nil {
			return "", fmt.Errorf("extract html text: %w", err)
		}
		return text, nil
	default:
		return r.caps.Extractor.Extract(ctx, content, filename)
	}
}
