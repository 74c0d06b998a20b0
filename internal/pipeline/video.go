package pipeline

import (
	"bytes"
	"context"
	"path"

	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/sanitize"
)

// RunVideo drives one video artifact through frame extraction, face
// recognition, scene analysis, conditional translation, summarization and
// vectorization. Extracted frames land under the source's derived prefix so
// an investigator can inspect what the description was built from.
func (r *Runner) RunVideo(ctx context.Context, artifact *cases.Artifact, sourcePath string, content []byte) error {
	var frames []ml.Frame
	err := r.runStage(ctx, artifact, cases.StageFrameExtraction, func(ctx context.Context) (stageOutputs, error) {
		extracted, err := r.caps.FrameAnalyzer.ExtractFrames(ctx, content, artifact.Filename)
		if err != nil {
			return stageOutputs{}, err
		}
		frames = extracted
		for _, frame := range frames {
			p := path.Join(path.Dir(sourcePath), "derived", "frames", frame.Name)
			if err := r.blobs.Upload(ctx, p, bytes.NewReader(frame.Image)); err != nil {
				return stageOutputs{}, infra("upload frame %s: %w", frame.Name, err)
			}
		}
		return stageOutputs{}, nil
	})
	if err != nil {
		return err
	}

	var faces []ml.FaceMatch
	err = r.runStage(ctx, artifact, cases.StageFaceRecognition, func(ctx context.Context) (stageOutputs, error) {
		matched, err := r.caps.FaceMatcher.MatchFaces(ctx, frames)
		if err != nil {
			return stageOutputs{}, err
		}
		faces = matched
		return stageOutputs{}, nil
	})
	if err != nil {
		return err
	}

	var text string
	err = r.runStage(ctx, artifact, cases.StageVideoAnalysis, func(ctx context.Context) (stageOutputs, error) {
		description, err := r.caps.FrameAnalyzer.Describe(ctx, frames, faces)
		if err != nil {
			return stageOutputs{}, err
		}
		text = sanitize.Text(description)
		p := derivedPath(sourcePath, "analysis.txt")
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
	return r.embed(ctx, artifact, cases.StageVectorization, sourcePath, text)
}
