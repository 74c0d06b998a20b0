package pipeline

import (
	"context"

	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/sanitize"
)

// RunAudio drives one audio artifact through transcription, the conditional
// translation and rewrite passes, summarization and vectorization. A language
// detected by the transcriber overrides the ingest hint.
func (r *Runner) RunAudio(ctx context.Context, artifact *cases.Artifact, sourcePath string, content []byte) error {
	var text string
	err := r.runStage(ctx, artifact, cases.StageTranscription, func(ctx context.Context) (stageOutputs, error) {
		transcription, err := r.caps.Transcriber.Transcribe(ctx, content, artifact.Filename)
		if err != nil {
			return stageOutputs{}, err
		}
		text = transcription.Text
		p := derivedPath(sourcePath, "transcript.txt")
		if err := r.uploadText(ctx, p, text); err != nil {
			return stageOutputs{}, err
		}
		out := stageOutputs{transcriptPath: &p}
		if transcription.Language != "" {
			out.detectedLanguage = &transcription.Language
		}
		return out, nil
	})
	if err != nil {
		return err
	}

	if r.needsTranslation(artifact) {
		text, err = r.translate(ctx, artifact, sourcePath, text)
		if err != nil {
			return err
		}
		text, err = r.rewrite(ctx, artifact, sourcePath, text)
		if err != nil {
			return err
		}
	}

	if err := r.summarize(ctx, artifact, sourcePath, text); err != nil {
		return err
	}
	return r.embed(ctx, artifact, cases.StageVectorization, sourcePath, text)
}

// rewrite runs the optional transcript cleanup pass. The rewritten text
// refreshes the translated slot in place, so downstream stages and the graph
// hand-off keep reading one path; the raw transcript stays untouched.
func (r *Runner) rewrite(ctx context.Context, artifact *cases.Artifact, sourcePath, text string) (string, error) {
	rewritten := ""
	ran, err := r.runOptionalStage(ctx, artifact, cases.StageTextRewrite, func(ctx context.Context) (stageOutputs, error) {
		out, err := r.caps.Rewriter.Rewrite(ctx, text)
		if err != nil {
			return stageOutputs{}, err
		}
		rewritten = sanitize.Text(out)
		p := derivedPath(sourcePath, "translated.txt")
		if err := r.uploadText(ctx, p, rewritten); err != nil {
			return stageOutputs{}, err
		}
		return stageOutputs{translatedPath: &p}, nil
	})
	if err != nil {
		return "", err
	}
	if !ran {
		return text, nil
	}
	return rewritten, nil
}
