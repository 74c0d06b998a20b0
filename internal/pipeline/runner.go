// Package pipeline drives artifacts through their per-file-type stage
// sequences. The Runner owns the shared stage machinery: timing, persisting
// the stage boundary, publishing a status event after every stage. Lifecycle
// transitions around the sequences (creating the artifact, the awaiting_graph
// hand-off, terminal completion) belong to the workers that call it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/cdr"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/graph"
	"github.com/casewire/casewire/internal/metrics"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/sanitize"
	"github.com/casewire/casewire/internal/status"
	"github.com/casewire/casewire/internal/telemetry"
)

var tracer = telemetry.GetTracer("github.com/casewire/casewire/internal/pipeline")

// languageEnglish is the target language of the translation stage; content
// already in it skips the conditional stages.
const languageEnglish = "en"

// Store is the artifact slice of the case store the stage loop writes.
// cases.Repository satisfies it.
type Store interface {
	UpdateArtifactStage(ctx context.Context, params cases.StageUpdateParams) error
}

var _ Store = cases.Repository(nil)

// CallStore persists parsed call-detail records. cdr.Repository satisfies it.
type CallStore interface {
	Insert(ctx context.Context, params cdr.CreateParams) error
}

var _ CallStore = cdr.Repository(nil)

// EntityStore is the graph slice phone matching reads and writes.
// graph.Repository satisfies it.
type EntityStore interface {
	ListEntitiesByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Entity, error)
	InsertRelationships(ctx context.Context, params []graph.RelationshipCreateParams) error
}

var _ EntityStore = graph.Repository(nil)

// Publisher pushes one status event per persisted stage boundary.
// *status.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event status.Event)
}

var _ Publisher = (*status.Publisher)(nil)

// StageError reports that a stage's own work failed: an ML capability call,
// a parse, a validation. Workers turn it into a FAILED artifact and a
// cancelled message; every other error goes back to river for backoff retry.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// infraError marks a store or blob failure inside a stage function so
// runStage reports it as retryable instead of failing the artifact.
type infraError struct {
	err error
}

func (e *infraError) Error() string { return e.err.Error() }

func (e *infraError) Unwrap() error { return e.err }

func infra(format string, args ...any) error {
	return &infraError{err: fmt.Errorf(format, args...)}
}

// Deps are the collaborators a Runner needs. Everything is required except
// DefaultLanguage, which falls back to English.
type Deps struct {
	Store           Store
	Blobs           blobstore.Store
	Calls           CallStore
	Entities        EntityStore
	Capabilities    ml.Capabilities
	Publisher       Publisher
	DefaultLanguage string
	Logger          zerolog.Logger
}

// Runner executes stage sequences for the worker pools.
type Runner struct {
	store       Store
	blobs       blobstore.Store
	calls       CallStore
	entities    EntityStore
	caps        ml.Capabilities
	publisher   Publisher
	defaultLang string
	logger      zerolog.Logger
}

func NewRunner(deps Deps) *Runner {
	lang := deps.DefaultLanguage
	if lang == "" {
		lang = languageEnglish
	}
	return &Runner{
		store:       deps.Store,
		blobs:       deps.Blobs,
		calls:       deps.Calls,
		entities:    deps.Entities,
		caps:        deps.Capabilities,
		publisher:   deps.Publisher,
		defaultLang: lang,
		logger:      deps.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// stageOutputs is what a stage function hands back for persistence. Nil
// pointers leave the corresponding artifact fields untouched.
type stageOutputs struct {
	detectedLanguage *string
	extractedPath    *string
	transcriptPath   *string
	translatedPath   *string
	summaryPath      *string
}

func (o stageOutputs) apply(artifact *cases.Artifact) {
	if o.detectedLanguage != nil {
		artifact.DetectedLanguage = *o.detectedLanguage
	}
	if o.extractedPath != nil {
		artifact.ExtractedPath = *o.extractedPath
	}
	if o.transcriptPath != nil {
		artifact.TranscriptPath = *o.transcriptPath
	}
	if o.translatedPath != nil {
		artifact.TranslatedPath = *o.translatedPath
	}
	if o.summaryPath != nil {
		artifact.SummaryPath = *o.summaryPath
	}
}

// runStage executes one stage function, records its elapsed seconds, persists
// the stage boundary and publishes a status event. A plain error from fn is a
// stage failure; an infra-marked one and any persistence error stay plain so
// they reach river's retry path.
func (r *Runner) runStage(ctx context.Context, artifact *cases.Artifact, stage string, fn func(context.Context) (stageOutputs, error)) error {
	ctx, span := tracer.Start(ctx, "pipeline."+stage,
		trace.WithAttributes(
			attribute.String("job_id", artifact.JobID.String()),
			attribute.String("file_type", string(artifact.FileType)),
		))
	defer span.End()

	start := time.Now()
	outputs, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		var marked *infraError
		if errors.As(err, &marked) {
			return fmt.Errorf("stage %s: %w", stage, marked.err)
		}
		return &StageError{Stage: stage, Err: err}
	}
	elapsed := time.Since(start).Seconds()
	metrics.StageDuration.WithLabelValues(string(artifact.FileType), stage).Observe(elapsed)

	artifact.Stages.Set(stage, elapsed)
	artifact.CurrentStage = stage
	outputs.apply(artifact)

	params := cases.StageUpdateParams{
		ArtifactID:       artifact.ID,
		CurrentStage:     stage,
		Stages:           artifact.Stages,
		DetectedLanguage: outputs.detectedLanguage,
		ExtractedPath:    outputs.extractedPath,
		TranscriptPath:   outputs.transcriptPath,
		TranslatedPath:   outputs.translatedPath,
		SummaryPath:      outputs.summaryPath,
	}
	if err := r.store.UpdateArtifactStage(ctx, params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return fmt.Errorf("persist stage %s: %w", stage, err)
	}
	r.PublishStatus(ctx, artifact)
	r.logger.Info().
		Str("job_id", artifact.JobID.String()).
		Str("filename", artifact.Filename).
		Str("stage", stage).
		Float64("seconds", elapsed).
		Msg("stage finished")
	return nil
}

// runOptionalStage is runStage for the conditional stages. A failure of the
// stage's own work is logged and swallowed so the pipeline continues on its
// pre-stage text; ran reports whether the stage finished. Persistence and
// infra errors still abort the run.
func (r *Runner) runOptionalStage(ctx context.Context, artifact *cases.Artifact, stage string, fn func(context.Context) (stageOutputs, error)) (bool, error) {
	err := r.runStage(ctx, artifact, stage, fn)
	if err == nil {
		return true, nil
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		r.logger.Warn().
			Err(stageErr.Err).
			Str("job_id", artifact.JobID.String()).
			Str("filename", artifact.Filename).
			Str("stage", stage).
			Msg("optional stage failed, continuing without it")
		return false, nil
	}
	return false, err
}

// MarkStage persists a bare stage transition with no timing entry and
// publishes it. Used for awaiting_graph and graph_building, which mark where
// an artifact sits rather than work it performed.
func (r *Runner) MarkStage(ctx context.Context, artifact *cases.Artifact, stage string) error {
	artifact.CurrentStage = stage
	params := cases.StageUpdateParams{
		ArtifactID:   artifact.ID,
		CurrentStage: stage,
		Stages:       artifact.Stages,
	}
	if err := r.store.UpdateArtifactStage(ctx, params); err != nil {
		return fmt.Errorf("mark stage %s: %w", stage, err)
	}
	r.PublishStatus(ctx, artifact)
	return nil
}

// PublishStatus pushes the artifact's current state to the status feed. Best
// effort all the way down; it never fails the caller.
func (r *Runner) PublishStatus(ctx context.Context, artifact *cases.Artifact) {
	progress := Progress(artifact.FileType, artifact.CurrentStage, artifact.Stages.Stages(), artifact.Status)
	r.publisher.Publish(ctx, status.FromArtifact(artifact, progress))
}

// effectiveLanguage is the language driving the conditional stages: the
// artifact's detected or hinted language, then the configured default.
func (r *Runner) effectiveLanguage(artifact *cases.Artifact) string {
	if artifact.DetectedLanguage != "" {
		return artifact.DetectedLanguage
	}
	return r.defaultLang
}

func (r *Runner) needsTranslation(artifact *cases.Artifact) bool {
	return r.effectiveLanguage(artifact) != languageEnglish
}

func (r *Runner) uploadText(ctx context.Context, blobPath, text string) error {
	if err := r.blobs.UploadText(ctx, blobPath, text); err != nil {
		return infra("upload %s: %w", blobPath, err)
	}
	return nil
}

// derivedPath places a stage output next to its source file, e.g.
// cases/C-41/01J.../report.pdf -> cases/C-41/01J.../derived/report.pdf.summary.txt.
func derivedPath(sourcePath, suffix string) string {
	return path.Join(path.Dir(sourcePath), "derived", path.Base(sourcePath)+"."+suffix)
}

// translate runs the optional translation stage and returns the working text
// for the stages after it: the sanitized translation when the stage ran, the
// input unchanged when it fell back.
func (r *Runner) translate(ctx context.Context, artifact *cases.Artifact, sourcePath, text string) (string, error) {
	translated := ""
	ran, err := r.runOptionalStage(ctx, artifact, cases.StageTranslation, func(ctx context.Context) (stageOutputs, error) {
		out, err := r.caps.Translator.Translate(ctx, text, r.effectiveLanguage(artifact))
		if err != nil {
			return stageOutputs{}, err
		}
		translated = sanitize.Text(out)
		p := derivedPath(sourcePath, "translated.txt")
		if err := r.uploadText(ctx, p, translated); err != nil {
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
	return translated, nil
}

// summarize runs the summarization stage on the working text.
func (r *Runner) summarize(ctx context.Context, artifact *cases.Artifact, sourcePath, text string) error {
	return r.runStage(ctx, artifact, cases.StageSummarization, func(ctx context.Context) (stageOutputs, error) {
		summary, err := r.caps.Summarizer.Summarize(ctx, text)
		if err != nil {
			return stageOutputs{}, err
		}
		p := derivedPath(sourcePath, "summary.txt")
		if err := r.uploadText(ctx, p, sanitize.Text(summary)); err != nil {
			return stageOutputs{}, err
		}
		return stageOutputs{summaryPath: &p}, nil
	})
}

// embed runs the vector stage; documents call it embeddings, audio and video
// vectorization, the work is the same. The vector lands in the blob store as
// a JSON array next to the other derived outputs.
func (r *Runner) embed(ctx context.Context, artifact *cases.Artifact, stage, sourcePath, text string) error {
	return r.runStage(ctx, artifact, stage, func(ctx context.Context) (stageOutputs, error) {
		vector, err := r.caps.Embedder.Embed(ctx, text)
		if err != nil {
			return stageOutputs{}, err
		}
		payload, err := json.Marshal(vector)
		if err != nil {
			return stageOutputs{}, fmt.Errorf("encode vector: %w", err)
		}
		if err := r.uploadText(ctx, derivedPath(sourcePath, "embedding.json"), string(payload)); err != nil {
			return stageOutputs{}, err
		}
		return stageOutputs{}, nil
	})
}
