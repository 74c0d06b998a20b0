package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/cdr"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/graph"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/status"
)

// fakeStageStore records every stage boundary the runner persists.
type fakeStageStore struct {
	updates []cases.StageUpdateParams
	err     error
}

func (f *fakeStageStore) UpdateArtifactStage(_ context.Context, params cases.StageUpdateParams) error {
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, params)
	return nil
}

func (f *fakeStageStore) stages() []string {
	out := make([]string, len(f.updates))
	for i, u := range f.updates {
		out[i] = u.CurrentStage
	}
	return out
}

// failingBlobs wraps a working store and fails every write.
type failingBlobs struct {
	blobstore.Store
	err error
}

func (f *failingBlobs) Upload(context.Context, string, io.Reader) error { return f.err }

func (f *failingBlobs) UploadText(context.Context, string, string) error { return f.err }

type fakeCallStore struct {
	records []cdr.CreateParams
	err     error
}

func (f *fakeCallStore) Insert(_ context.Context, params cdr.CreateParams) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, params)
	return nil
}

type fakeEntityStore struct {
	entities      []graph.Entity
	relationships []graph.RelationshipCreateParams
	listErr       error
}

func (f *fakeEntityStore) ListEntitiesByJob(context.Context, uuid.UUID) ([]graph.Entity, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.entities, nil
}

func (f *fakeEntityStore) InsertRelationships(_ context.Context, params []graph.RelationshipCreateParams) error {
	f.relationships = append(f.relationships, params...)
	return nil
}

type fakePublisher struct {
	events []status.Event
}

func (f *fakePublisher) Publish(_ context.Context, event status.Event) {
	f.events = append(f.events, event)
}

func (f *fakePublisher) progresses() []int {
	out := make([]int, len(f.events))
	for i, e := range f.events {
		out[i] = e.ProgressPercent
	}
	return out
}

// fakeML implements every capability; override a func field to script a stage.
type fakeML struct {
	extractFn    func(content []byte, filename string) (string, error)
	transcribeFn func(content []byte, filename string) (*ml.Transcription, error)
	translateFn  func(text, sourceLang string) (string, error)
	rewriteFn    func(text string) (string, error)
	summarizeFn  func(text string) (string, error)
	embedFn      func(text string) ([]float32, error)
	framesFn     func(content []byte, filename string) ([]ml.Frame, error)
	describeFn   func(frames []ml.Frame, faces []ml.FaceMatch) (string, error)
	facesFn      func(frames []ml.Frame) ([]ml.FaceMatch, error)
	graphFn      func(text string) (*ml.GraphPayload, error)
}

func newFakeML() *fakeML {
	return &fakeML{
		extractFn: func(content []byte, _ string) (string, error) {
			return "extracted: " + string(content), nil
		},
		transcribeFn: func([]byte, string) (*ml.Transcription, error) {
			return &ml.Transcription{Text: "transcript text", Language: "en"}, nil
		},
		translateFn: func(text, _ string) (string, error) {
			return "translated: " + text, nil
		},
		rewriteFn: func(text string) (string, error) {
			return "rewritten: " + text, nil
		},
		summarizeFn: func(text string) (string, error) {
			return "summary of: " + text, nil
		},
		embedFn: func(string) ([]float32, error) {
			return []float32{0.25, 0.5}, nil
		},
		framesFn: func([]byte, string) ([]ml.Frame, error) {
			return []ml.Frame{{Name: "frame_0001.jpg", Image: []byte{0xff, 0xd8}}}, nil
		},
		describeFn: func([]ml.Frame, []ml.FaceMatch) (string, error) {
			return "two men exchange a package", nil
		},
		facesFn: func([]ml.Frame) ([]ml.FaceMatch, error) {
			return nil, nil
		},
		graphFn: func(string) (*ml.GraphPayload, error) {
			return &ml.GraphPayload{}, nil
		},
	}
}

func (f *fakeML) Extract(_ context.Context, content []byte, filename string) (string, error) {
	return f.extractFn(content, filename)
}

func (f *fakeML) Transcribe(_ context.Context, content []byte, filename string) (*ml.Transcription, error) {
	return f.transcribeFn(content, filename)
}

func (f *fakeML) Translate(_ context.Context, text, sourceLang string) (string, error) {
	return f.translateFn(text, sourceLang)
}

func (f *fakeML) Rewrite(_ context.Context, text string) (string, error) {
	return f.rewriteFn(text)
}

func (f *fakeML) Summarize(_ context.Context, text string) (string, error) {
	return f.summarizeFn(text)
}

func (f *fakeML) Embed(_ context.Context, text string) ([]float32, error) {
	return f.embedFn(text)
}

func (f *fakeML) ExtractFrames(_ context.Context, content []byte, filename string) ([]ml.Frame, error) {
	return f.framesFn(content, filename)
}

func (f *fakeML) Describe(_ context.Context, frames []ml.Frame, faces []ml.FaceMatch) (string, error) {
	return f.describeFn(frames, faces)
}

func (f *fakeML) MatchFaces(_ context.Context, frames []ml.Frame) ([]ml.FaceMatch, error) {
	return f.facesFn(frames)
}

func (f *fakeML) ExtractGraph(_ context.Context, text string) (*ml.GraphPayload, error) {
	return f.graphFn(text)
}

func (f *fakeML) capabilities() ml.Capabilities {
	return ml.Capabilities{
		Extractor:      f,
		Transcriber:    f,
		Translator:     f,
		Rewriter:       f,
		Summarizer:     f,
		Embedder:       f,
		FrameAnalyzer:  f,
		FaceMatcher:    f,
		GraphExtractor: f,
	}
}

type runnerFixture struct {
	store     *fakeStageStore
	blobs     *blobstore.FS
	calls     *fakeCallStore
	entities  *fakeEntityStore
	ml        *fakeML
	publisher *fakePublisher
	runner    *Runner
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	blobs, err := blobstore.NewFS(t.TempDir())
	require.NoError(t, err)

	f := &runnerFixture{
		store:     &fakeStageStore{},
		blobs:     blobs,
		calls:     &fakeCallStore{},
		entities:  &fakeEntityStore{},
		ml:        newFakeML(),
		publisher: &fakePublisher{},
	}
	f.runner = NewRunner(Deps{
		Store:           f.store,
		Blobs:           blobs,
		Calls:           f.calls,
		Entities:        f.entities,
		Capabilities:    f.ml.capabilities(),
		Publisher:       f.publisher,
		DefaultLanguage: "en",
		Logger:          zerolog.Nop(),
	})
	return f
}

func testArtifact(fileType cases.FileType, filename, language string) *cases.Artifact {
	return &cases.Artifact{
		ID:               uuid.New(),
		JobID:            uuid.New(),
		Filename:         filename,
		FileType:         fileType,
		Status:           cases.ArtifactProcessing,
		DetectedLanguage: language,
	}
}

func TestMarkStagePersistsWithoutTiming(t *testing.T) {
	f := newRunnerFixture(t)
	artifact := testArtifact(cases.FileTypeDocument, "report.pdf", "en")
	artifact.Stages.Set(cases.StageExtraction, 1.5)
	artifact.Stages.Set(cases.StageSummarization, 2.5)
	artifact.Stages.Set(cases.StageEmbeddings, 0.5)

	err := f.runner.MarkStage(context.Background(), artifact, cases.StageAwaitingGraph)
	require.NoError(t, err)

	require.Len(t, f.store.updates, 1)
	update := f.store.updates[0]
	assert.Equal(t, cases.StageAwaitingGraph, update.CurrentStage)
	assert.Equal(t,
		[]string{cases.StageExtraction, cases.StageSummarization, cases.StageEmbeddings},
		update.Stages.Stages(),
		"a hand-off state records no timing entry")
	assert.Nil(t, update.DetectedLanguage)
	assert.Nil(t, update.ExtractedPath)

	require.Len(t, f.publisher.events, 1)
	event := f.publisher.events[0]
	assert.Equal(t, cases.StageAwaitingGraph, event.CurrentStage)
	assert.Equal(t, 67, event.ProgressPercent)
}

func TestMarkStageStoreFailure(t *testing.T) {
	f := newRunnerFixture(t)
	f.store.err = assert.AnError
	artifact := testArtifact(cases.FileTypeDocument, "report.pdf", "en")

	err := f.runner.MarkStage(context.Background(), artifact, cases.StageAwaitingGraph)
	require.Error(t, err)
	assert.Empty(t, f.publisher.events)
}

func TestPublishStatusTerminalStatuses(t *testing.T) {
	f := newRunnerFixture(t)

	completed := testArtifact(cases.FileTypeDocument, "report.pdf", "en")
	completed.Status = cases.ArtifactCompleted
	completed.CurrentStage = cases.StageCompleted
	f.runner.PublishStatus(context.Background(), completed)

	failed := testArtifact(cases.FileTypeDocument, "scan.pdf", "en")
	failed.Status = cases.ArtifactFailed
	failed.CurrentStage = cases.StageExtraction
	failed.ErrorMessage = "extractor rejected the file"
	f.runner.PublishStatus(context.Background(), failed)

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, 100, f.publisher.events[0].ProgressPercent)
	assert.Equal(t, 0, f.publisher.events[1].ProgressPercent)
	require.NotNil(t, f.publisher.events[1].ErrorMessage)
	assert.Equal(t, "extractor rejected the file", *f.publisher.events[1].ErrorMessage)
}

func TestStageErrorUnwraps(t *testing.T) {
	cause := errors.New("model overloaded")
	err := &StageError{Stage: cases.StageSummarization, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "summarization")
}
