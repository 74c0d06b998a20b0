package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/cdr"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/graph"
	"github.com/casewire/casewire/internal/kg"
	"github.com/casewire/casewire/internal/ml"
	"github.com/casewire/casewire/internal/pipeline"
	"github.com/casewire/casewire/internal/status"
	"github.com/casewire/casewire/internal/storage"
)

// memCases is an in-memory cases.Repository mirroring the conditional-update
// semantics of the postgres implementation, so the workers' completion
// choreography can run end to end without a database.
type memCases struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*cases.Job
	artifacts map[uuid.UUID]*cases.Artifact

	updateStageErr error
}

func newMemCases() *memCases {
	return &memCases{
		jobs:      make(map[uuid.UUID]*cases.Job),
		artifacts: make(map[uuid.UUID]*cases.Artifact),
	}
}

func (m *memCases) CreateJob(ctx context.Context, params cases.JobCreateParams) (*cases.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &cases.Job{
		ID:            params.ID,
		Status:        cases.JobQueued,
		TotalFiles:    params.TotalFiles,
		CaseNumber:    params.CaseNumber,
		ParentJobID:   params.ParentJobID,
		OwnerID:       params.OwnerID,
		StoragePrefix: params.StoragePrefix,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	m.jobs[job.ID] = job
	out := *job
	return &out, nil
}

func (m *memCases) GetJob(ctx context.Context, id uuid.UUID) (*cases.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, cases.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (m *memCases) ListJobsByCase(ctx context.Context, caseNumber string) ([]cases.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []cases.Job
	for _, job := range m.jobs {
		if job.CaseNumber == caseNumber {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (m *memCases) ListJobsByStatus(ctx context.Context, status cases.JobStatus) ([]cases.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []cases.Job
	for _, job := range m.jobs {
		if job.Status == status {
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

func (m *memCases) MarkJobProcessing(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && job.Status == cases.JobQueued {
		job.Status = cases.JobProcessing
	}
	return nil
}

func (m *memCases) IncrementProcessedFiles(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return cases.ErrJobNotFound
	}
	job.ProcessedFiles++
	return nil
}

func (m *memCases) CompleteJobIfDone(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status == cases.JobCompleted || job.Status == cases.JobFailed {
		return false, nil
	}
	if m.countByStatusLocked(id, cases.ArtifactCompleted) < job.TotalFiles {
		return false, nil
	}
	now := time.Now()
	job.Status = cases.JobCompleted
	job.CompletedAt = &now
	return true, nil
}

func (m *memCases) FailJobIfStuck(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Status == cases.JobCompleted || job.Status == cases.JobFailed {
		return false, nil
	}
	completed := m.countByStatusLocked(id, cases.ArtifactCompleted)
	failed := m.countByStatusLocked(id, cases.ArtifactFailed)
	if completed+failed < job.TotalFiles || failed == 0 {
		return false, nil
	}
	now := time.Now()
	job.Status = cases.JobFailed
	job.CompletedAt = &now
	return true, nil
}

func (m *memCases) CreateArtifact(ctx context.Context, params cases.ArtifactCreateParams) (*cases.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.JobID == params.JobID && a.Filename == params.Filename {
			return nil, cases.ErrArtifactExists
		}
	}
	artifact := &cases.Artifact{
		ID:               params.ID,
		JobID:            params.JobID,
		Filename:         params.Filename,
		FileType:         params.FileType,
		Status:           cases.ArtifactProcessing,
		Stages:           cases.StageTimings{},
		DetectedLanguage: params.Language,
		Checksum:         params.Checksum,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	m.artifacts[artifact.ID] = artifact
	out := *artifact
	return &out, nil
}

func (m *memCases) GetArtifact(ctx context.Context, id uuid.UUID) (*cases.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.artifacts[id]
	if !ok {
		return nil, cases.ErrArtifactNotFound
	}
	out := *artifact
	return &out, nil
}

func (m *memCases) GetArtifactByJobAndFilename(ctx context.Context, jobID uuid.UUID, filename string) (*cases.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.artifacts {
		if a.JobID == jobID && a.Filename == filename {
			out := *a
			return &out, nil
		}
	}
	return nil, cases.ErrArtifactNotFound
}

func (m *memCases) ListArtifactsByJob(ctx context.Context, jobID uuid.UUID) ([]cases.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var artifacts []cases.Artifact
	for _, a := range m.artifacts {
		if a.JobID == jobID {
			artifacts = append(artifacts, *a)
		}
	}
	return artifacts, nil
}

func (m *memCases) UpdateArtifactStage(ctx context.Context, params cases.StageUpdateParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStageErr != nil {
		return m.updateStageErr
	}
	artifact, ok := m.artifacts[params.ArtifactID]
	if !ok {
		return cases.ErrArtifactNotFound
	}
	artifact.CurrentStage = params.CurrentStage
	artifact.Stages = params.Stages
	if params.DetectedLanguage != nil {
		artifact.DetectedLanguage = *params.DetectedLanguage
	}
	if params.ExtractedPath != nil {
		artifact.ExtractedPath = *params.ExtractedPath
	}
	if params.TranscriptPath != nil {
		artifact.TranscriptPath = *params.TranscriptPath
	}
	if params.TranslatedPath != nil {
		artifact.TranslatedPath = *params.TranslatedPath
	}
	if params.SummaryPath != nil {
		artifact.SummaryPath = *params.SummaryPath
	}
	artifact.UpdatedAt = time.Now()
	return nil
}

func (m *memCases) CompleteArtifact(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.artifacts[id]
	if !ok || artifact.Status == cases.ArtifactCompleted {
		return false, nil
	}
	artifact.Status = cases.ArtifactCompleted
	artifact.CurrentStage = cases.StageCompleted
	artifact.ErrorMessage = ""
	artifact.UpdatedAt = time.Now()
	return true, nil
}

func (m *memCases) FailArtifact(ctx context.Context, id uuid.UUID, stage string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	artifact, ok := m.artifacts[id]
	if !ok {
		return cases.ErrArtifactNotFound
	}
	artifact.Status = cases.ArtifactFailed
	artifact.CurrentStage = stage
	artifact.ErrorMessage = message
	artifact.UpdatedAt = time.Now()
	return nil
}

func (m *memCases) CountCompletedArtifacts(ctx context.Context, jobID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countByStatusLocked(jobID, cases.ArtifactCompleted), nil
}

func (m *memCases) CountArtifactsByStatus(ctx context.Context, jobID uuid.UUID) (cases.StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cases.StatusCounts{
		Processing: m.countByStatusLocked(jobID, cases.ArtifactProcessing),
		Completed:  m.countByStatusLocked(jobID, cases.ArtifactCompleted),
		Failed:     m.countByStatusLocked(jobID, cases.ArtifactFailed),
	}, nil
}

func (m *memCases) ListStalledArtifacts(ctx context.Context, olderThan time.Time) ([]cases.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var artifacts []cases.Artifact
	for _, a := range m.artifacts {
		if a.Status == cases.ArtifactProcessing && a.UpdatedAt.Before(olderThan) {
			artifacts = append(artifacts, *a)
		}
	}
	return artifacts, nil
}

func (m *memCases) countByStatusLocked(jobID uuid.UUID, status cases.ArtifactStatus) int {
	count := 0
	for _, a := range m.artifacts {
		if a.JobID == jobID && a.Status == status {
			count++
		}
	}
	return count
}

// setArtifact overwrites stored artifact state directly, for seeding
// mid-pipeline scenarios.
func (m *memCases) setArtifact(artifact cases.Artifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := artifact
	m.artifacts[artifact.ID] = &stored
}

type memGraph struct {
	mu            sync.Mutex
	entities      []graph.Entity
	relationships []graph.Relationship
}

func (m *memGraph) InsertEntities(ctx context.Context, params []graph.EntityCreateParams) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, p := range params {
		if m.hasEntityLocked(p.ID) {
			continue
		}
		m.entities = append(m.entities, graph.Entity{
			ID:             p.ID,
			JobID:          p.JobID,
			ArtifactID:     p.ArtifactID,
			Label:          p.Label,
			CanonicalLabel: p.CanonicalLabel,
			Type:           p.Type,
			Properties:     p.Properties,
			CreatedAt:      time.Now(),
		})
		inserted++
	}
	return inserted, nil
}

func (m *memGraph) hasEntityLocked(id string) bool {
	for _, e := range m.entities {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (m *memGraph) InsertRelationships(ctx context.Context, params []graph.RelationshipCreateParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range params {
		if m.hasRelationshipLocked(p.ID) {
			continue
		}
		m.relationships = append(m.relationships, graph.Relationship{
			ID:         p.ID,
			JobID:      p.JobID,
			SourceID:   p.SourceID,
			TargetID:   p.TargetID,
			Type:       p.Type,
			Properties: p.Properties,
			CreatedAt:  time.Now(),
		})
	}
	return nil
}

func (m *memGraph) hasRelationshipLocked(id uuid.UUID) bool {
	for _, r := range m.relationships {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (m *memGraph) ListEntitiesByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entities []graph.Entity
	for _, e := range m.entities {
		if e.JobID == jobID {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

func (m *memGraph) ListEntitiesByCanonical(ctx context.Context, jobID uuid.UUID, canonical string) ([]graph.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entities []graph.Entity
	for _, e := range m.entities {
		if e.JobID == jobID && e.CanonicalLabel == canonical {
			entities = append(entities, e)
		}
	}
	return entities, nil
}

func (m *memGraph) ListRelationshipsByJob(ctx context.Context, jobID uuid.UUID) ([]graph.Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var relationships []graph.Relationship
	for _, r := range m.relationships {
		if r.JobID == jobID {
			relationships = append(relationships, r)
		}
	}
	return relationships, nil
}

func (m *memGraph) SearchEntities(ctx context.Context, jobID *uuid.UUID, query string, limit int) ([]graph.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(query)
	var entities []graph.Entity
	for _, e := range m.entities {
		if jobID != nil && e.JobID != *jobID {
			continue
		}
		if strings.Contains(strings.ToLower(e.Label), needle) {
			entities = append(entities, e)
		}
		if limit > 0 && len(entities) >= limit {
			break
		}
	}
	return entities, nil
}

type memCDR struct {
	mu      sync.Mutex
	records []cdr.Record
}

func (m *memCDR) Insert(ctx context.Context, params cdr.CreateParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, cdr.Record{
		ID:             params.ID,
		JobID:          params.JobID,
		ArtifactID:     params.ArtifactID,
		RecordCount:    len(params.Calls),
		Calls:          params.Calls,
		MatchedNumbers: params.Matches,
		CreatedAt:      time.Now(),
	})
	return nil
}

func (m *memCDR) GetByArtifact(ctx context.Context, artifactID uuid.UUID) (*cdr.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ArtifactID == artifactID {
			out := r
			return &out, nil
		}
	}
	return nil, cdr.ErrRecordNotFound
}

func (m *memCDR) ListNumbersByJob(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var numbers []string
	for _, r := range m.records {
		if r.JobID != jobID {
			continue
		}
		for _, c := range r.Calls {
			for _, n := range []string{c.Caller, c.Callee} {
				if n != "" && !seen[n] {
					seen[n] = true
					numbers = append(numbers, n)
				}
			}
		}
	}
	return numbers, nil
}

// memRepo bundles the in-memory stores behind the storage.Repository surface.
type memRepo struct {
	casesRepo *memCases
	graphRepo *memGraph
	cdrRepo   *memCDR
}

func newMemRepo() *memRepo {
	return &memRepo{
		casesRepo: newMemCases(),
		graphRepo: &memGraph{},
		cdrRepo:   &memCDR{},
	}
}

func (r *memRepo) Cases() cases.Repository { return r.casesRepo }
func (r *memRepo) Graph() graph.Repository { return r.graphRepo }
func (r *memRepo) CDR() cdr.Repository     { return r.cdrRepo }

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, storage.Repository) error) error {
	return fn(ctx, r)
}

type insertedJob struct {
	args river.JobArgs
	opts *river.InsertOpts
}

type fakeInserter struct {
	mu       sync.Mutex
	inserted []insertedJob
	err      error
}

func (f *fakeInserter) Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = append(f.inserted, insertedJob{args: args, opts: opts})
	return &rivertype.JobInsertResult{}, nil
}

func (f *fakeInserter) jobs() []insertedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insertedJob(nil), f.inserted...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []status.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event status.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) all() []status.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]status.Event(nil), f.events...)
}

type fakeSummarizer struct{ err error }

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "summary of: " + text, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.25, 0.5}, nil
}

type fakeGraphExtractor struct {
	fn    func(text string) (*ml.GraphPayload, error)
	calls int
}

func (f *fakeGraphExtractor) ExtractGraph(ctx context.Context, text string) (*ml.GraphPayload, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(text)
	}
	return &ml.GraphPayload{}, nil
}

type mergeCall struct {
	kind string
	typ  string
	id   string
}

type fakeMerger struct {
	mu    sync.Mutex
	calls []mergeCall
	err   error
}

func (f *fakeMerger) MergeNode(ctx context.Context, label, id string, props map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, mergeCall{kind: "node", typ: label, id: id})
	return nil
}

func (f *fakeMerger) MergeEdge(ctx context.Context, relType, fromID, toID string, props map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, mergeCall{kind: "edge", typ: relType, id: fromID + "->" + toID})
	return nil
}

func (f *fakeMerger) count(kind, typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.kind == kind && c.typ == typ {
			n++
		}
	}
	return n
}

// workerFixture wires real pipeline, resolver and sync components over
// in-memory stores, leaving only the provider boundary faked.
type workerFixture struct {
	repo      *memRepo
	blobs     *blobstore.FS
	publisher *fakePublisher
	inserter  *fakeInserter
	merger    *fakeMerger
	extractor *fakeGraphExtractor
	summ      *fakeSummarizer
	runner    *pipeline.Runner
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	fs, err := blobstore.NewFS(t.TempDir())
	require.NoError(t, err)

	f := &workerFixture{
		repo:      newMemRepo(),
		blobs:     fs,
		publisher: &fakePublisher{},
		inserter:  &fakeInserter{},
		merger:    &fakeMerger{},
		extractor: &fakeGraphExtractor{},
		summ:      &fakeSummarizer{},
	}
	f.runner = f.newRunner()
	return f
}

func (f *workerFixture) newRunner() *pipeline.Runner {
	return pipeline.NewRunner(pipeline.Deps{
		Store:    f.repo.casesRepo,
		Blobs:    f.blobs,
		Calls:    f.repo.cdrRepo,
		Entities: f.repo.graphRepo,
		Capabilities: ml.Capabilities{
			Summarizer: f.summ,
			Embedder:   fakeEmbedder{},
		},
		Publisher:       f.publisher,
		DefaultLanguage: "en",
		Logger:          zerolog.Nop(),
	})
}

func (f *workerFixture) caseFileWorker() CaseFileWorker {
	return CaseFileWorker{
		Repo:       f.repo,
		Blobs:      f.blobs,
		Runner:     f.runner,
		Completion: cases.NewCompletion(f.repo.casesRepo, zerolog.Nop()),
		Inserter:   f.inserter,
		Logger:     zerolog.Nop(),
	}
}

func (f *workerFixture) graphBuildWorker() GraphBuildWorker {
	return GraphBuildWorker{
		Repo:       f.repo,
		Blobs:      f.blobs,
		Runner:     f.runner,
		Extractor:  f.extractor,
		Resolver:   kg.NewResolver(f.repo.graphRepo, zerolog.Nop()),
		Sync:       kg.NewSync(f.merger, zerolog.Nop()),
		Completion: cases.NewCompletion(f.repo.casesRepo, zerolog.Nop()),
		Logger:     zerolog.Nop(),
	}
}

func (f *workerFixture) sweepWorker(stalledAfter time.Duration) CompletionSweepWorker {
	return CompletionSweepWorker{
		Repo:         f.repo,
		Completion:   cases.NewCompletion(f.repo.casesRepo, zerolog.Nop()),
		StalledAfter: stalledAfter,
		Inserter:     f.inserter,
		Logger:       zerolog.Nop(),
	}
}

func (f *workerFixture) seedJob(t *testing.T, totalFiles int) *cases.Job {
	t.Helper()
	job, err := f.repo.casesRepo.CreateJob(context.Background(), cases.JobCreateParams{
		ID:            uuid.New(),
		TotalFiles:    totalFiles,
		CaseNumber:    "FIR-2024-0101",
		OwnerID:       "officer-7",
		StoragePrefix: "cases/FIR-2024-0101/01JTEST/",
	})
	require.NoError(t, err)
	return job
}

func caseFileJob(args CaseFileArgs) *river.Job[CaseFileArgs] {
	return &river.Job[CaseFileArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Kind: JobKindCaseFile, Attempt: 1},
		Args:   args,
	}
}

func graphBuildJob(args GraphBuildArgs) *river.Job[GraphBuildArgs] {
	return &river.Job[GraphBuildArgs]{
		JobRow: &rivertype.JobRow{ID: 2, Kind: JobKindGraphBuild, Attempt: 1},
		Args:   args,
	}
}

func sweepJob() *river.Job[CompletionSweepArgs] {
	return &river.Job[CompletionSweepArgs]{
		JobRow: &rivertype.JobRow{ID: 3, Kind: JobKindCompletionSweep, Attempt: 1},
	}
}
