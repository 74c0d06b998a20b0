package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/ids"
	"github.com/casewire/casewire/internal/jobs"
)

type fakeStore struct {
	mu      sync.Mutex
	created []cases.JobCreateParams
	jobs    map[uuid.UUID]*cases.Job
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*cases.Job)}
}

func (f *fakeStore) CreateJob(ctx context.Context, params cases.JobCreateParams) (*cases.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, params)
	job := &cases.Job{
		ID:            params.ID,
		Status:        cases.JobQueued,
		TotalFiles:    params.TotalFiles,
		CaseNumber:    params.CaseNumber,
		ParentJobID:   params.ParentJobID,
		OwnerID:       params.OwnerID,
		StoragePrefix: params.StoragePrefix,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*cases.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, cases.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

type enqueueCall struct {
	jobID    uuid.UUID
	gcsPath  string
	filename string
	fileType cases.FileType
	metadata jobs.FileMetadata
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	calls  []enqueueCall
	failOn string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobID uuid.UUID, gcsPath, filename string, fileType cases.FileType, metadata jobs.FileMetadata) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && f.failOn == filename {
		return 0, errors.New("queue insert refused")
	}
	f.calls = append(f.calls, enqueueCall{jobID, gcsPath, filename, fileType, metadata})
	return len(f.calls), nil
}

type fixture struct {
	store    *fakeStore
	blobs    *blobstore.FS
	enqueuer *fakeEnqueuer
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs, err := blobstore.NewFS(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		store:    newFakeStore(),
		blobs:    fs,
		enqueuer: &fakeEnqueuer{},
	}
	f.service = NewService(f.store, f.blobs, f.enqueuer, zerolog.Nop())
	return f
}

func blake2bHex(t *testing.T, content string) string {
	t.Helper()
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestSubmitCase_UploadsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.SubmitCase(ctx, SubmitRequest{
		OwnerID:    "officer-7",
		CaseNumber: "FIR-2024-0101",
		Language:   "hi",
		Files: []File{
			{Name: "report.txt", Content: strings.NewReader("the report body")},
			{Name: "intercept.mp3", Content: strings.NewReader("fake audio bytes")},
			{Name: "calls.csv", Content: strings.NewReader("caller,callee\n111,222\n")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, job.TotalFiles)
	assert.Equal(t, "FIR-2024-0101", job.CaseNumber)
	assert.Equal(t, "officer-7", job.OwnerID)
	assert.Nil(t, job.ParentJobID)

	require.True(t, strings.HasPrefix(job.StoragePrefix, "cases/FIR-2024-0101/"))
	require.True(t, strings.HasSuffix(job.StoragePrefix, "/"))
	batch := strings.TrimSuffix(strings.TrimPrefix(job.StoragePrefix, "cases/FIR-2024-0101/"), "/")
	assert.True(t, ids.IsULID(batch))

	stored, err := f.blobs.Download(ctx, job.StoragePrefix+"report.txt")
	require.NoError(t, err)
	assert.Equal(t, "the report body", string(stored))

	require.Len(t, f.enqueuer.calls, 3)
	byName := make(map[string]enqueueCall, 3)
	for _, call := range f.enqueuer.calls {
		assert.Equal(t, job.ID, call.jobID)
		assert.Equal(t, job.StoragePrefix+call.filename, call.gcsPath)
		assert.Equal(t, "hi", call.metadata.Language)
		byName[call.filename] = call
	}
	assert.Equal(t, cases.FileTypeDocument, byName["report.txt"].fileType)
	assert.Equal(t, cases.FileTypeAudio, byName["intercept.mp3"].fileType)
	assert.Equal(t, cases.FileTypeCDR, byName["calls.csv"].fileType)
	assert.Equal(t, blake2bHex(t, "the report body"), byName["report.txt"].metadata.Checksum)
	assert.Equal(t, blake2bHex(t, "fake audio bytes"), byName["intercept.mp3"].metadata.Checksum)
}

func TestSubmitCase_GeneratesCaseNumber(t *testing.T) {
	f := newFixture(t)

	job, err := f.service.SubmitCase(context.Background(), SubmitRequest{
		OwnerID: "officer-7",
		Files:   []File{{Name: "report.txt", Content: strings.NewReader("x")}},
	})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(job.CaseNumber, "CASE-"))
	assert.True(t, ids.IsULID(strings.TrimPrefix(job.CaseNumber, "CASE-")))
	assert.Contains(t, job.StoragePrefix, job.CaseNumber)
}

func TestSubmitCase_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr error
	}{
		{
			name:    "no files",
			req:     SubmitRequest{OwnerID: "officer-7"},
			wantErr: ErrNoFiles,
		},
		{
			name:    "missing owner",
			req:     SubmitRequest{Files: []File{{Name: "a.txt", Content: strings.NewReader("x")}}},
			wantErr: ErrMissingOwner,
		},
		{
			name: "duplicate filename",
			req: SubmitRequest{OwnerID: "officer-7", Files: []File{
				{Name: "a.txt", Content: strings.NewReader("x")},
				{Name: "a.txt", Content: strings.NewReader("y")},
			}},
			wantErr: ErrDuplicateFilename,
		},
		{
			name: "filename with separator",
			req: SubmitRequest{OwnerID: "officer-7", Files: []File{
				{Name: "../escape.txt", Content: strings.NewReader("x")},
			}},
			wantErr: ErrInvalidName,
		},
		{
			name: "case number with separator",
			req: SubmitRequest{OwnerID: "officer-7", CaseNumber: "FIR/2024", Files: []File{
				{Name: "a.txt", Content: strings.NewReader("x")},
			}},
			wantErr: ErrInvalidName,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.SubmitCase(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.store.created)
			assert.Empty(t, f.enqueuer.calls)
		})
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("read: device gone") }

func TestSubmitCase_UploadFailureLeavesJobUnqueued(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.SubmitCase(context.Background(), SubmitRequest{
		OwnerID:    "officer-7",
		CaseNumber: "FIR-2024-0101",
		Files: []File{
			{Name: "good.txt", Content: strings.NewReader("fine")},
			{Name: "bad.txt", Content: brokenReader{}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload bad.txt")

	require.Len(t, f.store.created, 1)
	assert.Empty(t, f.enqueuer.calls)
}

func TestSubmitCase_EnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.failOn = "b.txt"

	_, err := f.service.SubmitCase(context.Background(), SubmitRequest{
		OwnerID:    "officer-7",
		CaseNumber: "FIR-2024-0101",
		Files: []File{
			{Name: "a.txt", Content: strings.NewReader("x")},
			{Name: "b.txt", Content: strings.NewReader("y")},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue b.txt")
	assert.Len(t, f.enqueuer.calls, 1)
}

func TestExtendCase_InheritsParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.service.SubmitCase(ctx, SubmitRequest{
		OwnerID:    "officer-7",
		CaseNumber: "FIR-2024-0101",
		Files:      []File{{Name: "report.txt", Content: strings.NewReader("x")}},
	})
	require.NoError(t, err)

	child, err := f.service.ExtendCase(ctx, parent.ID, "pa", []File{
		{Name: "followup.pdf", Content: strings.NewReader("more evidence")},
	})
	require.NoError(t, err)

	assert.Equal(t, parent.CaseNumber, child.CaseNumber)
	assert.Equal(t, parent.OwnerID, child.OwnerID)
	require.NotNil(t, child.ParentJobID)
	assert.Equal(t, parent.ID, *child.ParentJobID)
	assert.NotEqual(t, parent.StoragePrefix, child.StoragePrefix)

	last := f.enqueuer.calls[len(f.enqueuer.calls)-1]
	assert.Equal(t, "followup.pdf", last.filename)
	assert.Equal(t, "pa", last.metadata.Language)
}

func TestExtendCase_UnknownParent(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ExtendCase(context.Background(), uuid.New(), "", []File{
		{Name: "a.txt", Content: strings.NewReader("x")},
	})
	require.ErrorIs(t, err, cases.ErrJobNotFound)
}
