// Package ingest creates processing jobs: it writes the job row, uploads the
// batch to the blob store, and enqueues one queue message per file. It is the
// only producer in the system; everything after the enqueue is driven by the
// workers.
package ingest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/casewire/casewire/internal/blobstore"
	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/domain/ids"
	"github.com/casewire/casewire/internal/jobs"
)

var (
	ErrNoFiles           = errors.New("no files to ingest")
	ErrMissingOwner      = errors.New("owner id is required")
	ErrDuplicateFilename = errors.New("duplicate filename in batch")
	ErrInvalidName       = errors.New("invalid name")
)

const defaultUploadConcurrency = 4

// JobStore is the slice of the case store the service needs.
type JobStore interface {
	CreateJob(ctx context.Context, params cases.JobCreateParams) (*cases.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*cases.Job, error)
}

// Enqueuer is the slice of the queue producer the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID, gcsPath, filename string, fileType cases.FileType, metadata jobs.FileMetadata) (int, error)
}

// File is one case file to ingest. Content is read exactly once.
type File struct {
	Name    string
	Content io.Reader
}

// SubmitRequest describes a new batch. CaseNumber may be empty, in which case
// a ULID-derived one is generated. Language is the declared language applied
// to every file in the batch; detection still runs downstream.
type SubmitRequest struct {
	OwnerID     string
	CaseNumber  string
	ParentJobID *uuid.UUID
	Language    string
	Files       []File
}

type Service struct {
	store    JobStore
	blobs    blobstore.Store
	enqueuer Enqueuer
	logger   zerolog.Logger

	// UploadConcurrency bounds the parallel blob uploads per batch.
	UploadConcurrency int
}

func NewService(store JobStore, blobs blobstore.Store, enqueuer Enqueuer, logger zerolog.Logger) *Service {
	return &Service{
		store:             store,
		blobs:             blobs,
		enqueuer:          enqueuer,
		logger:            logger.With().Str("component", "ingest").Logger(),
		UploadConcurrency: defaultUploadConcurrency,
	}
}

// SubmitCase creates the job, uploads all files under a fresh batch prefix,
// then enqueues one process_file message per file. Messages go out only after
// every upload landed, so a worker never races a blob that is still being
// written. If an upload fails the job row stays QUEUED with nothing enqueued;
// the caller resubmits.
func (s *Service) SubmitCase(ctx context.Context, req SubmitRequest) (*cases.Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	batch, err := ids.NewULID()
	if err != nil {
		return nil, fmt.Errorf("generate batch id: %w", err)
	}
	caseNumber := req.CaseNumber
	if caseNumber == "" {
		caseNumber = "CASE-" + batch
	}
	prefix := "cases/" + caseNumber + "/" + batch + "/"

	job, err := s.store.CreateJob(ctx, cases.JobCreateParams{
		ID:            uuid.New(),
		TotalFiles:    len(req.Files),
		CaseNumber:    caseNumber,
		ParentJobID:   req.ParentJobID,
		OwnerID:       req.OwnerID,
		StoragePrefix: prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	logger := s.logger.With().Stringer("job_id", job.ID).Str("case_number", caseNumber).Logger()

	checksums, err := s.uploadAll(ctx, prefix, req.Files)
	if err != nil {
		logger.Error().Err(err).Msg("batch upload failed, job left unqueued")
		return nil, err
	}

	for i, file := range req.Files {
		fileType := cases.ClassifyFilename(file.Name)
		depth, err := s.enqueuer.Enqueue(ctx, job.ID, prefix+file.Name, file.Name, fileType, jobs.FileMetadata{
			Language: req.Language,
			Checksum: checksums[i],
		})
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", file.Name, err)
		}
		logger.Info().
			Str("filename", file.Name).
			Str("file_type", string(fileType)).
			Int("queue_depth", depth).
			Msg("file enqueued")
	}

	logger.Info().Int("total_files", job.TotalFiles).Str("storage_prefix", prefix).Msg("case submitted")
	return job, nil
}

// ExtendCase submits additional files against an existing case. The new job
// carries the parent's case number and owner and points back at it through
// parent_job_id; graph scoping stays per job.
func (s *Service) ExtendCase(ctx context.Context, parentJobID uuid.UUID, language string, files []File) (*cases.Job, error) {
	parent, err := s.store.GetJob(ctx, parentJobID)
	if err != nil {
		return nil, fmt.Errorf("load parent job: %w", err)
	}
	return s.SubmitCase(ctx, SubmitRequest{
		OwnerID:     parent.OwnerID,
		CaseNumber:  parent.CaseNumber,
		ParentJobID: &parent.ID,
		Language:    language,
		Files:       files,
	})
}

func (s *Service) uploadAll(ctx context.Context, prefix string, files []File) ([]string, error) {
	concurrency := s.UploadConcurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}

	checksums := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, file := range files {
		g.Go(func() error {
			sum, err := s.uploadOne(gctx, prefix+file.Name, file.Content)
			if err != nil {
				return fmt.Errorf("upload %s: %w", file.Name, err)
			}
			checksums[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checksums, nil
}

// uploadOne streams the content into the blob store while hashing it, and
// returns the hex BLAKE2b-256 checksum.
func (s *Service) uploadOne(ctx context.Context, path string, content io.Reader) (string, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init hasher: %w", err)
	}
	if err := s.blobs.Upload(ctx, path, io.TeeReader(content, hasher)); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func validateRequest(req SubmitRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return ErrMissingOwner
	}
	if len(req.Files) == 0 {
		return ErrNoFiles
	}
	if strings.Contains(req.CaseNumber, "/") {
		return fmt.Errorf("%w: case number %q contains a path separator", ErrInvalidName, req.CaseNumber)
	}
	seen := make(map[string]struct{}, len(req.Files))
	for _, file := range req.Files {
		name := file.Name
		if name == "" || strings.Contains(name, "/") {
			return fmt.Errorf("%w: filename %q", ErrInvalidName, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateFilename, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
