package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/casewire/casewire/internal/domain/cases"
)

var _ cases.Repository = (*CaseRepository)(nil)

const jobColumns = `id, status, total_files, processed_files, case_number, parent_job_id,
       owner_id, storage_prefix, created_at, updated_at, completed_at`

const artifactColumns = `id, job_id, filename, file_type, status, current_stage, processing_stages,
       detected_language, checksum, extracted_path, transcript_path, translated_path,
       summary_path, error_message, created_at, updated_at`

func (r *CaseRepository) CreateJob(ctx context.Context, params cases.JobCreateParams) (*cases.Job, error) {
	job := &cases.Job{
		ID:            params.ID,
		Status:        cases.JobQueued,
		TotalFiles:    params.TotalFiles,
		CaseNumber:    params.CaseNumber,
		ParentJobID:   params.ParentJobID,
		OwnerID:       params.OwnerID,
		StoragePrefix: params.StoragePrefix,
	}

	err := r.queryer().QueryRow(ctx, `
INSERT INTO jobs (id, status, total_files, case_number, parent_job_id, owner_id, storage_prefix)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at
`,
		params.ID,
		cases.JobQueued,
		params.TotalFiles,
		params.CaseNumber,
		params.ParentJobID,
		params.OwnerID,
		params.StoragePrefix,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

func (r *CaseRepository) GetJob(ctx context.Context, id uuid.UUID) (*cases.Job, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cases.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (r *CaseRepository) ListJobsByCase(ctx context.Context, caseNumber string) ([]cases.Job, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+jobColumns+`
  FROM jobs
 WHERE case_number = $1
 ORDER BY created_at ASC, id ASC
`, caseNumber)
	if err != nil {
		return nil, fmt.Errorf("list jobs by case: %w", err)
	}
	defer rows.Close()

	var jobs []cases.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (r *CaseRepository) ListJobsByStatus(ctx context.Context, status cases.JobStatus) ([]cases.Job, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+jobColumns+`
  FROM jobs
 WHERE status = $1
 ORDER BY created_at ASC, id ASC
`, status)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []cases.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// MarkJobProcessing flips QUEUED to PROCESSING. Any other current status means
// another worker got there first (or the job is terminal), which is fine.
func (r *CaseRepository) MarkJobProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.queryer().Exec(ctx, `
UPDATE jobs
   SET status = $2, updated_at = now()
 WHERE id = $1
   AND status = $3
`, id, cases.JobProcessing, cases.JobQueued)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	return nil
}

func (r *CaseRepository) IncrementProcessedFiles(ctx context.Context, id uuid.UUID) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE jobs
   SET processed_files = processed_files + 1, updated_at = now()
 WHERE id = $1
`, id)
	if err != nil {
		return fmt.Errorf("increment processed files: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cases.ErrJobNotFound
	}
	return nil
}

// CompleteJobIfDone promotes the job to COMPLETED when its COMPLETED artifact
// count has reached total_files. The condition lives inside the statement so
// racing workers all run it and exactly one sees a row change.
func (r *CaseRepository) CompleteJobIfDone(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.queryer().Exec(ctx, `
UPDATE jobs j
   SET status = $2, completed_at = now(), updated_at = now()
 WHERE j.id = $1
   AND j.status NOT IN ($2, $3)
   AND (SELECT count(*) FROM artifacts a WHERE a.job_id = j.id AND a.status = $4) >= j.total_files
`, id, cases.JobCompleted, cases.JobFailed, cases.ArtifactCompleted)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailJobIfStuck marks the job FAILED once every expected artifact is terminal
// and at least one of them failed. Same single-statement discipline as
// CompleteJobIfDone.
func (r *CaseRepository) FailJobIfStuck(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.queryer().Exec(ctx, `
UPDATE jobs j
   SET status = $3, completed_at = now(), updated_at = now()
 WHERE j.id = $1
   AND j.status NOT IN ($2, $3)
   AND (SELECT count(*) FROM artifacts a WHERE a.job_id = j.id AND a.status IN ($4, $5)) >= j.total_files
   AND EXISTS (SELECT 1 FROM artifacts a WHERE a.job_id = j.id AND a.status = $5)
`, id, cases.JobCompleted, cases.JobFailed, cases.ArtifactCompleted, cases.ArtifactFailed)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CaseRepository) CreateArtifact(ctx context.Context, params cases.ArtifactCreateParams) (*cases.Artifact, error) {
	artifact := &cases.Artifact{
		ID:               params.ID,
		JobID:            params.JobID,
		Filename:         params.Filename,
		FileType:         params.FileType,
		Status:           cases.ArtifactProcessing,
		Stages:           cases.StageTimings{},
		DetectedLanguage: params.Language,
		Checksum:         params.Checksum,
	}

	err := r.queryer().QueryRow(ctx, `
INSERT INTO artifacts (id, job_id, filename, file_type, status, detected_language, checksum)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at
`,
		params.ID,
		params.JobID,
		params.Filename,
		params.FileType,
		cases.ArtifactProcessing,
		params.Language,
		params.Checksum,
	).Scan(&artifact.CreatedAt, &artifact.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, cases.ErrArtifactExists
	}
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	return artifact, nil
}

func (r *CaseRepository) GetArtifact(ctx context.Context, id uuid.UUID) (*cases.Artifact, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id)
	artifact, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cases.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

func (r *CaseRepository) GetArtifactByJobAndFilename(ctx context.Context, jobID uuid.UUID, filename string) (*cases.Artifact, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT `+artifactColumns+` FROM artifacts WHERE job_id = $1 AND filename = $2
`, jobID, filename)
	artifact, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cases.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact by filename: %w", err)
	}
	return artifact, nil
}

func (r *CaseRepository) ListArtifactsByJob(ctx context.Context, jobID uuid.UUID) ([]cases.Artifact, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+artifactColumns+`
  FROM artifacts
 WHERE job_id = $1
 ORDER BY created_at ASC, filename ASC
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []cases.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, *artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// UpdateArtifactStage persists one stage boundary. The timings object is
// rewritten whole; nil output pointers leave the stored value untouched via
// COALESCE.
func (r *CaseRepository) UpdateArtifactStage(ctx context.Context, params cases.StageUpdateParams) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE artifacts
   SET current_stage = $2,
       processing_stages = $3,
       detected_language = COALESCE($4, detected_language),
       extracted_path = COALESCE($5, extracted_path),
       transcript_path = COALESCE($6, transcript_path),
       translated_path = COALESCE($7, translated_path),
       summary_path = COALESCE($8, summary_path),
       updated_at = now()
 WHERE id = $1
`,
		params.ArtifactID,
		params.CurrentStage,
		params.Stages,
		params.DetectedLanguage,
		params.ExtractedPath,
		params.TranscriptPath,
		params.TranslatedPath,
		params.SummaryPath,
	)
	if err != nil {
		return fmt.Errorf("update artifact stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cases.ErrArtifactNotFound
	}
	return nil
}

// CompleteArtifact is the guard against double counting: only the caller that
// actually flipped the row to COMPLETED gets true and may increment the job's
// processed counter.
func (r *CaseRepository) CompleteArtifact(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.queryer().Exec(ctx, `
UPDATE artifacts
   SET status = $2, current_stage = $3, error_message = '', updated_at = now()
 WHERE id = $1
   AND status <> $2
`, id, cases.ArtifactCompleted, cases.StageCompleted)
	if err != nil {
		return false, fmt.Errorf("complete artifact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CaseRepository) FailArtifact(ctx context.Context, id uuid.UUID, stage string, message string) error {
	tag, err := r.queryer().Exec(ctx, `
UPDATE artifacts
   SET status = $2, current_stage = $3, error_message = $4, updated_at = now()
 WHERE id = $1
`, id, cases.ArtifactFailed, stage, message)
	if err != nil {
		return fmt.Errorf("fail artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cases.ErrArtifactNotFound
	}
	return nil
}

func (r *CaseRepository) CountCompletedArtifacts(ctx context.Context, jobID uuid.UUID) (int, error) {
	var count int
	err := r.queryer().QueryRow(ctx, `
SELECT count(*) FROM artifacts WHERE job_id = $1 AND status = $2
`, jobID, cases.ArtifactCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count completed artifacts: %w", err)
	}
	return count, nil
}

func (r *CaseRepository) CountArtifactsByStatus(ctx context.Context, jobID uuid.UUID) (cases.StatusCounts, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT status, count(*) FROM artifacts WHERE job_id = $1 GROUP BY status
`, jobID)
	if err != nil {
		return cases.StatusCounts{}, fmt.Errorf("count artifacts by status: %w", err)
	}
	defer rows.Close()

	var counts cases.StatusCounts
	for rows.Next() {
		var status cases.ArtifactStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return cases.StatusCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		switch status {
		case cases.ArtifactProcessing:
			counts.Processing = count
		case cases.ArtifactCompleted:
			counts.Completed = count
		case cases.ArtifactFailed:
			counts.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return cases.StatusCounts{}, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (r *CaseRepository) ListStalledArtifacts(ctx context.Context, olderThan time.Time) ([]cases.Artifact, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT `+artifactColumns+`
  FROM artifacts
 WHERE status = $1
   AND updated_at < $2
 ORDER BY updated_at ASC
`, cases.ArtifactProcessing, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stalled artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []cases.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stalled artifact: %w", err)
		}
		artifacts = append(artifacts, *artifact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stalled artifacts: %w", err)
	}
	return artifacts, nil
}

func scanJob(row pgx.Row) (*cases.Job, error) {
	var job cases.Job
	err := row.Scan(
		&job.ID,
		&job.Status,
		&job.TotalFiles,
		&job.ProcessedFiles,
		&job.CaseNumber,
		&job.ParentJobID,
		&job.OwnerID,
		&job.StoragePrefix,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func scanArtifact(row pgx.Row) (*cases.Artifact, error) {
	var artifact cases.Artifact
	err := row.Scan(
		&artifact.ID,
		&artifact.JobID,
		&artifact.Filename,
		&artifact.FileType,
		&artifact.Status,
		&artifact.CurrentStage,
		&artifact.Stages,
		&artifact.DetectedLanguage,
		&artifact.Checksum,
		&artifact.ExtractedPath,
		&artifact.TranscriptPath,
		&artifact.TranslatedPath,
		&artifact.SummaryPath,
		&artifact.ErrorMessage,
		&artifact.CreatedAt,
		&artifact.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
