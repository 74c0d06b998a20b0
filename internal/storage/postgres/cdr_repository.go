package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/casewire/casewire/internal/cdr"
)

var _ cdr.Repository = (*CDRRepository)(nil)

// Insert stores the parse result for one CDR artifact. One row per artifact;
// a redelivered message re-running the parse hits the conflict and changes
// nothing.
func (r *CDRRepository) Insert(ctx context.Context, params cdr.CreateParams) error {
	calls := params.Calls
	if calls == nil {
		calls = []cdr.Call{}
	}
	matches := params.Matches
	if matches == nil {
		matches = []cdr.Match{}
	}

	_, err := r.queryer().Exec(ctx, `
INSERT INTO cdr_records (id, job_id, artifact_id, record_count, records, matched_numbers)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (artifact_id) DO NOTHING
`,
		params.ID,
		params.JobID,
		params.ArtifactID,
		len(calls),
		calls,
		matches,
	)
	if err != nil {
		return fmt.Errorf("insert cdr record: %w", err)
	}
	return nil
}

func (r *CDRRepository) GetByArtifact(ctx context.Context, artifactID uuid.UUID) (*cdr.Record, error) {
	var record cdr.Record
	err := r.queryer().QueryRow(ctx, `
SELECT id, job_id, artifact_id, record_count, records, matched_numbers, created_at
  FROM cdr_records
 WHERE artifact_id = $1
`, artifactID).Scan(
		&record.ID,
		&record.JobID,
		&record.ArtifactID,
		&record.RecordCount,
		&record.Calls,
		&record.MatchedNumbers,
		&record.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cdr.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cdr record: %w", err)
	}
	return &record, nil
}

// ListNumbersByJob returns every distinct normalized number appearing in any
// of the job's call records, caller or callee side.
func (r *CDRRepository) ListNumbersByJob(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT number FROM (
    SELECT jsonb_array_elements(records)->>'caller' AS number
      FROM cdr_records WHERE job_id = $1
    UNION
    SELECT jsonb_array_elements(records)->>'callee'
      FROM cdr_records WHERE job_id = $1
) numbers
 WHERE number IS NOT NULL AND number <> ''
 ORDER BY number ASC
`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list cdr numbers: %w", err)
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, fmt.Errorf("scan cdr number: %w", err)
		}
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cdr numbers: %w", err)
	}
	return numbers, nil
}
