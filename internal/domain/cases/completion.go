package cases

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CompletionStore is the slice of the repository the completion protocol
// needs.
type CompletionStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	CountCompletedArtifacts(ctx context.Context, jobID uuid.UUID) (int, error)
	CountArtifactsByStatus(ctx context.Context, jobID uuid.UUID) (StatusCounts, error)
	CompleteJobIfDone(ctx context.Context, id uuid.UUID) (bool, error)
	FailJobIfStuck(ctx context.Context, id uuid.UUID) (bool, error)
}

// Completion implements the choreographed job-completion protocol. There is no
// coordinator: every worker that brings an artifact to a terminal status calls
// Check, which re-counts the job's terminal artifacts and promotes the job when
// the last one landed. The store writes behind CompleteJobIfDone and
// FailJobIfStuck are single-statement and idempotent, so any number of workers
// may race on the same comparison and exactly one transition happens.
type Completion struct {
	repo   CompletionStore
	logger zerolog.Logger
}

func NewCompletion(repo CompletionStore, logger zerolog.Logger) *Completion {
	return &Completion{
		repo:   repo,
		logger: logger.With().Str("component", "completion").Logger(),
	}
}

// Check re-derives the job's terminal status from artifact counts. It returns
// the job status after the check and whether this call made a transition.
//
// A job completes when COMPLETED artifacts reach total_files. It fails when
// every expected artifact is terminal and at least one failed, because no
// further completion is possible then. Jobs whose artifacts never all arrive
// (lost messages) stay PROCESSING; that gap is operational, not repaired here.
func (c *Completion) Check(ctx context.Context, jobID uuid.UUID) (JobStatus, bool, error) {
	job, err := c.repo.GetJob(ctx, jobID)
	if err != nil {
		return "", false, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return job.Status, false, nil
	}

	completed, err := c.repo.CountCompletedArtifacts(ctx, jobID)
	if err != nil {
		return "", false, fmt.Errorf("count completed artifacts for job %s: %w", jobID, err)
	}

	if completed >= job.TotalFiles {
		done, err := c.repo.CompleteJobIfDone(ctx, jobID)
		if err != nil {
			return "", false, fmt.Errorf("complete job %s: %w", jobID, err)
		}
		if done {
			c.logger.Info().
				Stringer("job_id", jobID).
				Int("total_files", job.TotalFiles).
				Msg("job completed")
			return JobCompleted, true, nil
		}
		return job.Status, false, nil
	}

	counts, err := c.repo.CountArtifactsByStatus(ctx, jobID)
	if err != nil {
		return "", false, fmt.Errorf("count artifacts for job %s: %w", jobID, err)
	}
	if counts.Terminal() >= job.TotalFiles && counts.Failed > 0 {
		failed, err := c.repo.FailJobIfStuck(ctx, jobID)
		if err != nil {
			return "", false, fmt.Errorf("fail job %s: %w", jobID, err)
		}
		if failed {
			c.logger.Warn().
				Stringer("job_id", jobID).
				Int("failed_artifacts", counts.Failed).
				Int("completed_artifacts", counts.Completed).
				Msg("job failed, no remaining artifact can complete")
			return JobFailed, true, nil
		}
	}

	return job.Status, false, nil
}
