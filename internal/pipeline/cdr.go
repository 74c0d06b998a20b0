package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/casewire/casewire/internal/cdr"
	"github.com/casewire/casewire/internal/domain/cases"
)

// RunCDR parses one call-detail file and matches its numbers against the
// job's graph entities. Matches are stored on the CDR record and mirrored
// into the graph as CALLED and PHONE_MATCH relationships. The terminal
// transitions that follow (completing the artifact, counting it, the job
// completion check) stay with the worker.
func (r *Runner) RunCDR(ctx context.Context, artifact *cases.Artifact, content []byte) error {
	var calls []cdr.Call
	err := r.runStage(ctx, artifact, cases.StageParsing, func(ctx context.Context) (stageOutputs, error) {
		result, err := cdr.Parse(content, artifact.Filename)
		if err != nil {
			return stageOutputs{}, err
		}
		calls = result.Calls
		if result.Skipped > 0 {
			r.logger.Warn().
				Str("job_id", artifact.JobID.String()).
				Str("filename", artifact.Filename).
				Int("skipped", result.Skipped).
				Msg("skipped CDR rows without caller or callee")
		}
		return stageOutputs{}, nil
	})
	if err != nil {
		return err
	}

	return r.runStage(ctx, artifact, cases.StagePhoneMatching, func(ctx context.Context) (stageOutputs, error) {
		entities, err := r.entities.ListEntitiesByJob(ctx, artifact.JobID)
		if err != nil {
			return stageOutputs{}, infra("list job entities: %w", err)
		}
		result := cdr.MatchNumbers(artifact.JobID, calls, entities)
		params := cdr.CreateParams{
			ID:         uuid.New(),
			JobID:      artifact.JobID,
			ArtifactID: artifact.ID,
			Calls:      calls,
			Matches:    result.Matches,
		}
		if err := r.calls.Insert(ctx, params); err != nil {
			return stageOutputs{}, infra("insert CDR record: %w", err)
		}
		if len(result.Relationships) > 0 {
			if err := r.entities.InsertRelationships(ctx, result.Relationships); err != nil {
				return stageOutputs{}, infra("insert phone relationships: %w", err)
			}
		}
		r.logger.Info().
			Str("job_id", artifact.JobID.String()).
			Str("filename", artifact.Filename).
			Int("calls", len(calls)).
			Int("matches", len(result.Matches)).
			Msg("phone matching finished")
		return stageOutputs{}, nil
	})
}
