package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/domain/cases"
	"github.com/casewire/casewire/internal/storage"
)

const defaultStalledAfter = 15 * time.Minute

// CompletionSweepWorker is the recovery loop for the choreographed completion
// protocol. It re-runs the completion check over every PROCESSING job and
// re-enqueues graph work for artifacts stuck at the graph hand-off longer
// than the stall threshold. Uniqueness on the graph_build args keeps repeated
// sweeps from stacking duplicates while an earlier build is still pending.
type CompletionSweepWorker struct {
	river.WorkerDefaults[CompletionSweepArgs]
	Repo         storage.Repository
	Completion   *cases.Completion
	StalledAfter time.Duration
	Inserter     JobInserter
	Logger       zerolog.Logger
}

func (CompletionSweepWorker) Kind() string { return JobKindCompletionSweep }

func (w CompletionSweepWorker) Work(ctx context.Context, job *river.Job[CompletionSweepArgs]) error {
	if w.Repo == nil {
		return fmt.Errorf("repository not configured")
	}
	if w.Completion == nil {
		return fmt.Errorf("completion checker not configured")
	}

	repo := w.Repo.Cases()
	processing, err := repo.ListJobsByStatus(ctx, cases.JobProcessing)
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}
	for _, j := range processing {
		if _, _, err := w.Completion.Check(ctx, j.ID); err != nil {
			w.Logger.Error().Err(err).Stringer("job_id", j.ID).Msg("completion check failed")
		}
	}

	stalledAfter := w.StalledAfter
	if stalledAfter <= 0 {
		stalledAfter = defaultStalledAfter
	}
	stalled, err := repo.ListStalledArtifacts(ctx, time.Now().Add(-stalledAfter))
	if err != nil {
		return fmt.Errorf("list stalled artifacts: %w", err)
	}

	inserter := contextInserter(ctx, w.Inserter)
	retriggered := 0
	for _, artifact := range stalled {
		if artifact.CurrentStage != cases.StageAwaitingGraph && artifact.CurrentStage != cases.StageGraphBuilding {
			continue
		}
		insertArgs, opts := graphBuildInsert(artifact.JobID, artifact.ID, artifact.PreferredTextPath(), artifact.DetectedLanguage)
		if _, err := inserter.Insert(ctx, insertArgs, opts); err != nil {
			w.Logger.Error().Err(err).Stringer("artifact_id", artifact.ID).Msg("retrigger graph build failed")
			continue
		}
		retriggered++
	}

	if len(processing) > 0 || retriggered > 0 {
		w.Logger.Info().
			Int("jobs_checked", len(processing)).
			Int("graph_retriggered", retriggered).
			Msg("completion sweep finished")
	}
	return nil
}
