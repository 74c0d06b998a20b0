package pipeline

import (
	"github.com/casewire/casewire/internal/domain/cases"
)

// Progress computes the artifact's progress percentage from its file type,
// current stage, the set of stages already completed and its status. Pure and
// deterministic: the status feed and every read path derive percentages from
// this one function.
//
// A terminal status dominates: completed is always 100, failed always 0.
// Otherwise the current stage's weight from the fixed per-type table applies;
// a stage outside the table falls back to the completed-stage count over the
// core stage count. Anything short of a completed status is capped at 99 so a
// consumer never sees 100 for an unfinished artifact.
func Progress(fileType cases.FileType, currentStage string, completedStages []string, status cases.ArtifactStatus) int {
	switch status {
	case cases.ArtifactCompleted:
		return 100
	case cases.ArtifactFailed:
		return 0
	}

	percent, ok := weightTables[fileType][currentStage]
	if !ok {
		percent = fallbackProgress(fileType, completedStages)
	}

	if percent > 99 {
		percent = 99
	}
	if percent < 0 {
		percent = 0
	}
	return percent
}

// fallbackProgress counts distinct completed core stages against the core
// stage total. Optional stages never count, mirroring their exclusion from
// the weight table denominator.
func fallbackProgress(fileType cases.FileType, completedStages []string) int {
	core := coreCounts[fileType]
	if core == 0 {
		return 0
	}

	optionals := optionalSets[fileType]
	seen := make(map[string]bool, len(completedStages))
	count := 0
	for _, stage := range completedStages {
		if optionals[stage] || seen[stage] {
			continue
		}
		seen[stage] = true
		count++
	}
	return roundedWeight(count, core)
}
