package pipeline

import (
	"math"

	"github.com/casewire/casewire/internal/domain/cases"
)

// stageStep is one entry of a file type's fixed stage sequence. Optional
// stages run only for non-English content and are excluded from the progress
// denominator.
type stageStep struct {
	name     string
	optional bool
}

var sequences = map[cases.FileType][]stageStep{
	cases.FileTypeDocument: {
		{name: cases.StageExtraction},
		{name: cases.StageTranslation, optional: true},
		{name: cases.StageSummarization},
		{name: cases.StageEmbeddings},
		{name: cases.StageAwaitingGraph},
		{name: cases.StageGraphBuilding},
		{name: cases.StageCompleted},
	},
	cases.FileTypeAudio: {
		{name: cases.StageTranscription},
		{name: cases.StageTranslation, optional: true},
		{name: cases.StageTextRewrite, optional: true},
		{name: cases.StageSummarization},
		{name: cases.StageVectorization},
		{name: cases.StageAwaitingGraph},
		{name: cases.StageGraphBuilding},
		{name: cases.StageCompleted},
	},
	cases.FileTypeVideo: {
		{name: cases.StageFrameExtraction},
		{name: cases.StageFaceRecognition},
		{name: cases.StageVideoAnalysis},
		{name: cases.StageTranslation, optional: true},
		{name: cases.StageSummarization},
		{name: cases.StageVectorization},
		{name: cases.StageAwaitingGraph},
		{name: cases.StageGraphBuilding},
		{name: cases.StageCompleted},
	},
	cases.FileTypeCDR: {
		{name: cases.StageParsing},
		{name: cases.StagePhoneMatching},
		{name: cases.StageCompleted},
	},
}

// weightTables maps every stage of a file type to its progress weight. Core
// stage weights are round(100 * position / coreCount); an optional stage
// borrows the weight of the next core stage, so skipping it never moves
// progress backwards.
var (
	weightTables = map[cases.FileType]map[string]int{}
	coreCounts   = map[cases.FileType]int{}
	optionalSets = map[cases.FileType]map[string]bool{}
)

func init() {
	for fileType, steps := range sequences {
		core := 0
		for _, step := range steps {
			if !step.optional {
				core++
			}
		}
		coreCounts[fileType] = core

		weights := make(map[string]int, len(steps))
		optionals := make(map[string]bool)
		position := 0
		for i, step := range steps {
			if step.optional {
				optionals[step.name] = true
				weights[step.name] = weightOfNextCore(steps, i, core, position)
				continue
			}
			position++
			weights[step.name] = roundedWeight(position, core)
		}
		weightTables[fileType] = weights
		optionalSets[fileType] = optionals
	}
}

func weightOfNextCore(steps []stageStep, index, core, donePosition int) int {
	position := donePosition
	for _, step := range steps[index+1:] {
		if step.optional {
			continue
		}
		position++
		return roundedWeight(position, core)
	}
	return roundedWeight(position, core)
}

func roundedWeight(position, core int) int {
	if core == 0 {
		return 0
	}
	return int(math.Round(100 * float64(position) / float64(core)))
}

// Sequence returns the ordered stage names for a file type, optional stages
// included.
func Sequence(fileType cases.FileType) []string {
	steps := sequences[fileType]
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.name
	}
	return names
}

// IsOptionalStage reports whether the stage is conditional for the file type.
func IsOptionalStage(fileType cases.FileType, stage string) bool {
	return optionalSets[fileType][stage]
}
