package cases

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileType selects the pipeline (and therefore the queue) for an uploaded file.
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypeAudio    FileType = "audio"
	FileTypeVideo    FileType = "video"
	FileTypeCDR      FileType = "cdr"
)

// FileTypes lists every supported file type in queue-declaration order.
func FileTypes() []FileType {
	return []FileType{FileTypeDocument, FileTypeAudio, FileTypeVideo, FileTypeCDR}
}

// ParseFileType validates a wire-level file type value.
func ParseFileType(value string) (FileType, error) {
	switch ft := FileType(strings.ToLower(strings.TrimSpace(value))); ft {
	case FileTypeDocument, FileTypeAudio, FileTypeVideo, FileTypeCDR:
		return ft, nil
	default:
		return "", fmt.Errorf("unknown file type %q", value)
	}
}

// ClassifyFilename maps a filename to the pipeline that handles it. Unknown
// extensions are documents: the extraction stage decides what to do with them.
func ClassifyFilename(filename string) FileType {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	switch ext {
	case "mp3", "wav", "m4a", "aac", "ogg", "flac", "amr", "opus":
		return FileTypeAudio
	case "mp4", "mov", "avi", "mkv", "webm", "3gp":
		return FileTypeVideo
	case "xlsx", "xls", "csv":
		return FileTypeCDR
	default:
		return FileTypeDocument
	}
}

// ArtifactStatus mirrors JobStatus minus QUEUED: an artifact row only exists
// once a worker has started on the file.
type ArtifactStatus string

const (
	ArtifactProcessing ArtifactStatus = "PROCESSING"
	ArtifactCompleted  ArtifactStatus = "COMPLETED"
	ArtifactFailed     ArtifactStatus = "FAILED"
)

// Terminal reports whether no further stage transition may occur.
func (s ArtifactStatus) Terminal() bool {
	return s == ArtifactCompleted || s == ArtifactFailed
}

// Stage names shared by the pipelines, the progress model and the status feed.
// current_stage is free-form in the store, but every stage a pipeline writes
// comes from this set.
const (
	StageExtraction      = "extraction"
	StageTranscription   = "transcription"
	StageTranslation     = "translation"
	StageTextRewrite     = "text_rewrite"
	StageSummarization   = "summarization"
	StageEmbeddings      = "embeddings"
	StageVectorization   = "vectorization"
	StageFrameExtraction = "frame_extraction"
	StageFaceRecognition = "face_recognition"
	StageVideoAnalysis   = "video_analysis"
	StageParsing         = "parsing"
	StagePhoneMatching   = "phone_matching"
	StageAwaitingGraph   = "awaiting_graph"
	StageGraphBuilding   = "graph_building"
	StageCompleted       = "completed"
)

// Artifact is one file's journey through its pipeline. Unique per
// (job id, filename); that constraint anchors the idempotency guard.
// Output paths point into the blob store; empty means the stage has not run.
type Artifact struct {
	ID               uuid.UUID
	JobID            uuid.UUID
	Filename         string
	FileType         FileType
	Status           ArtifactStatus
	CurrentStage     string
	Stages           StageTimings
	DetectedLanguage string
	Checksum         string
	ExtractedPath    string
	TranscriptPath   string
	TranslatedPath   string
	SummaryPath      string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SourcePipelineDone reports whether the owning pool's stage loop already ran
// to its hand-off point, meaning a redelivered message has nothing to do.
func (a *Artifact) SourcePipelineDone() bool {
	if a.Status.Terminal() {
		return true
	}
	return a.CurrentStage == StageAwaitingGraph || a.CurrentStage == StageGraphBuilding
}

// PreferredTextPath returns the best persisted text for downstream consumers,
// preferring translated output over the raw extraction or transcript.
func (a *Artifact) PreferredTextPath() string {
	switch {
	case a.TranslatedPath != "":
		return a.TranslatedPath
	case a.TranscriptPath != "":
		return a.TranscriptPath
	default:
		return a.ExtractedPath
	}
}
