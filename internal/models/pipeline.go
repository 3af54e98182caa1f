package models

import (
	"github.com/google/uuid"
)

// StepKind identifies one billable unit of generation work.
type StepKind string

const (
	StepIdeation    StepKind = "ideation"
	StepStructure   StepKind = "structure"
	StepFrontCover  StepKind = "front_cover"
	StepBackCover   StepKind = "back_cover"
	StepPromptBuild StepKind = "prompt_build"
	StepPageImage   StepKind = "page_image"
)

// StageKind is the coarser, user-visible phase of a pipeline run.
type StageKind string

const (
	StageIdeation  StageKind = "ideation"
	StageStructure StageKind = "structure"
	StageCovers    StageKind = "covers"
	StagePages     StageKind = "pages"
)

// ProgressSnapshot is the read-only progress view produced for the UI.
// It is updated synchronously on every orchestrator state transition and
// has no side effects on the pipeline itself.
type ProgressSnapshot struct {
	Stage            StageKind `json:"stage"`
	CurrentPageIndex int       `json:"current_page_index"`
	TotalPages       int       `json:"total_pages"`
	IsDone           bool      `json:"is_done"`
	IsFailed         bool      `json:"is_failed"`
}

// Client update types published to the client-updates queue.
const (
	UpdateTypeStoryProgress = "story_progress"
	UpdateTypeStoryDone     = "story_done"
	UpdateTypeStoryFailed   = "story_failed"
)

// ClientStoryUpdate is the payload pushed towards the UI transport on
// stage transitions and terminal states.
type ClientStoryUpdate struct {
	StoryID      uuid.UUID `json:"story_id"`
	UserID       uint64    `json:"user_id"`
	UpdateType   string    `json:"update_type"`
	Stage        StageKind `json:"stage,omitempty"`
	PageIndex    int       `json:"page_index,omitempty"`
	TotalPages   int       `json:"total_pages,omitempty"`
	ErrorDetails *string   `json:"error_details,omitempty"`
}

// GenerationErrorRecord is the structured record written to the error sink
// when a step exhausts its retries. Payload carries enough context to
// reproduce the failed call.
type GenerationErrorRecord struct {
	UserID  uint64            `json:"user_id"`
	StoryID uuid.UUID         `json:"story_id"`
	Step    StepKind          `json:"step"`
	Message string            `json:"message"`
	Payload map[string]string `json:"payload,omitempty"`
}
