package model

import (
	"time"

	"github.com/google/uuid"
)

// Progress tracks a fan-out stage: TotalUnits independently-completing
// sub-tasks, each reporting success or failure exactly once. The invariant
// CompletedUnits + FailedUnits <= TotalUnits holds at all times.
type Progress struct {
	TotalUnits     int  `json:"total_units"`
	CompletedUnits int  `json:"completed_units"`
	FailedUnits    int  `json:"failed_units"`
	TotalKnown     bool `json:"total_known"`
}

// SetTotal fixes the fan-out size. It may be called exactly once; a second
// call returns a conflict error. A total of zero is valid (empty fan-out).
func (p *Progress) SetTotal(n int) error {
	if p.TotalKnown {
		return NewConflictError("fan-out size already set")
	}
	if n < 0 {
		return NewBadRequestError("fan-out size must be non-negative")
	}
	p.TotalUnits = n
	p.TotalKnown = true
	return nil
}

// Record counts one sub-task outcome. Callers must have already deduplicated
// the sub-task id; Record only guards the counter invariant.
func (p *Progress) Record(success bool) error {
	if p.CompletedUnits+p.FailedUnits >= p.TotalUnits {
		return NewConflictError("fan-out counters already at total")
	}
	if success {
		p.CompletedUnits++
	} else {
		p.FailedUnits++
	}
	return nil
}

// Done reports whether every sub-task has reported an outcome. An unset
// total is never done; a zero total is done immediately.
func (p *Progress) Done() bool {
	return p.TotalKnown && p.CompletedUnits+p.FailedUnits >= p.TotalUnits
}

// GenerationState is the durable record of one document generation workflow.
type GenerationState struct {
	ID             uuid.UUID `json:"id"`
	Status         string    `json:"status"`
	DocumentTitle  string    `json:"document_title"`
	AuthorID       string    `json:"author_id"`
	ProcessName    string    `json:"process_name"`
	MetadataJSON   string    `json:"metadata_json,omitempty"`
	MetadataID     uuid.UUID `json:"metadata_id,omitempty"`
	Progress       Progress  `json:"progress"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	FailureDetails string    `json:"failure_details,omitempty"`
	CreatedUtc     time.Time `json:"created_utc"`
	LastUpdatedUtc time.Time `json:"last_updated_utc"`
}

// StepInfo is one entry of a validation pipeline's precomputed ordered step
// list.
type StepInfo struct {
	StepID        uuid.UUID `json:"step_id"`
	Order         int       `json:"order"`
	ExecutionType string    `json:"execution_type"`
}

// ValidationState is the durable record of one validation pipeline workflow.
// CurrentStepIndex is -1 until the ordered step list has been loaded and
// never decreases afterwards.
type ValidationState struct {
	ID                  uuid.UUID  `json:"id"`
	GeneratedDocumentID uuid.UUID  `json:"generated_document_id"`
	Status              string     `json:"status"`
	OrderedSteps        []StepInfo `json:"ordered_steps,omitempty"`
	CurrentStepIndex    int        `json:"current_step_index"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	FailureDetails      string     `json:"failure_details,omitempty"`
	CreatedUtc          time.Time  `json:"created_utc"`
	LastUpdatedUtc      time.Time  `json:"last_updated_utc"`
}

// ReviewState is the durable record of one review execution workflow. The
// answered and analyzed counters advance independently, each keyed by answer
// id, and the review completes when both reach TotalQuestions.
type ReviewState struct {
	ID                     uuid.UUID  `json:"id"`
	Status                 string     `json:"status"`
	StartedBySubjectID     string     `json:"started_by_subject_id,omitempty"`
	ExportedDocumentLinkID *uuid.UUID `json:"exported_document_link_id,omitempty"`
	ContentType            string     `json:"content_type,omitempty"`
	TotalQuestions         int        `json:"total_questions"`
	TotalKnown             bool       `json:"total_known"`
	QuestionsAnswered      int        `json:"questions_answered"`
	QuestionsAnalyzed      int        `json:"questions_analyzed"`
	FailureReason          string     `json:"failure_reason,omitempty"`
	FailureDetails         string     `json:"failure_details,omitempty"`
	CreatedUtc             time.Time  `json:"created_utc"`
	LastUpdatedUtc         time.Time  `json:"last_updated_utc"`
}
