package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Command types dispatched to external workers. The orchestration core only
// names the work; how a command reaches a worker is transport-specific.
const (
	CommandCreateDocument      = "create-document"
	CommandGenerateOutline     = "generate-outline"
	CommandGenerateContent     = "generate-content"
	CommandExportDocument      = "export-document"
	CommandLoadValidationSteps = "load-validation-steps"
	CommandExecuteStep         = "execute-validation-step"
	CommandIngestDocument      = "ingest-review-document"
	CommandDistributeQuestions = "distribute-questions"
)

// Command is an outbound unit of work addressed to an external worker.
// WorkflowID doubles as the correlation id: completion and failure events
// for this command must carry the same id.
type Command struct {
	ID         uuid.UUID       `json:"id"`
	WorkflowID uuid.UUID       `json:"workflow_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	IssuedAt   time.Time       `json:"issued_at"`
}

// StateChange is the outbound notification emitted on every observable
// status transition. Fire-and-forget: no response is expected and delivery
// failures never fail the workflow.
type StateChange struct {
	WorkflowID     uuid.UUID    `json:"workflow_id"`
	Kind           WorkflowKind `json:"kind"`
	Status         string       `json:"status"`
	TotalUnits     int          `json:"total_units,omitempty"`
	CompletedUnits int          `json:"completed_units,omitempty"`
	FailedUnits    int          `json:"failed_units,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// StartGenerationRequest is the initial payload of a document generation
// workflow.
type StartGenerationRequest struct {
	DocumentTitle string `json:"document_title"`
	AuthorID      string `json:"author_id"`
	ProcessName   string `json:"process_name"`
	MetadataJSON  string `json:"metadata_json,omitempty"`
}

// ExecuteReviewRequest is the initial payload of a review execution
// workflow. When ExportedDocumentLinkID is nil the review has no document to
// ingest and proceeds directly to question distribution; TotalQuestions then
// supplies the fan-out size that ingestion would otherwise have discovered.
type ExecuteReviewRequest struct {
	SubjectID              string     `json:"subject_id,omitempty"`
	ExportedDocumentLinkID *uuid.UUID `json:"exported_document_link_id,omitempty"`
	TotalQuestions         int        `json:"total_questions,omitempty"`
}
