package model

// WorkflowKind discriminates the three orchestrator variants sharing the
// aggregate store.
type WorkflowKind string

// Workflow kinds.
const (
	KindGeneration WorkflowKind = "generation"
	KindValidation WorkflowKind = "validation"
	KindReview     WorkflowKind = "review"
)

// GenerationStatus values for the document generation workflow. Transitions
// are strictly forward; Failed is reachable from any non-terminal status.
const (
	GenerationPending          = "pending"
	GenerationCreating         = "creating"
	GenerationProcessing       = "processing"
	GenerationContent          = "content_generation"
	GenerationContentFinalized = "content_finalized"
	GenerationCompleted        = "completed"
	GenerationFailed           = "failed"
)

// ValidationStatus values for the validation pipeline workflow.
const (
	ValidationNotStarted = "not_started"
	ValidationInProgress = "in_progress"
	ValidationCompleted  = "completed"
	ValidationFailed     = "failed"
)

// ReviewStatus values for the review execution workflow.
const (
	ReviewNotStarted    = "not_started"
	ReviewStarted       = "started"
	ReviewIngesting     = "ingesting"
	ReviewDistributing  = "distributing_questions"
	ReviewAnswering     = "answering_questions"
	ReviewCompleted     = "completed"
	ReviewFailed        = "failed"
)

// generationRank orders the forward path of the generation workflow. Failed
// is absorbing and sits outside the forward order.
var generationRank = map[string]int{
	GenerationPending:          0,
	GenerationCreating:         1,
	GenerationProcessing:       2,
	GenerationContent:          3,
	GenerationContentFinalized: 4,
	GenerationCompleted:        5,
}

// GenerationTerminal reports whether a generation status is terminal.
func GenerationTerminal(status string) bool {
	return status == GenerationCompleted || status == GenerationFailed
}

// GenerationCanAdvance reports whether moving from one generation status to
// another keeps the forward-only invariant. A transition into Failed is
// always allowed from a non-terminal status.
func GenerationCanAdvance(from, to string) bool {
	if GenerationTerminal(from) {
		return false
	}
	if to == GenerationFailed {
		return true
	}
	fromRank, ok := generationRank[from]
	if !ok {
		return false
	}
	toRank, ok := generationRank[to]
	return ok && toRank > fromRank
}

var validationRank = map[string]int{
	ValidationNotStarted: 0,
	ValidationInProgress: 1,
	ValidationCompleted:  2,
}

// ValidationTerminal reports whether a validation status is terminal.
func ValidationTerminal(status string) bool {
	return status == ValidationCompleted || status == ValidationFailed
}

// ValidationCanAdvance reports whether moving from one validation status to
// another keeps the forward-only invariant.
func ValidationCanAdvance(from, to string) bool {
	if ValidationTerminal(from) {
		return false
	}
	if to == ValidationFailed {
		return true
	}
	fromRank, ok := validationRank[from]
	if !ok {
		return false
	}
	toRank, ok := validationRank[to]
	return ok && toRank > fromRank
}

var reviewRank = map[string]int{
	ReviewNotStarted:   0,
	ReviewStarted:      1,
	ReviewIngesting:    2,
	ReviewDistributing: 3,
	ReviewAnswering:    4,
	ReviewCompleted:    5,
}

// ReviewTerminal reports whether a review status is terminal.
func ReviewTerminal(status string) bool {
	return status == ReviewCompleted || status == ReviewFailed
}

// ReviewCanAdvance reports whether moving from one review status to another
// keeps the forward-only invariant.
func ReviewCanAdvance(from, to string) bool {
	if ReviewTerminal(from) {
		return false
	}
	if to == ReviewFailed {
		return true
	}
	fromRank, ok := reviewRank[from]
	if !ok {
		return false
	}
	toRank, ok := reviewRank[to]
	return ok && toRank > fromRank
}
