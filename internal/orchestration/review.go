package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docforge/docforge/internal/actor"
	"github.com/docforge/docforge/internal/dedup"
	"github.com/docforge/docforge/internal/dispatch"
	"github.com/docforge/docforge/internal/notify"
	"github.com/docforge/docforge/internal/observability"
	"github.com/docforge/docforge/internal/store"
	"github.com/docforge/docforge/model"
)

// ReviewOrchestrator drives the review execution workflow: NotStarted →
// Started → Ingesting → DistributingQuestions → AnsweringQuestions →
// Completed, with Failed reachable from any non-terminal status. Answering
// and analysis are parallel fan-in counters keyed by answer id; the review
// completes when both reach the question total. A review without a document
// link skips ingestion entirely.
type ReviewOrchestrator struct {
	core
}

// NewReviewOrchestrator creates a review execution orchestrator.
func NewReviewOrchestrator(
	st store.AggregateStore,
	completions dedup.CompletionStore,
	dispatcher dispatch.Dispatcher,
	notifier notify.Notifier,
	runtime *actor.Runtime,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *ReviewOrchestrator {
	return &ReviewOrchestrator{
		core: newCore(st, completions, dispatcher, notifier, runtime, logger, metrics),
	}
}

// The answered and analyzed counters both key on the answer id, so each
// counter derives its own sub-task id for the completion store.
var (
	answeredNamespace = uuid.MustParse("8f1c2a44-3e57-49d2-b6f0-1a9c4e7d5b03")
	analyzedNamespace = uuid.MustParse("c47be911-0d26-4a88-9e35-6b2f8d140a77")
)

type ingestDocumentPayload struct {
	ExportedDocumentLinkID uuid.UUID `json:"exported_document_link_id"`
}

// Start begins a review. A duplicate start is absorbed and returns the
// current state. With no document link there is nothing to ingest: the
// review jumps straight to question distribution using the question count
// carried by the request.
func (o *ReviewOrchestrator) Start(ctx context.Context, id uuid.UUID, req model.ExecuteReviewRequest) (model.ReviewState, error) {
	var out model.ReviewState
	err := o.runtime.Do(ctx, id, func(ctx context.Context) error {
		st, _, err := o.load(ctx, id)
		if err == nil {
			o.logger.Info("duplicate start absorbed",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			out = st
			return nil
		}
		if !model.IsCode(err, model.ErrWorkflowNotFound) {
			return err
		}

		now := time.Now().UTC()
		st = model.ReviewState{
			ID:                     id,
			Status:                 model.ReviewStarted,
			StartedBySubjectID:     req.SubjectID,
			ExportedDocumentLinkID: req.ExportedDocumentLinkID,
			CreatedUtc:             now,
			LastUpdatedUtc:         now,
		}
		skipIngestion := req.ExportedDocumentLinkID == nil
		if skipIngestion {
			st.TotalQuestions = req.TotalQuestions
			st.TotalKnown = true
			st.Status = model.ReviewDistributing
		} else {
			st.Status = model.ReviewIngesting
		}

		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal review state: %w", err)
		}
		rec := store.Record{
			ID:        id,
			Kind:      model.KindReview,
			State:     data,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.Create(ctx, rec); err != nil {
			return err
		}
		o.metrics.RecordWorkflowStart(string(model.KindReview))
		o.transition(model.KindReview, id, model.ReviewNotStarted, model.ReviewStarted)
		o.transition(model.KindReview, id, model.ReviewStarted, st.Status)

		if skipIngestion {
			if err := o.dispatchCommand(ctx, id, model.CommandDistributeQuestions, nil); err != nil {
				return o.failWorkflow(ctx, id, "dispatch-failed", err)
			}
			o.notifyMessage(ctx, model.KindReview, id, "SYSTEM: No document to ingest, distributing questions")
		} else {
			if err := o.dispatchCommand(ctx, id, model.CommandIngestDocument, ingestDocumentPayload{
				ExportedDocumentLinkID: *req.ExportedDocumentLinkID,
			}); err != nil {
				return o.failWorkflow(ctx, id, "dispatch-failed", err)
			}
			o.notifyMessage(ctx, model.KindReview, id, "SYSTEM: Document ingestion started")
		}

		o.notifyChange(ctx, reviewChange(st))
		out = st
		return nil
	})
	return out, err
}

// OnDocumentIngested applies the "document ingested" event: the question
// total becomes known, Ingesting → DistributingQuestions.
func (o *ReviewOrchestrator) OnDocumentIngested(ctx context.Context, id uuid.UUID, totalQuestions int, contentType string) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindReview, "document-ingested", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ReviewTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.ReviewIngesting {
			result = applyResultIgnored
			o.logger.Warn("document-ingested event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}
		if st.TotalKnown {
			result = applyResultDuplicate
			return nil
		}

		st.TotalQuestions = totalQuestions
		st.TotalKnown = true
		st.ContentType = contentType
		from := st.Status
		if err := advanceReview(&st, model.ReviewDistributing); err != nil {
			return err
		}
		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		o.transition(model.KindReview, id, from, model.ReviewDistributing)

		if err := o.dispatchCommand(ctx, id, model.CommandDistributeQuestions, nil); err != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", err)
		}

		o.notifyMessage(ctx, model.KindReview, id,
			fmt.Sprintf("SYSTEM: Document ingested, %d questions found", totalQuestions))
		o.notifyChange(ctx, reviewChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnQuestionsDistributed applies the "questions distributed" event:
// DistributingQuestions → AnsweringQuestions. An empty review (zero
// questions) completes immediately; so does one whose counters already
// filled while distribution was still in flight.
func (o *ReviewOrchestrator) OnQuestionsDistributed(ctx context.Context, id uuid.UUID) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindReview, "questions-distributed", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ReviewTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.ReviewDistributing {
			result = applyResultIgnored
			o.logger.Warn("questions-distributed event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		from := st.Status
		if err := advanceReview(&st, model.ReviewAnswering); err != nil {
			return err
		}
		completed := reviewComplete(st)
		if completed {
			if err := advanceReview(&st, model.ReviewCompleted); err != nil {
				return err
			}
		}
		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		o.transition(model.KindReview, id, from, model.ReviewAnswering)
		if completed {
			o.transition(model.KindReview, id, model.ReviewAnswering, model.ReviewCompleted)
			o.metrics.RecordWorkflowCompletion(string(model.KindReview), model.ReviewCompleted)
		}

		o.notifyChange(ctx, reviewChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnQuestionAnswered counts one answered question, keyed by answer id.
func (o *ReviewOrchestrator) OnQuestionAnswered(ctx context.Context, id, answerID uuid.UUID) error {
	return o.applyAnswerEvent(ctx, id, answerID, "question-answered", answeredNamespace,
		func(st *model.ReviewState) *int { return &st.QuestionsAnswered },
		"SYSTEM: Question answered (%d/%d)")
}

// OnAnswerAnalyzed counts one analyzed answer, keyed by answer id. Analysis
// may arrive before the matching answer event; the counters are independent.
func (o *ReviewOrchestrator) OnAnswerAnalyzed(ctx context.Context, id, answerID uuid.UUID) error {
	return o.applyAnswerEvent(ctx, id, answerID, "answer-analyzed", analyzedNamespace,
		func(st *model.ReviewState) *int { return &st.QuestionsAnalyzed },
		"SYSTEM: Answer analyzed (%d/%d)")
}

// applyAnswerEvent is the shared fan-in path for the answered and analyzed
// counters: dedup by derived sub-task id, increment, complete when both
// counters reach the total.
func (o *ReviewOrchestrator) applyAnswerEvent(
	ctx context.Context,
	id, answerID uuid.UUID,
	event string,
	namespace uuid.UUID,
	counter func(*model.ReviewState) *int,
	messageFormat string,
) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindReview, event, &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ReviewTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.ReviewDistributing && st.Status != model.ReviewAnswering {
			result = applyResultIgnored
			o.logger.Warn("answer event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("event", event),
				zap.String("status", st.Status),
			)
			return nil
		}

		subTaskID := uuid.NewSHA1(namespace, answerID[:])
		first, err := o.completions.MarkIfNew(ctx, id, subTaskID, event)
		if err != nil {
			return fmt.Errorf("record completion %q: %w", answerID, err)
		}
		if !first {
			result = applyResultDuplicate
			o.logger.Debug("duplicate answer event absorbed",
				zap.String("workflow_id", id.String()),
				zap.String("event", event),
				zap.String("answer_id", answerID.String()),
			)
			return nil
		}

		n := counter(&st)
		if st.TotalKnown && *n >= st.TotalQuestions {
			result = applyResultIgnored
			return nil
		}
		*n++
		o.metrics.RecordFanOutUnit(string(model.KindReview), "success")

		from := st.Status
		completed := st.Status == model.ReviewAnswering && reviewComplete(st)
		if completed {
			if err := advanceReview(&st, model.ReviewCompleted); err != nil {
				o.releaseCompletion(ctx, id, subTaskID)
				return err
			}
		}
		if err := o.save(ctx, rec, &st); err != nil {
			// The mark without the persisted counter would absorb the
			// redelivery; back it out so the event is counted then.
			o.releaseCompletion(ctx, id, subTaskID)
			return err
		}
		if completed {
			o.transition(model.KindReview, id, from, model.ReviewCompleted)
			o.metrics.RecordWorkflowCompletion(string(model.KindReview), model.ReviewCompleted)
		}

		o.notifyMessage(ctx, model.KindReview, id, fmt.Sprintf(messageFormat, *n, st.TotalQuestions))
		o.notifyChange(ctx, reviewChange(st))
		result = applyResultApplied
		return nil
	})
}

// Abort forces a non-terminal review into Failed. No-op on terminal.
func (o *ReviewOrchestrator) Abort(ctx context.Context, id uuid.UUID, reason string) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ReviewTerminal(st.Status) {
			return nil
		}
		return o.fail(ctx, rec, st, "aborted", reason)
	})
}

// GetState returns a read-only snapshot of the review state.
func (o *ReviewOrchestrator) GetState(ctx context.Context, id uuid.UUID) (model.ReviewState, error) {
	st, _, err := o.load(ctx, id)
	return st, err
}

// reviewComplete reports whether both counters have reached the known total.
func reviewComplete(st model.ReviewState) bool {
	return st.TotalKnown &&
		st.QuestionsAnswered >= st.TotalQuestions &&
		st.QuestionsAnalyzed >= st.TotalQuestions
}

func (o *ReviewOrchestrator) load(ctx context.Context, id uuid.UUID) (model.ReviewState, store.Record, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.ReviewState{}, store.Record{}, model.NewWorkflowNotFoundError(
				fmt.Sprintf("review workflow %q not found", id),
			)
		}
		return model.ReviewState{}, store.Record{}, err
	}
	if rec.Kind != model.KindReview {
		return model.ReviewState{}, store.Record{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow %q is not a review workflow", id),
		)
	}
	var st model.ReviewState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return model.ReviewState{}, store.Record{}, fmt.Errorf("unmarshal review state %q: %w", id, err)
	}
	return st, rec, nil
}

func (o *ReviewOrchestrator) save(ctx context.Context, rec store.Record, st *model.ReviewState) error {
	st.LastUpdatedUtc = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal review state: %w", err)
	}
	rec.State = data
	return o.store.Update(ctx, rec)
}

// advanceReview moves the status forward, rejecting any move the
// forward-only order does not permit.
func advanceReview(st *model.ReviewState, to string) error {
	if !model.ReviewCanAdvance(st.Status, to) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("review %q cannot move from %s to %s", st.ID, st.Status, to),
		)
	}
	st.Status = to
	return nil
}

func (o *ReviewOrchestrator) fail(ctx context.Context, rec store.Record, st model.ReviewState, reason, details string) error {
	from := st.Status
	if err := advanceReview(&st, model.ReviewFailed); err != nil {
		return err
	}
	if st.FailureReason == "" {
		st.FailureReason = reason
		st.FailureDetails = details
	}
	if err := o.save(ctx, rec, &st); err != nil {
		return err
	}
	o.transition(model.KindReview, st.ID, from, model.ReviewFailed)
	o.metrics.RecordWorkflowCompletion(string(model.KindReview), model.ReviewFailed)
	o.notifyChange(ctx, reviewChange(st))
	return nil
}

func (o *ReviewOrchestrator) failWorkflow(ctx context.Context, id uuid.UUID, reason string, cause error) error {
	st, rec, err := o.load(ctx, id)
	if err != nil {
		return cause
	}
	if !model.ReviewTerminal(st.Status) {
		_ = o.fail(ctx, rec, st, reason, cause.Error())
	}
	return cause
}

func reviewChange(st model.ReviewState) model.StateChange {
	return model.StateChange{
		WorkflowID:     st.ID,
		Kind:           model.KindReview,
		Status:         st.Status,
		TotalUnits:     st.TotalQuestions,
		CompletedUnits: st.QuestionsAnswered,
	}
}
