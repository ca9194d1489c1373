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

// GenerationOrchestrator drives the document generation workflow:
// Pending → Creating → Processing → ContentGeneration → ContentFinalized →
// Completed, with Failed reachable from any non-terminal status. Content
// generation is a fan-out stage sized by the outline.
type GenerationOrchestrator struct {
	core
}

// NewGenerationOrchestrator creates a document generation orchestrator.
func NewGenerationOrchestrator(
	st store.AggregateStore,
	completions dedup.CompletionStore,
	dispatcher dispatch.Dispatcher,
	notifier notify.Notifier,
	runtime *actor.Runtime,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *GenerationOrchestrator {
	return &GenerationOrchestrator{
		core: newCore(st, completions, dispatcher, notifier, runtime, logger, metrics),
	}
}

// Outbound command payloads.
type generateOutlinePayload struct {
	DocumentTitle string    `json:"document_title"`
	ProcessName   string    `json:"process_name"`
	MetadataID    uuid.UUID `json:"metadata_id"`
}

type generateContentPayload struct {
	NodeCount int `json:"node_count"`
}

// Start begins a generation workflow. A duplicate start is absorbed and
// returns the current state, tolerating at-least-once delivery of the
// initial trigger.
func (o *GenerationOrchestrator) Start(ctx context.Context, id uuid.UUID, req model.StartGenerationRequest) (model.GenerationState, error) {
	var out model.GenerationState
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

		// 1. Persist initial state at the workflow's first post-start status.
		now := time.Now().UTC()
		st = model.GenerationState{
			ID:             id,
			Status:         model.GenerationCreating,
			DocumentTitle:  req.DocumentTitle,
			AuthorID:       req.AuthorID,
			ProcessName:    req.ProcessName,
			MetadataJSON:   req.MetadataJSON,
			CreatedUtc:     now,
			LastUpdatedUtc: now,
		}
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal generation state: %w", err)
		}
		rec := store.Record{
			ID:        id,
			Kind:      model.KindGeneration,
			State:     data,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.Create(ctx, rec); err != nil {
			return err
		}
		o.metrics.RecordWorkflowStart(string(model.KindGeneration))
		o.transition(model.KindGeneration, id, model.GenerationPending, model.GenerationCreating)

		// 2. Emit the first command.
		if err := o.dispatchCommand(ctx, id, model.CommandCreateDocument, req); err != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", err)
		}

		// 3. Announce.
		o.notifyChange(ctx, generationChange(st))
		out = st
		return nil
	})
	return out, err
}

// OnDocumentCreated applies the "document created" event: Creating →
// Processing, then asks for the outline.
func (o *GenerationOrchestrator) OnDocumentCreated(ctx context.Context, id, metadataID uuid.UUID) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindGeneration, "document-created", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.GenerationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.GenerationCreating {
			result = applyResultIgnored
			o.logger.Warn("document-created event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		st.MetadataID = metadataID
		if err := advanceGeneration(&st, model.GenerationProcessing); err != nil {
			return err
		}
		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		o.transition(model.KindGeneration, id, model.GenerationCreating, model.GenerationProcessing)

		if err := o.dispatchCommand(ctx, id, model.CommandGenerateOutline, generateOutlinePayload{
			DocumentTitle: st.DocumentTitle,
			ProcessName:   st.ProcessName,
			MetadataID:    st.MetadataID,
		}); err != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", err)
		}

		o.notifyChange(ctx, generationChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnOutlineGenerated applies the "outline generated" event: the fan-out size
// becomes the outline's node count, Processing → ContentGeneration. An empty
// outline finalizes content immediately.
func (o *GenerationOrchestrator) OnOutlineGenerated(ctx context.Context, id uuid.UUID, nodeCount int) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindGeneration, "outline-generated", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.GenerationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.GenerationProcessing {
			result = applyResultIgnored
			o.logger.Warn("outline-generated event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		if err := st.Progress.SetTotal(nodeCount); err != nil {
			result = applyResultDuplicate
			o.logger.Warn("fan-out size already set, outline event absorbed",
				zap.String("workflow_id", id.String()),
			)
			return nil
		}

		from := st.Status
		if err := advanceGeneration(&st, model.GenerationContent); err != nil {
			return err
		}
		// Empty outline: the fan-out completes without any unit event.
		finalized := st.Progress.Done()
		if finalized {
			if err := advanceGeneration(&st, model.GenerationContentFinalized); err != nil {
				return err
			}
		}
		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		o.transition(model.KindGeneration, id, from, model.GenerationContent)
		if finalized {
			o.transition(model.KindGeneration, id, model.GenerationContent, model.GenerationContentFinalized)
		}

		var dispatchErr error
		if finalized {
			dispatchErr = o.dispatchCommand(ctx, id, model.CommandExportDocument, nil)
		} else {
			dispatchErr = o.dispatchCommand(ctx, id, model.CommandGenerateContent, generateContentPayload{NodeCount: nodeCount})
		}
		if dispatchErr != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", dispatchErr)
		}

		o.notifyChange(ctx, generationChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnOutlineFailed applies the "outline generation failed" event.
func (o *GenerationOrchestrator) OnOutlineFailed(ctx context.Context, id uuid.UUID, details string) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindGeneration, "outline-failed", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.GenerationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.GenerationProcessing {
			result = applyResultIgnored
			o.logger.Warn("outline-failed event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		if err := o.fail(ctx, rec, st, "outline-failed", details); err != nil {
			return err
		}
		result = applyResultApplied
		return nil
	})
}

// OnContentNodeGenerated applies one content node outcome. Duplicate node ids
// are absorbed; failed nodes count toward FailedUnits without failing the
// workflow. When every node has reported, ContentGeneration →
// ContentFinalized exactly once and export is requested.
func (o *GenerationOrchestrator) OnContentNodeGenerated(ctx context.Context, id, nodeID uuid.UUID, success bool) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindGeneration, "content-node-generated", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.GenerationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		// Only the fan-out stage counts node outcomes. Gating before the
		// completion store keeps an early-arriving event (before the outline)
		// from being marked seen and then never counted.
		if st.Status != model.GenerationContent && st.Status != model.GenerationContentFinalized {
			result = applyResultIgnored
			o.logger.Warn("content node event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		counted, done, err := o.recordUnit(ctx, id, nodeID, success, &st.Progress)
		if err != nil {
			return err
		}
		if !counted {
			result = applyResultDuplicate
			o.logger.Debug("duplicate content node event absorbed",
				zap.String("workflow_id", id.String()),
				zap.String("node_id", nodeID.String()),
			)
			return nil
		}
		outcome := "success"
		if !success {
			outcome = "failure"
		}
		o.metrics.RecordFanOutUnit(string(model.KindGeneration), outcome)

		from := st.Status
		if done {
			if err := advanceGeneration(&st, model.GenerationContentFinalized); err != nil {
				o.releaseCompletion(ctx, id, nodeID)
				return err
			}
		}
		if err := o.save(ctx, rec, &st); err != nil {
			// The mark without the persisted counter would absorb the
			// redelivery; back it out so the unit is counted then.
			o.releaseCompletion(ctx, id, nodeID)
			return err
		}
		if done {
			o.transition(model.KindGeneration, id, from, model.GenerationContentFinalized)
			if err := o.dispatchCommand(ctx, id, model.CommandExportDocument, nil); err != nil {
				return o.failWorkflow(ctx, id, "dispatch-failed", err)
			}
		}

		o.notifyChange(ctx, generationChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnFinalized applies the explicit finalize signal (post-processing done):
// ContentFinalized → Completed.
func (o *GenerationOrchestrator) OnFinalized(ctx context.Context, id uuid.UUID) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindGeneration, "finalized", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.GenerationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.GenerationContentFinalized {
			result = applyResultIgnored
			o.logger.Warn("finalize signal inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		from := st.Status
		if err := advanceGeneration(&st, model.GenerationCompleted); err != nil {
			return err
		}
		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		o.transition(model.KindGeneration, id, from, model.GenerationCompleted)
		o.metrics.RecordWorkflowCompletion(string(model.KindGeneration), model.GenerationCompleted)
		o.notifyChange(ctx, generationChange(st))
		result = applyResultApplied
		return nil
	})
}

// Abort forces a non-terminal workflow into Failed. Aborting a terminal
// workflow is a no-op.
func (o *GenerationOrchestrator) Abort(ctx context.Context, id uuid.UUID, reason string) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.GenerationTerminal(st.Status) {
			return nil
		}
		return o.fail(ctx, rec, st, "aborted", reason)
	})
}

// GetState returns a read-only snapshot of the workflow state.
func (o *GenerationOrchestrator) GetState(ctx context.Context, id uuid.UUID) (model.GenerationState, error) {
	st, _, err := o.load(ctx, id)
	return st, err
}

// load retrieves and decodes the aggregate record for id.
func (o *GenerationOrchestrator) load(ctx context.Context, id uuid.UUID) (model.GenerationState, store.Record, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.GenerationState{}, store.Record{}, model.NewWorkflowNotFoundError(
				fmt.Sprintf("generation workflow %q not found", id),
			)
		}
		return model.GenerationState{}, store.Record{}, err
	}
	if rec.Kind != model.KindGeneration {
		return model.GenerationState{}, store.Record{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow %q is not a generation workflow", id),
		)
	}
	var st model.GenerationState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return model.GenerationState{}, store.Record{}, fmt.Errorf("unmarshal generation state %q: %w", id, err)
	}
	return st, rec, nil
}

// save persists the state with optimistic locking, stamping LastUpdatedUtc.
func (o *GenerationOrchestrator) save(ctx context.Context, rec store.Record, st *model.GenerationState) error {
	st.LastUpdatedUtc = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal generation state: %w", err)
	}
	rec.State = data
	return o.store.Update(ctx, rec)
}

// advanceGeneration moves the status forward, rejecting any move the
// forward-only order does not permit. Handlers gate on status before calling
// it, so a rejection means a handler let an inapplicable event through.
func advanceGeneration(st *model.GenerationState, to string) error {
	if !model.GenerationCanAdvance(st.Status, to) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("generation %q cannot move from %s to %s", st.ID, st.Status, to),
		)
	}
	st.Status = to
	return nil
}

// fail moves the workflow into Failed, setting the failure fields once.
func (o *GenerationOrchestrator) fail(ctx context.Context, rec store.Record, st model.GenerationState, reason, details string) error {
	from := st.Status
	if err := advanceGeneration(&st, model.GenerationFailed); err != nil {
		return err
	}
	if st.FailureReason == "" {
		st.FailureReason = reason
		st.FailureDetails = details
	}
	if err := o.save(ctx, rec, &st); err != nil {
		return err
	}
	o.transition(model.KindGeneration, st.ID, from, model.GenerationFailed)
	o.metrics.RecordWorkflowCompletion(string(model.KindGeneration), model.GenerationFailed)
	o.notifyChange(ctx, generationChange(st))
	return nil
}

// failWorkflow reloads the record, fails the workflow, and surfaces the
// original cause to the caller.
func (o *GenerationOrchestrator) failWorkflow(ctx context.Context, id uuid.UUID, reason string, cause error) error {
	st, rec, err := o.load(ctx, id)
	if err != nil {
		return cause
	}
	if !model.GenerationTerminal(st.Status) {
		_ = o.fail(ctx, rec, st, reason, cause.Error())
	}
	return cause
}

func generationChange(st model.GenerationState) model.StateChange {
	return model.StateChange{
		WorkflowID:     st.ID,
		Kind:           model.KindGeneration,
		Status:         st.Status,
		TotalUnits:     st.Progress.TotalUnits,
		CompletedUnits: st.Progress.CompletedUnits,
		FailedUnits:    st.Progress.FailedUnits,
	}
}
