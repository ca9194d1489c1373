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

// ValidationOrchestrator drives the post-generation validation pipeline: an
// ordered list of steps executed strictly sequentially, one in flight at a
// time. Any step failure halts the pipeline; retry is an explicit external
// command that re-dispatches the current step without advancing the index.
type ValidationOrchestrator struct {
	core
}

// NewValidationOrchestrator creates a validation pipeline orchestrator.
func NewValidationOrchestrator(
	st store.AggregateStore,
	completions dedup.CompletionStore,
	dispatcher dispatch.Dispatcher,
	notifier notify.Notifier,
	runtime *actor.Runtime,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *ValidationOrchestrator {
	return &ValidationOrchestrator{
		core: newCore(st, completions, dispatcher, notifier, runtime, logger, metrics),
	}
}

type loadStepsPayload struct {
	GeneratedDocumentID uuid.UUID `json:"generated_document_id"`
}

type executeStepPayload struct {
	StepID        uuid.UUID `json:"step_id"`
	Order         int       `json:"order"`
	ExecutionType string    `json:"execution_type"`
}

// Start begins a validation pipeline for a generated document. A duplicate
// start is absorbed and returns the current state.
func (o *ValidationOrchestrator) Start(ctx context.Context, id, generatedDocumentID uuid.UUID) (model.ValidationState, error) {
	var out model.ValidationState
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
		st = model.ValidationState{
			ID:                  id,
			GeneratedDocumentID: generatedDocumentID,
			Status:              model.ValidationNotStarted,
			CurrentStepIndex:    -1,
			CreatedUtc:          now,
			LastUpdatedUtc:      now,
		}
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal validation state: %w", err)
		}
		rec := store.Record{
			ID:        id,
			Kind:      model.KindValidation,
			State:     data,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.store.Create(ctx, rec); err != nil {
			return err
		}
		o.metrics.RecordWorkflowStart(string(model.KindValidation))

		if err := o.dispatchCommand(ctx, id, model.CommandLoadValidationSteps, loadStepsPayload{
			GeneratedDocumentID: generatedDocumentID,
		}); err != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", err)
		}

		o.notifyChange(ctx, validationChange(st))
		out = st
		return nil
	})
	return out, err
}

// OnStepsLoaded installs the precomputed ordered step list and dispatches the
// first step: index −1 → 0, NotStarted → InProgress. An empty list completes
// the pipeline immediately.
func (o *ValidationOrchestrator) OnStepsLoaded(ctx context.Context, id uuid.UUID, steps []model.StepInfo) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindValidation, "steps-loaded", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ValidationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.ValidationNotStarted {
			result = applyResultIgnored
			o.logger.Warn("steps-loaded event inapplicable",
				zap.String("workflow_id", id.String()),
				zap.String("status", st.Status),
			)
			return nil
		}

		st.OrderedSteps = sortSteps(steps)
		from := st.Status
		if len(st.OrderedSteps) == 0 {
			st.CurrentStepIndex = 0
			if err := advanceValidation(&st, model.ValidationCompleted); err != nil {
				return err
			}
			if err := o.save(ctx, rec, &st); err != nil {
				return err
			}
			o.transition(model.KindValidation, id, from, model.ValidationCompleted)
			o.metrics.RecordWorkflowCompletion(string(model.KindValidation), model.ValidationCompleted)
			o.notifyChange(ctx, validationChange(st))
			result = applyResultApplied
			return nil
		}

		st.CurrentStepIndex = 0
		if err := advanceValidation(&st, model.ValidationInProgress); err != nil {
			return err
		}
		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		o.transition(model.KindValidation, id, from, model.ValidationInProgress)

		if err := o.dispatchStep(ctx, id, st.OrderedSteps[0]); err != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", err)
		}

		o.notifyChange(ctx, validationChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnStepCompleted applies a step completion. Only the step at the current
// index can complete; anything else is out of order and ignored. The index
// advances by exactly one, then the next step is dispatched, or the pipeline
// completes after the last step.
func (o *ValidationOrchestrator) OnStepCompleted(ctx context.Context, id, stepID uuid.UUID) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindValidation, "step-completed", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ValidationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.ValidationInProgress || !isCurrentStep(st, stepID) {
			result = applyResultIgnored
			o.logger.Warn("out-of-order step completion ignored",
				zap.String("workflow_id", id.String()),
				zap.String("step_id", stepID.String()),
				zap.Int("current_step_index", st.CurrentStepIndex),
			)
			return nil
		}

		st.CurrentStepIndex++
		if lastStepDone(st) {
			from := st.Status
			if err := advanceValidation(&st, model.ValidationCompleted); err != nil {
				return err
			}
			if err := o.save(ctx, rec, &st); err != nil {
				return err
			}
			o.transition(model.KindValidation, id, from, model.ValidationCompleted)
			o.metrics.RecordWorkflowCompletion(string(model.KindValidation), model.ValidationCompleted)
			o.notifyChange(ctx, validationChange(st))
			result = applyResultApplied
			return nil
		}

		if err := o.save(ctx, rec, &st); err != nil {
			return err
		}
		next := st.OrderedSteps[st.CurrentStepIndex]
		if err := o.dispatchStep(ctx, id, next); err != nil {
			return o.failWorkflow(ctx, id, "dispatch-failed", err)
		}

		o.notifyChange(ctx, validationChange(st))
		result = applyResultApplied
		return nil
	})
}

// OnStepFailed applies a step failure: the pipeline halts at the current
// index and fails. Failures reported for a step other than the current one
// are ignored.
func (o *ValidationOrchestrator) OnStepFailed(ctx context.Context, id, stepID uuid.UUID, errMsg string) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		result := applyResultError
		defer o.observeApply(model.KindValidation, "step-failed", &result)()

		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ValidationTerminal(st.Status) {
			result = applyResultIgnored
			return nil
		}
		if st.Status != model.ValidationInProgress || !isCurrentStep(st, stepID) {
			result = applyResultIgnored
			o.logger.Warn("out-of-order step failure ignored",
				zap.String("workflow_id", id.String()),
				zap.String("step_id", stepID.String()),
				zap.Int("current_step_index", st.CurrentStepIndex),
			)
			return nil
		}

		reason := fmt.Sprintf("Step %s failed", stepID)
		if err := o.fail(ctx, rec, st, reason, errMsg); err != nil {
			return err
		}
		result = applyResultApplied
		return nil
	})
}

// RetryCurrentStep re-dispatches the step at the current index without
// advancing it, permitting multiple attempts. Only valid while the pipeline
// is in progress.
func (o *ValidationOrchestrator) RetryCurrentStep(ctx context.Context, id uuid.UUID) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		st, _, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if st.Status != model.ValidationInProgress {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("validation %q is %s, cannot retry", id, st.Status),
			)
		}
		step, ok := currentStep(st)
		if !ok {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("validation %q has no current step", id),
			)
		}

		o.logger.Info("retrying validation step",
			zap.String("workflow_id", id.String()),
			zap.String("step_id", step.StepID.String()),
			zap.Int("current_step_index", st.CurrentStepIndex),
		)
		return o.dispatchStep(ctx, id, step)
	})
}

// Abort forces a non-terminal pipeline into Failed. No-op on terminal.
func (o *ValidationOrchestrator) Abort(ctx context.Context, id uuid.UUID, reason string) error {
	return o.runtime.Do(ctx, id, func(ctx context.Context) error {
		st, rec, err := o.load(ctx, id)
		if err != nil {
			return err
		}
		if model.ValidationTerminal(st.Status) {
			return nil
		}
		return o.fail(ctx, rec, st, "aborted", reason)
	})
}

// GetState returns a read-only snapshot of the pipeline state.
func (o *ValidationOrchestrator) GetState(ctx context.Context, id uuid.UUID) (model.ValidationState, error) {
	st, _, err := o.load(ctx, id)
	return st, err
}

func (o *ValidationOrchestrator) dispatchStep(ctx context.Context, id uuid.UUID, step model.StepInfo) error {
	return o.dispatchCommand(ctx, id, model.CommandExecuteStep, executeStepPayload{
		StepID:        step.StepID,
		Order:         step.Order,
		ExecutionType: step.ExecutionType,
	})
}

func (o *ValidationOrchestrator) load(ctx context.Context, id uuid.UUID) (model.ValidationState, store.Record, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		if model.IsCode(err, model.ErrNotFound) {
			return model.ValidationState{}, store.Record{}, model.NewWorkflowNotFoundError(
				fmt.Sprintf("validation workflow %q not found", id),
			)
		}
		return model.ValidationState{}, store.Record{}, err
	}
	if rec.Kind != model.KindValidation {
		return model.ValidationState{}, store.Record{}, model.NewWorkflowNotFoundError(
			fmt.Sprintf("workflow %q is not a validation workflow", id),
		)
	}
	var st model.ValidationState
	if err := json.Unmarshal(rec.State, &st); err != nil {
		return model.ValidationState{}, store.Record{}, fmt.Errorf("unmarshal validation state %q: %w", id, err)
	}
	return st, rec, nil
}

func (o *ValidationOrchestrator) save(ctx context.Context, rec store.Record, st *model.ValidationState) error {
	st.LastUpdatedUtc = time.Now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal validation state: %w", err)
	}
	rec.State = data
	return o.store.Update(ctx, rec)
}

// advanceValidation moves the status forward, rejecting any move the
// forward-only order does not permit.
func advanceValidation(st *model.ValidationState, to string) error {
	if !model.ValidationCanAdvance(st.Status, to) {
		return model.NewInvalidTransitionError(
			fmt.Sprintf("validation %q cannot move from %s to %s", st.ID, st.Status, to),
		)
	}
	st.Status = to
	return nil
}

// fail halts the pipeline at the current index; the failure fields are set
// once and never cleared.
func (o *ValidationOrchestrator) fail(ctx context.Context, rec store.Record, st model.ValidationState, reason, details string) error {
	from := st.Status
	if err := advanceValidation(&st, model.ValidationFailed); err != nil {
		return err
	}
	if st.FailureReason == "" {
		st.FailureReason = reason
		st.FailureDetails = details
	}
	if err := o.save(ctx, rec, &st); err != nil {
		return err
	}
	o.transition(model.KindValidation, st.ID, from, model.ValidationFailed)
	o.metrics.RecordWorkflowCompletion(string(model.KindValidation), model.ValidationFailed)
	o.notifyChange(ctx, validationChange(st))
	return nil
}

func (o *ValidationOrchestrator) failWorkflow(ctx context.Context, id uuid.UUID, reason string, cause error) error {
	st, rec, err := o.load(ctx, id)
	if err != nil {
		return cause
	}
	if !model.ValidationTerminal(st.Status) {
		_ = o.fail(ctx, rec, st, reason, cause.Error())
	}
	return cause
}

func validationChange(st model.ValidationState) model.StateChange {
	completed := st.CurrentStepIndex
	if completed < 0 {
		completed = 0
	}
	return model.StateChange{
		WorkflowID:     st.ID,
		Kind:           model.KindValidation,
		Status:         st.Status,
		TotalUnits:     len(st.OrderedSteps),
		CompletedUnits: completed,
	}
}
