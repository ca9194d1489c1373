// Package orchestration implements the per-aggregate workflow state machines:
// document generation, validation pipeline, and review execution. Each
// orchestrator owns its aggregate's durable record exclusively; every inbound
// event for one workflow id is applied serially through the actor runtime,
// persisted before it is acknowledged, and then announced to the notifier
// best-effort.
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

// core bundles the collaborators shared by the three orchestrators.
type core struct {
	store       store.AggregateStore
	completions dedup.CompletionStore
	dispatcher  dispatch.Dispatcher
	notifier    notify.Notifier
	runtime     *actor.Runtime
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func newCore(
	st store.AggregateStore,
	completions dedup.CompletionStore,
	dispatcher dispatch.Dispatcher,
	notifier notify.Notifier,
	runtime *actor.Runtime,
	logger *zap.Logger,
	metrics *observability.Metrics,
) core {
	return core{
		store:       st,
		completions: completions,
		dispatcher:  dispatcher,
		notifier:    notifier,
		runtime:     runtime,
		logger:      logger,
		metrics:     metrics,
	}
}

// dispatchCommand builds and dispatches a command addressed to an external
// worker. The workflow id doubles as the correlation id.
func (c *core) dispatchCommand(ctx context.Context, workflowID uuid.UUID, cmdType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %q payload: %w", cmdType, err)
		}
		raw = data
	}

	cmd := model.Command{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Type:       cmdType,
		Payload:    raw,
		IssuedAt:   time.Now().UTC(),
	}
	if err := c.dispatcher.Dispatch(ctx, cmd); err != nil {
		return fmt.Errorf("dispatch %q: %w", cmdType, err)
	}

	c.metrics.RecordCommandDispatched(cmdType)
	c.logger.Info("command dispatched",
		zap.String("workflow_id", workflowID.String()),
		zap.String("command_type", cmdType),
	)
	return nil
}

// notifyChange announces a status transition or counter change. Delivery is
// best-effort: a failure is logged and counted, never returned.
func (c *core) notifyChange(ctx context.Context, change model.StateChange) {
	change.OccurredAt = time.Now().UTC()
	if err := c.notifier.StateChanged(ctx, change); err != nil {
		c.metrics.RecordNotifyFailure(string(change.Kind))
		c.logger.Warn("state change notification failed",
			zap.String("workflow_id", change.WorkflowID.String()),
			zap.String("status", change.Status),
			zap.Error(err),
		)
	}
}

// notifyMessage delivers a human-readable progress line, best-effort.
func (c *core) notifyMessage(ctx context.Context, kind model.WorkflowKind, workflowID uuid.UUID, message string) {
	if err := c.notifier.ProcessingMessage(ctx, workflowID, message); err != nil {
		c.metrics.RecordNotifyFailure(string(kind))
		c.logger.Warn("processing message delivery failed",
			zap.String("workflow_id", workflowID.String()),
			zap.Error(err),
		)
	}
}

// transition records a status move in the log and metrics. The caller has
// already validated it against the workflow's forward-only order.
func (c *core) transition(kind model.WorkflowKind, workflowID uuid.UUID, from, to string) {
	c.metrics.RecordTransition(string(kind), from, to)
	c.logger.Info("workflow transition",
		zap.String("workflow_id", workflowID.String()),
		zap.String("kind", string(kind)),
		zap.String("from", from),
		zap.String("to", to),
	)
}

// releaseCompletion backs out a completion mark whose state change could not
// be persisted, so the broker's redelivery is counted instead of absorbed as
// a duplicate. Release failures leave the unit absorbed until the record's
// TTL passes; that is worth an error-level line.
func (c *core) releaseCompletion(ctx context.Context, aggregateID, subTaskID uuid.UUID) {
	if err := c.completions.Unmark(ctx, aggregateID, subTaskID); err != nil {
		c.logger.Error("completion release failed, redelivery may be absorbed",
			zap.String("workflow_id", aggregateID.String()),
			zap.String("sub_task_id", subTaskID.String()),
			zap.Error(err),
		)
	}
}

// Event apply results for metrics.
const (
	applyResultApplied   = "applied"
	applyResultDuplicate = "duplicate"
	applyResultIgnored   = "ignored"
	applyResultError     = "error"
)

// observeApply times one event application for metrics. Usage:
//
//	defer c.observeApply(kind, event, &result)()
func (c *core) observeApply(kind model.WorkflowKind, event string, result *string) func() {
	start := time.Now()
	return func() {
		c.metrics.RecordEventApplied(string(kind), event, *result, time.Since(start))
	}
}
