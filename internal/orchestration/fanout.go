package orchestration

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/docforge/docforge/model"
)

// recordUnit applies one fan-out sub-task outcome: the completion store
// absorbs redeliveries, then the progress counters advance. Returns whether
// the unit was counted (false for a duplicate) and whether the stage is now
// complete. The completeness check is the caller's cue to transition exactly
// once; a duplicate final event reports done=false.
//
// A counted unit only exists once the caller persists the updated counters.
// If that save fails the caller must releaseCompletion the sub-task, or the
// redelivered event is absorbed and the unit lost.
func (c *core) recordUnit(
	ctx context.Context,
	aggregateID, subTaskID uuid.UUID,
	success bool,
	p *model.Progress,
) (counted, done bool, err error) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}

	first, err := c.completions.MarkIfNew(ctx, aggregateID, subTaskID, outcome)
	if err != nil {
		return false, false, fmt.Errorf("record completion %q: %w", subTaskID, err)
	}
	if !first {
		return false, false, nil
	}

	if err := p.Record(success); err != nil {
		// Counters already at total: a sub-task id we have never seen
		// reported after the stage closed. Absorb it like a duplicate.
		return false, false, nil
	}
	return true, p.Done(), nil
}
