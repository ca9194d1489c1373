package orchestration

import (
	"sort"

	"github.com/google/uuid"

	"github.com/docforge/docforge/model"
)

// sortSteps returns the steps ordered by their Order field. The pipeline
// executes them strictly in this order, one in flight at a time.
func sortSteps(steps []model.StepInfo) []model.StepInfo {
	ordered := append([]model.StepInfo(nil), steps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})
	return ordered
}

// currentStep returns the step at the pipeline's current index, or false if
// the index is outside the list (before load or past the end).
func currentStep(st model.ValidationState) (model.StepInfo, bool) {
	if st.CurrentStepIndex < 0 || st.CurrentStepIndex >= len(st.OrderedSteps) {
		return model.StepInfo{}, false
	}
	return st.OrderedSteps[st.CurrentStepIndex], true
}

// isCurrentStep reports whether stepID is the step the pipeline is waiting
// on. Completion or failure events for any other step are out of order.
func isCurrentStep(st model.ValidationState, stepID uuid.UUID) bool {
	step, ok := currentStep(st)
	return ok && step.StepID == stepID
}

// lastStepDone reports whether the index has advanced past the final step.
func lastStepDone(st model.ValidationState) bool {
	return st.CurrentStepIndex >= len(st.OrderedSteps)
}
