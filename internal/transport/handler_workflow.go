package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docforge/docforge/internal/orchestration"
)

// Workflow kind path segments.
const (
	KindGeneration = "generation"
	KindValidation = "validation"
	KindReview     = "review"
)

// Orchestrators bundles the three workflow orchestrators for the handlers.
type Orchestrators struct {
	Generation *orchestration.GenerationOrchestrator
	Validation *orchestration.ValidationOrchestrator
	Review     *orchestration.ReviewOrchestrator
}

type abortRequest struct {
	Reason string `json:"reason"`
}

// handleGetWorkflow returns the current state snapshot for a workflow.
func handleGetWorkflow(o Orchestrators) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		var (
			state any
			err   error
		)
		switch chi.URLParam(r, "kind") {
		case KindGeneration:
			state, err = o.Generation.GetState(r.Context(), id)
		case KindValidation:
			state, err = o.Validation.GetState(r.Context(), id)
		case KindReview:
			state, err = o.Review.GetState(r.Context(), id)
		default:
			WriteNotFound(w, "unknown workflow kind")
			return
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

// handleAbortWorkflow aborts a workflow. Aborting an already-terminal
// workflow is a no-op and still returns 202.
func handleAbortWorkflow(o Orchestrators) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		var req abortRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if req.Reason == "" {
			req.Reason = "operator abort"
		}

		var err error
		switch chi.URLParam(r, "kind") {
		case KindGeneration:
			err = o.Generation.Abort(r.Context(), id, req.Reason)
		case KindValidation:
			err = o.Validation.Abort(r.Context(), id, req.Reason)
		case KindReview:
			err = o.Review.Abort(r.Context(), id, req.Reason)
		default:
			WriteNotFound(w, "unknown workflow kind")
			return
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "aborted"})
	}
}

// handleRetryStep re-dispatches the current step of a validation pipeline.
func handleRetryStep(o Orchestrators) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := workflowID(w, r)
		if !ok {
			return
		}

		if err := o.Validation.RetryCurrentStep(r.Context(), id); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
	}
}

func workflowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "workflowId"))
	if err != nil {
		WriteBadRequest(w, "workflowId must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
