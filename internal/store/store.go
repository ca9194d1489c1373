// Package store persists one durable state record per aggregate instance,
// keyed by the workflow's correlation UUID. The state payload is opaque JSON
// owned by the orchestrator that writes it; unknown fields survive
// round-trips on older readers and missing fields default to zero values.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/model"
)

// Record is the persisted envelope for one aggregate instance.
type Record struct {
	ID        uuid.UUID
	Kind      model.WorkflowKind
	State     []byte // JSON-encoded aggregate state
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AggregateStore persists aggregate state records.
type AggregateStore interface {
	// Create persists a new record. Returns CONFLICT if the id exists.
	Create(ctx context.Context, rec Record) error

	// Get retrieves a record by aggregate id. Returns NOT_FOUND for
	// unknown ids, never a default record.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// Update persists an updated record with optimistic locking. The
	// version must match the stored version; CONFLICT otherwise.
	Update(ctx context.Context, rec Record) error

	// List returns records of one workflow kind, newest first.
	List(ctx context.Context, kind model.WorkflowKind, limit, offset int) ([]Record, error)
}
