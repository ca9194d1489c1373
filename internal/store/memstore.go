package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docforge/docforge/model"
)

// MemoryAggregateStore is an in-memory AggregateStore for testing and
// single-instance deployments.
type MemoryAggregateStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

// NewMemoryAggregateStore creates a new in-memory aggregate store.
func NewMemoryAggregateStore() *MemoryAggregateStore {
	return &MemoryAggregateStore{records: make(map[uuid.UUID]Record)}
}

// Create persists a new record.
func (s *MemoryAggregateStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("aggregate %q already exists", rec.ID),
		)
	}

	rec.State = append([]byte(nil), rec.State...)
	s.records[rec.ID] = rec
	return nil
}

// Get retrieves a record by aggregate id.
func (s *MemoryAggregateStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return Record{}, model.NewNotFoundError(
			fmt.Sprintf("aggregate %q not found", id),
		)
	}
	rec.State = append([]byte(nil), rec.State...)
	return rec, nil
}

// Update persists an updated record with optimistic locking.
func (s *MemoryAggregateStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[rec.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("aggregate %q not found", rec.ID),
		)
	}
	if existing.Version != rec.Version {
		return model.NewConflictError(
			fmt.Sprintf("aggregate %q version conflict (expected %d, got %d)", rec.ID, rec.Version, existing.Version),
		)
	}

	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	rec.State = append([]byte(nil), rec.State...)
	s.records[rec.ID] = rec
	return nil
}

// List returns records of one workflow kind, newest first.
func (s *MemoryAggregateStore) List(_ context.Context, kind model.WorkflowKind, limit, offset int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Record
	for _, rec := range s.records {
		if rec.Kind != kind {
			continue
		}
		rec.State = append([]byte(nil), rec.State...)
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(result) {
			return []Record{}, nil
		}
		result = result[offset:]
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Len returns the total number of records. For testing.
func (s *MemoryAggregateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
