// Package dedup records first-time completion of fan-out sub-tasks so that
// redelivered completion signals are absorbed without double-counting.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CompletionStore deduplicates sub-task completion signals.
// The key format is "dedup:{aggregateId}:{subTaskId}".
type CompletionStore interface {
	// MarkIfNew records the completion of one sub-task. It returns true
	// the first time a (aggregateID, subTaskID) pair is seen and false
	// for every redelivery, regardless of the recorded outcome.
	MarkIfNew(ctx context.Context, aggregateID, subTaskID uuid.UUID, outcome string) (first bool, err error)

	// Unmark removes a completion record so the next delivery of the same
	// sub-task counts as first again. Callers back out a mark whose state
	// change could not be persisted. Removing an absent record is a no-op.
	Unmark(ctx context.Context, aggregateID, subTaskID uuid.UUID) error
}

// FormatCompletionKey builds the standard dedup key.
func FormatCompletionKey(aggregateID, subTaskID uuid.UUID) string {
	return fmt.Sprintf("dedup:%s:%s", aggregateID, subTaskID)
}

// --- MemoryCompletionStore ---

// MemoryCompletionStore is an in-memory CompletionStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryCompletionStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	ttl     time.Duration
}

type memEntry struct {
	outcome   string
	expiresAt time.Time
}

// NewMemoryCompletionStore creates a new in-memory completion store. Entries
// expire after ttl; a zero ttl keeps them forever.
func NewMemoryCompletionStore(ttl time.Duration) *MemoryCompletionStore {
	return &MemoryCompletionStore{
		entries: make(map[string]memEntry),
		ttl:     ttl,
	}
}

// MarkIfNew records a completion, reporting whether it is the first delivery.
func (s *MemoryCompletionStore) MarkIfNew(_ context.Context, aggregateID, subTaskID uuid.UUID, outcome string) (bool, error) {
	key := FormatCompletionKey(aggregateID, subTaskID)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.entries[key]; exists {
		if entry.expiresAt.IsZero() || now.Before(entry.expiresAt) {
			return false, nil
		}
		// Expired; treat as new.
	}

	entry := memEntry{outcome: outcome}
	if s.ttl > 0 {
		entry.expiresAt = now.Add(s.ttl)
	}
	s.entries[key] = entry
	return true, nil
}

// Unmark deletes a completion record.
func (s *MemoryCompletionStore) Unmark(_ context.Context, aggregateID, subTaskID uuid.UUID) error {
	key := FormatCompletionKey(aggregateID, subTaskID)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep removes expired entries. Call periodically from a janitor goroutine.
func (s *MemoryCompletionStore) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryCompletionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// --- RedisCompletionStore ---

// RedisCompletionStore is a Redis-backed CompletionStore. SETNX makes the
// first-delivery check atomic across instances.
type RedisCompletionStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCompletionStore creates a new Redis-backed completion store.
func NewRedisCompletionStore(client redis.Cmdable, ttl time.Duration) *RedisCompletionStore {
	return &RedisCompletionStore{client: client, ttl: ttl}
}

// MarkIfNew records a completion, reporting whether it is the first delivery.
func (s *RedisCompletionStore) MarkIfNew(ctx context.Context, aggregateID, subTaskID uuid.UUID, outcome string) (bool, error) {
	key := FormatCompletionKey(aggregateID, subTaskID)
	first, err := s.client.SetNX(ctx, key, outcome, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return first, nil
}

// Unmark deletes a completion record.
func (s *RedisCompletionStore) Unmark(ctx context.Context, aggregateID, subTaskID uuid.UUID) error {
	key := FormatCompletionKey(aggregateID, subTaskID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck verifies Redis connectivity for the readiness endpoint.
func (s *RedisCompletionStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
