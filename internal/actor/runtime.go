// Package actor provides per-aggregate single-writer execution. At most one
// event is applied at a time per aggregate id; events for different ids run
// fully in parallel. This is what makes counter updates and step-index
// advancement race-free without locks in the orchestrator code itself.
package actor

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Runtime serializes work per aggregate id using a refcounted per-key mutex
// registry. Entries are created on first use and removed when the last
// waiter releases them, so the registry stays proportional to the number of
// aggregates with in-flight work rather than all aggregates ever seen.
type Runtime struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*keyLock
}

type keyLock struct {
	mu      sync.Mutex
	waiters int
}

// NewRuntime creates an empty actor runtime.
func NewRuntime() *Runtime {
	return &Runtime{keys: make(map[uuid.UUID]*keyLock)}
}

// Do runs fn while holding the lock for id. Calls for the same id queue in
// arrival order; calls for different ids do not contend. The context is
// checked before fn runs so a caller that gave up waiting does not execute a
// stale event.
func (r *Runtime) Do(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	kl := r.acquire(id)
	kl.mu.Lock()
	defer func() {
		kl.mu.Unlock()
		r.release(id)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// acquire registers interest in id and returns its lock.
func (r *Runtime) acquire(id uuid.UUID) *keyLock {
	r.mu.Lock()
	defer r.mu.Unlock()

	kl, ok := r.keys[id]
	if !ok {
		kl = &keyLock{}
		r.keys[id] = kl
	}
	kl.waiters++
	return kl
}

// release drops interest in id, deleting the entry when nobody is waiting.
func (r *Runtime) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kl, ok := r.keys[id]
	if !ok {
		return
	}
	kl.waiters--
	if kl.waiters <= 0 {
		delete(r.keys, id)
	}
}

// Len returns the number of aggregate ids with in-flight work. For testing.
func (r *Runtime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}
