// Package notify pushes workflow progress to interested observers. All
// notifications are best-effort: the caller logs a failed delivery and moves
// on, it never fails or retries the workflow because of one.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docforge/docforge/model"
)

// Notifier delivers progress signals to observers.
type Notifier interface {
	// StateChanged announces a status transition or progress counter change.
	StateChanged(ctx context.Context, change model.StateChange) error

	// ProcessingMessage delivers a human-readable progress line for one
	// workflow, such as per-question review updates.
	ProcessingMessage(ctx context.Context, workflowID uuid.UUID, message string) error
}

// --- LogNotifier ---

// LogNotifier logs notifications instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// StateChanged logs the transition at info level.
func (n *LogNotifier) StateChanged(_ context.Context, change model.StateChange) error {
	n.logger.Info("workflow state changed",
		zap.String("workflow_id", change.WorkflowID.String()),
		zap.String("kind", string(change.Kind)),
		zap.String("status", change.Status),
		zap.Int("total_units", change.TotalUnits),
		zap.Int("completed_units", change.CompletedUnits),
		zap.Int("failed_units", change.FailedUnits),
	)
	return nil
}

// ProcessingMessage logs the message at info level.
func (n *LogNotifier) ProcessingMessage(_ context.Context, workflowID uuid.UUID, message string) error {
	n.logger.Info("workflow processing message",
		zap.String("workflow_id", workflowID.String()),
		zap.String("message", message),
	)
	return nil
}

// --- MemoryNotifier ---

// MemoryNotifier records notifications in memory. For testing.
type MemoryNotifier struct {
	mu       sync.Mutex
	changes  []model.StateChange
	messages map[uuid.UUID][]string
	failWith error
}

// NewMemoryNotifier creates a recording notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{messages: make(map[uuid.UUID][]string)}
}

// StateChanged records the change.
func (n *MemoryNotifier) StateChanged(_ context.Context, change model.StateChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.changes = append(n.changes, change)
	return nil
}

// ProcessingMessage records the message.
func (n *MemoryNotifier) ProcessingMessage(_ context.Context, workflowID uuid.UUID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failWith != nil {
		return n.failWith
	}
	n.messages[workflowID] = append(n.messages[workflowID], message)
	return nil
}

// Changes returns a copy of every recorded state change.
func (n *MemoryNotifier) Changes() []model.StateChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.StateChange(nil), n.changes...)
}

// LastChange returns the most recent state change, or false if none.
func (n *MemoryNotifier) LastChange() (model.StateChange, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.changes) == 0 {
		return model.StateChange{}, false
	}
	return n.changes[len(n.changes)-1], true
}

// Messages returns a copy of the processing messages for one workflow.
func (n *MemoryNotifier) Messages(workflowID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages[workflowID]...)
}

// FailWith makes every subsequent delivery return err. Pass nil to reset.
func (n *MemoryNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failWith = err
}

// --- RedisNotifier ---

// RedisNotifier publishes notifications on per-workflow Redis pub/sub
// channels ("{prefix}:{workflowId}").
type RedisNotifier struct {
	client redis.Cmdable
	prefix string
}

// NewRedisNotifier creates a Redis pub/sub notifier.
func NewRedisNotifier(client redis.Cmdable, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "docforge:workflow"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// ChannelFor returns the pub/sub channel for a workflow.
func (n *RedisNotifier) ChannelFor(workflowID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", n.prefix, workflowID)
}

type notifyEnvelope struct {
	Event   string             `json:"event"`
	Change  *model.StateChange `json:"change,omitempty"`
	Message string             `json:"message,omitempty"`
}

// StateChanged publishes the change on the workflow's channel.
func (n *RedisNotifier) StateChanged(ctx context.Context, change model.StateChange) error {
	data, err := json.Marshal(notifyEnvelope{Event: "state-changed", Change: &change})
	if err != nil {
		return fmt.Errorf("marshal state change: %w", err)
	}
	if err := n.client.Publish(ctx, n.ChannelFor(change.WorkflowID), data).Err(); err != nil {
		return fmt.Errorf("publish state change: %w", err)
	}
	return nil
}

// ProcessingMessage publishes the message on the workflow's channel.
func (n *RedisNotifier) ProcessingMessage(ctx context.Context, workflowID uuid.UUID, message string) error {
	data, err := json.Marshal(notifyEnvelope{Event: "processing-message", Message: message})
	if err != nil {
		return fmt.Errorf("marshal processing message: %w", err)
	}
	if err := n.client.Publish(ctx, n.ChannelFor(workflowID), data).Err(); err != nil {
		return fmt.Errorf("publish processing message: %w", err)
	}
	return nil
}
