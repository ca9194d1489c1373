// Package dispatch sends commands to external workers. The orchestration
// core only names the work; delivery and worker semantics live behind the
// Dispatcher port.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/docforge/docforge/model"
)

// Dispatcher hands a command to whatever transport carries work to the
// workers. Dispatch returns once the command is accepted for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd model.Command) error
}

// --- LogDispatcher ---

// LogDispatcher logs commands instead of delivering them. Useful for local
// development without a broker.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a dispatcher that only logs.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the command at info level.
func (d *LogDispatcher) Dispatch(_ context.Context, cmd model.Command) error {
	d.logger.Info("command dispatched",
		zap.String("command_id", cmd.ID.String()),
		zap.String("workflow_id", cmd.WorkflowID.String()),
		zap.String("command_type", cmd.Type),
	)
	return nil
}

// --- MemoryDispatcher ---

// MemoryDispatcher records dispatched commands in memory. For testing.
type MemoryDispatcher struct {
	mu       sync.Mutex
	commands []model.Command
	failWith error
}

// NewMemoryDispatcher creates a recording dispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

// Dispatch records the command.
func (d *MemoryDispatcher) Dispatch(_ context.Context, cmd model.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWith != nil {
		return d.failWith
	}
	d.commands = append(d.commands, cmd)
	return nil
}

// Commands returns a copy of every recorded command.
func (d *MemoryDispatcher) Commands() []model.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Command(nil), d.commands...)
}

// CommandsOfType returns recorded commands matching the given type.
func (d *MemoryDispatcher) CommandsOfType(cmdType string) []model.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.Command
	for _, cmd := range d.commands {
		if cmd.Type == cmdType {
			out = append(out, cmd)
		}
	}
	return out
}

// FailWith makes every subsequent Dispatch return err. Pass nil to reset.
func (d *MemoryDispatcher) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

// Len returns the number of recorded commands.
func (d *MemoryDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.commands)
}

// --- RedisStreamDispatcher ---

// RedisStreamDispatcher appends commands to per-type Redis streams
// ("{prefix}:{commandType}"). Workers consume their stream with XREADGROUP.
type RedisStreamDispatcher struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStreamDispatcher creates a Redis-streams-backed dispatcher.
func NewRedisStreamDispatcher(client redis.Cmdable, prefix string) *RedisStreamDispatcher {
	if prefix == "" {
		prefix = "docforge:commands"
	}
	return &RedisStreamDispatcher{client: client, prefix: prefix}
}

// StreamFor returns the stream key for a command type.
func (d *RedisStreamDispatcher) StreamFor(cmdType string) string {
	return fmt.Sprintf("%s:%s", d.prefix, cmdType)
}

// Dispatch appends the command to its type's stream.
func (d *RedisStreamDispatcher) Dispatch(ctx context.Context, cmd model.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command %q: %w", cmd.ID, err)
	}

	stream := d.StreamFor(cmd.Type)
	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"command_id":  cmd.ID.String(),
			"workflow_id": cmd.WorkflowID.String(),
			"body":        payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %q: %w", stream, err)
	}
	return nil
}
