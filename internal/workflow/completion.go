package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/recallbox/recallbox/internal/store"
)

// ApplyStatus validates and performs a status change. On an invalid
// transition nothing is written and the validation is returned for the
// caller to surface. Completing a task sets the completed timestamp, moves
// the file to the completed shard (via the store's shard logic) and writes a
// completion memory linked back to the task; reopening clears the timestamp.
func (e *Engine) ApplyStatus(ctx context.Context, task *store.Task, to, reason string, opts Options) (*Validation, *store.Memory, error) {
	v, err := e.ValidateTransition(ctx, task, to, opts)
	if err != nil {
		return nil, nil, err
	}
	if !v.Valid || task.Status == to {
		return v, nil, nil
	}

	from := task.Status
	now := time.Now().UTC()
	task.RecordTransition(from, to, reason, now)
	task.Status = to
	task.Updated = now

	switch {
	case to == store.StatusDone:
		task.Completed = &now
	case from == store.StatusDone:
		task.Completed = nil
	}

	if err := e.Tasks.Save(ctx, task); err != nil {
		return nil, nil, err
	}

	var completion *store.Memory
	if to == store.StatusDone {
		completion = e.writeCompletionMemory(ctx, task, reason)
	}
	return v, completion, nil
}

// writeCompletionMemory records the completion as a memory and links it to
// the task. A failure here never rolls the completion back; it is logged and
// the transition stands.
func (e *Engine) writeCompletionMemory(ctx context.Context, task *store.Task, reason string) *store.Memory {
	var b strings.Builder
	fmt.Fprintf(&b, "## Completed: %s\n\n", task.Title)
	fmt.Fprintf(&b, "Task %s finished.\n", task.Serial)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if reason != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", reason)
	}

	mem, err := e.Memories.Add(ctx, &store.Memory{
		Content:  b.String(),
		Project:  task.Project,
		Category: task.Category,
		Priority: task.Priority,
		Tags:     []string{"completion", "task:" + task.Serial},
	})
	if err != nil {
		e.logger.Warn("completion memory not written", "task", task.Serial, "error", err)
		return nil
	}

	// Link both sides, task first.
	task.MemoryConnections = append(task.MemoryConnections, store.MemoryConnection{
		MemoryID:       mem.ID,
		MemorySerial:   mem.Serial(),
		ConnectionType: store.ConnectionCompletion,
		Relevance:      1,
	})
	if err := e.Tasks.Save(ctx, task); err != nil {
		e.logger.Warn("completion link (task side) not written", "task", task.Serial, "error", err)
		return mem
	}
	mem.TaskConnections = append(mem.TaskConnections, store.TaskRef{
		TaskID:         task.ID,
		TaskSerial:     task.Serial,
		ConnectionType: store.ConnectionCompletion,
		Relevance:      1,
	})
	if err := e.Memories.Save(ctx, mem); err != nil {
		e.logger.Warn("completion link (memory side) not written", "task", task.Serial, "error", err)
	}
	return mem
}
