// Package tasks implements the task tools: create_task, update_task,
// list_tasks, get_task_context, delete_task.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/recallbox/recallbox/internal/linker"
	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/store"
	"github.com/recallbox/recallbox/internal/workflow"
)

func domainResult(err error) (*mcp.ToolsCallResult, error) {
	if errors.Is(err, store.ErrInvalidInput) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrForbidden) {
		return mcp.ErrorResult(err.Error()), nil
	}
	return nil, err
}

// --- create_task ---

type createParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Project     string   `json:"project,omitempty"`
	Category    string   `json:"category,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	ParentTask  string   `json:"parent_task,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	AutoLink    *bool    `json:"auto_link,omitempty"`
}

type Create struct {
	tasks *store.TaskStore
	links *linker.Linker
}

func NewCreate(tasks *store.TaskStore, links *linker.Linker) *Create {
	return &Create{tasks: tasks, links: links}
}

func (t *Create) Name() string { return "create_task" }
func (t *Create) Description() string {
	return "Create a task. Unless auto_link is false, related memories are linked automatically by content similarity. parent_task registers the task as a subtask."
}
func (t *Create) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "description": {"type": "string"},
    "project": {"type": "string"},
    "category": {"type": "string"},
    "priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
    "parent_task": {"type": "string", "description": "Id or serial of the parent task"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "auto_link": {"type": "boolean", "description": "Link related memories automatically (default true)"}
  },
  "required": ["title"]
}`)
}

func (t *Create) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p createParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	task, err := t.tasks.Add(ctx, &store.Task{
		Title:       p.Title,
		Description: p.Description,
		Project:     p.Project,
		Category:    p.Category,
		Priority:    p.Priority,
		ParentTask:  p.ParentTask,
		Tags:        p.Tags,
	})
	if err != nil {
		return domainResult(err)
	}

	var linked []store.MemoryConnection
	if p.AutoLink == nil || *p.AutoLink {
		linked, err = t.links.AutoLink(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("auto-linking: %w", err)
		}
	}

	return mcp.JSONResult(map[string]any{
		"task":         task,
		"auto_linked":  len(linked),
		"memory_links": linked,
	})
}

// --- update_task ---

type updateParams struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Category       string   `json:"category,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Status         string   `json:"status,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	ForceComplete  bool     `json:"force_complete,omitempty"`
	SkipValidation bool     `json:"skip_validation,omitempty"`
}

type Update struct {
	tasks  *store.TaskStore
	engine *workflow.Engine
}

func NewUpdate(tasks *store.TaskStore, engine *workflow.Engine) *Update {
	return &Update{tasks: tasks, engine: engine}
}

func (t *Update) Name() string { return "update_task" }
func (t *Update) Description() string {
	return "Update task fields. Status changes are validated by the workflow engine; completing a task writes a completion memory and moves the file to the completed shard."
}
func (t *Update) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Task id or serial"},
    "title": {"type": "string"},
    "description": {"type": "string"},
    "category": {"type": "string"},
    "priority": {"type": "string", "enum": ["low", "medium", "high", "urgent"]},
    "status": {"type": "string", "enum": ["todo", "in_progress", "done", "blocked"]},
    "tags": {"type": "array", "items": {"type": "string"}},
    "reason": {"type": "string", "description": "Recorded in the transition history"},
    "force_complete": {"type": "boolean", "description": "Complete even with unfinished subtasks"},
    "skip_validation": {"type": "boolean", "description": "Skip the linked-memory error check"}
  },
  "required": ["id"]
}`)
}

func (t *Update) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p updateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	task, err := t.tasks.Get(ctx, p.ID)
	if err != nil {
		return domainResult(err)
	}

	if p.Title != "" {
		task.Title = p.Title
	}
	if p.Description != "" {
		task.Description = p.Description
	}
	if p.Category != "" {
		task.Category = p.Category
	}
	if p.Priority != "" {
		task.Priority = p.Priority
	}
	if p.Tags != nil {
		task.Tags = p.Tags
	}

	var validation *workflow.Validation
	var completion *store.Memory
	if p.Status != "" && p.Status != task.Status {
		opts := workflow.Options{ForceComplete: p.ForceComplete, SkipValidation: p.SkipValidation}
		validation, completion, err = t.engine.ApplyStatus(ctx, task, p.Status, p.Reason, opts)
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			return mcp.JSONResult(map[string]any{
				"updated":    false,
				"validation": validation,
			})
		}
	} else {
		if _, err := t.tasks.Update(ctx, task); err != nil {
			return domainResult(err)
		}
	}

	result := map[string]any{
		"updated": true,
		"task":    task,
	}
	if validation != nil {
		result["validation"] = validation
	}
	if completion != nil {
		result["completion_memory"] = completion.ID
	}
	return mcp.JSONResult(result)
}

// --- list_tasks ---

type listParams struct {
	Project string `json:"project,omitempty"`
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type List struct {
	tasks *store.TaskStore
}

func NewList(tasks *store.TaskStore) *List { return &List{tasks: tasks} }

func (t *List) Name() string { return "list_tasks" }
func (t *List) Description() string {
	return "List tasks newest first, optionally filtered by project and status."
}
func (t *List) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {"type": "string"},
    "status": {"type": "string", "enum": ["todo", "in_progress", "done", "blocked"]},
    "limit": {"type": "integer"}
  }
}`)
}

func (t *List) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p listParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if p.Status != "" && !workflow.ValidStatus(p.Status) {
		return mcp.ErrorResult(fmt.Sprintf("unknown status %q", p.Status)), nil
	}

	out, err := t.tasks.List(ctx, p.Project, p.Status, p.Limit)
	if err != nil {
		return domainResult(err)
	}
	return mcp.JSONResult(map[string]any{
		"count": len(out),
		"tasks": out,
	})
}

// --- get_task_context ---

type contextParams struct {
	ID    string `json:"id"`
	Query string `json:"query,omitempty"`
}

type Context struct {
	tasks    *store.TaskStore
	memories *store.MemoryStore
	ranker   *store.Ranker
}

func NewContext(tasks *store.TaskStore, memories *store.MemoryStore) *Context {
	return &Context{tasks: tasks, memories: memories, ranker: store.NewRanker()}
}

func (t *Context) Name() string { return "get_task_context" }
func (t *Context) Description() string {
	return "Aggregate everything known about a task: the record, its subtasks, connected memories ranked by relevance to the task (or an explicit query), and recent transition history."
}
func (t *Context) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Task id or serial"},
    "query": {"type": "string", "description": "Ranking query; defaults to the task title"}
  },
  "required": ["id"]
}`)
}

func (t *Context) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p contextParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	task, err := t.tasks.Get(ctx, p.ID)
	if err != nil {
		return domainResult(err)
	}

	var subtasks []*store.Task
	for _, subID := range task.Subtasks {
		sub, err := t.tasks.Get(ctx, subID)
		if err != nil {
			continue
		}
		subtasks = append(subtasks, sub)
	}

	var connected []*store.Memory
	for _, conn := range task.MemoryConnections {
		mem, err := t.memories.Get(ctx, conn.MemoryID)
		if err != nil {
			continue
		}
		connected = append(connected, mem)
	}
	query := p.Query
	if query == "" {
		query = task.Title
	}
	ranked := t.ranker.Rank(connected, query)
	if len(ranked) == 0 {
		// The ranker drops zero scores; keep raw connections visible.
		ranked = connected
	}

	history := task.History
	if len(history) > 5 {
		history = history[len(history)-5:]
	}

	return mcp.JSONResult(map[string]any{
		"task":             task,
		"subtasks":         subtasks,
		"memories":         ranked,
		"recent_history":   history,
		"connection_count": len(task.MemoryConnections),
	})
}

// --- delete_task ---

type deleteParams struct {
	ID string `json:"id"`
}

type Delete struct {
	tasks *store.TaskStore
	links *linker.Linker
}

func NewDelete(tasks *store.TaskStore, links *linker.Linker) *Delete {
	return &Delete{tasks: tasks, links: links}
}

func (t *Delete) Name() string { return "delete_task" }
func (t *Delete) Description() string {
	return "Delete a task and its whole subtask subtree, removing inbound references from connected memories."
}
func (t *Delete) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Task id or serial"}
  },
  "required": ["id"]
}`)
}

func (t *Delete) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p deleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	deleted, err := t.tasks.Delete(ctx, p.ID)
	if err != nil {
		return domainResult(err)
	}
	cleaned, err := t.links.CleanupTaskRefs(ctx, deleted)
	if err != nil {
		return nil, fmt.Errorf("cleaning up memory references: %w", err)
	}
	return mcp.JSONResult(map[string]any{
		"deleted":           deleted,
		"memories_detached": cleaned,
	})
}
