// Package memories implements the memory tools: add_memory, get_memory,
// list_memories, delete_memory, search_memories.
package memories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/recallbox/recallbox/internal/linker"
	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/store"
)

// domainResult converts store-kinded errors into isError envelopes; anything
// else propagates as an infrastructure error for the dispatcher to wrap.
func domainResult(err error) (*mcp.ToolsCallResult, error) {
	if errors.Is(err, store.ErrInvalidInput) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrForbidden) {
		return mcp.ErrorResult(err.Error()), nil
	}
	return nil, err
}

// --- add_memory ---

type addParams struct {
	Content  string   `json:"content"`
	Project  string   `json:"project,omitempty"`
	Category string   `json:"category,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type Add struct {
	memories *store.MemoryStore
}

func NewAdd(memories *store.MemoryStore) *Add { return &Add{memories: memories} }

func (t *Add) Name() string { return "add_memory" }
func (t *Add) Description() string {
	return "Store a new memory. Content must be at least 10 characters; mock or placeholder data is rejected. Returns the stored record including its generated id."
}
func (t *Add) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "content": {"type": "string", "description": "Memory content (markdown allowed)"},
    "project": {"type": "string", "description": "Project shard; 'default' when omitted"},
    "category": {"type": "string", "description": "personal|work|code|research|conversations|preferences or free-form"},
    "priority": {"type": "string", "enum": ["low", "medium", "high"]},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["content"]
}`)
}

func (t *Add) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p addParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	mem, err := t.memories.Add(ctx, &store.Memory{
		Content:  p.Content,
		Project:  p.Project,
		Category: p.Category,
		Priority: p.Priority,
		Tags:     p.Tags,
	})
	if err != nil {
		return domainResult(err)
	}
	return mcp.JSONResult(mem)
}

// --- get_memory ---

type getParams struct {
	ID string `json:"id"`
}

type Get struct {
	memories *store.MemoryStore
}

func NewGet(memories *store.MemoryStore) *Get { return &Get{memories: memories} }

func (t *Get) Name() string { return "get_memory" }
func (t *Get) Description() string {
	return "Fetch a memory by id and record the access (bumps access_count and last_accessed)."
}
func (t *Get) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Memory id"}
  },
  "required": ["id"]
}`)
}

func (t *Get) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p getParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	mem, err := t.memories.Get(ctx, p.ID)
	if err != nil {
		return domainResult(err)
	}
	if err := t.memories.RecordAccess(ctx, mem); err != nil {
		return nil, fmt.Errorf("recording access: %w", err)
	}
	return mcp.JSONResult(mem)
}

// --- list_memories ---

type listParams struct {
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type List struct {
	memories *store.MemoryStore
}

func NewList(memories *store.MemoryStore) *List { return &List{memories: memories} }

func (t *List) Name() string { return "list_memories" }
func (t *List) Description() string {
	return "List memories newest first, optionally scoped to a project and capped by limit."
}
func (t *List) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {"type": "string"},
    "limit": {"type": "integer", "description": "Maximum records to return; 0 means all"}
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

	out, err := t.memories.List(ctx, p.Project, p.Limit)
	if err != nil {
		return domainResult(err)
	}
	return mcp.JSONResult(map[string]any{
		"count":    len(out),
		"memories": out,
	})
}

// --- delete_memory ---

type Delete struct {
	memories *store.MemoryStore
	links    *linker.Linker
}

func NewDelete(memories *store.MemoryStore, links *linker.Linker) *Delete {
	return &Delete{memories: memories, links: links}
}

func (t *Delete) Name() string { return "delete_memory" }
func (t *Delete) Description() string {
	return "Delete a memory permanently and remove its connection entries from every referencing task."
}
func (t *Delete) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Memory id"}
  },
  "required": ["id"]
}`)
}

func (t *Delete) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p getParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" {
		return mcp.ErrorResult("id is required"), nil
	}

	if err := t.memories.Delete(ctx, p.ID); err != nil {
		return domainResult(err)
	}
	cleaned, err := t.links.CleanupMemoryRefs(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("cleaning up task references: %w", err)
	}
	return mcp.JSONResult(map[string]any{
		"deleted":        p.ID,
		"tasks_detached": cleaned,
	})
}

// --- search_memories ---

type searchParams struct {
	Query   string `json:"query"`
	Project string `json:"project,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type Search struct {
	memories *store.MemoryStore
}

func NewSearch(memories *store.MemoryStore) *Search { return &Search{memories: memories} }

func (t *Search) Name() string { return "search_memories" }
func (t *Search) Description() string {
	return "Case-insensitive substring search over content, category and tags. An empty query returns all memories up to the limit."
}
func (t *Search) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "project": {"type": "string"},
    "limit": {"type": "integer"}
  }
}`)
}

func (t *Search) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p searchParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	out, err := t.memories.Search(ctx, p.Query, p.Project)
	if err != nil {
		return domainResult(err)
	}
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return mcp.JSONResult(map[string]any{
		"query":    p.Query,
		"count":    len(out),
		"memories": out,
	})
}
