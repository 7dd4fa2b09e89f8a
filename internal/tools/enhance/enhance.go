// Package enhance implements the metadata-enhancement tools:
// enhance_memory_metadata, batch_enhance_memories, enhance_memory_ai,
// batch_enhance_memories_ai, check_ai_status.
package enhance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/recallbox/recallbox/internal/enhance"
	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/store"
)

func domainResult(err error) (*mcp.ToolsCallResult, error) {
	if errors.Is(err, store.ErrInvalidInput) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrTimeout) ||
		errors.Is(err, store.ErrExternal) {
		return mcp.ErrorResult(err.Error()), nil
	}
	return nil, err
}

type singleParams struct {
	ID          string `json:"id"`
	ForceUpdate bool   `json:"force_update,omitempty"`
}

type batchParams struct {
	Project     string `json:"project,omitempty"`
	ForceUpdate bool   `json:"force_update,omitempty"`
	Concurrency int64  `json:"concurrency,omitempty"`
}

// Single enhances one memory with a given enhancer. The same type backs both
// the rule-based and the AI variant; only name, description and enhancer
// differ.
type Single struct {
	memories *store.MemoryStore
	enhancer enhance.Enhancer
	name     string
	desc     string
}

// NewRuleBased creates the enhance_memory_metadata tool.
func NewRuleBased(memories *store.MemoryStore) *Single {
	return &Single{
		memories: memories,
		enhancer: enhance.RuleBased{},
		name:     "enhance_memory_metadata",
		desc:     "Generate a title (max 60 chars) and summary (max 150 chars) for a memory with the deterministic rule-based extractor; stored as title:/summary: tags.",
	}
}

// NewAI creates the enhance_memory_ai tool over the inference endpoint.
func NewAI(memories *store.MemoryStore, enhancer enhance.Enhancer) *Single {
	return &Single{
		memories: memories,
		enhancer: enhancer,
		name:     "enhance_memory_ai",
		desc:     "Generate a title and summary for a memory via the configured local inference endpoint; stored as title:/summary: tags.",
	}
}

func (t *Single) Name() string        { return t.name }
func (t *Single) Description() string { return t.desc }
func (t *Single) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Memory id"},
    "force_update": {"type": "boolean", "description": "Regenerate even when both tags already exist"}
  },
  "required": ["id"]
}`)
}

func (t *Single) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p singleParams
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
	if !p.ForceUpdate && enhance.Enhanced(mem) {
		return mcp.JSONResult(map[string]any{
			"enhanced": false,
			"skipped":  true,
			"message":  "memory already carries title and summary tags; pass force_update to regenerate",
		})
	}

	result, err := t.enhancer.Enhance(ctx, mem)
	if err != nil {
		return domainResult(err)
	}
	enhance.Apply(mem, result)
	if err := t.memories.Save(ctx, mem); err != nil {
		return nil, fmt.Errorf("saving enhanced memory: %w", err)
	}
	return mcp.JSONResult(map[string]any{
		"enhanced": true,
		"enhancer": t.enhancer.Name(),
		"title":    result.Title,
		"summary":  result.Summary,
	})
}

// Batch enhances every memory in scope. Same type for both variants.
type Batch struct {
	batcher *enhance.Batcher
	name    string
	desc    string
}

// NewBatchRuleBased creates the batch_enhance_memories tool.
func NewBatchRuleBased(batcher *enhance.Batcher) *Batch {
	return &Batch{
		batcher: batcher,
		name:    "batch_enhance_memories",
		desc:    "Rule-based title/summary generation over every memory in scope. Skips already-enhanced records unless force_update; partial failures are collected into the report.",
	}
}

// NewBatchAI creates the batch_enhance_memories_ai tool.
func NewBatchAI(batcher *enhance.Batcher) *Batch {
	return &Batch{
		batcher: batcher,
		name:    "batch_enhance_memories_ai",
		desc:    "Endpoint-backed title/summary generation over every memory in scope, with bounded concurrency. Skips already-enhanced records unless force_update.",
	}
}

func (t *Batch) Name() string        { return t.name }
func (t *Batch) Description() string { return t.desc }
func (t *Batch) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {"type": "string", "description": "Scope to one project; all when omitted"},
    "force_update": {"type": "boolean"},
    "concurrency": {"type": "integer", "description": "Max in-flight enhancements (default 4)"}
  }
}`)
}

func (t *Batch) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p batchParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	report, err := t.batcher.Run(ctx, enhance.BatchOptions{
		Project:     p.Project,
		Force:       p.ForceUpdate,
		Concurrency: p.Concurrency,
	})
	if err != nil {
		return domainResult(err)
	}
	return mcp.JSONResult(report)
}

// StatusProbe is what check_ai_status needs from the endpoint adapter.
type StatusProbe interface {
	Name() string
	Available(ctx context.Context) bool
}

// CheckStatus reports whether the inference endpoint is reachable.
type CheckStatus struct {
	probe StatusProbe // nil when no endpoint is configured
}

func NewCheckStatus(probe StatusProbe) *CheckStatus { return &CheckStatus{probe: probe} }

func (t *CheckStatus) Name() string { return "check_ai_status" }
func (t *CheckStatus) Description() string {
	return "Report whether the configured local inference endpoint is reachable. Rule-based enhancement is always available."
}
func (t *CheckStatus) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *CheckStatus) Execute(ctx context.Context, _ json.RawMessage) (*mcp.ToolsCallResult, error) {
	if t.probe == nil {
		return mcp.JSONResult(map[string]any{
			"ai_available":         false,
			"rule_based_available": true,
			"message":              "no inference endpoint configured",
		})
	}
	available := t.probe.Available(ctx)
	return mcp.JSONResult(map[string]any{
		"ai_available":         available,
		"rule_based_available": true,
		"enhancer":             t.probe.Name(),
	})
}
