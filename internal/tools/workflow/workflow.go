// Package workflow implements the workflow-intelligence tools:
// smart_status_update, get_task_status_analytics, validate_task_workflow,
// get_automation_suggestions.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

// --- smart_status_update ---

type smartUpdateParams struct {
	Input          string `json:"natural_language_input"`
	TaskID         string `json:"task_id,omitempty"`
	Project        string `json:"project,omitempty"`
	ForceComplete  bool   `json:"force_complete,omitempty"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
}

type SmartUpdate struct {
	engine *workflow.Engine
}

func NewSmartUpdate(engine *workflow.Engine) *SmartUpdate {
	return &SmartUpdate{engine: engine}
}

func (t *SmartUpdate) Name() string { return "smart_status_update" }
func (t *SmartUpdate) Description() string {
	return "Parse a natural-language status update ('I finished TASK-001'), resolve the referenced task, and apply the detected transition when confidence is high enough. Completions write a completion memory."
}
func (t *SmartUpdate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "natural_language_input": {"type": "string", "description": "Free-form status update"},
    "task_id": {"type": "string", "description": "Explicit task id or serial; otherwise resolved from the input"},
    "project": {"type": "string"},
    "force_complete": {"type": "boolean"},
    "skip_validation": {"type": "boolean"}
  },
  "required": ["natural_language_input"]
}`)
}

func (t *SmartUpdate) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p smartUpdateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Input == "" {
		return mcp.ErrorResult("natural_language_input is required"), nil
	}

	intent := workflow.ParseIntent(p.Input)

	task, err := t.resolveTask(ctx, p, intent)
	if err != nil {
		return domainResult(err)
	}
	if task == nil {
		return mcp.JSONResult(map[string]any{
			"applied": false,
			"intent":  intent,
			"message": "no task reference found; pass task_id or mention a serial like TASK-00001 or a quoted title",
		})
	}

	if !intent.Actionable() {
		return mcp.JSONResult(map[string]any{
			"applied": false,
			"intent":  intent,
			"task":    task.Serial,
			"message": fmt.Sprintf("confidence %.2f is below the %.2f action threshold; no change made",
				intent.Confidence, workflow.MinActionableConfidence),
		})
	}

	opts := workflow.Options{ForceComplete: p.ForceComplete, SkipValidation: p.SkipValidation}
	validation, completion, err := t.engine.ApplyStatus(ctx, task, intent.SuggestedStatus, p.Input, opts)
	if err != nil {
		return nil, err
	}

	result := map[string]any{
		"applied":    validation.Valid,
		"intent":     intent,
		"validation": validation,
		"task":       task,
	}
	if completion != nil {
		result["completion_memory"] = completion.ID
	}
	return mcp.JSONResult(result)
}

// resolveTask finds the referenced task: explicit id first, then the serials
// and quoted titles extracted from the input. nil means nothing resolved.
func (t *SmartUpdate) resolveTask(ctx context.Context, p smartUpdateParams, intent workflow.Intent) (*store.Task, error) {
	if p.TaskID != "" {
		return t.engine.Tasks.Get(ctx, p.TaskID)
	}
	for _, token := range intent.TaskTokens {
		if task, err := t.engine.Tasks.Get(ctx, token); err == nil {
			return task, nil
		}
	}
	// Last resort: a quoted token may be a title fragment.
	for _, token := range intent.TaskTokens {
		tasks, err := t.engine.Tasks.List(ctx, p.Project, "", 0)
		if err != nil {
			return nil, err
		}
		for _, candidate := range tasks {
			if containsFold(candidate.Title, token) {
				return candidate, nil
			}
		}
	}
	return nil, nil
}

// --- get_task_status_analytics ---

type analyticsParams struct {
	Range   string `json:"range,omitempty"`
	Project string `json:"project,omitempty"`
}

type Analytics struct {
	engine *workflow.Engine
}

func NewAnalytics(engine *workflow.Engine) *Analytics { return &Analytics{engine: engine} }

func (t *Analytics) Name() string { return "get_task_status_analytics" }
func (t *Analytics) Description() string {
	return "Status analytics over a time range (day|week|month|quarter): totals, completion rate, throughput, backlog age, stale/long-running/blocked counts, WIP and focus score."
}
func (t *Analytics) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "range": {"type": "string", "enum": ["day", "week", "month", "quarter"], "description": "Defaults to week"},
    "project": {"type": "string"}
  }
}`)
}

func (t *Analytics) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p analyticsParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	a, err := t.engine.Analyze(ctx, p.Range, p.Project)
	if err != nil {
		return domainResult(err)
	}
	return mcp.JSONResult(a)
}

// --- validate_task_workflow ---

type validateParams struct {
	ID             string `json:"id"`
	ProposedStatus string `json:"proposed_status"`
	ForceComplete  bool   `json:"force_complete,omitempty"`
	SkipValidation bool   `json:"skip_validation,omitempty"`
}

type Validate struct {
	engine *workflow.Engine
}

func NewValidate(engine *workflow.Engine) *Validate { return &Validate{engine: engine} }

func (t *Validate) Name() string { return "validate_task_workflow" }
func (t *Validate) Description() string {
	return "Dry-run a status transition: returns blocking issues, warnings and suggestions without changing the task."
}
func (t *Validate) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "id": {"type": "string", "description": "Task id or serial"},
    "proposed_status": {"type": "string", "enum": ["todo", "in_progress", "done", "blocked"]},
    "force_complete": {"type": "boolean"},
    "skip_validation": {"type": "boolean"}
  },
  "required": ["id", "proposed_status"]
}`)
}

func (t *Validate) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p validateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.ID == "" || p.ProposedStatus == "" {
		return mcp.ErrorResult("id and proposed_status are required"), nil
	}

	task, err := t.engine.Tasks.Get(ctx, p.ID)
	if err != nil {
		return domainResult(err)
	}
	opts := workflow.Options{ForceComplete: p.ForceComplete, SkipValidation: p.SkipValidation}
	v, err := t.engine.ValidateTransition(ctx, task, p.ProposedStatus, opts)
	if err != nil {
		return nil, err
	}
	return mcp.JSONResult(map[string]any{
		"task":       task.Serial,
		"from":       task.Status,
		"to":         p.ProposedStatus,
		"validation": v,
	})
}

// --- get_automation_suggestions ---

type suggestParams struct {
	Project string `json:"project,omitempty"`
}

type Suggest struct {
	engine *workflow.Engine
}

func NewSuggest(engine *workflow.Engine) *Suggest { return &Suggest{engine: engine} }

func (t *Suggest) Name() string { return "get_automation_suggestions" }
func (t *Suggest) Description() string {
	return "Automation advice derived from the current task set: stale backlog items, long-running work, blocked tasks needing attention, WIP overload."
}
func (t *Suggest) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {"type": "string"}
  }
}`)
}

func (t *Suggest) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p suggestParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	suggestions, err := t.engine.Suggest(ctx, p.Project)
	if err != nil {
		return domainResult(err)
	}
	return mcp.JSONResult(map[string]any{
		"count":       len(suggestions),
		"suggestions": suggestions,
	})
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
