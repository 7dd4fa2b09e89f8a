// Package workflow gates task state changes and derives status intelligence:
// the transition validator, the natural-language intent parser, status
// analytics and automation suggestions.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/recallbox/recallbox/internal/store"
)

// transitions maps each state to its allowed targets.
var transitions = map[string][]string{
	store.StatusTodo:       {store.StatusInProgress, store.StatusBlocked, store.StatusDone},
	store.StatusInProgress: {store.StatusDone, store.StatusBlocked, store.StatusTodo},
	store.StatusBlocked:    {store.StatusInProgress, store.StatusTodo, store.StatusDone},
	store.StatusDone:       {store.StatusInProgress, store.StatusTodo},
}

// Options tune a single validation call.
type Options struct {
	// ForceComplete allows completing a task with unfinished subtasks.
	ForceComplete bool
	// SkipValidation bypasses the linked-memory error-marker check.
	SkipValidation bool
}

// Validation is the outcome of checking a proposed transition.
type Validation struct {
	Valid            bool     `json:"valid"`
	BlockingIssues   []string `json:"blocking_issues,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
	Confidence       float64  `json:"confidence"`
	WorkflowAnalysis string   `json:"workflow_analysis"`
}

// Engine validates transitions against the live stores.
type Engine struct {
	Tasks    *store.TaskStore
	Memories *store.MemoryStore

	logger *slog.Logger
}

// NewEngine wires a workflow engine over the two stores.
func NewEngine(tasks *store.TaskStore, memories *store.MemoryStore, logger *slog.Logger) *Engine {
	return &Engine{Tasks: tasks, Memories: memories, logger: logger}
}

// Allowed reports whether from → to is in the transition table. done → done
// is tolerated as a no-op.
func Allowed(from, to string) bool {
	if from == to {
		return true
	}
	for _, target := range transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s names a known task status.
func ValidStatus(s string) bool {
	_, ok := transitions[s]
	return ok
}

var memoryErrorMarker = regexp.MustCompile(`(?i)\b(unresolved|error|panic|exception|failing|broken)\b`)

// ValidateTransition checks a proposed status change, collecting blocking
// issues, warnings and suggestions rather than failing on the first finding.
func (e *Engine) ValidateTransition(ctx context.Context, task *store.Task, to string, opts Options) (*Validation, error) {
	v := &Validation{Valid: true, Confidence: 1.0}

	if !ValidStatus(to) {
		v.Valid = false
		v.BlockingIssues = append(v.BlockingIssues, fmt.Sprintf("unknown status %q", to))
		v.WorkflowAnalysis = "The proposed status is not part of the workflow."
		return v, nil
	}

	if task.Status == to {
		if to == store.StatusDone {
			v.WorkflowAnalysis = "Task is already done; nothing to change."
		} else {
			v.WorkflowAnalysis = fmt.Sprintf("Task is already %s; nothing to change.", to)
		}
		return v, nil
	}

	if !Allowed(task.Status, to) {
		v.Valid = false
		v.BlockingIssues = append(v.BlockingIssues,
			fmt.Sprintf("transition %s → %s is not allowed", task.Status, to))
		v.WorkflowAnalysis = fmt.Sprintf("Allowed targets from %s: %v.", task.Status, transitions[task.Status])
		return v, nil
	}

	if to == store.StatusDone {
		e.validateCompletion(ctx, task, opts, v)
	}

	if task.Status == store.StatusTodo && to == store.StatusDone {
		v.Warnings = append(v.Warnings, "completing a task straight from todo skips in_progress")
		v.Confidence = 0.8
	}
	if task.Status == store.StatusDone {
		v.Suggestions = append(v.Suggestions, "reopening a completed task; its completion timestamp will be cleared")
	}

	if v.WorkflowAnalysis == "" {
		if v.Valid {
			v.WorkflowAnalysis = fmt.Sprintf("Transition %s → %s is allowed.", task.Status, to)
		} else {
			v.WorkflowAnalysis = fmt.Sprintf("Transition %s → %s is blocked; resolve the issues above.", task.Status, to)
		}
	}
	return v, nil
}

// validateCompletion applies the done-specific guards: unfinished subtasks
// block unless forced; error markers in linked memories block unless the
// caller skips validation.
func (e *Engine) validateCompletion(ctx context.Context, task *store.Task, opts Options, v *Validation) {
	if !opts.ForceComplete {
		for _, subID := range task.Subtasks {
			sub, err := e.Tasks.Get(ctx, subID)
			if err != nil {
				continue
			}
			if sub.Status != store.StatusDone {
				v.Valid = false
				v.BlockingIssues = append(v.BlockingIssues,
					fmt.Sprintf("subtask %s (%s) is %s", sub.Serial, sub.Title, sub.Status))
			}
		}
		if !v.Valid {
			v.Suggestions = append(v.Suggestions, "complete the subtasks first, or pass force_complete")
			v.WorkflowAnalysis = "Completion is blocked by unfinished subtasks."
			return
		}
	}

	if !opts.SkipValidation {
		for _, conn := range task.MemoryConnections {
			mem, err := e.Memories.Get(ctx, conn.MemoryID)
			if err != nil {
				continue
			}
			if memoryErrorMarker.MatchString(mem.Content) {
				v.Valid = false
				v.BlockingIssues = append(v.BlockingIssues,
					fmt.Sprintf("linked memory %s contains an unresolved error marker", mem.Serial()))
			}
		}
		if !v.Valid {
			v.Suggestions = append(v.Suggestions, "resolve the flagged memories, or pass skip_validation")
			v.WorkflowAnalysis = "Completion is blocked by unresolved error markers in linked memories."
		}
	}
}
