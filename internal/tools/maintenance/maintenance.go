// Package maintenance implements the housekeeping tools:
// deduplicate_memories, generate_dropoff, test_tool.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/store"
	"github.com/recallbox/recallbox/internal/workflow"
)

// Snapshotter takes a backup snapshot before destructive bulk operations.
type Snapshotter interface {
	Snapshot(reason string) (string, error)
}

// --- deduplicate_memories ---

type dedupeParams struct {
	Preview bool `json:"preview,omitempty"`
}

type Dedupe struct {
	memories *store.MemoryStore
	backups  Snapshotter
}

func NewDedupe(memories *store.MemoryStore, backups Snapshotter) *Dedupe {
	return &Dedupe{memories: memories, backups: backups}
}

func (t *Dedupe) Name() string { return "deduplicate_memories" }
func (t *Dedupe) Description() string {
	return "Remove memory files sharing a front-matter id, keeping the newest copy of each. preview:true reports the removals without touching disk. A backup snapshot is taken before an apply run."
}
func (t *Dedupe) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "preview": {"type": "boolean", "description": "Report without deleting"}
  }
}`)
}

func (t *Dedupe) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p dedupeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	if !p.Preview && t.backups != nil {
		if _, err := t.backups.Snapshot("deduplicate"); err != nil {
			return nil, fmt.Errorf("pre-dedupe backup: %w", err)
		}
	}

	report, err := t.memories.Deduplicate(ctx, p.Preview)
	if err != nil {
		return nil, err
	}
	return mcp.JSONResult(report)
}

// --- generate_dropoff ---

type dropoffParams struct {
	Project string `json:"project,omitempty"`
}

type Dropoff struct {
	memories *store.MemoryStore
	tasks    *store.TaskStore
	engine   *workflow.Engine
}

func NewDropoff(memories *store.MemoryStore, tasks *store.TaskStore, engine *workflow.Engine) *Dropoff {
	return &Dropoff{memories: memories, tasks: tasks, engine: engine}
}

func (t *Dropoff) Name() string { return "generate_dropoff" }
func (t *Dropoff) Description() string {
	return "Generate a markdown handoff document: recent memories, open and blocked tasks, and suggested next steps."
}
func (t *Dropoff) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "project": {"type": "string", "description": "Scope to one project; all when omitted"}
  }
}`)
}

func (t *Dropoff) Execute(ctx context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p dropoffParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	memories, err := t.memories.List(ctx, p.Project, 10)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}
	open, err := t.tasks.List(ctx, p.Project, store.StatusInProgress, 0)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}
	todo, err := t.tasks.List(ctx, p.Project, store.StatusTodo, 10)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}
	blocked, err := t.tasks.List(ctx, p.Project, store.StatusBlocked, 0)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}
	suggestions, err := t.engine.Suggest(ctx, p.Project)
	if err != nil {
		return mcp.ErrorResult(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Handoff — %s\n\n", time.Now().UTC().Format("2006-01-02 15:04 MST"))
	if p.Project != "" {
		fmt.Fprintf(&b, "Project: %s\n\n", p.Project)
	}

	b.WriteString("## In progress\n\n")
	writeTaskList(&b, open, "Nothing in progress.")

	b.WriteString("\n## Blocked\n\n")
	writeTaskList(&b, blocked, "Nothing blocked.")

	b.WriteString("\n## Backlog (newest first)\n\n")
	writeTaskList(&b, todo, "Backlog is empty.")

	b.WriteString("\n## Recent memories\n\n")
	if len(memories) == 0 {
		b.WriteString("No memories recorded.\n")
	}
	for _, m := range memories {
		label := m.DisplayTag(store.TagTitlePrefix)
		if label == "" {
			label = firstLine(m.Content)
		}
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", m.Serial(), label, m.Timestamp.Format("2006-01-02"))
	}

	b.WriteString("\n## Suggested next steps\n\n")
	if len(suggestions) == 0 {
		b.WriteString("No automation suggestions; pick from the backlog.\n")
	}
	for _, s := range suggestions {
		fmt.Fprintf(&b, "- %s\n", s.Message)
	}

	return &mcp.ToolsCallResult{
		Content: []mcp.ContentBlock{mcp.TextContent(b.String())},
	}, nil
}

func writeTaskList(b *strings.Builder, tasks []*store.Task, empty string) {
	if len(tasks) == 0 {
		b.WriteString(empty + "\n")
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(b, "- %s %s (%s)\n", t.Serial, t.Title, t.Priority)
	}
}

func firstLine(text string) string {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	line = strings.TrimLeft(line, "# ")
	if len(line) > 80 {
		line = line[:80]
	}
	return line
}

// --- test_tool ---

type testParams struct {
	Message string `json:"message,omitempty"`
}

type Test struct {
	version string
}

func NewTest(version string) *Test { return &Test{version: version} }

func (t *Test) Name() string { return "test_tool" }
func (t *Test) Description() string {
	return "Echo/health tool for client integration checks. Returns the server version and the message sent."
}
func (t *Test) InputSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": {"type": "string"}
  }
}`)
}

func (t *Test) Execute(_ context.Context, params json.RawMessage) (*mcp.ToolsCallResult, error) {
	var p testParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return mcp.ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	return mcp.JSONResult(map[string]any{
		"ok":      true,
		"version": t.version,
		"echo":    p.Message,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
