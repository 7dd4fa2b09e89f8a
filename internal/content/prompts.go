// Package content provides the MCP prompts and resources for the recallbox
// server: LLM-facing reference text describing the store model and the tools.
package content

import "github.com/recallbox/recallbox/internal/mcp"

// GuidePrompt is the primary LLM-facing prompt: what recallbox is, how the
// memory and task stores behave, and how to use the tools well.
type GuidePrompt struct{}

func (p *GuidePrompt) Definition() mcp.PromptDefinition {
	return mcp.PromptDefinition{
		Name:        "recallbox-guide",
		Description: "Guide to recallbox: the memory/task model, workflow intelligence, and tool usage",
		Arguments: []mcp.PromptArgument{
			{
				Name:        "focus",
				Description: "Optional focus area: 'memories', 'tasks', 'workflow', or 'tools'. Defaults to the full guide.",
				Required:    false,
			},
		},
	}
}

func (p *GuidePrompt) Get(arguments map[string]string) (*mcp.PromptsGetResult, error) {
	focus := arguments["focus"]

	var text string
	switch focus {
	case "memories":
		text = guideMemoriesSection
	case "tasks":
		text = guideTasksSection
	case "workflow":
		text = guideWorkflowSection
	case "tools":
		text = toolReferenceContent
	default:
		text = guideFull
	}

	return &mcp.PromptsGetResult{
		Description: "recallbox guide" + focusSuffix(focus),
		Messages: []mcp.PromptMessage{
			{
				Role:    "user",
				Content: mcp.TextContent(text),
			},
		},
	}, nil
}

func focusSuffix(focus string) string {
	if focus == "" {
		return ""
	}
	return " (" + focus + ")"
}

const guideFull = `# recallbox — Persistent Memory & Tasks over MCP

## What is recallbox?

recallbox is an MCP server that gives an agent durable, project-scoped memory
and task tracking. Records are plain markdown files with YAML front matter in
a directory tree you can read, grep, and edit by hand; the server keeps the
tree consistent and mirrors it over a dashboard HTTP/WebSocket surface.

Two record kinds:
- **Memory** — a piece of knowledge worth keeping: a decision, a finding, a
  convention, a gotcha. Immutable id and creation timestamp; free-form tags.
- **Task** — a unit of work with a status lifecycle (todo → in_progress →
  done, with blocked as a side state), a short display serial (TASK-1), an
  optional parent, and bidirectional links to relevant memories.

## Core behaviors to rely on

- **Auto-linking**: creating a task scans existing memories for content
  similarity and links the relevant ones both ways. Completing a task writes
  a completion memory and links it back.
- **Workflow intelligence**: ` + "`smart_status_update`" + ` takes plain English
  ("finished the auth refactor") and resolves the task, the intended status,
  and applies it with full validation. Transition validation blocks
  completing a task with unfinished subtasks or error markers in linked
  memories (force/skip flags override).
- **Mock-data filter**: content that looks like scaffolding filler (lorem
  ipsum, placeholder, fake data) is rejected at the store boundary on every
  surface. Write real observations.
- **Enhancement**: title/summary metadata can be generated rule-based (no
  dependencies) or via a local inference endpoint, stored as ` + "`title:`" + ` and
  ` + "`summary:`" + ` tags.

## Good usage patterns

1. Store decisions and findings as memories as they happen, with the project
   set; retrieval works best on specific, self-contained records.
2. Create tasks with descriptive titles — the auto-linker and the intent
   parser both key off them.
3. Prefer ` + "`smart_status_update`" + ` for status changes; it validates and
   records history with the reason attached.
4. Use ` + "`get_task_context`" + ` before resuming work: it aggregates the task,
   its subtasks, ranked linked memories, and recent history.
5. Run ` + "`generate_dropoff`" + ` at the end of a session for a handoff document.
6. Use ` + "`deduplicate_memories`" + ` with preview first; apply only after
   reviewing what would merge.
`

const guideMemoriesSection = `# recallbox Memories

A memory is one markdown file: YAML front matter for identity and metadata,
body for the content. Files live under memories/<project>/ with a
date-slug-id filename; the front-matter id is authoritative.

- id and timestamp never change after creation; updates rewrite the same file.
- access_count increments on reads through get_memory, never decreases.
- Tags are free-form; ` + "`title:`" + ` and ` + "`summary:`" + ` prefixes are reserved
  for generated display metadata.
- Content shorter than 10 characters or matching the mock-data filter is
  rejected.
- search_memories ranks by term overlap, tag matches, access recency and
  frequency — not just substring hits.
- delete_memory detaches the memory from every task that linked it.
`

const guideTasksSection = `# recallbox Tasks

A task is one markdown file under tasks/<project>/<shard>/ where the shard
(active/completed/blocked) follows the status. Status changes move the file.

- Statuses: todo, in_progress, done, blocked. done → in_progress reopens.
- Each task has a display serial (TASK-7) usable anywhere an id is accepted.
- Subtasks via parent_task; a parent cannot complete while subtasks are open
  unless force_complete is set.
- Memory links are bidirectional and survive updates; manual links survive
  re-runs of the auto-linker.
- History keeps the last 20 transitions with timestamps and reasons.
- Completing a task writes a completion memory linked both ways.
`

const guideWorkflowSection = `# recallbox Workflow Intelligence

## smart_status_update
Takes natural language and resolves: which task, which status, how confident.
"finished TASK-12" → TASK-12, done. "blocked on the schema migration" →
fuzzy title match, blocked. Below-confidence parses are reported back
without changing anything.

## Validation
validate_task_workflow dry-runs a transition: allowed-transition table,
subtask completion, error markers in linked memories. Returns blocking
issues, warnings, and a confidence score. update_task and
smart_status_update run the same validation before applying.

## Analytics and suggestions
get_task_status_analytics aggregates per-range (day/week/month/quarter)
status totals, completion rate, time-in-progress, and backlog age.
get_automation_suggestions flags stale todos (14d), long-running work (7d),
blocked tasks needing attention (3d), and WIP overload.
`
