package content

import "github.com/recallbox/recallbox/internal/mcp"

// ToolReferenceResource exposes a quick-reference card for all 22 tools.
type ToolReferenceResource struct{}

func (r *ToolReferenceResource) Definition() mcp.ResourceDefinition {
	return mcp.ResourceDefinition{
		URI:         "recallbox://tool-reference",
		Name:        "recallbox Tool Reference",
		Description: "Quick-reference card for all 22 recallbox tools with parameters and usage notes",
		MimeType:    "text/markdown",
	}
}

func (r *ToolReferenceResource) Read() (*mcp.ResourcesReadResult, error) {
	return &mcp.ResourcesReadResult{
		Contents: []mcp.ResourceContent{
			{
				URI:      "recallbox://tool-reference",
				MimeType: "text/markdown",
				Text:     toolReferenceContent,
			},
		},
	}, nil
}

// StoreModelResource documents the on-disk record model for LLMs that want
// to reason about the files directly.
type StoreModelResource struct{}

func (r *StoreModelResource) Definition() mcp.ResourceDefinition {
	return mcp.ResourceDefinition{
		URI:         "recallbox://store-model",
		Name:        "recallbox Store Model",
		Description: "Reference for the on-disk record layout: front-matter schema, directory sharding, linking, and history",
		MimeType:    "text/markdown",
	}
}

func (r *StoreModelResource) Read() (*mcp.ResourcesReadResult, error) {
	return &mcp.ResourcesReadResult{
		Contents: []mcp.ResourceContent{
			{
				URI:      "recallbox://store-model",
				MimeType: "text/markdown",
				Text:     storeModelContent,
			},
		},
	}, nil
}

const toolReferenceContent = `# recallbox Tool Quick Reference

## Memory Tools

### add_memory
Store a new memory.
- **Required**: content (string, min 10 chars, mock-data filtered)
- **Optional**: project, category, priority (low/medium/high), tags ([]string)
- **Returns**: the stored memory with generated id

### get_memory
Fetch a memory by id. Increments access_count.
- **Required**: memory_id (string)

### list_memories
List memories, newest first.
- **Optional**: project (string), limit (int)

### search_memories
Ranked search over content and tags.
- **Required**: query (string)
- **Optional**: project (string), limit (int)
- Ranking blends term overlap, tag matches, recency, and access frequency.

### delete_memory
Delete a memory and detach it from every linked task.
- **Required**: memory_id (string)
- **Returns**: deleted id and count of tasks detached

## Task Tools

### create_task
Create a task; auto-links relevant memories unless disabled.
- **Required**: title (string)
- **Optional**: description, project, category, priority (low/medium/high/urgent), parent_task, tags, auto_link (bool, default true)

### update_task
Update fields and/or status. Status changes run workflow validation.
- **Required**: task_id (id or serial)
- **Optional**: title, description, priority, tags, status, reason, force_complete (bool), skip_validation (bool)
- Invalid transitions return the validation report instead of applying.

### list_tasks
- **Optional**: project (string), status (todo/in_progress/done/blocked), limit (int)

### get_task_context
Aggregate everything needed to resume a task.
- **Required**: task_id
- **Optional**: query (string) — reranks linked memories against it
- **Returns**: task, subtasks, ranked memories, last transitions

### delete_task
Delete a task and its subtasks; detaches all memory links.
- **Required**: task_id

## Workflow Tools

### smart_status_update
Natural-language status change.
- **Required**: input (string), e.g. "finished the login retry fix"
- **Optional**: task_id (skips task resolution), project
- Below-confidence parses are reported without changes.

### get_task_status_analytics
- **Optional**: range (day/week/month/quarter, default week), project
- **Returns**: status totals, completion rate, avg time-in-progress, backlog age percentiles, throughput

### validate_task_workflow
Dry-run a transition without applying it.
- **Required**: task_id, target_status
- **Returns**: validation report (blocking issues, warnings, confidence)

### get_automation_suggestions
- **Optional**: project
- **Returns**: stale todos, long-running work, blocked tasks needing attention, WIP overload

## Enhancement Tools

### enhance_memory_metadata / enhance_memory_ai
Generate title (≤60 chars) and summary (≤150 chars) for one memory,
rule-based or via the local inference endpoint.
- **Required**: memory_id
- **Optional**: force_update (bool) — regenerate even if already enhanced

### batch_enhance_memories / batch_enhance_memories_ai
Same, over every memory in scope. Guarded by the bulk circuit breaker.
- **Optional**: project, force_update, concurrency (AI variant)
- **Returns**: partial-success report (enhanced/skipped/failed per item)

### check_ai_status
- **Returns**: whether an inference endpoint is configured and reachable

## Maintenance Tools

### deduplicate_memories
- **Optional**: preview (bool, default true), project
- Preview lists duplicate groups; apply merges them after a snapshot.

### generate_dropoff
Produce a markdown handoff document: work in progress, blocked items,
backlog, recent memories, suggested next steps.
- **Optional**: project

### test_tool
Echo/health check. Returns server version and the message sent.
`

const storeModelContent = `# recallbox Store Model

## Layout

    <root>/
      memories/<project>/<YYYY-MM-DD>-<slug>-<id6>.md
      tasks/<project>/{active,completed,blocked}/<id>.md
      data/settings.json          server settings
      data/.migrated              one-shot legacy migration marker
      data-backups/<stamp>/       rolling snapshots

Project names are sanitized path segments; anything resolving outside the
store root is rejected.

## Memory front matter

    id, timestamp, last_accessed, access_count, project, category,
    priority, status, tags, related_memories, complexity, metadata
    (content_type/language/size), task_connections

The body below the front matter is the content. Unknown front-matter keys
are preserved across rewrites.

## Task front matter

    id, serial, title, project, category, priority, status, parent_task,
    subtasks, tags, memory_connections, created, updated, completed, history

The body is the description. The file lives in the shard matching its
status; status changes move the file. History keeps the last 20 transitions.

## Links

Task→memory connections and memory→task references are kept in lockstep:
every link is written on both sides or rolled back. Connection types:
auto (linker), manual (explicit), completion (written when a task is done).
`
