package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// runInfo handles the "recallbox info" subcommand: a general overview by
// default, client-specific configuration snippets with flags.
func runInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	claude := fs.Bool("claude", false, "show Claude Desktop MCP client configuration")
	cursor := fs.Bool("cursor", false, "show Cursor MCP client configuration")
	opencode := fs.Bool("opencode", false, "show OpenCode MCP client configuration")
	fs.Parse(args)

	switch {
	case *claude:
		printClientConfig("Claude Desktop", "claude_desktop_config.json")
	case *cursor:
		printClientConfig("Cursor", ".cursor/mcp.json")
	case *opencode:
		printClientConfig("OpenCode", ".opencode.json or opencode.json")
	default:
		printGeneralInfo()
	}
}

func printGeneralInfo() {
	fmt.Fprintf(os.Stdout, `recallbox %s — persistent memory & tasks over MCP

recallbox is a Model Context Protocol (MCP) server that gives AI coding
assistants durable, project-scoped memory and task tracking. Records are
plain markdown files with YAML front matter under the store root
(default ~/.recallbox); a dashboard HTTP/WebSocket surface mirrors the
same store.

TRANSPORT

  stdio       JSON-RPC 2.0 over stdin/stdout (MCP). Launched as a
              subprocess by the client; logs go to stderr.
  dashboard   REST under /api, live updates on /ws, Prometheus metrics
              on /metrics. Default port 8020; RECALLBOX_HTTP_ENABLED=false
              disables it.

TOOLS (22)

  Memories (5):     add_memory, get_memory, list_memories, delete_memory,
                    search_memories
  Tasks (5):        create_task, update_task, list_tasks, get_task_context,
                    delete_task
  Workflow (4):     smart_status_update, get_task_status_analytics,
                    validate_task_workflow, get_automation_suggestions
  Enhancement (5):  enhance_memory_metadata, enhance_memory_ai,
                    batch_enhance_memories, batch_enhance_memories_ai,
                    check_ai_status
  Maintenance (3):  deduplicate_memories, generate_dropoff, test_tool

PROMPTS (1)

  recallbox-guide            Usage guide (focus: memories/tasks/workflow/tools)

RESOURCES (2)

  recallbox://tool-reference Tool usage quick reference
  recallbox://store-model    On-disk record layout reference

CONFIGURATION

  All settings are optional. Environment (RECALLBOX_*) overrides
  data/settings.json under the store root; see the command doc for the
  variable list. Point RECALLBOX_AI_ENDPOINT at a local Ollama instance
  to enable AI title/summary generation.

CLIENT CONFIGURATION

  recallbox info --claude      Claude Desktop (claude_desktop_config.json)
  recallbox info --cursor      Cursor (.cursor/mcp.json)
  recallbox info --opencode    OpenCode (.opencode.json)
`, Version)
}

func printClientConfig(client, file string) {
	fmt.Fprintf(os.Stdout, `%s
%s

Add to %s:

{
  "mcpServers": {
    "recallbox": {
      "command": "recallbox",
      "env": {
        "RECALLBOX_ROOT": "~/.recallbox"
      }
    }
  }
}

recallbox runs as a subprocess of the client — no separate server needed.
The dashboard stays available on http://localhost:8020 while the client
session is open.
`, client, strings.Repeat("-", len(client)), file)
}
