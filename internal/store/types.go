// Package store implements the project-sharded markdown repositories for
// memories and tasks. Records are single files with typed front matter; the
// directory tree is the source of truth for both the tool surface and the
// HTTP surface.
package store

import "time"

// DefaultProject shards records whose project tag is absent.
const DefaultProject = "default"

// Priority levels. Tasks additionally allow PriorityUrgent.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Memory statuses.
const (
	MemoryActive    = "active"
	MemoryArchived  = "archived"
	MemoryReference = "reference"
)

// Task statuses.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusBlocked    = "blocked"
)

// Well-known memory categories. The namespace stays free-form beyond these.
const (
	CategoryPersonal      = "personal"
	CategoryWork          = "work"
	CategoryCode          = "code"
	CategoryResearch      = "research"
	CategoryConversations = "conversations"
	CategoryPreferences   = "preferences"
)

// Content types recorded in memory metadata.
const (
	ContentText       = "text"
	ContentCode       = "code"
	ContentStructured = "structured"
)

// Reserved tag prefixes carrying generated display metadata.
const (
	TagTitlePrefix   = "title:"
	TagSummaryPrefix = "summary:"
)

// MemoryMetadata holds derived attributes of a memory's content.
type MemoryMetadata struct {
	ContentType    string `json:"content_type" yaml:"content_type"`
	Language       string `json:"language,omitempty" yaml:"language,omitempty"`
	Size           int    `json:"size" yaml:"size"`
	MermaidDiagram bool   `json:"mermaid_diagram,omitempty" yaml:"mermaid_diagram,omitempty"`
}

// TaskRef is the memory-side half of a bidirectional task↔memory link.
type TaskRef struct {
	TaskID         string  `json:"task_id" yaml:"task_id"`
	TaskSerial     string  `json:"task_serial" yaml:"task_serial"`
	ConnectionType string  `json:"connection_type" yaml:"connection_type"`
	Relevance      float64 `json:"relevance" yaml:"relevance"`
}

// Memory is a single stored memory record. Content lives in the file body;
// everything else is front matter. Extra preserves unknown front-matter keys
// so human-added metadata survives rewrites.
type Memory struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	Timestamp       time.Time      `json:"timestamp"`
	LastAccessed    time.Time      `json:"last_accessed"`
	AccessCount     int            `json:"access_count"`
	Project         string         `json:"project"`
	Category        string         `json:"category,omitempty"`
	Priority        string         `json:"priority"`
	Status          string         `json:"status"`
	Tags            []string       `json:"tags,omitempty"`
	RelatedMemories []string       `json:"related_memories,omitempty"`
	Complexity      int            `json:"complexity"`
	Metadata        MemoryMetadata `json:"metadata"`
	TaskConnections []TaskRef      `json:"task_connections,omitempty"`
	Extra           map[string]any `json:"-"`

	path string // current on-disk location; empty until saved
}

// Path returns the file the memory currently lives in.
func (m *Memory) Path() string { return m.path }

// Serial is the short printable token other records use to reference this
// memory in human-readable contexts.
func (m *Memory) Serial() string {
	if len(m.ID) >= 8 {
		return m.ID[:8]
	}
	return m.ID
}

// HasTag reports whether the memory carries the exact tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DisplayTag returns the value of the first tag with the given reserved
// prefix ("title:" or "summary:"), or "".
func (m *Memory) DisplayTag(prefix string) string {
	for _, t := range m.Tags {
		if len(t) > len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):]
		}
	}
	return ""
}

// MemoryConnection is the task-side half of a bidirectional link.
type MemoryConnection struct {
	MemoryID       string   `json:"memory_id" yaml:"memory_id"`
	MemorySerial   string   `json:"memory_serial" yaml:"memory_serial"`
	ConnectionType string   `json:"connection_type" yaml:"connection_type"`
	Relevance      float64  `json:"relevance" yaml:"relevance"`
	MatchedTerms   []string `json:"matched_terms,omitempty" yaml:"matched_terms,omitempty"`
}

// Connection types.
const (
	ConnectionAuto       = "auto"
	ConnectionManual     = "manual"
	ConnectionCompletion = "completion"
)

// Transition is one entry of a task's capped status history.
type Transition struct {
	From   string    `json:"from" yaml:"from"`
	To     string    `json:"to" yaml:"to"`
	At     time.Time `json:"at" yaml:"at"`
	Reason string    `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// HistoryCap bounds the persisted transition log per task.
const HistoryCap = 20

// Task is a single stored task record. Description lives in the file body.
type Task struct {
	ID                string             `json:"id"`
	Serial            string             `json:"serial"`
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	Project           string             `json:"project"`
	Category          string             `json:"category,omitempty"`
	Priority          string             `json:"priority"`
	Status            string             `json:"status"`
	ParentTask        string             `json:"parent_task,omitempty"`
	Subtasks          []string           `json:"subtasks,omitempty"`
	Tags              []string           `json:"tags,omitempty"`
	MemoryConnections []MemoryConnection `json:"memory_connections,omitempty"`
	Created           time.Time          `json:"created"`
	Updated           time.Time          `json:"updated"`
	Completed         *time.Time         `json:"completed,omitempty"`
	History           []Transition       `json:"history,omitempty"`
	Extra             map[string]any     `json:"-"`

	path string
}

// Path returns the file the task currently lives in.
func (t *Task) Path() string { return t.path }

// Shard returns the status shard directory a task with this status lives in.
func (t *Task) Shard() string { return ShardFor(t.Status) }

// ShardFor maps a task status to its directory shard.
func ShardFor(status string) string {
	switch status {
	case StatusDone:
		return "completed"
	case StatusBlocked:
		return "blocked"
	default:
		return "active"
	}
}

// Connected reports whether the task already links the given memory.
func (t *Task) Connected(memoryID string) bool {
	for _, c := range t.MemoryConnections {
		if c.MemoryID == memoryID {
			return true
		}
	}
	return false
}

// RecordTransition appends a history entry, trimming to HistoryCap.
func (t *Task) RecordTransition(from, to, reason string, at time.Time) {
	t.History = append(t.History, Transition{From: from, To: to, At: at, Reason: reason})
	if len(t.History) > HistoryCap {
		t.History = t.History[len(t.History)-HistoryCap:]
	}
}
