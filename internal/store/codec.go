package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/recallbox/recallbox/internal/frontmatter"
)

// Known front-matter keys. Anything else is carried in Extra and written
// back untouched so human-added metadata survives rewrites.
var memoryKeys = map[string]bool{
	"id": true, "timestamp": true, "last_accessed": true, "access_count": true,
	"project": true, "category": true, "priority": true, "status": true,
	"tags": true, "related_memories": true, "complexity": true,
	"metadata": true, "task_connections": true,
}

var taskKeys = map[string]bool{
	"id": true, "serial": true, "title": true, "project": true,
	"category": true, "priority": true, "status": true, "parent_task": true,
	"subtasks": true, "tags": true, "memory_connections": true,
	"created": true, "updated": true, "completed": true, "history": true,
}

func memoryToDoc(m *Memory) *frontmatter.Doc {
	fields := map[string]any{}
	for k, v := range m.Extra {
		fields[k] = v
	}
	fields["id"] = m.ID
	fields["timestamp"] = m.Timestamp.Format(time.RFC3339Nano)
	fields["last_accessed"] = m.LastAccessed.Format(time.RFC3339Nano)
	fields["access_count"] = m.AccessCount
	fields["project"] = m.Project
	fields["priority"] = m.Priority
	fields["status"] = m.Status
	fields["complexity"] = m.Complexity
	if m.Category != "" {
		fields["category"] = m.Category
	}
	if len(m.Tags) > 0 {
		fields["tags"] = m.Tags
	}
	if len(m.RelatedMemories) > 0 {
		fields["related_memories"] = m.RelatedMemories
	}
	meta := map[string]any{
		"content_type": m.Metadata.ContentType,
		"size":         m.Metadata.Size,
	}
	if m.Metadata.Language != "" {
		meta["language"] = m.Metadata.Language
	}
	if m.Metadata.MermaidDiagram {
		meta["mermaid_diagram"] = true
	}
	fields["metadata"] = meta
	if len(m.TaskConnections) > 0 {
		refs := make([]map[string]any, 0, len(m.TaskConnections))
		for _, c := range m.TaskConnections {
			refs = append(refs, map[string]any{
				"task_id":         c.TaskID,
				"task_serial":     c.TaskSerial,
				"connection_type": c.ConnectionType,
				"relevance":       c.Relevance,
			})
		}
		fields["task_connections"] = refs
	}
	return &frontmatter.Doc{Fields: fields, Body: m.Content}
}

func docToMemory(doc *frontmatter.Doc, project string) *Memory {
	m := &Memory{
		ID:              doc.String("id"),
		Content:         doc.Body,
		AccessCount:     doc.Int("access_count"),
		Project:         doc.String("project"),
		Category:        doc.String("category"),
		Priority:        doc.String("priority"),
		Status:          doc.String("status"),
		Tags:            doc.StringList("tags"),
		RelatedMemories: doc.StringList("related_memories"),
		Complexity:      doc.Int("complexity"),
	}
	if m.Project == "" {
		m.Project = project
	}
	if m.Priority == "" {
		m.Priority = PriorityMedium
	}
	if m.Status == "" {
		m.Status = MemoryActive
	}
	m.Timestamp = parseTime(doc.String("timestamp"))
	m.LastAccessed = parseTime(doc.String("last_accessed"))
	if meta, ok := doc.Fields["metadata"].(map[string]any); ok {
		m.Metadata = MemoryMetadata{
			ContentType:    str(meta["content_type"]),
			Language:       str(meta["language"]),
			Size:           num(meta["size"]),
			MermaidDiagram: boolean(meta["mermaid_diagram"]),
		}
	}
	if raw, ok := doc.Fields["task_connections"].([]any); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			m.TaskConnections = append(m.TaskConnections, TaskRef{
				TaskID:         str(entry["task_id"]),
				TaskSerial:     str(entry["task_serial"]),
				ConnectionType: str(entry["connection_type"]),
				Relevance:      fnum(entry["relevance"]),
			})
		}
	}
	m.Extra = extraFields(doc.Fields, memoryKeys)
	return m
}

func taskToDoc(t *Task) *frontmatter.Doc {
	fields := map[string]any{}
	for k, v := range t.Extra {
		fields[k] = v
	}
	fields["id"] = t.ID
	fields["serial"] = t.Serial
	fields["title"] = t.Title
	fields["project"] = t.Project
	fields["priority"] = t.Priority
	fields["status"] = t.Status
	fields["created"] = t.Created.Format(time.RFC3339Nano)
	fields["updated"] = t.Updated.Format(time.RFC3339Nano)
	if t.Category != "" {
		fields["category"] = t.Category
	}
	if t.ParentTask != "" {
		fields["parent_task"] = t.ParentTask
	}
	if len(t.Subtasks) > 0 {
		fields["subtasks"] = t.Subtasks
	}
	if len(t.Tags) > 0 {
		fields["tags"] = t.Tags
	}
	if t.Completed != nil {
		fields["completed"] = t.Completed.Format(time.RFC3339Nano)
	}
	if len(t.MemoryConnections) > 0 {
		conns := make([]map[string]any, 0, len(t.MemoryConnections))
		for _, c := range t.MemoryConnections {
			entry := map[string]any{
				"memory_id":       c.MemoryID,
				"memory_serial":   c.MemorySerial,
				"connection_type": c.ConnectionType,
				"relevance":       c.Relevance,
			}
			if len(c.MatchedTerms) > 0 {
				entry["matched_terms"] = c.MatchedTerms
			}
			conns = append(conns, entry)
		}
		fields["memory_connections"] = conns
	}
	if len(t.History) > 0 {
		hist := make([]map[string]any, 0, len(t.History))
		for _, h := range t.History {
			entry := map[string]any{
				"from": h.From,
				"to":   h.To,
				"at":   h.At.Format(time.RFC3339Nano),
			}
			if h.Reason != "" {
				entry["reason"] = h.Reason
			}
			hist = append(hist, entry)
		}
		fields["history"] = hist
	}
	return &frontmatter.Doc{Fields: fields, Body: t.Description}
}

func docToTask(doc *frontmatter.Doc, project string) *Task {
	t := &Task{
		ID:          doc.String("id"),
		Serial:      doc.String("serial"),
		Title:       doc.String("title"),
		Description: doc.Body,
		Project:     doc.String("project"),
		Category:    doc.String("category"),
		Priority:    doc.String("priority"),
		Status:      doc.String("status"),
		ParentTask:  doc.String("parent_task"),
		Subtasks:    doc.StringList("subtasks"),
		Tags:        doc.StringList("tags"),
	}
	if t.Project == "" {
		t.Project = project
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}
	t.Created = parseTime(doc.String("created"))
	t.Updated = parseTime(doc.String("updated"))
	if c := doc.String("completed"); c != "" {
		ts := parseTime(c)
		t.Completed = &ts
	}
	if raw, ok := doc.Fields["memory_connections"].([]any); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			t.MemoryConnections = append(t.MemoryConnections, MemoryConnection{
				MemoryID:       str(entry["memory_id"]),
				MemorySerial:   str(entry["memory_serial"]),
				ConnectionType: str(entry["connection_type"]),
				Relevance:      fnum(entry["relevance"]),
				MatchedTerms:   frontmatter.ToStringList(entry["matched_terms"]),
			})
		}
	}
	if raw, ok := doc.Fields["history"].([]any); ok {
		for _, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			t.History = append(t.History, Transition{
				From:   str(entry["from"]),
				To:     str(entry["to"]),
				At:     parseTime(str(entry["at"])),
				Reason: str(entry["reason"]),
			})
		}
	}
	t.Extra = extraFields(doc.Fields, taskKeys)
	return t
}

func extraFields(fields map[string]any, known map[string]bool) map[string]any {
	var extra map[string]any
	for k, v := range fields {
		if known[k] {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = v
	}
	return extra
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func fnum(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}

var (
	codeFence   = regexp.MustCompile("(?s)```(\\w*)\\n")
	mermaidMark = regexp.MustCompile("```mermaid")
)

// DeriveMetadata classifies content. The result is derived, not
// authoritative: it is recomputed on every write.
func DeriveMetadata(content string) MemoryMetadata {
	meta := MemoryMetadata{ContentType: ContentText, Size: len(content)}
	trimmed := strings.TrimSpace(content)
	switch {
	case codeFence.MatchString(content):
		meta.ContentType = ContentCode
		if m := codeFence.FindStringSubmatch(content); len(m) > 1 && m[1] != "" && m[1] != "mermaid" {
			meta.Language = m[1]
		}
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		meta.ContentType = ContentStructured
	}
	meta.MermaidDiagram = mermaidMark.MatchString(content)
	return meta
}

// DeriveComplexity scores a memory 1–4 from size and structure.
func DeriveComplexity(m *Memory) int {
	score := 1
	if m.Metadata.Size > 500 {
		score++
	}
	if m.Metadata.ContentType != ContentText {
		score++
	}
	if m.Metadata.Size > 2000 || len(m.Tags) > 5 {
		score++
	}
	if score > 4 {
		score = 4
	}
	return score
}
