// Package linker maintains the bidirectional task↔memory connections. Every
// link is stored twice (task front matter and memory front matter) and any
// mutation keeps both sides consistent within one logical write: the task
// side goes first, and a failed memory-side write rolls the task back.
package linker

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/recallbox/recallbox/internal/store"
)

// Weights blend the similarity signals. They sum to 1 so the relevance
// stays in [0,1].
type Weights struct {
	Text     float64 // token jaccard of title+description vs content
	Tags     float64 // tag overlap
	Category float64 // exact category match
	Project  float64 // exact project match
	Recency  float64 // bonus for recent memories
}

// DefaultWeights are the inherited defaults.
var DefaultWeights = Weights{Text: 0.45, Tags: 0.25, Category: 0.10, Project: 0.15, Recency: 0.05}

const (
	// DefaultThreshold is the minimum relevance for an automatic link.
	DefaultThreshold = 0.2
	// DefaultMaxLinks caps automatic links per task.
	DefaultMaxLinks = 5
)

// Linker computes similarity and maintains both sides of every connection.
type Linker struct {
	Memories  *store.MemoryStore
	Tasks     *store.TaskStore
	Weights   Weights
	Threshold float64
	MaxLinks  int

	logger *slog.Logger
	now    func() time.Time
}

// New creates a Linker with the default weights and limits.
func New(memories *store.MemoryStore, tasks *store.TaskStore, logger *slog.Logger) *Linker {
	return &Linker{
		Memories:  memories,
		Tasks:     tasks,
		Weights:   DefaultWeights,
		Threshold: DefaultThreshold,
		MaxLinks:  DefaultMaxLinks,
		logger:    logger,
		now:       time.Now,
	}
}

type scoredMemory struct {
	memory  *store.Memory
	score   float64
	matched []string
}

// AutoLink scores the task against candidate memories (the task's project
// first, cross-project when that shard is empty) and links the top matches.
// Existing manual links always survive; existing auto links are kept if
// still present, so re-linking is additive.
func (l *Linker) AutoLink(ctx context.Context, task *store.Task) ([]store.MemoryConnection, error) {
	candidates, err := l.Memories.List(ctx, task.Project, 0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = l.Memories.List(ctx, "", 0)
		if err != nil {
			return nil, err
		}
	}

	var scored []scoredMemory
	for _, m := range candidates {
		if task.Connected(m.ID) {
			continue
		}
		score, matched := l.Relevance(task, m)
		if score >= l.Threshold {
			scored = append(scored, scoredMemory{memory: m, score: score, matched: matched})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score == scored[j].score {
			return scored[i].memory.Timestamp.After(scored[j].memory.Timestamp)
		}
		return scored[i].score > scored[j].score
	})

	budget := l.MaxLinks - countAuto(task.MemoryConnections)
	if budget <= 0 {
		return nil, nil
	}
	if len(scored) > budget {
		scored = scored[:budget]
	}

	var created []store.MemoryConnection
	for _, s := range scored {
		conn, err := l.link(ctx, task, s.memory, store.ConnectionAuto, s.score, s.matched)
		if err != nil {
			return created, err
		}
		created = append(created, conn)
	}
	return created, nil
}

func countAuto(conns []store.MemoryConnection) int {
	n := 0
	for _, c := range conns {
		if c.ConnectionType != store.ConnectionManual {
			n++
		}
	}
	return n
}

// Connect creates a manual link. Manual links bypass scoring and are never
// removed by auto-relinking.
func (l *Linker) Connect(ctx context.Context, task *store.Task, memory *store.Memory) (store.MemoryConnection, error) {
	if task.Connected(memory.ID) {
		return store.MemoryConnection{}, fmt.Errorf("%w: task %s already links memory %s", store.ErrConflict, task.Serial, memory.Serial())
	}
	return l.link(ctx, task, memory, store.ConnectionManual, 1.0, nil)
}

// link writes the task side, then the memory side, rolling back the task on
// a memory-side failure so the bidirectional invariant holds.
func (l *Linker) link(ctx context.Context, task *store.Task, memory *store.Memory, connType string, relevance float64, matched []string) (store.MemoryConnection, error) {
	conn := store.MemoryConnection{
		MemoryID:       memory.ID,
		MemorySerial:   memory.Serial(),
		ConnectionType: connType,
		Relevance:      relevance,
		MatchedTerms:   matched,
	}

	before := len(task.MemoryConnections)
	task.MemoryConnections = append(task.MemoryConnections, conn)
	if err := l.Tasks.Save(ctx, task); err != nil {
		task.MemoryConnections = task.MemoryConnections[:before]
		return store.MemoryConnection{}, err
	}

	memory.TaskConnections = append(memory.TaskConnections, store.TaskRef{
		TaskID:         task.ID,
		TaskSerial:     task.Serial,
		ConnectionType: connType,
		Relevance:      relevance,
	})
	if err := l.Memories.Save(ctx, memory); err != nil {
		// Roll the task side back; a half link is worse than no link.
		task.MemoryConnections = task.MemoryConnections[:before]
		memory.TaskConnections = memory.TaskConnections[:len(memory.TaskConnections)-1]
		if rbErr := l.Tasks.Save(ctx, task); rbErr != nil {
			l.logger.Error("link rollback failed", "task", task.ID, "memory", memory.ID, "error", rbErr)
		}
		return store.MemoryConnection{}, fmt.Errorf("writing memory side of link: %w", err)
	}

	l.logger.Debug("linked task to memory",
		"task", task.Serial, "memory", memory.Serial(),
		"type", connType, "relevance", relevance)
	return conn, nil
}

// Disconnect removes the link from both sides.
func (l *Linker) Disconnect(ctx context.Context, task *store.Task, memoryID string) error {
	idx := -1
	for i, c := range task.MemoryConnections {
		if c.MemoryID == memoryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: task %s has no link to memory %s", store.ErrNotFound, task.Serial, memoryID)
	}
	task.MemoryConnections = append(task.MemoryConnections[:idx], task.MemoryConnections[idx+1:]...)
	if err := l.Tasks.Save(ctx, task); err != nil {
		return err
	}

	memory, err := l.Memories.Get(ctx, memoryID)
	if err != nil {
		// Memory already gone; the task side is the only half left.
		return nil
	}
	memory.TaskConnections = removeTaskRef(memory.TaskConnections, task.ID)
	return l.Memories.Save(ctx, memory)
}

// CleanupMemoryRefs removes inbound connection entries pointing at a deleted
// memory from every referencing task.
func (l *Linker) CleanupMemoryRefs(ctx context.Context, memoryID string) (int, error) {
	tasks, err := l.Tasks.List(ctx, "", "", 0)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, t := range tasks {
		before := len(t.MemoryConnections)
		t.MemoryConnections = removeMemoryConn(t.MemoryConnections, memoryID)
		if len(t.MemoryConnections) != before {
			if err := l.Tasks.Save(ctx, t); err != nil {
				return cleaned, err
			}
			cleaned++
		}
	}
	return cleaned, nil
}

// CleanupTaskRefs removes inbound references to deleted tasks from every
// memory that carried them.
func (l *Linker) CleanupTaskRefs(ctx context.Context, taskIDs []string) (int, error) {
	gone := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		gone[id] = true
	}
	memories, err := l.Memories.List(ctx, "", 0)
	if err != nil {
		return 0, err
	}
	cleaned := 0
	for _, m := range memories {
		before := len(m.TaskConnections)
		kept := m.TaskConnections[:0]
		for _, ref := range m.TaskConnections {
			if !gone[ref.TaskID] {
				kept = append(kept, ref)
			}
		}
		m.TaskConnections = kept
		if len(m.TaskConnections) != before {
			if err := l.Memories.Save(ctx, m); err != nil {
				return cleaned, err
			}
			cleaned++
		}
	}
	return cleaned, nil
}

func removeTaskRef(refs []store.TaskRef, taskID string) []store.TaskRef {
	out := refs[:0]
	for _, r := range refs {
		if r.TaskID != taskID {
			out = append(out, r)
		}
	}
	return out
}

func removeMemoryConn(conns []store.MemoryConnection, memoryID string) []store.MemoryConnection {
	out := conns[:0]
	for _, c := range conns {
		if c.MemoryID != memoryID {
			out = append(out, c)
		}
	}
	return out
}

// Relevance computes the weighted similarity of a task and a memory,
// normalized to [0,1], plus the tokens contributing the text score.
func (l *Linker) Relevance(task *store.Task, memory *store.Memory) (float64, []string) {
	taskTokens := tokenize(task.Title + " " + task.Description)
	memTokens := tokenize(memory.Content)
	text, matched := jaccard(taskTokens, memTokens)

	tagScore := tagOverlap(task.Tags, memory.Tags)

	category := 0.0
	if task.Category != "" && strings.EqualFold(task.Category, memory.Category) {
		category = 1
	}
	project := 0.0
	if strings.EqualFold(task.Project, memory.Project) {
		project = 1
	}

	score := l.Weights.Text*text +
		l.Weights.Tags*tagScore +
		l.Weights.Category*category +
		l.Weights.Project*project +
		l.Weights.Recency*l.recencyBonus(memory.Timestamp)
	if score > 1 {
		score = 1
	}
	return score, matched
}

func (l *Linker) recencyBonus(ts time.Time) float64 {
	age := l.now().Sub(ts)
	switch {
	case age <= 24*time.Hour:
		return 1
	case age <= 7*24*time.Hour:
		return 0.6
	case age <= 30*24*time.Hour:
		return 0.3
	default:
		return 0
	}
}

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// stopwords excluded from similarity tokens.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"it": true, "this": true, "that": true, "be": true, "as": true, "at": true,
}

func tokenize(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range tokenSplit.Split(strings.ToLower(text), -1) {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

func jaccard(a, b map[string]bool) (float64, []string) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	var matched []string
	for tok := range a {
		if b[tok] {
			matched = append(matched, tok)
		}
	}
	union := len(a) + len(b) - len(matched)
	sort.Strings(matched)
	return float64(len(matched)) / float64(union), matched
}

func tagOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	shared := 0
	for _, t := range b {
		if set[strings.ToLower(t)] {
			shared++
		}
	}
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	if max == 0 {
		max = 1
	}
	return float64(shared) / float64(max)
}
