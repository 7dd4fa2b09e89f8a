package store

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Ranker scores memories against a query. Search itself returns unranked
// matches; ranking is used by context assembly (get_task_context, dropoff)
// where relevance ordering matters. The weights are inherited configuration;
// callers should rely on relative ordering, not absolute values.
type Ranker struct {
	SubstringBonus float64 // full query appears in content
	WordBonus      float64 // per query word found
	CodeBonus      float64 // content carries a fenced code block
	FilePathBonus  float64 // content mentions file paths
	ToolNameBonus  float64 // content mentions known tool names
	ErrorBonus     float64 // error/debug query meets an error marker
	HighPriority   float64
	MediumPriority float64
	CategoryBonus  float64 // category equals the query
	TagBonus       float64 // per matched tag
	now            func() time.Time
}

// NewRanker returns a Ranker with the inherited default weights.
func NewRanker() *Ranker {
	return &Ranker{
		SubstringBonus: 10,
		WordBonus:      2,
		CodeBonus:      3,
		FilePathBonus:  2,
		ToolNameBonus:  2,
		ErrorBonus:     4,
		HighPriority:   3,
		MediumPriority: 1,
		CategoryBonus:  2,
		TagBonus:       1,
		now:            time.Now,
	}
}

var (
	filePathToken = regexp.MustCompile(`(?m)(^|[\s"'(])(\.{0,2}/)?[\w.-]+/[\w./-]+\.\w{1,8}`)
	errorMarker   = regexp.MustCompile(`(?i)\b(error|exception|panic|stack trace|traceback|failed|failure)\b`)
	errorQuery    = regexp.MustCompile(`(?i)\b(error|bug|debug|fix|crash|broken|failing)\b`)
)

var toolNameTokens = []string{"git", "docker", "kubectl", "npm", "cargo", "make", "curl", "grep", "terraform"}

// Score ranks one memory against a query. Deterministic given inputs.
func (r *Ranker) Score(m *Memory, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	content := strings.ToLower(m.Content)

	var cs float64
	if q != "" && strings.Contains(content, q) {
		cs += r.SubstringBonus
	}
	words := strings.Fields(q)
	for _, w := range words {
		if strings.Contains(content, w) {
			cs += r.WordBonus
		}
	}
	if strings.Contains(m.Content, "```") {
		cs += r.CodeBonus
	}
	if filePathToken.MatchString(m.Content) {
		cs += r.FilePathBonus
	}
	for _, tool := range toolNameTokens {
		if containsWord(content, tool) {
			cs += r.ToolNameBonus
			break
		}
	}
	if errorQuery.MatchString(q) && errorMarker.MatchString(m.Content) {
		cs += r.ErrorBonus
	}
	switch m.Priority {
	case PriorityHigh:
		cs += r.HighPriority
	case PriorityMedium:
		cs += r.MediumPriority
	}
	if q != "" && strings.EqualFold(m.Category, q) {
		cs += r.CategoryBonus
	}
	for _, tag := range m.Tags {
		for _, w := range words {
			if strings.Contains(strings.ToLower(tag), w) {
				cs += r.TagBonus
				break
			}
		}
	}

	score := cs * r.timeDecay(m.Timestamp)
	return math.Round(score*10) / 10
}

// timeDecay steps down with age: ≤1 day 5, ≤7 days 3, ≤30 days 2, older 1.
func (r *Ranker) timeDecay(ts time.Time) float64 {
	age := r.now().Sub(ts)
	switch {
	case age <= 24*time.Hour:
		return 5
	case age <= 7*24*time.Hour:
		return 3
	case age <= 30*24*time.Hour:
		return 2
	default:
		return 1
	}
}

// Rank sorts memories by descending score against the query, dropping
// zero-score entries. Ties break toward the newer memory.
func (r *Ranker) Rank(memories []*Memory, query string) []*Memory {
	type scored struct {
		m     *Memory
		score float64
	}
	var out []scored
	for _, m := range memories {
		if s := r.Score(m, query); s > 0 {
			out = append(out, scored{m, s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score == out[j].score {
			return out[i].m.Timestamp.After(out[j].m.Timestamp)
		}
		return out[i].score > out[j].score
	})
	ranked := make([]*Memory, len(out))
	for i, s := range out {
		ranked[i] = s.m
	}
	return ranked
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		leftOK := start == 0 || !isWordByte(text[start-1])
		rightOK := end == len(text) || !isWordByte(text[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
