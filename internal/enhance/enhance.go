// Package enhance generates display metadata for memories: a short title and
// a summary, stored back as reserved-prefix tags. Two implementations: a
// deterministic rule-based extractor and an optional local inference
// endpoint.
package enhance

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/recallbox/recallbox/internal/store"
)

// Display metadata limits.
const (
	MaxTitleLen   = 60
	MaxSummaryLen = 150
)

// Enhancement is a generated title/summary pair, both within the limits.
type Enhancement struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Enhancer produces display metadata for a memory.
type Enhancer interface {
	Name() string
	Enhance(ctx context.Context, m *store.Memory) (Enhancement, error)
}

// RuleBased extracts a title from the first heading or sentence and a
// sentence-bounded abstract as summary. Deterministic, no I/O.
type RuleBased struct{}

func (RuleBased) Name() string { return "rule-based" }

var headingLine = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)

func (RuleBased) Enhance(_ context.Context, m *store.Memory) (Enhancement, error) {
	content := strings.TrimSpace(m.Content)

	title := ""
	if h := headingLine.FindStringSubmatch(content); h != nil {
		title = strings.TrimSpace(h[1])
	} else {
		title = firstSentence(content)
	}
	title = clampToWord(capitalize(title), MaxTitleLen)

	summary := sentenceAbstract(stripMarkdown(content), MaxSummaryLen)
	return Enhancement{Title: title, Summary: summary}, nil
}

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

func firstSentence(text string) string {
	text = strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if loc := sentenceEnd.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[:loc[0]+1])
	}
	return text
}

// sentenceAbstract accumulates whole sentences while they fit the limit,
// falling back to a word-bounded clamp when even the first one is too long.
func sentenceAbstract(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}

	var b strings.Builder
	rest := text
	for {
		loc := sentenceEnd.FindStringIndex(rest)
		if loc == nil {
			break
		}
		sentence := rest[:loc[0]+1]
		if b.Len()+len(sentence) > limit {
			break
		}
		b.WriteString(sentence)
		rest = strings.TrimSpace(rest[loc[1]:])
		if rest == "" {
			break
		}
		b.WriteString(" ")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		out = clampToWord(text, limit)
	}
	return out
}

var markdownNoise = regexp.MustCompile("(?s)```.*?```|`[^`]*`|[*_#>]")

func stripMarkdown(text string) string {
	return strings.TrimSpace(markdownNoise.ReplaceAllString(text, " "))
}

func clampToWord(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

func capitalize(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			return s[:i] + string(unicode.ToUpper(r)) + s[i+len(string(r)):]
		}
		if !unicode.IsSpace(r) {
			break
		}
	}
	return s
}

// Apply writes the enhancement back as reserved-prefix tags, replacing any
// previous generated pair.
func Apply(m *store.Memory, e Enhancement) {
	kept := m.Tags[:0]
	for _, t := range m.Tags {
		if strings.HasPrefix(t, store.TagTitlePrefix) || strings.HasPrefix(t, store.TagSummaryPrefix) {
			continue
		}
		kept = append(kept, t)
	}
	m.Tags = append(kept,
		store.TagTitlePrefix+e.Title,
		store.TagSummaryPrefix+e.Summary,
	)
}

// Enhanced reports whether the memory already carries both generated tags.
func Enhanced(m *store.Memory) bool {
	return m.DisplayTag(store.TagTitlePrefix) != "" && m.DisplayTag(store.TagSummaryPrefix) != ""
}
