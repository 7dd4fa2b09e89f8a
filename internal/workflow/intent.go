package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/recallbox/recallbox/internal/store"
)

// Intent is the parsed meaning of a free-form status update.
type Intent struct {
	SuggestedStatus string   `json:"suggested_status"`
	Confidence      float64  `json:"confidence"`
	MatchedPhrase   string   `json:"matched_phrase"`
	Reasoning       string   `json:"reasoning"`
	TaskTokens      []string `json:"task_tokens,omitempty"`
}

// MinActionableConfidence is the floor below which a parsed intent is
// reported but does not by itself trigger a state change.
const MinActionableConfidence = 0.4

// statusPattern pairs a phrase with its specificity weight. More specific
// phrases push the confidence higher.
type statusPattern struct {
	re     *regexp.Regexp
	weight float64
}

var intentPatterns = map[string][]statusPattern{
	store.StatusDone: {
		{regexp.MustCompile(`(?i)\b(finished|completed)\b`), 0.9},
		{regexp.MustCompile(`(?i)\bdone with\b`), 0.9},
		{regexp.MustCompile(`(?i)\bwrapped up\b`), 0.85},
		{regexp.MustCompile(`(?i)\bshipped\b`), 0.8},
		{regexp.MustCompile(`(?i)\b(finish|complete)\b`), 0.6},
		{regexp.MustCompile(`(?i)\bdone\b`), 0.5},
	},
	store.StatusInProgress: {
		{regexp.MustCompile(`(?i)\bworking on\b`), 0.9},
		{regexp.MustCompile(`(?i)\bin progress\b`), 0.9},
		{regexp.MustCompile(`(?i)\b(started|starting|began)\b`), 0.8},
		{regexp.MustCompile(`(?i)\bcontinuing\b`), 0.6},
		{regexp.MustCompile(`(?i)\bpicking up\b`), 0.6},
	},
	store.StatusBlocked: {
		{regexp.MustCompile(`(?i)\b(blocked|stuck)\b`), 0.9},
		{regexp.MustCompile(`(?i)\bwaiting (on|for)\b`), 0.85},
		{regexp.MustCompile(`(?i)\bcan'?t (proceed|continue|move forward)\b`), 0.85},
		{regexp.MustCompile(`(?i)\bon hold\b`), 0.7},
	},
	store.StatusTodo: {
		{regexp.MustCompile(`(?i)\bback to todo\b`), 0.9},
		{regexp.MustCompile(`(?i)\brevisit later\b`), 0.8},
		{regexp.MustCompile(`(?i)\b(pause|pausing|paused)\b`), 0.7},
		{regexp.MustCompile(`(?i)\bnot (started|starting)\b`), 0.6},
	},
}

// Evaluation order keeps the parse deterministic when phrases from several
// groups appear; the most specific single match wins, count breaks ties.
var intentOrder = []string{store.StatusDone, store.StatusBlocked, store.StatusInProgress, store.StatusTodo}

var serialToken = regexp.MustCompile(`(?i)\bTASK-\d+\b`)
var quotedToken = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)

// ParseIntent detects the proposed status in a natural-language update.
func ParseIntent(input string) Intent {
	best := Intent{SuggestedStatus: "", Confidence: 0}

	for _, status := range intentOrder {
		var (
			topWeight float64
			topPhrase string
			matches   int
		)
		for _, p := range intentPatterns[status] {
			if m := p.re.FindString(input); m != "" {
				matches++
				if p.weight > topWeight {
					topWeight = p.weight
					topPhrase = m
				}
			}
		}
		if matches == 0 {
			continue
		}
		// Additional corroborating phrases add a small boost, capped at 1.
		confidence := topWeight + 0.05*float64(matches-1)
		if confidence > 1 {
			confidence = 1
		}
		if confidence > best.Confidence {
			best = Intent{
				SuggestedStatus: status,
				Confidence:      confidence,
				MatchedPhrase:   topPhrase,
				Reasoning: fmt.Sprintf("matched %d %s phrase(s); most specific: %q",
					matches, status, strings.ToLower(topPhrase)),
			}
		}
	}

	if best.SuggestedStatus == "" {
		best.Reasoning = "no status phrases recognized"
	}

	for _, m := range serialToken.FindAllString(input, -1) {
		best.TaskTokens = append(best.TaskTokens, strings.ToUpper(m))
	}
	for _, m := range quotedToken.FindAllStringSubmatch(input, -1) {
		if m[1] != "" {
			best.TaskTokens = append(best.TaskTokens, m[1])
		} else if m[2] != "" {
			best.TaskTokens = append(best.TaskTokens, m[2])
		}
	}
	return best
}

// Actionable reports whether the intent is confident enough to trigger a
// state change on its own.
func (i Intent) Actionable() bool {
	return i.SuggestedStatus != "" && i.Confidence >= MinActionableConfidence
}
