package enhance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallbox/recallbox/internal/store"
)

func TestRuleBasedPrefersHeading(t *testing.T) {
	e, err := RuleBased{}.Enhance(context.Background(), &store.Memory{
		Content: "# Retry budget decision\n\nWe cap retries at three attempts with exponential backoff.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Retry budget decision", e.Title)
	assert.Contains(t, e.Summary, "three attempts")
}

func TestRuleBasedFallsBackToFirstSentence(t *testing.T) {
	e, err := RuleBased{}.Enhance(context.Background(), &store.Memory{
		Content: "the deploy gate now requires a green smoke run. Everything else is advisory.",
	})
	require.NoError(t, err)
	assert.Equal(t, "The deploy gate now requires a green smoke run.", e.Title)
}

func TestEnhancementRespectsLimits(t *testing.T) {
	long := strings.Repeat("observability dashboards need owners ", 20)
	e, err := RuleBased{}.Enhance(context.Background(), &store.Memory{Content: long})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(e.Title), MaxTitleLen)
	assert.LessOrEqual(t, len(e.Summary), MaxSummaryLen)
	assert.NotEmpty(t, e.Title)
	assert.NotEmpty(t, e.Summary)

	// Word-bounded clamp: the title never ends mid-word.
	assert.False(t, strings.HasSuffix(e.Title, "observabilit"))
}

func TestSummaryKeepsWholeSentences(t *testing.T) {
	content := "First finding about the cache. Second finding about the queue. " +
		strings.Repeat("A very long trailing sentence that cannot possibly fit within the limit anymore. ", 3)
	e, err := RuleBased{}.Enhance(context.Background(), &store.Memory{Content: content})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(e.Summary), MaxSummaryLen)
	assert.True(t, strings.HasSuffix(e.Summary, "."), "summary ends on a sentence boundary: %q", e.Summary)
}

func TestApplyReplacesPreviousPair(t *testing.T) {
	m := &store.Memory{Tags: []string{"keepme", "title:old title", "summary:old summary"}}
	Apply(m, Enhancement{Title: "new title", Summary: "new summary"})

	assert.ElementsMatch(t, []string{"keepme", "title:new title", "summary:new summary"}, m.Tags)
	assert.True(t, Enhanced(m))
	assert.Equal(t, "new title", m.DisplayTag(store.TagTitlePrefix))
}

func TestEnhancedRequiresBothTags(t *testing.T) {
	assert.False(t, Enhanced(&store.Memory{Tags: []string{"title:only a title"}}))
	assert.False(t, Enhanced(&store.Memory{}))
}

// failEvery is an Enhancer that fails for contents carrying a marker.
type failEvery struct{}

func (failEvery) Name() string { return "flaky" }

func (failEvery) Enhance(_ context.Context, m *store.Memory) (Enhancement, error) {
	if strings.Contains(m.Content, "poison") {
		return Enhancement{}, fmt.Errorf("%w: inference refused", store.ErrExternal)
	}
	return Enhancement{Title: "t", Summary: "s"}, nil
}

func TestBatchCollectsPartialFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms, _, err := store.Open(t.TempDir(), "alpha", logger)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ms.Add(ctx, &store.Memory{Content: "healthy record about connection pooling"})
	require.NoError(t, err)
	_, err = ms.Add(ctx, &store.Memory{Content: "poison record that the enhancer rejects"})
	require.NoError(t, err)
	already, err := ms.Add(ctx, &store.Memory{Content: "previously enhanced record about sharding"})
	require.NoError(t, err)
	Apply(already, Enhancement{Title: "done", Summary: "done"})
	require.NoError(t, ms.Save(ctx, already))

	b := NewBatcher(ms, failEvery{}, logger)
	report, err := b.Run(ctx, BatchOptions{Project: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 1, report.Enhanced)
	assert.Equal(t, 1, report.Skipped, "already-enhanced records are skipped without force")
	require.Len(t, report.Failed, 1)
	assert.Contains(t, report.Failed[0].Error, "inference refused")

	// Force reprocesses the already-enhanced record.
	report, err = b.Run(ctx, BatchOptions{Project: "alpha", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Enhanced)
	assert.Zero(t, report.Skipped)
}
