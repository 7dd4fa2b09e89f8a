package workflow

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallbox/recallbox/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *store.TaskStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms, ts, err := store.Open(t.TempDir(), "testproj", logger)
	require.NoError(t, err)
	return NewEngine(ts, ms, logger), ms, ts
}

func TestAllowedTransitions(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{store.StatusTodo, store.StatusInProgress, true},
		{store.StatusTodo, store.StatusBlocked, true},
		{store.StatusTodo, store.StatusDone, true},
		{store.StatusInProgress, store.StatusDone, true},
		{store.StatusInProgress, store.StatusTodo, true},
		{store.StatusBlocked, store.StatusInProgress, true},
		{store.StatusBlocked, store.StatusDone, true},
		{store.StatusDone, store.StatusInProgress, true},
		{store.StatusDone, store.StatusTodo, true},
		{store.StatusDone, store.StatusDone, true}, // tolerated no-op
		{store.StatusDone, store.StatusBlocked, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Allowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	eng, _, ts := newTestEngine(t)
	ctx := context.Background()
	task, err := ts.Add(ctx, &store.Task{Title: "ship release notes"})
	require.NoError(t, err)

	v, err := eng.ValidateTransition(ctx, task, "cancelled", Options{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	require.Len(t, v.BlockingIssues, 1)
	assert.Contains(t, v.BlockingIssues[0], "cancelled")
}

func TestValidateTransitionSameStatusIsNoOp(t *testing.T) {
	eng, _, ts := newTestEngine(t)
	ctx := context.Background()
	task, err := ts.Add(ctx, &store.Task{Title: "tune cache eviction", Status: store.StatusDone})
	require.NoError(t, err)

	v, err := eng.ValidateTransition(ctx, task, store.StatusDone, Options{})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Empty(t, v.BlockingIssues)
	assert.Contains(t, v.WorkflowAnalysis, "already done")
}

func TestValidateCompletionBlockedBySubtasks(t *testing.T) {
	eng, _, ts := newTestEngine(t)
	ctx := context.Background()

	parent, err := ts.Add(ctx, &store.Task{Title: "migrate settings loader"})
	require.NoError(t, err)
	_, err = ts.Add(ctx, &store.Task{Title: "write loader tests", ParentTask: parent.ID})
	require.NoError(t, err)

	// Re-read the parent so its subtasks list is current.
	parent, err = ts.Get(ctx, parent.ID)
	require.NoError(t, err)

	v, err := eng.ValidateTransition(ctx, parent, store.StatusDone, Options{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.BlockingIssues)

	forced, err := eng.ValidateTransition(ctx, parent, store.StatusDone, Options{ForceComplete: true})
	require.NoError(t, err)
	assert.True(t, forced.Valid)
}

func TestValidateCompletionBlockedByMemoryErrorMarkers(t *testing.T) {
	eng, ms, ts := newTestEngine(t)
	ctx := context.Background()

	mem, err := ms.Add(ctx, &store.Memory{
		Content: "deploy still failing with a panic in the retry loop",
		Project: "testproj",
	})
	require.NoError(t, err)

	task, err := ts.Add(ctx, &store.Task{Title: "stabilize deploys", Status: store.StatusInProgress})
	require.NoError(t, err)
	task.MemoryConnections = append(task.MemoryConnections, store.MemoryConnection{
		MemoryID: mem.ID, MemorySerial: mem.Serial(), ConnectionType: store.ConnectionManual, Relevance: 1,
	})
	require.NoError(t, ts.Save(ctx, task))

	v, err := eng.ValidateTransition(ctx, task, store.StatusDone, Options{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.BlockingIssues)

	skipped, err := eng.ValidateTransition(ctx, task, store.StatusDone, Options{SkipValidation: true})
	require.NoError(t, err)
	assert.True(t, skipped.Valid)
}

func TestValidateTodoStraightToDoneWarns(t *testing.T) {
	eng, _, ts := newTestEngine(t)
	ctx := context.Background()
	task, err := ts.Add(ctx, &store.Task{Title: "bump chi to v5.2"})
	require.NoError(t, err)

	v, err := eng.ValidateTransition(ctx, task, store.StatusDone, Options{})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.NotEmpty(t, v.Warnings)
	assert.InDelta(t, 0.8, v.Confidence, 1e-9)
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus string
		actionable bool
	}{
		{"finished", "I finished the auth refactor", store.StatusDone, true},
		{"working on", "working on the importer now", store.StatusInProgress, true},
		{"blocked waiting", "blocked, waiting on the schema review", store.StatusBlocked, true},
		{"pause", "pausing this until next sprint", store.StatusTodo, true},
		{"ambiguous", "had a quick look at the logs", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseIntent(tc.input)
			assert.Equal(t, tc.wantStatus, got.SuggestedStatus)
			assert.Equal(t, tc.actionable, got.Actionable())
		})
	}
}

func TestParseIntentExtractsTaskTokens(t *testing.T) {
	got := ParseIntent(`finished task-001 and started "importer cleanup"`)
	assert.Equal(t, store.StatusDone, got.SuggestedStatus)
	assert.Contains(t, got.TaskTokens, "TASK-001")
	assert.Contains(t, got.TaskTokens, "importer cleanup")
}

func TestAnalyzeTotalsAndRates(t *testing.T) {
	eng, _, ts := newTestEngine(t)
	ctx := context.Background()

	_, err := ts.Add(ctx, &store.Task{Title: "write docs"})
	require.NoError(t, err)
	_, err = ts.Add(ctx, &store.Task{Title: "refactor router", Status: store.StatusInProgress})
	require.NoError(t, err)
	done, err := ts.Add(ctx, &store.Task{Title: "fix flaky watcher", Status: store.StatusDone})
	require.NoError(t, err)
	now := done.Updated
	done.Completed = &now
	require.NoError(t, ts.Save(ctx, done))

	a, err := eng.Analyze(ctx, "week", "")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Totals[store.StatusTodo])
	assert.Equal(t, 1, a.Totals[store.StatusInProgress])
	assert.Equal(t, 1, a.Totals[store.StatusDone])
	assert.InDelta(t, 1.0/3.0, a.CompletionRate, 1e-9)
	assert.Equal(t, 1, a.WorkInProgress)
	assert.Greater(t, a.ThroughputPerDay, 0.0)
}

func TestAnalyzeRejectsUnknownRange(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.Analyze(context.Background(), "decade", "")
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
