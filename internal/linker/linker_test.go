package linker

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallbox/recallbox/internal/store"
)

func newTestLinker(t *testing.T) (*Linker, *store.MemoryStore, *store.TaskStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms, ts, err := store.Open(t.TempDir(), "alpha", logger)
	require.NoError(t, err)
	return New(ms, ts, logger), ms, ts
}

func TestAutoLinkCreatesBidirectionalConnections(t *testing.T) {
	l, ms, ts := newTestLinker(t)
	ctx := context.Background()

	mem, err := ms.Add(ctx, &store.Memory{
		Content: "the payment webhook retries must be idempotent, keyed on the event id",
		Tags:    []string{"payments", "webhooks"},
	})
	require.NoError(t, err)
	// An old unrelated memory: same project alone is not enough to link once
	// the recency bonus has decayed.
	noise, err := ms.Add(ctx, &store.Memory{
		Content: "office plants need watering on mondays",
	})
	require.NoError(t, err)
	noise.Timestamp = noise.Timestamp.AddDate(0, -3, 0)
	require.NoError(t, ms.Save(ctx, noise))

	task, err := ts.Add(ctx, &store.Task{
		Title:       "make the payment webhook handler idempotent",
		Description: "dedupe on event id before processing",
		Tags:        []string{"payments"},
	})
	require.NoError(t, err)

	created, err := l.AutoLink(ctx, task)
	require.NoError(t, err)
	require.Len(t, created, 1, "only the relevant memory clears the threshold")
	assert.Equal(t, mem.ID, created[0].MemoryID)
	assert.Equal(t, store.ConnectionAuto, created[0].ConnectionType)
	assert.NotEmpty(t, created[0].MatchedTerms)

	// Both sides persisted.
	gotTask, err := ts.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, gotTask.MemoryConnections, 1)
	assert.Equal(t, mem.ID, gotTask.MemoryConnections[0].MemoryID)

	gotMem, err := ms.Get(ctx, mem.ID)
	require.NoError(t, err)
	require.Len(t, gotMem.TaskConnections, 1)
	assert.Equal(t, task.ID, gotMem.TaskConnections[0].TaskID)
	assert.Equal(t, task.Serial, gotMem.TaskConnections[0].TaskSerial)
}

func TestAutoLinkIsAdditiveAndCapped(t *testing.T) {
	l, ms, ts := newTestLinker(t)
	l.MaxLinks = 2
	ctx := context.Background()

	for _, content := range []string{
		"indexing pipeline emits duplicate rows when the cursor resets",
		"the indexing cursor is stored per shard in the checkpoints table",
		"cursor resets happen after a leader election in the indexing fleet",
	} {
		_, err := ms.Add(ctx, &store.Memory{Content: content, Tags: []string{"indexing"}})
		require.NoError(t, err)
	}

	task, err := ts.Add(ctx, &store.Task{
		Title: "fix duplicate rows from indexing cursor resets",
		Tags:  []string{"indexing"},
	})
	require.NoError(t, err)

	created, err := l.AutoLink(ctx, task)
	require.NoError(t, err)
	assert.Len(t, created, 2, "capped at MaxLinks")

	// A second pass has no budget left and must not duplicate links.
	again, err := l.AutoLink(ctx, task)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestManualLinkSurvivesAutoRelink(t *testing.T) {
	l, ms, ts := newTestLinker(t)
	l.MaxLinks = 1
	ctx := context.Background()

	manual, err := ms.Add(ctx, &store.Memory{Content: "completely unrelated note about the holiday calendar"})
	require.NoError(t, err)
	relevant, err := ms.Add(ctx, &store.Memory{
		Content: "session tokens rotate hourly, refresh happens in the auth middleware",
	})
	require.NoError(t, err)

	task, err := ts.Add(ctx, &store.Task{Title: "rotate session tokens in the auth middleware"})
	require.NoError(t, err)

	_, err = l.Connect(ctx, task, manual)
	require.NoError(t, err)

	// The manual link does not consume the auto budget.
	created, err := l.AutoLink(ctx, task)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, relevant.ID, created[0].MemoryID)

	got, err := ts.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, got.MemoryConnections, 2)

	// Connecting the same memory twice is a conflict.
	_, err = l.Connect(ctx, got, manual)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestCleanupMemoryRefsDetachesTasks(t *testing.T) {
	l, ms, ts := newTestLinker(t)
	ctx := context.Background()

	mem, err := ms.Add(ctx, &store.Memory{Content: "the migration toggles live behind the ops flag service"})
	require.NoError(t, err)
	task, err := ts.Add(ctx, &store.Task{Title: "remove the ops flag for migration toggles"})
	require.NoError(t, err)
	_, err = l.Connect(ctx, task, mem)
	require.NoError(t, err)

	require.NoError(t, ms.Delete(ctx, mem.ID))
	cleaned, err := l.CleanupMemoryRefs(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	got, err := ts.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MemoryConnections)
}

func TestCleanupTaskRefsDetachesMemories(t *testing.T) {
	l, ms, ts := newTestLinker(t)
	ctx := context.Background()

	mem, err := ms.Add(ctx, &store.Memory{Content: "rate limiter buckets are sized per api key tier"})
	require.NoError(t, err)
	task, err := ts.Add(ctx, &store.Task{Title: "resize rate limiter buckets for the new tier"})
	require.NoError(t, err)
	_, err = l.Connect(ctx, task, mem)
	require.NoError(t, err)

	deleted, err := ts.Delete(ctx, task.ID)
	require.NoError(t, err)
	cleaned, err := l.CleanupTaskRefs(ctx, deleted)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	got, err := ms.Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Empty(t, got.TaskConnections)
}

func TestRelevanceOrderingAndThreshold(t *testing.T) {
	l, _, _ := newTestLinker(t)

	task := &store.Task{
		Title:   "harden the backup restore path",
		Project: "alpha",
		Tags:    []string{"backups"},
	}

	strong := &store.Memory{
		Content: "restore from backup fails when the archive spans volumes; harden the path",
		Project: "alpha",
		Tags:    []string{"backups"},
	}
	weak := &store.Memory{
		Content: "the restore screen needs a progress bar",
		Project: "alpha",
	}

	strongScore, matched := l.Relevance(task, strong)
	weakScore, _ := l.Relevance(task, weak)
	assert.Greater(t, strongScore, weakScore)
	assert.Contains(t, matched, "backup")
	assert.LessOrEqual(t, strongScore, 1.0)
}
