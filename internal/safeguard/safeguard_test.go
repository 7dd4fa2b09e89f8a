package safeguard

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallbox/recallbox/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckIntegrityCreatesLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, CheckIntegrity(root))

	for _, dir := range []string{"memories", "tasks", "data", "data-backups"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Second run against an existing layout is a no-op.
	require.NoError(t, CheckIntegrity(root))
}

func TestMigrateImportsLegacyStoreOnce(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, CheckIntegrity(root))
	logger := discard()

	legacy := `[
  {"id":"aaaaaaaa-0000-0000-0000-000000000001","content":"the indexer chokes on symlinked vendor trees","timestamp":"2025-03-01T10:00:00Z","project":"alpha","tags":["indexing"]},
  {"id":"aaaaaaaa-0000-0000-0000-000000000002","content":"short"},
  {"id":"aaaaaaaa-0000-0000-0000-000000000003","content":"lorem ipsum filler that must not survive import"}
]`
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "memories.json"), []byte(legacy), 0o644))

	memories, _, err := store.Open(root, "alpha", logger)
	require.NoError(t, err)
	backups := NewBackups(root, 0, logger)

	report, err := Migrate(context.Background(), root, memories, backups, logger)
	require.NoError(t, err)
	assert.True(t, report.Ran)
	assert.Equal(t, 1, report.Migrated)
	assert.Equal(t, 2, report.Skipped)

	m, err := memories.Get(context.Background(), "aaaaaaaa-0000-0000-0000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, "alpha", m.Project)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), m.Timestamp)

	// The marker gates re-runs.
	assert.FileExists(t, filepath.Join(root, "data", ".migrated"))
	report, err = Migrate(context.Background(), root, memories, backups, logger)
	require.NoError(t, err)
	assert.False(t, report.Ran)
}

func TestMigrateWithoutLegacyFileSetsMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, CheckIntegrity(root))
	logger := discard()

	memories, _, err := store.Open(root, "alpha", logger)
	require.NoError(t, err)

	report, err := Migrate(context.Background(), root, memories, NewBackups(root, 0, logger), logger)
	require.NoError(t, err)
	assert.False(t, report.Ran)
	assert.FileExists(t, filepath.Join(root, "data", ".migrated"))
}

func TestSnapshotCopiesTreesAndPrunes(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, CheckIntegrity(root))
	logger := discard()

	memDir := filepath.Join(root, "memories", "alpha")
	require.NoError(t, os.MkdirAll(memDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(memDir, "2026-01-01-note-abc123.md"), []byte("---\nid: m-1\n---\n\nnote body\n"), 0o644))

	b := NewBackups(root, 2, logger)
	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time {
		stamp = stamp.Add(time.Second)
		return stamp
	}

	first, err := b.Snapshot("dedupe run")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(first, "memories", "alpha", "2026-01-01-note-abc123.md"))

	_, err = b.Snapshot("migration")
	require.NoError(t, err)
	_, err = b.Snapshot("scheduled")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "data-backups"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NoDirExists(t, first)
}
