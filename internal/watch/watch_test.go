package watch

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
)

func newTestBus(t *testing.T) (*Bus, string, <-chan Event) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "memories", "alpha"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tasks", "alpha", "active"), 0o755))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus, err := New(root, logger)
	require.NoError(t, err)
	bus.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, bus.Start(ctx))

	events, unsub := bus.Subscribe()
	t.Cleanup(unsub)
	return bus, root, events
}

func waitEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event within deadline")
		return Event{}
	}
}

func TestTaskWriteEmitsCreated(t *testing.T) {
	_, root, events := newTestBus(t)

	path := filepath.Join(root, "tasks", "alpha", "active", "t-1.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: t-1\ntitle: x\n---\n\nbody\n"), 0o644))

	ev := waitEvent(t, events)
	assert.Equal(t, KindCreated, ev.Kind)
	assert.Equal(t, DomainTask, ev.Domain)
	assert.Equal(t, "alpha", ev.Project)
	assert.Equal(t, "t-1", ev.ID)
}

func TestRapidWritesCoalesceToOneEvent(t *testing.T) {
	_, root, events := newTestBus(t)

	path := filepath.Join(root, "tasks", "alpha", "active", "t-2.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: t-2\ntitle: a\n---\n\none\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("---\nid: t-2\ntitle: a\n---\n\ntwo\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("---\nid: t-2\ntitle: a\n---\n\nthree\n"), 0o644))

	ev := waitEvent(t, events)
	assert.Equal(t, "t-2", ev.ID)

	select {
	case extra := <-events:
		t.Fatalf("expected one coalesced event, got a second: %+v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeleteEmitsDeleted(t *testing.T) {
	_, root, events := newTestBus(t)

	path := filepath.Join(root, "memories", "alpha", "2026-01-01-note-abc123.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: mem-1\n---\n\na note here\n"), 0o644))
	ev := waitEvent(t, events)
	assert.Equal(t, KindCreated, ev.Kind)
	assert.Equal(t, DomainMemory, ev.Domain)
	assert.Equal(t, "mem-1", ev.ID)

	require.NoError(t, os.Remove(path))
	ev = waitEvent(t, events)
	assert.Equal(t, KindDeleted, ev.Kind)
	assert.Equal(t, DomainMemory, ev.Domain)
}

func TestNewProjectDirectoryGetsWatched(t *testing.T) {
	_, root, events := newTestBus(t)

	dir := filepath.Join(root, "memories", "beta")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(150 * time.Millisecond)

	path := filepath.Join(dir, "2026-01-02-note-def456.md")
	require.NoError(t, os.WriteFile(path, []byte("---\nid: mem-2\n---\n\nanother note\n"), 0o644))

	ev := waitEvent(t, events)
	assert.Equal(t, "beta", ev.Project)
	assert.Equal(t, "mem-2", ev.ID)
}
