package store

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStores(t *testing.T) (*MemoryStore, *TaskStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ms, ts, err := Open(t.TempDir(), "alpha", logger)
	require.NoError(t, err)
	return ms, ts
}

func TestAddMemoryContentLengthBoundary(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	_, err := ms.Add(ctx, &Memory{Content: "abcdefghi"})
	require.ErrorIs(t, err, ErrInvalidInput, "nine characters is below the floor")

	m, err := ms.Add(ctx, &Memory{Content: "abcdefghij"})
	require.NoError(t, err, "ten characters is exactly the floor")
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "alpha", m.Project)
	assert.Equal(t, PriorityMedium, m.Priority)
	assert.Equal(t, MemoryActive, m.Status)
}

func TestMockDataFilterIsCaseInsensitive(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	for _, content := range []string{
		"LOREM IPSUM dolor sit amet and so on",
		"this is just PLACEHOLDER text for now",
		"generated Fake Data for the demo environment",
	} {
		_, err := ms.Add(ctx, &Memory{Content: content})
		assert.ErrorIs(t, err, ErrInvalidInput, "content: %s", content)
	}

	// The filter also covers tags and project.
	_, err := ms.Add(ctx, &Memory{Content: "a legitimate observation", Tags: []string{"Mock-42"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdatePreservesIdentityAndTimestamp(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	m, err := ms.Add(ctx, &Memory{Content: "the cache invalidation bug came from clock skew"})
	require.NoError(t, err)
	origID, origTS := m.ID, m.Timestamp

	m.Content = "the cache invalidation bug came from clock skew, fixed by using monotonic reads"
	m.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	m.ID = origID

	updated, err := ms.Update(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, origID, updated.ID)
	assert.Equal(t, origTS, updated.Timestamp, "creation timestamp is never mutated")

	reread, err := ms.Get(ctx, origID)
	require.NoError(t, err)
	assert.Equal(t, origTS, reread.Timestamp)
	assert.Contains(t, reread.Content, "monotonic reads")
}

func TestAccessCountMonotonic(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	m, err := ms.Add(ctx, &Memory{Content: "the staging loadbalancer drops idle websockets"})
	require.NoError(t, err)
	require.NoError(t, ms.RecordAccess(ctx, m))
	require.NoError(t, ms.RecordAccess(ctx, m))

	got, err := ms.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount)

	// An update carrying a stale counter cannot roll it back.
	got.AccessCount = 0
	got.Content = "the staging loadbalancer drops idle websockets after 60s"
	updated, err := ms.Update(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.AccessCount)
}

func TestListRejectsTraversalProject(t *testing.T) {
	ms, _ := newTestStores(t)

	_, err := ms.List(context.Background(), "../etc", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ms.Search(context.Background(), "anything", "../etc")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteMemoryTwiceReturnsNotFound(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	m, err := ms.Add(ctx, &Memory{Content: "we pin the protobuf compiler version in CI"})
	require.NoError(t, err)

	require.NoError(t, ms.Delete(ctx, m.ID))
	err = ms.Delete(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownFrontMatterKeysSurviveRewrite(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	m, err := ms.Add(ctx, &Memory{Content: "the queue consumer must ack before the visibility timeout"})
	require.NoError(t, err)

	// Simulate a human adding their own front-matter key.
	raw, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	edited := strings.Replace(string(raw), "---\n", "---\nreviewer: sam\n", 1)
	require.NoError(t, os.WriteFile(m.Path(), []byte(edited), 0o644))

	got, err := ms.Get(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Extra)
	assert.Equal(t, "sam", got.Extra["reviewer"])

	got.Content = got.Content + " or the message redelivers"
	_, err = ms.Update(ctx, got)
	require.NoError(t, err)

	rewritten, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	assert.Contains(t, string(rewritten), "reviewer: sam")
}

func TestDeduplicatePreviewThenApply(t *testing.T) {
	ms, _ := newTestStores(t)
	ctx := context.Background()

	m, err := ms.Add(ctx, &Memory{Content: "duplicate detection keys on the front matter id"})
	require.NoError(t, err)

	// Fabricate a stale duplicate file carrying the same id.
	dupPath := filepath.Join(filepath.Dir(m.Path()), "2020-01-01-old-copy-abc123.md")
	raw, err := os.ReadFile(m.Path())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dupPath, raw, 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(dupPath, old, old))

	report, err := ms.Deduplicate(ctx, true)
	require.NoError(t, err)
	assert.True(t, report.Preview)
	assert.Equal(t, 1, report.Groups)
	require.Len(t, report.Removed, 1)
	assert.Equal(t, dupPath, report.Removed[0].Path)
	assert.FileExists(t, dupPath, "preview must not delete")

	report, err = ms.Deduplicate(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Removed, 1)
	assert.NoFileExists(t, dupPath)

	// The surviving copy is still resolvable.
	_, err = ms.Get(ctx, m.ID)
	require.NoError(t, err)
}

func TestTaskStatusShardFollowsStatus(t *testing.T) {
	_, ts := newTestStores(t)
	ctx := context.Background()

	task, err := ts.Add(ctx, &Task{Title: "upgrade the ingress controller"})
	require.NoError(t, err)
	assert.Contains(t, task.Path(), string(filepath.Separator)+"active"+string(filepath.Separator))
	assert.Equal(t, "TASK-00001", task.Serial)

	task.Status = StatusBlocked
	require.NoError(t, ts.Save(ctx, task))
	assert.Contains(t, task.Path(), string(filepath.Separator)+"blocked"+string(filepath.Separator))

	got, err := ts.Get(ctx, "task-1")
	require.NoError(t, err, "serial lookup tolerates case and zero-padding")
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, StatusBlocked, got.Status)
}

func TestTaskDeleteCascadesToSubtasks(t *testing.T) {
	_, ts := newTestStores(t)
	ctx := context.Background()

	parent, err := ts.Add(ctx, &Task{Title: "migrate the billing tables"})
	require.NoError(t, err)
	child, err := ts.Add(ctx, &Task{Title: "write the rollback script", ParentTask: parent.ID})
	require.NoError(t, err)

	deleted, err := ts.Delete(ctx, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parent.ID, child.ID}, deleted)

	_, err = ts.Get(ctx, child.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRankerRelativeOrdering(t *testing.T) {
	r := NewRanker()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	fresh := &Memory{
		Content:   "tracked down the error in the retry loop of the uploader",
		Priority:  PriorityHigh,
		Timestamp: now.Add(-2 * time.Hour),
	}
	stale := &Memory{
		Content:   "the uploader retry loop occasionally misbehaves",
		Priority:  PriorityLow,
		Timestamp: now.Add(-90 * 24 * time.Hour),
	}
	unrelated := &Memory{
		Content:   "lunch menu rotates on thursdays",
		Timestamp: now.Add(-90 * 24 * time.Hour),
	}

	ranked := r.Rank([]*Memory{unrelated, stale, fresh}, "uploader retry error")
	require.NotEmpty(t, ranked)
	assert.Same(t, fresh, ranked[0], "recent high-priority match outranks the stale one")

	for _, m := range ranked {
		assert.NotSame(t, unrelated, m, "zero-score memories are dropped")
	}
}

func TestDeriveMetadataClassifiesContent(t *testing.T) {
	code := DeriveMetadata("fix applied:\n```go\nfunc main() {}\n```\n")
	assert.Equal(t, ContentCode, code.ContentType)
	assert.Equal(t, "go", code.Language)

	structured := DeriveMetadata(`{"retries": 3, "backoff_ms": 200}`)
	assert.Equal(t, ContentStructured, structured.ContentType)

	plain := DeriveMetadata("plain prose about the deployment window")
	assert.Equal(t, ContentText, plain.ContentType)
}
