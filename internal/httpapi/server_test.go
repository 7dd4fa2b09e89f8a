package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallbox/recallbox/internal/linker"
	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/store"
	"github.com/recallbox/recallbox/internal/tools/maintenance"
	"github.com/recallbox/recallbox/internal/watch"
	"github.com/recallbox/recallbox/internal/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *store.TaskStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()

	memories, tasks, err := store.Open(root, "alpha", logger)
	require.NoError(t, err)

	links := linker.New(memories, tasks, logger)
	engine := workflow.NewEngine(tasks, memories, logger)

	registry := mcp.NewRegistry()
	registry.Register(maintenance.NewTest("dev"))

	bus, err := watch.New(root, logger)
	require.NoError(t, err)
	hub := NewHub(bus, logger)

	srv := New(Config{
		Addr:     "127.0.0.1:0",
		Memories: memories,
		Tasks:    tasks,
		Links:    links,
		Engine:   engine,
		Registry: registry,
		Hub:      hub,
		Logger:   logger,
		Version:  "dev",
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, memories, tasks
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp, decoded
}

func TestMemoryLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, ts.URL+"/api/memories", map[string]any{
		"content": "decided to keep the retry budget at three attempts",
		"project": "alpha",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	resp, fetched := doJSON(t, http.MethodGet, ts.URL+"/api/memories/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created["content"], fetched["content"])

	resp, updated := doJSON(t, http.MethodPut, ts.URL+"/api/memories/"+id, map[string]any{
		"priority": "high",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "high", updated["priority"])
	assert.Equal(t, id, updated["id"])

	resp, deleted := doJSON(t, http.MethodDelete, ts.URL+"/api/memories/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, deleted["deleted"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/memories/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateMemoryIdempotentWithExplicitID(t *testing.T) {
	ts, _, _ := newTestServer(t)

	body := map[string]any{
		"id":      "11111111-2222-3333-4444-555555555555",
		"content": "the deploy pipeline now gates on the smoke suite",
	}
	resp, first := doJSON(t, http.MethodPost, ts.URL+"/api/memories", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, second := doJSON(t, http.MethodPost, ts.URL+"/api/memories", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, first["timestamp"], second["timestamp"])
}

func TestMockContentRejected(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/memories", map[string]any{
		"content": "lorem ipsum dolor sit amet, filler for the layout",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "mock-data filter")
}

func TestListMemoriesPagination(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for i := 0; i < 5; i++ {
		resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/memories", map[string]any{
			"content": fmt.Sprintf("observation number %d about the ingestion path", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/memories?limit=2&page=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, ok := body["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 2)

	pg, ok := body["pagination"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), pg["page"])
	assert.Equal(t, float64(2), pg["limit"])
	assert.Equal(t, float64(5), pg["total"])
	assert.Equal(t, true, pg["hasNext"])
}

func TestTaskStatusChangeThroughWorkflow(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, task := doJSON(t, http.MethodPost, ts.URL+"/api/tasks", map[string]any{
		"title":     "rotate the signing keys",
		"auto_link": false,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := task["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "todo", task["status"])

	resp, updated := doJSON(t, http.MethodPut, ts.URL+"/api/tasks/"+id, map[string]any{
		"status": "in_progress",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", updated["status"])

	// Unknown status is refused with the validation payload, not applied.
	resp, body := doJSON(t, http.MethodPut, ts.URL+"/api/tasks/"+id, map[string]any{
		"status": "paused",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["updated"])

	resp, after := doJSON(t, http.MethodGet, ts.URL+"/api/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", after["status"])
}

func TestToolMirror(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/mcp-tools/test_tool", map[string]any{
		"message": "ping",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	content, ok := body["content"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, content)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/mcp-tools/no_such_tool", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "no_such_tool")
}

func TestStoppedHubRejectsLateSubscribers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus, err := watch.New(t.TempDir(), logger)
	require.NoError(t, err)
	hub := NewHub(bus, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err, "the upgrade itself still completes")
	defer conn.Close()

	// A stopped hub closes the connection instead of parking the handler
	// goroutine on the register channel.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dev", body["version"])
	ai, ok := body["ai"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, ai["configured"])
}
