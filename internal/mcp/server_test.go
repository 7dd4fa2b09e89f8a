package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	name string
	fn   func(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error)
}

func (f *fakeTool) Name() string                 { return f.name }
func (f *fakeTool) Description() string          { return "test fixture" }
func (f *fakeTool) InputSchema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error) {
	return f.fn(ctx, params)
}

func newTestServer(tools ...Tool) *Server {
	reg := NewRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(reg, ServerInfo{Name: "recallbox-test", Version: "0.0.0"}, logger)
}

func runLines(t *testing.T, s *Server, lines ...string) []Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, s.Run(context.Background(), in, &out))

	var responses []Response
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	for scanner.Scan() {
		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestMalformedLineGetsParseErrorAndLoopContinues(t *testing.T) {
	s := newTestServer()
	got := runLines(t, s,
		`{this is not json`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, ErrCodeParse, got[0].Error.Code)
	assert.Nil(t, got[1].Error)
}

func TestOversizedLineGetsParseErrorAndLoopContinues(t *testing.T) {
	s := newTestServer()
	got := runLines(t, s,
		strings.Repeat("x", MaxLineBytes+1),
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)
	require.Len(t, got, 2, "session must survive the oversized frame")
	require.NotNil(t, got[0].Error)
	assert.Equal(t, ErrCodeParse, got[0].Error.Code)
	assert.Equal(t, "null", string(got[0].ID))
	assert.Nil(t, got[1].Error)
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer()
	got := runLines(t, s, `{"jsonrpc":"2.0","id":7,"method":"tasks/teleport"}`)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, ErrCodeMethodNotFound, got[0].Error.Code)
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	s := newTestServer()
	got := runLines(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Empty(t, got)
}

func TestInitializeAdvertisesCapabilities(t *testing.T) {
	s := newTestServer()
	got := runLines(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"c"}}}`)
	require.Len(t, got, 1)
	require.Nil(t, got[0].Error)

	raw, err := json.Marshal(got[0].Result)
	require.NoError(t, err)
	var init InitializeResult
	require.NoError(t, json.Unmarshal(raw, &init))
	assert.Equal(t, "2024-11-05", init.ProtocolVersion)
	assert.Equal(t, "recallbox-test", init.ServerInfo.Name)
	assert.NotNil(t, init.Capabilities.Tools)
	assert.Nil(t, init.Capabilities.Prompts)
}

func TestToolErrorBecomesIsErrorResult(t *testing.T) {
	s := newTestServer(&fakeTool{
		name: "boom",
		fn: func(context.Context, json.RawMessage) (*ToolsCallResult, error) {
			return nil, errors.New("disk on fire")
		},
	})
	got := runLines(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"boom"}}`)
	require.Len(t, got, 1)
	require.Nil(t, got[0].Error, "tool failures are results, not RPC errors")

	raw, err := json.Marshal(got[0].Result)
	require.NoError(t, err)
	var res ToolsCallResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].Text, "disk on fire")
}

func TestToolPanicIsRecovered(t *testing.T) {
	s := newTestServer(&fakeTool{
		name: "panicky",
		fn: func(context.Context, json.RawMessage) (*ToolsCallResult, error) {
			panic("nil map write")
		},
	})
	got := runLines(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"panicky"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, got, 2, "server must survive the panic")

	raw, err := json.Marshal(got[0].Result)
	require.NoError(t, err)
	var res ToolsCallResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "panicky")
}

func TestUnknownToolIsMethodNotFound(t *testing.T) {
	s := newTestServer()
	got := runLines(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Error)
	assert.Equal(t, ErrCodeMethodNotFound, got[0].Error.Code)
}
