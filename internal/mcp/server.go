// Package mcp implements the stdio MCP server: line-delimited JSON-RPC 2.0
// on stdin/stdout. stdout carries protocol frames only; all logging goes to
// stderr.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"
)

// MaxLineBytes caps a single request line. Oversized lines produce a parse
// error response instead of killing the server.
const MaxLineBytes = 16 * 1024 * 1024

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// Server reads requests from in and writes responses to out until in closes.
// A malformed or failing request never terminates the loop.
type Server struct {
	registry    *Registry
	info        ServerInfo
	logger      *slog.Logger
	toolTimeout time.Duration
}

// NewServer creates a stdio server over the registry.
func NewServer(registry *Registry, info ServerInfo, logger *slog.Logger) *Server {
	return &Server{
		registry:    registry,
		info:        info,
		logger:      logger,
		toolTimeout: DefaultToolTimeout,
	}
}

// Run blocks until in is closed or the context is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	encoder := json.NewEncoder(out)

	s.logger.Info("mcp server started", "name", s.info.Name, "version", s.info.Version)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, tooLong, err := readLine(reader)
		if err == io.EOF {
			s.logger.Info("mcp server stopped (input closed)")
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading requests: %w", err)
		}
		if tooLong {
			// The frame was discarded; there is no id to echo back, so the
			// parse error carries a null id and the session continues.
			s.logger.Error("request line over size cap", "cap_bytes", MaxLineBytes)
			resp := &Response{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error: &RPCError{
					Code:    ErrCodeParse,
					Message: "Parse error",
					Data:    fmt.Sprintf("request exceeds %d bytes", MaxLineBytes),
				},
			}
			if err := encoder.Encode(resp); err != nil {
				s.logger.Error("writing response failed", "error", err)
				return fmt.Errorf("writing response: %w", err)
			}
			continue
		}
		if len(line) == 0 {
			continue
		}

		resp := s.HandleMessage(ctx, line)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.logger.Error("writing response failed", "error", err)
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
}

// readLine returns the next newline-terminated line. A line over MaxLineBytes
// is drained to its newline and reported as tooLong instead of being buffered,
// so one oversized frame cannot kill the session or exhaust memory. A final
// unterminated line before EOF is returned as a normal line.
func readLine(r *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		frag, ferr := r.ReadSlice('\n')
		if !tooLong {
			line = append(line, frag...)
		}
		switch ferr {
		case bufio.ErrBufferFull:
			if !tooLong && len(line) > MaxLineBytes {
				tooLong = true
				line = nil
			}
		case nil, io.EOF:
			if !tooLong {
				line = bytes.TrimRight(line, "\r\n")
				if len(line) > MaxLineBytes {
					tooLong = true
					line = nil
				}
			}
			if ferr == io.EOF && len(line) == 0 && !tooLong {
				return nil, false, io.EOF
			}
			return line, tooLong, nil
		default:
			return nil, false, ferr
		}
	}
}

// HandleMessage parses one JSON-RPC message and dispatches it. Notifications
// return nil.
func (s *Server) HandleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Error("unparseable request", "error", err)
		return &Response{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: ErrCodeParse, Message: "Parse error", Data: err.Error()},
		}
	}

	if req.ID == nil {
		if req.Method == "notifications/initialized" {
			s.logger.Info("client initialized")
		} else {
			s.logger.Debug("notification", "method", req.Method)
		}
		return nil
	}

	s.logger.Debug("request", "method", req.Method, "id", string(req.ID))

	result, rpcErr := s.dispatch(ctx, &req)
	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params)
	case "tools/list":
		return &ToolsListResult{Tools: s.registry.List()}, nil
	case "tools/call":
		return s.handleToolsCall(ctx, req.Params)
	case "prompts/list":
		return &PromptsListResult{Prompts: s.registry.ListPrompts()}, nil
	case "prompts/get":
		return s.handlePromptsGet(req.Params)
	case "resources/list":
		return &ResourcesListResult{Resources: s.registry.ListResources()}, nil
	case "resources/read":
		return s.handleResourcesRead(req.Params)
	default:
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}
}

func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid initialize params", Data: err.Error()}
		}
	}

	s.logger.Info("client connecting",
		"client", initParams.ClientInfo.Name,
		"client_version", initParams.ClientInfo.Version,
		"protocol_version", initParams.ProtocolVersion,
	)

	caps := ServerCapability{Tools: &ToolsCapability{}}
	if s.registry.HasPrompts() {
		caps.Prompts = &PromptsCapability{}
	}
	if s.registry.HasResources() {
		caps.Resources = &ResourcesCapability{}
	}

	return &InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities:    caps,
		ServerInfo:      s.info,
	}, nil
}

// handleToolsCall runs the named tool with a per-call deadline and panic
// recovery. Tool failures come back as isError results, not RPC errors, so
// the client sees them as tool output.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *RPCError) {
	var callParams ToolsCallParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid tools/call params", Data: err.Error()}
	}

	tool := s.registry.Get(callParams.Name)
	if tool == nil {
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("tool not found: %s", callParams.Name),
		}
	}

	start := time.Now()
	result := s.executeTool(ctx, tool, callParams.Arguments)
	s.logger.Info("tool call",
		"tool", callParams.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"is_error", result.IsError,
	)
	return result, nil
}

func (s *Server) executeTool(ctx context.Context, tool Tool, args json.RawMessage) (result *ToolsCallResult) {
	callCtx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panicked",
				"tool", tool.Name(), "panic", r, "stack", string(debug.Stack()))
			result = ErrorResult(fmt.Sprintf("internal error in %s: %v", tool.Name(), r))
		}
	}()

	res, err := tool.Execute(callCtx, args)
	if err != nil {
		if callCtx.Err() != nil {
			return ErrorResult(fmt.Sprintf("%s timed out after %s", tool.Name(), s.toolTimeout))
		}
		return ErrorResult(err.Error())
	}
	return res
}

func (s *Server) handlePromptsGet(params json.RawMessage) (any, *RPCError) {
	var getParams PromptsGetParams
	if err := json.Unmarshal(params, &getParams); err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid prompts/get params", Data: err.Error()}
	}

	prompt := s.registry.GetPrompt(getParams.Name)
	if prompt == nil {
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("prompt not found: %s", getParams.Name),
		}
	}

	result, err := prompt.Get(getParams.Arguments)
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: fmt.Sprintf("prompt error: %v", err)}
	}
	return result, nil
}

func (s *Server) handleResourcesRead(params json.RawMessage) (any, *RPCError) {
	var readParams ResourcesReadParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "Invalid resources/read params", Data: err.Error()}
	}

	resource := s.registry.GetResource(readParams.URI)
	if resource == nil {
		return nil, &RPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("resource not found: %s", readParams.URI),
		}
	}

	result, err := resource.Read()
	if err != nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: fmt.Sprintf("resource read error: %v", err)}
	}
	return result, nil
}
