// Package httpapi is the dashboard surface: a chi REST API mirroring the
// tool semantics, a WebSocket stream of change-bus events, and Prometheus
// metrics. All writes go through the same stores as the tool surface, so the
// mock-data filter and path guard apply identically.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recallbox/recallbox/internal/linker"
	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/store"
	"github.com/recallbox/recallbox/internal/workflow"
)

// Pagination bounds.
const (
	DefaultPageLimit = 100
	MaxPageLimit     = 500
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// StatusProbe reports enhancement-endpoint availability for /api/status.
type StatusProbe interface {
	Name() string
	Available(ctx context.Context) bool
}

// Server is the HTTP surface.
type Server struct {
	memories *store.MemoryStore
	tasks    *store.TaskStore
	links    *linker.Linker
	engine   *workflow.Engine
	registry *mcp.Registry
	hub      *Hub
	probe    StatusProbe // nil when no endpoint configured
	logger   *slog.Logger
	version  string

	httpServer *http.Server
}

// Config carries the server dependencies.
type Config struct {
	Addr        string
	CORSOrigins []string
	Memories    *store.MemoryStore
	Tasks       *store.TaskStore
	Links       *linker.Linker
	Engine      *workflow.Engine
	Registry    *mcp.Registry
	Hub         *Hub
	Probe       StatusProbe
	Logger      *slog.Logger
	Version     string
}

// New builds the server and its router.
func New(cfg Config) *Server {
	s := &Server{
		memories: cfg.Memories,
		tasks:    cfg.Tasks,
		links:    cfg.Links,
		engine:   cfg.Engine,
		registry: cfg.Registry,
		hub:      cfg.Hub,
		probe:    cfg.Probe,
		logger:   cfg.Logger,
		version:  cfg.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/memories", s.listMemories)
		r.Post("/memories", s.createMemory)
		r.Get("/memories/{id}", s.getMemory)
		r.Put("/memories/{id}", s.updateMemory)
		r.Delete("/memories/{id}", s.deleteMemory)

		r.Get("/tasks", s.listTasks)
		r.Post("/tasks", s.createTask)
		r.Get("/tasks/{id}", s.getTask)
		r.Put("/tasks/{id}", s.updateTask)
		r.Delete("/tasks/{id}", s.deleteTask)

		r.Post("/mcp-tools/{name}", s.callTool)
		r.Get("/status", s.status)
	})
	r.Get("/ws", s.hub.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", s.index)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router (used by tests).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http surface listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// --- helpers ---

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response failed", "error", err)
	}
}

// writeError maps store error kinds onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrInvalidInput), errors.Is(err, store.ErrForbidden):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, store.ErrExternal):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// paginate slices one page out of the full result set.
func paginate[T any](items []T, page, limit int) ([]T, pagination) {
	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], pagination{
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasNext: end < total,
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", store.ErrInvalidInput, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty request body", store.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", store.ErrInvalidInput, err)
	}
	return nil
}

// --- memory handlers ---

func (s *Server) listMemories(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	project := r.URL.Query().Get("project")
	query := r.URL.Query().Get("q")

	var (
		all []*store.Memory
		err error
	)
	if query != "" {
		all, err = s.memories.Search(r.Context(), query, project)
	} else {
		all, err = s.memories.List(r.Context(), project, 0)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, pg := paginate(all, page, limit)
	s.writeJSON(w, http.StatusOK, map[string]any{"data": data, "pagination": pg})
}

type memoryBody struct {
	ID       string   `json:"id,omitempty"`
	Content  string   `json:"content"`
	Project  string   `json:"project,omitempty"`
	Category string   `json:"category,omitempty"`
	Priority string   `json:"priority,omitempty"`
	Status   string   `json:"status,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (s *Server) createMemory(w http.ResponseWriter, r *http.Request) {
	var body memoryBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	// Idempotent create: an explicit id that already exists returns the
	// stored record unchanged.
	if body.ID != "" {
		if existing, err := s.memories.Get(r.Context(), body.ID); err == nil {
			s.writeJSON(w, http.StatusOK, existing)
			return
		}
	}
	mem, err := s.memories.Add(r.Context(), &store.Memory{
		ID:       body.ID,
		Content:  body.Content,
		Project:  body.Project,
		Category: body.Category,
		Priority: body.Priority,
		Status:   body.Status,
		Tags:     body.Tags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, mem)
}

func (s *Server) getMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := s.memories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mem)
}

func (s *Server) updateMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	current, err := s.memories.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body memoryBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Content != "" {
		current.Content = body.Content
	}
	if body.Category != "" {
		current.Category = body.Category
	}
	if body.Priority != "" {
		current.Priority = body.Priority
	}
	if body.Status != "" {
		current.Status = body.Status
	}
	if body.Tags != nil {
		current.Tags = body.Tags
	}
	updated, err := s.memories.Update(r.Context(), current)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.memories.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	cleaned, err := s.links.CleanupMemoryRefs(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": id, "tasks_detached": cleaned})
}

// --- task handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	all, err := s.tasks.List(r.Context(), r.URL.Query().Get("project"), r.URL.Query().Get("status"), 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, pg := paginate(all, page, limit)
	s.writeJSON(w, http.StatusOK, map[string]any{"data": data, "pagination": pg})
}

type taskBody struct {
	ID             string   `json:"id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description,omitempty"`
	Project        string   `json:"project,omitempty"`
	Category       string   `json:"category,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Status         string   `json:"status,omitempty"`
	ParentTask     string   `json:"parent_task,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	AutoLink       *bool    `json:"auto_link,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	ForceComplete  bool     `json:"force_complete,omitempty"`
	SkipValidation bool     `json:"skip_validation,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.ID != "" {
		if existing, err := s.tasks.Get(r.Context(), body.ID); err == nil {
			s.writeJSON(w, http.StatusOK, existing)
			return
		}
	}
	task, err := s.tasks.Add(r.Context(), &store.Task{
		ID:          body.ID,
		Title:       body.Title,
		Description: body.Description,
		Project:     body.Project,
		Category:    body.Category,
		Priority:    body.Priority,
		ParentTask:  body.ParentTask,
		Tags:        body.Tags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if body.AutoLink == nil || *body.AutoLink {
		if _, err := s.links.AutoLink(r.Context(), task); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body taskBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.Title != "" {
		task.Title = body.Title
	}
	if body.Description != "" {
		task.Description = body.Description
	}
	if body.Category != "" {
		task.Category = body.Category
	}
	if body.Priority != "" {
		task.Priority = body.Priority
	}
	if body.Tags != nil {
		task.Tags = body.Tags
	}

	if body.Status != "" && body.Status != task.Status {
		opts := workflow.Options{ForceComplete: body.ForceComplete, SkipValidation: body.SkipValidation}
		validation, _, err := s.engine.ApplyStatus(r.Context(), task, body.Status, body.Reason, opts)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !validation.Valid {
			s.writeJSON(w, http.StatusConflict, map[string]any{"updated": false, "validation": validation})
			return
		}
	} else {
		if _, err := s.tasks.Update(r.Context(), task); err != nil {
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.tasks.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	cleaned, err := s.links.CleanupTaskRefs(r.Context(), deleted)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "memories_detached": cleaned})
}

// --- tool mirror / status / index ---

// callTool executes a registered tool and returns its result envelope, so
// the dashboard can drive any tool without a parallel REST mapping.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool := s.registry.Get(name)
	if tool == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "tool not found: " + name})
		return
	}

	defer r.Body.Close()
	args, err := io.ReadAll(io.LimitReader(r.Body, int64(mcp.MaxLineBytes)))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: reading body: %v", store.ErrInvalidInput, err))
		return
	}
	if len(args) == 0 {
		args = []byte("{}")
	}

	ctx, cancel := context.WithTimeout(r.Context(), mcp.DefaultToolTimeout)
	defer cancel()
	result, err := tool.Execute(ctx, args)
	if err != nil {
		result = mcp.ErrorResult(err.Error())
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	memories, err := s.memories.List(r.Context(), "", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), "", "", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := map[string]any{
		"version":  s.version,
		"memories": len(memories),
		"tasks":    len(tasks),
		"ai": map[string]any{
			"configured": s.probe != nil,
		},
	}
	if s.probe != nil {
		probeCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out["ai"] = map[string]any{
			"configured": true,
			"enhancer":   s.probe.Name(),
			"available":  s.probe.Available(probeCtx),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

const indexPage = `<!doctype html>
<html>
<head><title>recallbox</title></head>
<body>
<h1>recallbox</h1>
<p>The dashboard API is live. REST under <code>/api</code>, live updates on <code>/ws</code>, metrics on <code>/metrics</code>.</p>
</body>
</html>
`

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}
