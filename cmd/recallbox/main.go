// Command recallbox runs the persistent memory & task MCP server.
//
// It speaks MCP (JSON-RPC 2.0 over stdio) to the client that launched it
// and, unless disabled, serves the dashboard HTTP/WebSocket surface on the
// configured port. All state lives as markdown files under the store root.
//
// Optional environment variables (all have defaults; data/settings.json
// under the store root carries the same fields):
//
//	RECALLBOX_ROOT             store root (default: ~/.recallbox)
//	RECALLBOX_DEFAULT_PROJECT  project for untagged records
//	RECALLBOX_HTTP_PORT        dashboard port (default: 8020)
//	RECALLBOX_HTTP_ENABLED     "false" disables the dashboard surface
//	RECALLBOX_AI_ENDPOINT      local inference endpoint (e.g. Ollama)
//	RECALLBOX_AI_MODEL         inference model id
//	RECALLBOX_LOG_LEVEL        debug, info, warn, error (default: info)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/recallbox/recallbox/internal/config"
	"github.com/recallbox/recallbox/internal/content"
	"github.com/recallbox/recallbox/internal/enhance"
	"github.com/recallbox/recallbox/internal/httpapi"
	"github.com/recallbox/recallbox/internal/linker"
	"github.com/recallbox/recallbox/internal/mcp"
	"github.com/recallbox/recallbox/internal/safeguard"
	"github.com/recallbox/recallbox/internal/scheduler"
	"github.com/recallbox/recallbox/internal/store"
	enhancetools "github.com/recallbox/recallbox/internal/tools/enhance"
	"github.com/recallbox/recallbox/internal/tools/maintenance"
	"github.com/recallbox/recallbox/internal/tools/memories"
	"github.com/recallbox/recallbox/internal/tools/tasks"
	workflowtools "github.com/recallbox/recallbox/internal/tools/workflow"
	"github.com/recallbox/recallbox/internal/watch"
	"github.com/recallbox/recallbox/internal/workflow"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Exit codes.
const (
	exitOK          = 0
	exitUserError   = 1
	exitFilesystem  = 2
	exitEnvironment = 3
)

// codedError carries the process exit code alongside the cause.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func fsError(err error) error  { return &codedError{code: exitFilesystem, err: err} }
func envError(err error) error { return &codedError{code: exitEnvironment, err: err} }

func main() {
	if len(os.Args) > 1 && os.Args[1] == "info" {
		runInfo(os.Args[2:])
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "recallbox: %v\n", err)
		code := exitUserError
		var coded *codedError
		if errors.As(err, &coded) {
			code = coded.code
		}
		os.Exit(code)
	}
	os.Exit(exitOK)
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Structured logging goes to stderr; stdout carries the MCP protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	version := config.Version
	if Version != "dev" {
		version = Version
	}
	logger.Info("starting recallbox", "version", version, "root", cfg.Store.Root)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := safeguard.CheckIntegrity(cfg.Store.Root); err != nil {
		return fsError(fmt.Errorf("store integrity: %w", err))
	}

	memoryStore, taskStore, err := store.Open(cfg.Store.Root, cfg.Store.DefaultProject, logger)
	if err != nil {
		return fsError(fmt.Errorf("opening store: %w", err))
	}

	backups := safeguard.NewBackups(cfg.Store.Root, cfg.Backup.Keep, logger)
	if _, err := safeguard.Migrate(ctx, cfg.Store.Root, memoryStore, backups, logger); err != nil {
		return fsError(fmt.Errorf("legacy migration: %w", err))
	}

	links := linker.New(memoryStore, taskStore, logger)
	engine := workflow.NewEngine(taskStore, memoryStore, logger)

	// The AI tool variants fall back to the rule-based extractor when no
	// inference endpoint is configured; check_ai_status reports the truth.
	var (
		aiEnhancer enhance.Enhancer = enhance.RuleBased{}
		probe      enhancetools.StatusProbe
	)
	if cfg.AI.Endpoint != "" {
		ollama := enhance.NewOllama(cfg.AI.Endpoint, cfg.AI.Model)
		aiEnhancer = ollama
		probe = ollama
	}
	ruleBatcher := enhance.NewBatcher(memoryStore, enhance.RuleBased{}, logger)
	aiBatcher := enhance.NewBatcher(memoryStore, aiEnhancer, logger)

	registry := buildRegistry(memoryStore, taskStore, links, engine, aiEnhancer, ruleBatcher, aiBatcher, probe, backups, version)

	bus, err := watch.New(cfg.Store.Root, logger)
	if err != nil {
		return envError(fmt.Errorf("creating watcher: %w", err))
	}
	if err := bus.Start(ctx); err != nil {
		return fsError(fmt.Errorf("starting watcher: %w", err))
	}

	if cfg.HTTP.Enabled {
		hub := httpapi.NewHub(bus, logger)
		go hub.Run(ctx)

		var httpProbe httpapi.StatusProbe
		if probe != nil {
			httpProbe = probe
		}
		srv := httpapi.New(httpapi.Config{
			Addr:        fmt.Sprintf(":%d", cfg.HTTP.Port),
			CORSOrigins: cfg.HTTP.CORSOrigins,
			Memories:    memoryStore,
			Tasks:       taskStore,
			Links:       links,
			Engine:      engine,
			Registry:    registry,
			Hub:         hub,
			Probe:       httpProbe,
			Logger:      logger,
			Version:     version,
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("http surface stopped", "error", err)
			}
		}()
	}

	sched := scheduler.New(logger)
	sched.Add(scheduler.NewSnapshotJob(backups), time.Duration(cfg.Backup.IntervalHours)*time.Hour)
	sched.Start(ctx)

	server := mcp.NewServer(registry, mcp.ServerInfo{
		Name:    config.ServerName,
		Version: version,
	}, logger)
	return server.Run(ctx, os.Stdin, os.Stdout)
}

func buildRegistry(
	memoryStore *store.MemoryStore,
	taskStore *store.TaskStore,
	links *linker.Linker,
	engine *workflow.Engine,
	aiEnhancer enhance.Enhancer,
	ruleBatcher, aiBatcher *enhance.Batcher,
	probe enhancetools.StatusProbe,
	backups *safeguard.Backups,
	version string,
) *mcp.Registry {
	registry := mcp.NewRegistry()

	// Memory tools
	registry.Register(memories.NewAdd(memoryStore))
	registry.Register(memories.NewGet(memoryStore))
	registry.Register(memories.NewList(memoryStore))
	registry.Register(memories.NewDelete(memoryStore, links))
	registry.Register(memories.NewSearch(memoryStore))

	// Task tools
	registry.Register(tasks.NewCreate(taskStore, links))
	registry.Register(tasks.NewUpdate(taskStore, engine))
	registry.Register(tasks.NewList(taskStore))
	registry.Register(tasks.NewContext(taskStore, memoryStore))
	registry.Register(tasks.NewDelete(taskStore, links))

	// Workflow tools
	registry.Register(workflowtools.NewSmartUpdate(engine))
	registry.Register(workflowtools.NewAnalytics(engine))
	registry.Register(workflowtools.NewValidate(engine))
	registry.Register(workflowtools.NewSuggest(engine))

	// Enhancement tools
	registry.Register(enhancetools.NewRuleBased(memoryStore))
	registry.Register(enhancetools.NewAI(memoryStore, aiEnhancer))
	registry.Register(enhancetools.NewBatchRuleBased(ruleBatcher))
	registry.Register(enhancetools.NewBatchAI(aiBatcher))
	registry.Register(enhancetools.NewCheckStatus(probe))

	// Maintenance tools
	registry.Register(maintenance.NewDedupe(memoryStore, backups))
	registry.Register(maintenance.NewDropoff(memoryStore, taskStore, engine))
	registry.Register(maintenance.NewTest(version))

	// Prompts and resources
	registry.RegisterPrompt(&content.GuidePrompt{})
	registry.RegisterResource(&content.ToolReferenceResource{})
	registry.RegisterResource(&content.StoreModelResource{})

	return registry
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
