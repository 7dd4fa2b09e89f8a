// Package watch is the change bus: a recursive fsnotify watcher over the
// store root that emits typed, debounced change events. The HTTP surface
// trusts only this bus for live updates, so mutations from either surface
// (or a human editor) converge on the same stream.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/recallbox/recallbox/internal/frontmatter"
)

// Event kinds.
const (
	KindCreated  = "created"
	KindModified = "modified"
	KindDeleted  = "deleted"
)

// Record domains.
const (
	DomainMemory = "memory"
	DomainTask   = "task"
)

// Event is one coalesced change to a record file.
type Event struct {
	Kind    string `json:"kind"`
	Domain  string `json:"domain"`
	Project string `json:"project"`
	ID      string `json:"id,omitempty"`
	Path    string `json:"path"`
}

// DefaultDebounce is the coalescing window: events for the same path within
// it collapse to one.
const DefaultDebounce = 250 * time.Millisecond

const subscriberBuffer = 64

// Bus watches <root>/memories and <root>/tasks recursively.
type Bus struct {
	root     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op // path → accumulated ops in the window

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New creates the bus. Call Start to begin watching.
func New(root string, logger *slog.Logger) (*Bus, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Bus{
		root:     root,
		debounce: DefaultDebounce,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]fsnotify.Op),
		subs:     make(map[int]chan Event),
	}, nil
}

// Subscribe returns a buffered event channel and a cancel function. A
// subscriber that falls behind loses events silently; the WebSocket layer
// applies its own backpressure policy on top.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return ch, func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Start adds recursive watches and launches the event loop. It returns after
// setup; the loop runs until the context is cancelled.
func (b *Bus) Start(ctx context.Context) error {
	for _, sub := range []string{"memories", "tasks"} {
		if err := b.addRecursive(filepath.Join(b.root, sub)); err != nil {
			return err
		}
	}
	go b.loop(ctx)
	b.logger.Info("change bus started", "root", b.root, "debounce", b.debounce)
	return nil
}

func (b *Bus) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(filepath.Base(path), ".") && path != root {
			return filepath.SkipDir
		}
		if err := b.watcher.Add(path); err != nil {
			b.logger.Warn("watch add failed", "path", path, "error", err)
		}
		return nil
	})
}

func (b *Bus) loop(ctx context.Context) {
	ticker := time.NewTicker(b.debounce)
	defer ticker.Stop()
	defer b.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handle(ev)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Error("watcher error", "error", err)
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Bus) handle(ev fsnotify.Event) {
	// New project/shard directories need their own watch.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := b.watcher.Add(ev.Name); err != nil {
				b.logger.Warn("watch add failed", "path", ev.Name, "error", err)
			}
			return
		}
	}
	if !strings.HasSuffix(ev.Name, ".md") {
		return
	}
	// Atomic writes surface as a rename onto the target path; treat it as a
	// write so the coalescer sees created-or-modified, not a spurious delete.
	op := ev.Op
	if op.Has(fsnotify.Rename) && fileExists(ev.Name) {
		op = fsnotify.Write
	}

	b.pendingMu.Lock()
	b.pending[ev.Name] |= op
	b.pendingMu.Unlock()
}

// flush coalesces the window's ops per path into a single event:
// create+write → created, anything ending in remove/rename → deleted,
// otherwise modified.
func (b *Bus) flush() {
	b.pendingMu.Lock()
	if len(b.pending) == 0 {
		b.pendingMu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make(map[string]fsnotify.Op)
	b.pendingMu.Unlock()

	for path, op := range batch {
		ev, ok := b.classify(path, op)
		if !ok {
			continue
		}
		b.publish(ev)
	}
}

func (b *Bus) classify(path string, op fsnotify.Op) (Event, bool) {
	rel, err := filepath.Rel(b.root, path)
	if err != nil {
		return Event{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return Event{}, false
	}

	ev := Event{Path: path, Project: parts[1]}
	switch parts[0] {
	case "memories":
		ev.Domain = DomainMemory
	case "tasks":
		ev.Domain = DomainTask
		ev.ID = strings.TrimSuffix(parts[len(parts)-1], ".md")
	default:
		return Event{}, false
	}

	gone := (op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename)) && !fileExists(path)
	switch {
	case gone:
		ev.Kind = KindDeleted
	case op.Has(fsnotify.Create):
		ev.Kind = KindCreated
	default:
		ev.Kind = KindModified
	}

	if ev.Domain == DomainMemory && ev.Kind != KindDeleted {
		ev.ID = memoryID(path)
	}
	return ev, true
}

// memoryID reads the front-matter id of a memory file; the filename alone
// does not carry it. Best effort: an unreadable file yields an empty id.
func memoryID(path string) string {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	doc, err := frontmatter.Parse(raw)
	if err != nil {
		return ""
	}
	return doc.String("id")
}

func (b *Bus) publish(ev Event) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; the window's event is lost for it.
		}
	}
	b.logger.Debug("change event", "kind", ev.Kind, "domain", ev.Domain, "project", ev.Project, "id", ev.ID)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
