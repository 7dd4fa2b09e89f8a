package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recallbox/recallbox/internal/frontmatter"
	"github.com/recallbox/recallbox/internal/pathguard"
)

// TaskStore is the project-sharded markdown repository for tasks.
// Layout: <root>/<project>/{active|completed|blocked}/<id>.md
type TaskStore struct {
	root           string
	guard          *pathguard.Guard
	eng            *engine
	defaultProject string
	logger         *slog.Logger
	now            func() time.Time

	serialMu   sync.Mutex
	lastSerial int
}

var shards = []string{"active", "completed", "blocked"}

// Root returns the absolute tasks directory.
func (s *TaskStore) Root() string { return s.root }

// loadSerialCounter scans existing tasks so newly allocated serials stay
// unique across restarts.
func (s *TaskStore) loadSerialCounter() error {
	max := 0
	err := s.forEach(context.Background(), "", "", func(t *Task) bool {
		if n, ok := parseSerial(t.Serial); ok && n > max {
			max = n
		}
		return true
	})
	if err != nil {
		return err
	}
	s.lastSerial = max
	return nil
}

// NextSerial allocates the next display serial (TASK-00001, TASK-00002, …).
func (s *TaskStore) NextSerial() string {
	s.serialMu.Lock()
	defer s.serialMu.Unlock()
	s.lastSerial++
	return fmt.Sprintf("TASK-%05d", s.lastSerial)
}

func parseSerial(serial string) (int, bool) {
	rest, ok := strings.CutPrefix(serial, "TASK-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Add validates and persists a new task. When ParentTask is set, the parent
// must exist; the inverse subtasks entry is written in the same logical
// operation, rolling the new task back if the parent write fails.
func (s *TaskStore) Add(ctx context.Context, t *Task) (*Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if err := CheckMockData(t.Title+" "+t.Description, t.Project, t.Tags); err != nil {
		return nil, err
	}

	if t.Project == "" {
		t.Project = s.defaultProject
	}
	project, err := pathguard.SanitizeProject(t.Project)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	t.Project = project

	var parent *Task
	if t.ParentTask != "" {
		parent, err = s.Get(ctx, t.ParentTask)
		if err != nil {
			return nil, fmt.Errorf("%w: parent task %s", ErrNotFound, t.ParentTask)
		}
		t.ParentTask = parent.ID
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Serial == "" {
		t.Serial = s.NextSerial()
	}
	now := s.now().UTC()
	t.Created = now
	t.Updated = now
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if t.Status == "" {
		t.Status = StatusTodo
	}

	path, err := s.shardPath(t)
	if err != nil {
		return nil, err
	}
	t.path = path
	if err := s.save(t); err != nil {
		return nil, err
	}

	if parent != nil {
		parent.Subtasks = append(parent.Subtasks, t.ID)
		parent.Updated = now
		if err := s.Save(ctx, parent); err != nil {
			// Roll back the half-created child to keep the inverse relation exact.
			_ = s.eng.removeFile(t.path)
			return nil, fmt.Errorf("linking subtask to parent: %w", err)
		}
	}

	s.logger.Info("task created", "id", t.ID, "serial", t.Serial, "project", t.Project)
	return t, nil
}

// Get resolves a task by id or display serial, scanning all projects and
// shards with a short-circuit on match.
func (s *TaskStore) Get(ctx context.Context, idOrSerial string) (*Task, error) {
	wantSerial, wantIsSerial := parseSerial(strings.ToUpper(idOrSerial))
	var found *Task
	err := s.forEach(ctx, "", "", func(t *Task) bool {
		if t.ID == idOrSerial || strings.EqualFold(t.Serial, idOrSerial) {
			found = t
			return false
		}
		// Serial references tolerate zero-padding differences (TASK-1,
		// TASK-001 and TASK-00001 name the same task).
		if wantIsSerial {
			if n, ok := parseSerial(t.Serial); ok && n == wantSerial {
				found = t
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, idOrSerial)
	}
	return found, nil
}

// List returns tasks sorted by creation time descending, optionally filtered
// by project and status.
func (s *TaskStore) List(ctx context.Context, project, status string, limit int) ([]*Task, error) {
	var out []*Task
	err := s.forEach(ctx, project, status, func(t *Task) bool {
		out = append(out, t)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.After(out[j].Created)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Save writes the task back, preserving id, serial and creation time, and
// relocates the file when the status shard changed (e.g. done → completed/).
func (s *TaskStore) Save(ctx context.Context, t *Task) error {
	if t.path == "" {
		current, err := s.Get(ctx, t.ID)
		if err != nil {
			return err
		}
		t.path = current.path
		t.Created = current.Created
		t.Serial = current.Serial
	}
	desired, err := s.shardPath(t)
	if err != nil {
		return err
	}
	if desired != t.path {
		// Write to the new shard first, then unlink the old location so a
		// crash leaves a readable copy rather than none.
		old := t.path
		t.path = desired
		if err := s.save(t); err != nil {
			t.path = old
			return err
		}
		if err := s.eng.removeFile(old); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	return s.save(t)
}

// Update merges caller changes over the stored record. The id, serial and
// created timestamp are never mutated.
func (s *TaskStore) Update(ctx context.Context, t *Task) (*Task, error) {
	current, err := s.Get(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.ID = current.ID
	t.Serial = current.Serial
	t.Created = current.Created
	t.path = current.path
	if t.Project == "" {
		t.Project = current.Project
	}
	t.Updated = s.now().UTC()
	if err := s.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes the task and its whole subtask subtree, and detaches the
// task from its parent's subtasks list. It returns the ids of every deleted
// task so callers can clean up inbound memory links.
func (s *TaskStore) Delete(ctx context.Context, id string) ([]string, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var deleted []string
	var remove func(task *Task) error
	remove = func(task *Task) error {
		for _, subID := range task.Subtasks {
			sub, err := s.Get(ctx, subID)
			if err != nil {
				s.logger.Warn("subtask missing during recursive delete", "task", task.ID, "subtask", subID)
				continue
			}
			if err := remove(sub); err != nil {
				return err
			}
		}
		if err := s.eng.removeFile(task.path); err != nil {
			return err
		}
		deleted = append(deleted, task.ID)
		return nil
	}
	if err := remove(t); err != nil {
		return deleted, err
	}

	if t.ParentTask != "" {
		if parent, err := s.Get(ctx, t.ParentTask); err == nil {
			parent.Subtasks = removeString(parent.Subtasks, t.ID)
			parent.Updated = s.now().UTC()
			if err := s.Save(ctx, parent); err != nil {
				return deleted, fmt.Errorf("detaching from parent: %w", err)
			}
		}
	}

	s.logger.Info("task deleted", "id", id, "subtree_size", len(deleted))
	return deleted, nil
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func (s *TaskStore) save(t *Task) error {
	doc := taskToDoc(t)
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return s.eng.writeFile(t.path, data)
}

func (s *TaskStore) shardPath(t *Task) (string, error) {
	path, err := s.guard.ResolveWithin(t.Project, t.Shard(), t.ID+".md")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return path, nil
}

// forEach walks project/shard directories, invoking fn until it returns
// false. status filters to the matching shard when set.
func (s *TaskStore) forEach(ctx context.Context, project, status string, fn func(*Task) bool) error {
	projects, err := s.projectDirs(project)
	if err != nil {
		return err
	}
	wantShard := ""
	if status != "" {
		wantShard = ShardFor(status)
	}
	for _, proj := range projects {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		default:
		}
		for _, shard := range shards {
			if wantShard != "" && shard != wantShard {
				continue
			}
			dir, err := s.guard.ResolveWithin(proj, shard)
			if err != nil {
				s.logger.Warn("skipping task dir outside root", "project", proj)
				continue
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("reading %s: %w", dir, err)
			}
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
					continue
				}
				t, err := s.loadFile(filepath.Join(dir, entry.Name()), proj)
				if err != nil {
					s.logger.Warn("skipping unreadable task", "file", entry.Name(), "error", err)
					continue
				}
				if status != "" && t.Status != status {
					continue
				}
				if !fn(t) {
					return nil
				}
			}
		}
	}
	return nil
}

func (s *TaskStore) projectDirs(project string) ([]string, error) {
	if project != "" {
		p, err := pathguard.SanitizeProject(project)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return []string{p}, nil
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading store root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *TaskStore) loadFile(path, project string) (*Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}
	doc, err := frontmatter.Parse(raw)
	if err != nil {
		return nil, err
	}
	t := docToTask(doc, project)
	t.path = path
	if t.ID == "" || t.Title == "" {
		return nil, errSkipRecord
	}
	return t, nil
}
