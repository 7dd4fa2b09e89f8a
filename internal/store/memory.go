package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/recallbox/recallbox/internal/frontmatter"
	"github.com/recallbox/recallbox/internal/pathguard"
)

// MemoryStore is the project-sharded markdown repository for memories.
// Layout: <root>/<project>/<YYYY-MM-DD>-<slug>-<suffix>.md
type MemoryStore struct {
	root           string
	guard          *pathguard.Guard
	eng            *engine
	defaultProject string
	logger         *slog.Logger
	now            func() time.Time
}

// TaskStoreRoot and MemoryStoreRoot are the fixed subdirectories of the
// storage root the two stores shard into.
const (
	MemoryStoreRoot = "memories"
	TaskStoreRoot   = "tasks"
)

// Open creates the memory and task stores over a single storage root. Both
// share one engine so the store-wide bulk lock covers the whole tree.
func Open(root, defaultProject string, logger *slog.Logger) (*MemoryStore, *TaskStore, error) {
	if defaultProject == "" {
		defaultProject = DefaultProject
	}
	eng := newEngine()

	mg, err := pathguard.New(filepath.Join(root, MemoryStoreRoot))
	if err != nil {
		return nil, nil, err
	}
	tg, err := pathguard.New(filepath.Join(root, TaskStoreRoot))
	if err != nil {
		return nil, nil, err
	}

	ms := &MemoryStore{
		root:           mg.Root(),
		guard:          mg,
		eng:            eng,
		defaultProject: defaultProject,
		logger:         logger,
		now:            time.Now,
	}
	ts := &TaskStore{
		root:           tg.Root(),
		guard:          tg,
		eng:            eng,
		defaultProject: defaultProject,
		logger:         logger,
		now:            time.Now,
	}
	if err := ts.loadSerialCounter(); err != nil {
		return nil, nil, err
	}
	return ms, ts, nil
}

// Root returns the absolute memories directory.
func (s *MemoryStore) Root() string { return s.root }

// Add validates and persists a new memory. The id and timestamp are assigned
// here and never change afterwards.
func (s *MemoryStore) Add(ctx context.Context, m *Memory) (*Memory, error) {
	m.Content = strings.TrimSpace(m.Content)
	if len(m.Content) < MinContentLen {
		return nil, fmt.Errorf("%w: content must be at least %d characters", ErrInvalidInput, MinContentLen)
	}
	if err := CheckMockData(m.Content, m.Project, m.Tags); err != nil {
		return nil, err
	}

	if m.Project == "" {
		m.Project = s.defaultProject
	}
	project, err := pathguard.SanitizeProject(m.Project)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	m.Project = project

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := s.now().UTC()
	m.Timestamp = now
	m.LastAccessed = now
	if m.Priority == "" {
		m.Priority = PriorityMedium
	}
	if m.Status == "" {
		m.Status = MemoryActive
	}
	m.Metadata = DeriveMetadata(m.Content)
	m.Complexity = DeriveComplexity(m)

	name := memoryFilename(m)
	path, err := s.guard.ResolveWithin(project, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	m.path = path

	if err := s.save(m); err != nil {
		return nil, err
	}
	s.logger.Info("memory added", "id", m.ID, "project", m.Project, "file", name)
	return m, nil
}

// Get scans project directories for the memory with the given id,
// short-circuiting on the first match.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Memory, error) {
	var found *Memory
	err := s.forEach(ctx, "", func(m *Memory) bool {
		if m.ID == id {
			found = m
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: memory %s", ErrNotFound, id)
	}
	return found, nil
}

// RecordAccess bumps the access counters. access_count only ever grows.
func (s *MemoryStore) RecordAccess(ctx context.Context, m *Memory) error {
	m.AccessCount++
	m.LastAccessed = s.now().UTC()
	return s.save(m)
}

// List returns memories sorted by timestamp descending, optionally scoped to
// a project. limit <= 0 means no cap.
func (s *MemoryStore) List(ctx context.Context, project string, limit int) ([]*Memory, error) {
	var out []*Memory
	err := s.forEach(ctx, project, func(m *Memory) bool {
		out = append(out, m)
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update writes the record back to the file it currently lives in. The id
// and creation timestamp of the stored record are preserved regardless of
// what the caller set.
func (s *MemoryStore) Update(ctx context.Context, m *Memory) (*Memory, error) {
	current, err := s.Get(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	m.Content = strings.TrimSpace(m.Content)
	if len(m.Content) < MinContentLen {
		return nil, fmt.Errorf("%w: content must be at least %d characters", ErrInvalidInput, MinContentLen)
	}
	if err := CheckMockData(m.Content, m.Project, m.Tags); err != nil {
		return nil, err
	}
	m.ID = current.ID
	m.Timestamp = current.Timestamp
	if m.AccessCount < current.AccessCount {
		m.AccessCount = current.AccessCount
	}
	if m.Project == "" {
		m.Project = current.Project
	}
	m.path = current.path
	m.Metadata = DeriveMetadata(m.Content)
	m.Complexity = DeriveComplexity(m)
	if err := s.save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete unlinks the memory file immediately; there is no tombstone.
// Inbound link cleanup is the linker's responsibility.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.eng.removeFile(m.path); err != nil {
		return err
	}
	s.logger.Info("memory deleted", "id", id, "project", m.Project)
	return nil
}

// Search performs a case-insensitive substring match over content, category
// and tags. An empty query returns all memories (up to the caller's cap);
// ranking is a separate concern (see Ranker).
func (s *MemoryStore) Search(ctx context.Context, query, project string) ([]*Memory, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []*Memory
	err := s.forEach(ctx, project, func(m *Memory) bool {
		if q == "" || memoryMatches(m, q) {
			out = append(out, m)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func memoryMatches(m *Memory, q string) bool {
	if strings.Contains(strings.ToLower(m.Content), q) {
		return true
	}
	if strings.Contains(strings.ToLower(m.Category), q) {
		return true
	}
	for _, t := range m.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// Save persists link or tag mutations on an already-stored memory without
// the full Update validation path. Used by the linker, which must keep both
// sides of a connection consistent in one logical write.
func (s *MemoryStore) Save(ctx context.Context, m *Memory) error {
	if m.path == "" {
		current, err := s.Get(ctx, m.ID)
		if err != nil {
			return err
		}
		m.path = current.path
	}
	return s.save(m)
}

func (s *MemoryStore) save(m *Memory) error {
	doc := memoryToDoc(m)
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := s.eng.writeFile(m.path, data); err != nil {
		return err
	}
	return nil
}

// forEach walks project shards, invoking fn for every readable memory until
// fn returns false. Directories that would escape the root are skipped:
// defence in depth on top of the path guard at write time.
func (s *MemoryStore) forEach(ctx context.Context, project string, fn func(*Memory) bool) error {
	projects, err := s.projectDirs(project)
	if err != nil {
		return err
	}
	for _, proj := range projects {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		default:
		}
		dir, err := s.guard.ResolveWithin(proj)
		if err != nil {
			s.logger.Warn("skipping project dir outside root", "project", proj)
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
			m, err := s.loadFile(filepath.Join(dir, entry.Name()), proj)
			if err != nil {
				s.logger.Warn("skipping unreadable memory", "file", entry.Name(), "error", err)
				continue
			}
			if !fn(m) {
				return nil
			}
		}
	}
	return nil
}

func (s *MemoryStore) projectDirs(project string) ([]string, error) {
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

// loadFile decodes one memory file. A file with no envelope is adopted as an
// active memory: it gets an id and minimal metadata, persisted once so the
// id stays stable. A file whose envelope parses but lacks id or content is
// skipped (never deleted).
func (s *MemoryStore) loadFile(path, project string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}
	doc, err := frontmatter.Parse(raw)
	if err != nil {
		return nil, err
	}

	if len(doc.Fields) == 0 {
		return s.adopt(path, project, doc.Body)
	}

	m := docToMemory(doc, project)
	m.path = path
	if m.ID == "" || strings.TrimSpace(m.Content) == "" {
		return nil, errSkipRecord
	}
	return m, nil
}

// adopt turns a bare markdown file into a tracked memory.
func (s *MemoryStore) adopt(path, project, body string) (*Memory, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	m := &Memory{
		ID:           uuid.NewString(),
		Content:      body,
		Timestamp:    info.ModTime().UTC(),
		LastAccessed: info.ModTime().UTC(),
		Project:      project,
		Priority:     PriorityMedium,
		Status:       MemoryActive,
		Metadata:     DeriveMetadata(body),
		path:         path,
	}
	m.Complexity = DeriveComplexity(m)
	if err := s.save(m); err != nil {
		return nil, err
	}
	s.logger.Info("adopted bare markdown file as memory", "file", filepath.Base(path), "id", m.ID)
	return m, nil
}

func memoryFilename(m *Memory) string {
	suffix := m.ID
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("%s-%s-%s.md", m.Timestamp.Format("2006-01-02"), slugify(m.Content), suffix)
}
