package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// engine holds the concurrency and write primitives shared by the memory and
// task stores: a per-file lock table serializing writes to a single record,
// and a store-wide RW lock taken exclusively by deduplication so its
// scan-and-remove pass never interleaves with per-record writes. Bulk
// operations that go through the normal write path (migration, batch
// enhance) must NOT hold the exclusive lock: writeFile takes the read side,
// and sync.RWMutex is not reentrant.
type engine struct {
	bulk  sync.RWMutex
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newEngine() *engine {
	return &engine{locks: make(map[string]*sync.Mutex)}
}

// fileLock returns the mutex guarding writes to path.
func (e *engine) fileLock(path string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[path]
	if !ok {
		l = &sync.Mutex{}
		e.locks[path] = l
	}
	return l
}

// writeFile writes data atomically: temp file in the target directory, then
// rename into place. Readers observe either the old or the new content,
// never a partial file. Callers hold no external I/O inside the lock.
func (e *engine) writeFile(path string, data []byte) error {
	e.bulk.RLock()
	defer e.bulk.RUnlock()

	l := e.fileLock(path)
	l.Lock()
	defer l.Unlock()

	return atomicWrite(path, data)
}

// removeFile unlinks a record file under its per-file lock.
func (e *engine) removeFile(path string) error {
	e.bulk.RLock()
	defer e.bulk.RUnlock()

	l := e.fileLock(path)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// moveFile atomically relocates a record (e.g. task shard moves). Both the
// source and destination locks are taken in path order to avoid deadlock.
func (e *engine) moveFile(from, to string) error {
	e.bulk.RLock()
	defer e.bulk.RUnlock()

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	fl := e.fileLock(first)
	sl := e.fileLock(second)
	fl.Lock()
	defer fl.Unlock()
	if second != first {
		sl.Lock()
		defer sl.Unlock()
	}

	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("creating shard dir: %w", err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("moving %s: %w", filepath.Base(from), err)
	}
	return nil
}

// BeginBulk takes the store-wide exclusive lock. The returned release
// function must be called on every exit path.
func (e *engine) BeginBulk() func() {
	e.bulk.Lock()
	return e.bulk.Unlock
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".recallbox-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// Mock-data rejection. The filter is intentionally strict: content that looks
// like scaffolding or generated filler never enters the store, whichever
// surface it arrives through.
var mockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)mock-\d+`),
	regexp.MustCompile(`(?i)test.*data`),
	regexp.MustCompile(`(?i)sample.*content`),
	regexp.MustCompile(`(?i)lorem ipsum`),
	regexp.MustCompile(`(?i)fake.*data`),
	regexp.MustCompile(`(?i)placeholder`),
}

// CheckMockData returns an ErrInvalidInput-kinded error when content, project
// or any tag matches a mock-data pattern.
func CheckMockData(content, project string, tags []string) error {
	fields := append([]string{content, project}, tags...)
	for _, f := range fields {
		for _, p := range mockPatterns {
			if p.MatchString(f) {
				return fmt.Errorf("%w: content rejected by mock-data filter (matched %q)", ErrInvalidInput, p.String())
			}
		}
	}
	return nil
}

// MinContentLen is the minimum trimmed content length accepted by Add.
const MinContentLen = 10

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a filename fragment from content. The slug has no semantic
// role; the id in the front matter stays authoritative.
func slugify(content string) string {
	s := strings.ToLower(strings.TrimSpace(content))
	if len(s) > 40 {
		s = s[:40]
	}
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "memory"
	}
	return s
}
