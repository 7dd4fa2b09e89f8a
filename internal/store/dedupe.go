package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/recallbox/recallbox/internal/frontmatter"
)

// DedupeCandidate is one file slated for removal.
type DedupeCandidate struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Project string `json:"project"`
}

// DedupeReport summarizes a deduplication run.
type DedupeReport struct {
	Scanned int               `json:"scanned"`
	Groups  int               `json:"duplicate_groups"`
	Removed []DedupeCandidate `json:"removed"`
	Preview bool              `json:"preview"`
}

// Deduplicate scans the whole tree, groups files by front-matter id, keeps
// the newest copy of each group (mtime, ties broken by lexicographically
// last filename) and removes the rest. In preview mode nothing is modified;
// the report lists what would be removed. The whole pass runs under the
// store-wide exclusive lock.
func (s *MemoryStore) Deduplicate(ctx context.Context, preview bool) (*DedupeReport, error) {
	release := s.eng.BeginBulk()
	defer release()

	type copyInfo struct {
		path    string
		project string
		mtime   int64
	}
	groups := map[string][]copyInfo{}
	report := &DedupeReport{Preview: preview}

	projects, err := s.projectDirs("")
	if err != nil {
		return nil, err
	}
	for _, proj := range projects {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		default:
		}
		dir, err := s.guard.ResolveWithin(proj)
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			doc, err := frontmatter.Parse(raw)
			if err != nil {
				continue
			}
			id := doc.String("id")
			if id == "" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			report.Scanned++
			groups[id] = append(groups[id], copyInfo{path: path, project: proj, mtime: info.ModTime().UnixNano()})
		}
	}

	for id, copies := range groups {
		if len(copies) < 2 {
			continue
		}
		report.Groups++
		// Keep the newest; on equal mtimes the lexicographically last
		// filename wins so the choice is stable across runs.
		sort.Slice(copies, func(i, j int) bool {
			if copies[i].mtime == copies[j].mtime {
				return copies[i].path > copies[j].path
			}
			return copies[i].mtime > copies[j].mtime
		})
		for _, doomed := range copies[1:] {
			report.Removed = append(report.Removed, DedupeCandidate{
				ID:      id,
				Path:    doomed.path,
				Project: doomed.project,
			})
			if !preview {
				if err := os.Remove(doomed.path); err != nil {
					return report, fmt.Errorf("removing duplicate %s: %w", doomed.path, err)
				}
			}
		}
	}

	sort.Slice(report.Removed, func(i, j int) bool { return report.Removed[i].Path < report.Removed[j].Path })
	return report, nil
}
