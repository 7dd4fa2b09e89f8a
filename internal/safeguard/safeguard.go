// Package safeguard holds the startup and data-safety machinery: store-root
// integrity checks, the one-shot legacy JSON migration, and filesystem
// snapshots taken before destructive bulk operations.
package safeguard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/recallbox/recallbox/internal/store"
)

// Store-root layout.
const (
	DataDir        = "data"
	BackupDir      = "data-backups"
	LegacyFile     = "memories.json"
	MigratedMarker = ".migrated"
)

// CheckIntegrity creates the store-root layout and verifies each directory is
// writable. A failure here is fatal at startup: nothing downstream can run
// against a root it cannot write.
func CheckIntegrity(root string) error {
	for _, dir := range []string{"memories", "tasks", DataDir, BackupDir} {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		if err := probeWritable(path); err != nil {
			return fmt.Errorf("store root not writable at %s: %w", path, err)
		}
	}
	return nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// legacyMemory is the shape of one entry in the pre-markdown single-file
// store. Fields absent in old files take the store defaults.
type legacyMemory struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Timestamp string   `json:"timestamp"`
	Project   string   `json:"project"`
	Category  string   `json:"category"`
	Priority  string   `json:"priority"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
}

// MigrationReport summarizes a migration run.
type MigrationReport struct {
	Ran      bool `json:"ran"`
	Migrated int  `json:"migrated"`
	Skipped  int  `json:"skipped"`
}

// Migrate imports a legacy data/memories.json into the markdown tree, once.
// The data/.migrated marker gates re-runs, so repeated startups are no-ops.
// Records the filter rejects (mock data, too-short content) are skipped and
// counted, never fatal.
func Migrate(ctx context.Context, root string, memories *store.MemoryStore, backups *Backups, logger *slog.Logger) (*MigrationReport, error) {
	marker := filepath.Join(root, DataDir, MigratedMarker)
	if _, err := os.Stat(marker); err == nil {
		return &MigrationReport{}, nil
	}

	legacyPath := filepath.Join(root, DataDir, LegacyFile)
	raw, err := os.ReadFile(legacyPath)
	if os.IsNotExist(err) {
		// Nothing to migrate; set the marker so future startups skip the stat.
		return &MigrationReport{}, writeMarker(marker)
	}
	if err != nil {
		return nil, fmt.Errorf("reading legacy store: %w", err)
	}

	var legacy []legacyMemory
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("%w: legacy store is not a JSON array: %v", store.ErrInvalidInput, err)
	}

	if _, err := backups.Snapshot("migration"); err != nil {
		return nil, fmt.Errorf("pre-migration snapshot: %w", err)
	}

	// Migration runs at startup before any surface serves requests; the
	// store's per-file locks are all the isolation the import needs.
	report := &MigrationReport{Ran: true}
	for _, lm := range legacy {
		m := &store.Memory{
			ID:       lm.ID,
			Content:  lm.Content,
			Project:  lm.Project,
			Category: lm.Category,
			Priority: lm.Priority,
			Status:   lm.Status,
			Tags:     lm.Tags,
		}
		added, err := memories.Add(ctx, m)
		if err != nil {
			report.Skipped++
			logger.Warn("legacy record skipped", "id", lm.ID, "error", err)
			continue
		}
		// Add stamps creation time; the legacy record's own timestamp is the
		// authoritative one when it parses.
		if ts, ok := parseLegacyTime(lm.Timestamp); ok {
			added.Timestamp = ts
			if err := memories.Save(ctx, added); err != nil {
				logger.Warn("restoring legacy timestamp failed", "id", added.ID, "error", err)
			}
		}
		report.Migrated++
	}

	if err := writeMarker(marker); err != nil {
		return nil, err
	}
	logger.Info("legacy store migrated", "migrated", report.Migrated, "skipped", report.Skipped)
	return report, nil
}

func writeMarker(path string) error {
	return os.WriteFile(path, []byte("migrated\n"), 0o644)
}

// parseLegacyTime accepts the formats old stores actually used.
func parseLegacyTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
