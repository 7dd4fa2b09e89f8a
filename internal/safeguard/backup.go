package safeguard

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultKeep is how many snapshots survive pruning.
const DefaultKeep = 10

// Backups snapshots the record trees under data-backups/<stamp>-<reason>/.
// Bulk operations call Snapshot before touching anything; the scheduler calls
// it periodically.
type Backups struct {
	root   string
	keep   int
	logger *slog.Logger
	now    func() time.Time
}

// NewBackups wires the snapshotter over the store root.
func NewBackups(root string, keep int, logger *slog.Logger) *Backups {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Backups{root: root, keep: keep, logger: logger, now: time.Now}
}

// Snapshot copies memories/ and tasks/ into a fresh stamped directory and
// prunes old snapshots. It returns the snapshot directory.
func (b *Backups) Snapshot(reason string) (string, error) {
	stamp := b.now().UTC().Format("20060102-150405")
	name := stamp
	if reason != "" {
		name += "-" + sanitizeReason(reason)
	}
	dest := filepath.Join(b.root, BackupDir, name)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot dir: %w", err)
	}

	for _, sub := range []string{"memories", "tasks"} {
		src := filepath.Join(b.root, sub)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(src, filepath.Join(dest, sub)); err != nil {
			return "", fmt.Errorf("snapshotting %s: %w", sub, err)
		}
	}

	b.prune()
	b.logger.Info("snapshot taken", "dir", dest, "reason", reason)
	return dest, nil
}

// prune removes the oldest snapshots beyond the retention count. Stamped
// names sort chronologically, so lexical order is age order.
func (b *Backups) prune() {
	entries, err := os.ReadDir(filepath.Join(b.root, BackupDir))
	if err != nil {
		return
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) <= b.keep {
		return
	}
	sort.Strings(dirs)
	for _, name := range dirs[:len(dirs)-b.keep] {
		path := filepath.Join(b.root, BackupDir, name)
		if err := os.RemoveAll(path); err != nil {
			b.logger.Warn("pruning snapshot failed", "dir", path, "error", err)
		}
	}
}

func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var reasonStrip = strings.NewReplacer("/", "-", "\\", "-", " ", "-", "..", "-")

func sanitizeReason(reason string) string {
	s := reasonStrip.Replace(strings.ToLower(reason))
	if len(s) > 32 {
		s = s[:32]
	}
	return s
}
