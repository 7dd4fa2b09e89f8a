// Package pathguard confines every derived filesystem path to a declared
// root. All store-facing code passes untrusted strings (project names,
// filenames) through this package before touching disk, so traversal out of
// the storage root is impossible by construction.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned when a candidate path would escape its root or
// when a sanitized component is empty.
var ErrInvalidPath = errors.New("invalid path")

// MaxProjectLen caps sanitized project names.
const MaxProjectLen = 50

// Guard validates paths against a single absolute root.
type Guard struct {
	root string
}

// New creates a Guard for the given root. The root is made absolute once at
// construction so later checks are pure string work.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	return &Guard{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute root this guard confines paths to.
func (g *Guard) Root() string { return g.root }

// SanitizeProject validates a project name. Names carrying path separators
// or a ".." run are rejected outright rather than silently cleaned up, so a
// traversal attempt surfaces as an error instead of resolving to some other
// project. Every remaining character outside [A-Za-z0-9_-] is stripped and
// the result is capped at MaxProjectLen. An empty result is an error.
func SanitizeProject(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: project name %q contains a path traversal sequence", ErrInvalidPath, name)
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > MaxProjectLen {
		s = s[:MaxProjectLen]
	}
	if s == "" {
		return "", fmt.Errorf("%w: project name %q has no usable characters", ErrInvalidPath, name)
	}
	return s, nil
}

// ResolveWithin joins the untrusted parts onto the root and verifies the
// normalized absolute result still lives under the root. It returns the safe
// absolute path or ErrInvalidPath.
func (g *Guard) ResolveWithin(parts ...string) (string, error) {
	candidate := filepath.Join(append([]string{g.root}, parts...)...)
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", candidate, err)
	}
	abs = filepath.Clean(abs)
	// Strict descendant: resolving back to the root itself (e.g. project ".")
	// is as invalid as escaping it.
	if abs == g.root || !g.Contains(abs) {
		return "", fmt.Errorf("%w: %q escapes root %q", ErrInvalidPath, strings.Join(parts, string(os.PathSeparator)), g.root)
	}
	return abs, nil
}

// Contains reports whether the absolute path abs is the root itself or a
// descendant of it. The check is separator-aware so /data-evil does not pass
// for root /data.
func (g *Guard) Contains(abs string) bool {
	if abs == g.root {
		return true
	}
	return strings.HasPrefix(abs, g.root+string(os.PathSeparator))
}
