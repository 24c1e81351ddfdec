// Package sandbox enforces the project-root filesystem boundary described
// in spec.md §4.5 and §9: every path accepted by fs/read_text_file and
// fs/write_text_file must canonicalize (full symlink resolution) to a
// descendant of at least one configured project root, and a fixed list of
// system directories is rejected outright regardless of project roots.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rejectPrefixes are checked both before and after canonicalization, so a
// "..", symlink, or relative escape can't slip a request into one of these
// trees even if a project root happens to sit elsewhere on disk.
var rejectPrefixes = []string{
	"/etc",
	"/var",
	"/root",
	"/usr",
	"/boot",
	"/proc",
}

// ErrSandboxViolation is wrapped into every rejection this package returns.
type ErrSandboxViolation struct {
	Reason string
}

func (e *ErrSandboxViolation) Error() string {
	return fmt.Sprintf("sandbox violation: %s", e.Reason)
}

func violation(reason string, args ...interface{}) error {
	return &ErrSandboxViolation{Reason: fmt.Sprintf(reason, args...)}
}

// hasRejectedPrefix reports whether path falls under one of the explicitly
// denied system directories.
func hasRejectedPrefix(path string) bool {
	clean := filepath.Clean(path)
	for _, prefix := range rejectPrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// resolveRoots canonicalizes each configured project root once. Roots that
// don't exist on disk are skipped rather than erroring — a bridge can be
// configured with a root that hasn't been created yet.
func resolveRoots(roots []string) []string {
	resolved := make([]string, 0, len(roots))
	for _, r := range roots {
		real, err := filepath.EvalSymlinks(r)
		if err != nil {
			continue
		}
		resolved = append(resolved, filepath.Clean(real))
	}
	return resolved
}

// isDescendant reports whether candidate is root itself or a path under it.
func isDescendant(candidate, root string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolveInput joins a possibly-relative path against the current working
// directory, per spec.md §4.5 step 1.
func resolveInput(path string) (string, error) {
	if path == "" {
		return "", violation("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	return filepath.Clean(filepath.Join(cwd, path)), nil
}

// Canonicalize resolves path (joining against cwd if relative, then
// resolving all symlinks) and verifies it is a descendant of at least one
// configured project root, rejecting the fixed system-directory prefixes
// both pre- and post-canonicalization.
func Canonicalize(path string, roots []string) (string, error) {
	joined, err := resolveInput(path)
	if err != nil {
		return "", err
	}
	if hasRejectedPrefix(joined) {
		return "", violation("%q is under a reserved system directory", joined)
	}

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &ErrNotExist{Path: joined}
		}
		return "", fmt.Errorf("resolve symlinks for %q: %w", joined, err)
	}
	real = filepath.Clean(real)

	if hasRejectedPrefix(real) {
		return "", violation("%q resolves into a reserved system directory", real)
	}

	resolvedRoots := resolveRoots(roots)
	for _, root := range resolvedRoots {
		if isDescendant(real, root) {
			return real, nil
		}
	}
	return "", violation("%q is not under any configured project root", real)
}

// CanonicalizeForWrite validates a write target that may not exist yet: the
// parent directory is canonicalized and sandbox-checked (it must already
// exist), then the basename is joined back on. This matches spec.md §9's
// "canonicalize-then-check" rule applied to not-yet-existing files.
func CanonicalizeForWrite(path string, roots []string) (string, error) {
	joined, err := resolveInput(path)
	if err != nil {
		return "", err
	}
	if hasRejectedPrefix(joined) {
		return "", violation("%q is under a reserved system directory", joined)
	}

	dir := filepath.Dir(joined)
	base := filepath.Base(joined)

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", violation("parent directory %q does not exist", dir)
		}
		return "", fmt.Errorf("resolve symlinks for %q: %w", dir, err)
	}
	realDir = filepath.Clean(realDir)
	if hasRejectedPrefix(realDir) {
		return "", violation("%q resolves into a reserved system directory", realDir)
	}

	candidate := filepath.Join(realDir, base)

	resolvedRoots := resolveRoots(roots)
	for _, root := range resolvedRoots {
		if isDescendant(candidate, root) {
			return candidate, nil
		}
	}
	return "", violation("%q is not under any configured project root", candidate)
}

// ErrNotExist marks a sandbox-accepted path that doesn't exist on disk, so
// callers can distinguish "file not found" from a sandbox rejection.
type ErrNotExist struct {
	Path string
}

func (e *ErrNotExist) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}
