package sandbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCanonicalizeAcceptsPathUnderRoot(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "a.txt")
	if err := os.WriteFile(file, []byte("hi"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := Canonicalize(file, []string{root})
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	if got != filepath.Join(realRoot, "a.txt") {
		t.Fatalf("got %q, want %q", got, filepath.Join(realRoot, "a.txt"))
	}
}

func TestCanonicalizeRejectsOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	file := filepath.Join(other, "b.txt")
	if err := os.WriteFile(file, []byte("hi"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := Canonicalize(file, []string{root}); err == nil {
		t.Fatalf("expected rejection for path outside root")
	}
}

func TestCanonicalizeRejectsDotDotEscape(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "project")
	if err := os.MkdirAll(project, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	escape := filepath.Join(project, "..", "..", "etc", "passwd")

	if _, err := Canonicalize(escape, []string{project}); err == nil {
		t.Fatalf("expected rejection for .. escape")
	}
}

func TestCanonicalizeRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	project := filepath.Join(root, "project")
	outside := filepath.Join(root, "outside")
	if err := os.MkdirAll(project, 0o755); err != nil {
		t.Fatalf("mkdir project: %v", err)
	}
	if err := os.MkdirAll(outside, 0o755); err != nil {
		t.Fatalf("mkdir outside: %v", err)
	}
	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("shh"), 0o644); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	link := filepath.Join(project, "link")
	if err := os.Symlink(secret, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := Canonicalize(link, []string{project}); err == nil {
		t.Fatalf("expected rejection for symlink escaping project root")
	}
}

func TestCanonicalizeRejectsSystemPrefix(t *testing.T) {
	if _, err := Canonicalize("/etc/passwd", []string{"/"}); err == nil {
		t.Fatalf("expected rejection for /etc path")
	}
}

func TestCanonicalizeForWriteAcceptsNewFile(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "new-file.txt")

	got, err := CanonicalizeForWrite(target, []string{root})
	if err != nil {
		t.Fatalf("CanonicalizeForWrite: %v", err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	if got != filepath.Join(realRoot, "new-file.txt") {
		t.Fatalf("got %q, want %q", got, filepath.Join(realRoot, "new-file.txt"))
	}
}

func TestCanonicalizeForWriteRejectsMissingParent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "nope", "new-file.txt")

	if _, err := CanonicalizeForWrite(target, []string{root}); err == nil {
		t.Fatalf("expected rejection for missing parent directory")
	}
}

func TestCanonicalizeRejectsEmptyPath(t *testing.T) {
	if _, err := Canonicalize("", []string{"/tmp"}); err == nil {
		t.Fatalf("expected rejection for empty path")
	}
}
