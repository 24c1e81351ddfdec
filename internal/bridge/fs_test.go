package bridge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadTextFileWholeFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hello.txt")
	if err := os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	content, truncated, err := readTextFile([]string{root}, path, 0, 0)
	if err != nil {
		t.Fatalf("readTextFile: %v", err)
	}
	if truncated {
		t.Fatalf("expected no truncation")
	}
	if content != "line1\nline2\nline3\n" {
		t.Fatalf("got %q", content)
	}
}

func TestReadTextFileLineOffsetAndLimit(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "hello.txt")
	if err := os.WriteFile(path, []byte("a\nb\nc\nd\ne\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	content, truncated, err := readTextFile([]string{root}, path, 2, 2)
	if err != nil {
		t.Fatalf("readTextFile: %v", err)
	}
	if !truncated {
		t.Fatalf("expected truncation when limit cuts off remaining lines")
	}
	if content != "b\nc" {
		t.Fatalf("got %q, want %q", content, "b\nc")
	}
}

func TestReadTextFileRejectsBinary(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "binary.dat")
	if err := os.WriteFile(path, []byte("abc\x00def"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, _, err := readTextFile([]string{root}, path, 0, 0); err == nil {
		t.Fatalf("expected binary file to be rejected")
	}
}

func TestReadTextFileRejectsOutsideProjectRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(path, []byte("secret"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, _, err := readTextFile([]string{root}, path, 0, 0); err == nil {
		t.Fatalf("expected sandbox violation for path outside project root")
	}
}

func TestReadTextFileNotExist(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "missing.txt")

	if _, _, err := readTextFile([]string{root}, path, 0, 0); err == nil {
		t.Fatalf("expected not-exist error")
	}
}

func TestPermissionOptionsCoverAllFourDecisions(t *testing.T) {
	opts := permissionOptions()
	if len(opts) != 4 {
		t.Fatalf("got %d options, want 4", len(opts))
	}
	seen := map[string]bool{}
	for _, o := range opts {
		if o.OptionId != o.Kind {
			t.Fatalf("option %q: OptionId and Kind must match so controller replies round-trip into a Decision", o.OptionId)
		}
		seen[o.OptionId] = true
	}
	for _, want := range []string{"allow_once", "allow_always", "reject_once", "reject_always"} {
		if !seen[want] {
			t.Fatalf("missing option %q", want)
		}
	}
}
