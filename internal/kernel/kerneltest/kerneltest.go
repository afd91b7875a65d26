// Package kerneltest builds fake memorizer debugfs directories for tests.
package kerneltest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var entries = []string{
	"clear_object_list",
	"print_live_obj",
	"memorizer_enabled",
	"memorizer_log_access",
	"clear_printed_list",
	"show_stats",
	"kmap",
}

// NewDir creates a directory holding every control entry, with kmap set to
// kmap and show_stats to a fixed summary.
func NewDir(t testing.TB, kmap string) string {
	t.Helper()
	dir := t.TempDir()
	for _, e := range entries {
		if err := os.WriteFile(filepath.Join(dir, e), nil, 0o644); err != nil {
			t.Fatalf("creating %s: %v", e, err)
		}
	}
	SetKmap(t, dir, kmap)
	if err := os.WriteFile(filepath.Join(dir, "show_stats"), []byte("allocs: 42\n"), 0o644); err != nil {
		t.Fatalf("writing show_stats: %v", err)
	}
	return dir
}

func SetKmap(t testing.TB, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "kmap"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing kmap: %v", err)
	}
}

// Value returns the trimmed contents of a control entry.
func Value(t testing.TB, dir, entry string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, entry))
	if err != nil {
		t.Fatalf("reading %s: %v", entry, err)
	}
	return strings.TrimSpace(string(data))
}

// Remove deletes an entry so the next operation on it fails.
func Remove(t testing.TB, dir, entry string) {
	t.Helper()
	if err := os.Remove(filepath.Join(dir, entry)); err != nil {
		t.Fatalf("removing %s: %v", entry, err)
	}
}
