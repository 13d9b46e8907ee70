package replay

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"pongnet/core/internal/logging"
)

func TestCleanerEnforcesMaxMatches(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	//1.- Seed three synthetic bundles so the cleaner has recordings to prune.
	writeBundle(t, tmp, "alpha", now.Add(-3*time.Hour), 64)
	writeBundle(t, tmp, "bravo", now.Add(-2*time.Hour), 32)
	writeBundle(t, tmp, "charlie", now.Add(-time.Hour), 48)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxMatches: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listEntries(t, tmp)
	if len(remaining) != 2 || remaining[0] != "bravo" || remaining[1] != "charlie" {
		t.Fatalf("unexpected retained bundles: %v", remaining)
	}

	stats := cleaner.Stats()
	if stats.Matches != 2 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	manifestSize := int64(len(`{"version":1}`))
	if stats.Bytes != 48+32+2*manifestSize {
		t.Fatalf("unexpected byte total %d", stats.Bytes)
	}
	if !stats.LastSweep.Equal(now) {
		t.Fatalf("expected last sweep timestamp to be recorded")
	}
}

func TestCleanerPrunesByAgeAndIgnoresForeignEntries(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	writeBundle(t, tmp, "delta", now.Add(-48*time.Hour), 16)
	writeBundle(t, tmp, "echo", now.Add(-time.Hour), 8)
	//1.- Loose files and directories without a manifest are never touched.
	if err := os.WriteFile(filepath.Join(tmp, "notes.txt"), []byte("keep"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmp, "scratch"), 0o755); err != nil {
		t.Fatalf("mkdir scratch: %v", err)
	}

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: 36 * time.Hour, MaxMatches: 5}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	remaining := listEntries(t, tmp)
	expected := []string{"echo", "notes.txt", "scratch"}
	if len(remaining) != len(expected) {
		t.Fatalf("unexpected entries: %v", remaining)
	}
	for i := range expected {
		if remaining[i] != expected[i] {
			t.Fatalf("unexpected entries: %v", remaining)
		}
	}
	if stats := cleaner.Stats(); stats.Matches != 1 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRetentionPolicyEnabled(t *testing.T) {
	if (RetentionPolicy{}).Enabled() {
		t.Fatal("zero policy must be disabled")
	}
	if !(RetentionPolicy{MaxAge: time.Hour}).Enabled() {
		t.Fatal("age policy must be enabled")
	}
}

func writeBundle(t *testing.T, root, name string, modTime time.Time, frameBytes int) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bundle: %v", err)
	}
	manifest := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifest, []byte(`{"version":1}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frames.bin.zst"), make([]byte, frameBytes), 0o644); err != nil {
		t.Fatalf("write frames: %v", err)
	}
	for _, path := range []string{manifest, dir} {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
}

func listEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
