package changes

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/task-mcp/internal/lockfile"
)

// seedChange creates a change directory with the standard scaffold and
// returns its path.
func seedChange(t *testing.T, changesDir, slug, proposal string) string {
	t.Helper()
	dir := filepath.Join(changesDir, slug)
	for _, sub := range []string{TasksDir, SpecsDir, DeltasDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if proposal != "" {
		if err := os.WriteFile(filepath.Join(dir, ProposalFile), []byte(proposal), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestScan_MissingDirIsEmpty(t *testing.T) {
	s := NewScanner(lockfile.NewManager())
	entries, err := s.Scan(filepath.Join(t.TempDir(), "changes"))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Scan() returned %d entries, want 0", len(entries))
	}
}

func TestScan_SkipsInvalidIdentifiersAndFiles(t *testing.T) {
	changesDir := t.TempDir()
	seedChange(t, changesDir, "good-change", "# Good\n")
	for _, name := range []string{"Bad.Ident", ".git", "UPPER", "-leading"} {
		if err := os.MkdirAll(filepath.Join(changesDir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(changesDir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(lockfile.NewManager())
	entries, err := s.Scan(changesDir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Scan() returned %d entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Slug != "good-change" {
		t.Errorf("Slug = %q, want good-change", entries[0].Slug)
	}
}

func TestScan_ReadsProposalMetadata(t *testing.T) {
	changesDir := t.TempDir()
	seedChange(t, changesDir, "fix-login-bug", "# Fix the login bug\n\nSessions expire too early.\n")

	s := NewScanner(lockfile.NewManager())
	entries, err := s.Scan(changesDir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Scan() returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Title != "Fix the login bug" {
		t.Errorf("Title = %q, want %q", e.Title, "Fix the login bug")
	}
	if e.Description != "Sessions expire too early." {
		t.Errorf("Description = %q", e.Description)
	}
	if e.Status != StatusDraft {
		t.Errorf("Status = %q, want draft", e.Status)
	}
	if e.CreatedAt.IsZero() || e.ModifiedAt.IsZero() {
		t.Error("timestamps were not populated")
	}
}

func TestScan_MissingProposalFallsBackToSlug(t *testing.T) {
	changesDir := t.TempDir()
	seedChange(t, changesDir, "bare-change", "")

	s := NewScanner(lockfile.NewManager())
	entries, err := s.Scan(changesDir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if entries[0].Title != "bare-change" {
		t.Errorf("Title = %q, want slug fallback", entries[0].Title)
	}
}

func TestScan_StatusDerivation(t *testing.T) {
	tests := []struct {
		name  string
		seed  func(t *testing.T, dir string)
		want  Status
		tasks int
	}{
		{
			name: "specs only is planned",
			seed: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, SpecsDir, "api.md"), "# API")
			},
			want: StatusPlanned,
		},
		{
			name: "pending tasks are planned",
			seed: func(t *testing.T, dir string) {
				writeTaskAt(t, dir, "one", "pending")
			},
			want:  StatusPlanned,
			tasks: 1,
		},
		{
			name: "deltas mean in progress",
			seed: func(t *testing.T, dir string) {
				writeFile(t, filepath.Join(dir, DeltasDir, "auth.diff"), "--- a\n+++ b\n")
			},
			want: StatusInProgress,
		},
		{
			name: "partial completion is in progress",
			seed: func(t *testing.T, dir string) {
				writeTaskAt(t, dir, "one", "done")
				writeTaskAt(t, dir, "two", "pending")
			},
			want:  StatusInProgress,
			tasks: 2,
		},
		{
			name: "all tasks done is complete",
			seed: func(t *testing.T, dir string) {
				writeTaskAt(t, dir, "one", "done")
				writeTaskAt(t, dir, "two", "completed")
			},
			want:  StatusComplete,
			tasks: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changesDir := t.TempDir()
			dir := seedChange(t, changesDir, "subject", "# Subject\n")
			tt.seed(t, dir)

			s := NewScanner(lockfile.NewManager())
			e, err := s.ScanOne(changesDir, "subject")
			if err != nil {
				t.Fatalf("ScanOne() error = %v", err)
			}
			if e.Status != tt.want {
				t.Errorf("Status = %q, want %q", e.Status, tt.want)
			}
			if e.TaskCount != tt.tasks {
				t.Errorf("TaskCount = %d, want %d", e.TaskCount, tt.tasks)
			}
		})
	}
}

func TestScan_LiveLockMarksEntryLocked(t *testing.T) {
	changesDir := t.TempDir()
	dir := seedChange(t, changesDir, "held-change", "# Held\n")

	locks := lockfile.NewManager()
	if _, err := locks.Acquire(dir, "agent-a", 600); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(locks)
	e, err := s.ScanOne(changesDir, "held-change")
	if err != nil {
		t.Fatalf("ScanOne() error = %v", err)
	}
	if !e.Locked || e.Status != StatusLocked {
		t.Errorf("Locked = %v, Status = %q, want locked", e.Locked, e.Status)
	}
	if e.Lock == nil || e.Lock.Owner != "agent-a" {
		t.Errorf("Lock = %+v, want owner agent-a", e.Lock)
	}
}

func TestScan_StaleLockIsNotLocked(t *testing.T) {
	changesDir := t.TempDir()
	dir := seedChange(t, changesDir, "stale-change", "# Stale\n")

	rec := lockfile.Record{
		Owner: "gone-agent",
		Since: time.Now().Add(-time.Hour).UnixMilli(),
		TTL:   60,
	}
	writeLockRecord(t, dir, rec)

	s := NewScanner(lockfile.NewManager())
	e, err := s.ScanOne(changesDir, "stale-change")
	if err != nil {
		t.Fatalf("ScanOne() error = %v", err)
	}
	if e.Locked {
		t.Error("stale lock should not mark the entry locked")
	}
	if e.Status == StatusLocked {
		t.Errorf("Status = %q, want unlocked state", e.Status)
	}
}

func TestScan_CorruptLockMarksEntryLocked(t *testing.T) {
	changesDir := t.TempDir()
	dir := seedChange(t, changesDir, "corrupt-change", "# Corrupt\n")
	writeFile(t, lockfile.Path(dir), "not json")

	s := NewScanner(lockfile.NewManager())
	e, err := s.ScanOne(changesDir, "corrupt-change")
	if err != nil {
		t.Fatalf("ScanOne() error = %v", err)
	}
	if !e.Locked || e.Status != StatusLocked {
		t.Errorf("corrupt lock: Locked = %v, Status = %q, want locked", e.Locked, e.Status)
	}
	if e.Lock != nil {
		t.Error("corrupt lock should not expose a record")
	}
}

func TestScan_MalformedTaskDegradesEntry(t *testing.T) {
	changesDir := t.TempDir()
	dir := seedChange(t, changesDir, "broken-change", "# Broken\n")
	writeFile(t, filepath.Join(dir, TasksDir, "bad.json"), "{not json")

	s := NewScanner(lockfile.NewManager())
	entries, err := s.Scan(changesDir)
	if err != nil {
		t.Fatalf("Scan() should not fail on a per-entry problem: %v", err)
	}
	e := entries[0]
	if e.Status != StatusError {
		t.Fatalf("Status = %q, want error", e.Status)
	}
	if !strings.Contains(e.Error, "broken-change") {
		t.Errorf("error message should reference the slug: %q", e.Error)
	}
	if strings.Contains(e.Error, changesDir) {
		t.Errorf("error message leaked a path: %q", e.Error)
	}
}

func TestScan_OneBadEntryDoesNotFailOthers(t *testing.T) {
	changesDir := t.TempDir()
	seedChange(t, changesDir, "good-change", "# Good\n")
	badDir := seedChange(t, changesDir, "bad-change", "# Bad\n")
	writeFile(t, filepath.Join(badDir, TasksDir, "bad.json"), "{")

	s := NewScanner(lockfile.NewManager())
	entries, err := s.Scan(changesDir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Scan() returned %d entries, want 2", len(entries))
	}
	byStatus := map[Status]int{}
	for _, e := range entries {
		byStatus[e.Status]++
	}
	if byStatus[StatusError] != 1 || byStatus[StatusDraft] != 1 {
		t.Errorf("statuses = %v, want one error and one draft", byStatus)
	}
}

func TestScanOne_UnknownSlug(t *testing.T) {
	s := NewScanner(lockfile.NewManager())
	if _, err := s.ScanOne(t.TempDir(), "no-such-change"); err == nil {
		t.Error("ScanOne() should fail for a missing change")
	}
	if _, err := s.ScanOne(t.TempDir(), "Bad Slug"); err == nil {
		t.Error("ScanOne() should reject a malformed slug")
	}
}

// --- helpers ---

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeTaskAt(t *testing.T, changeDir, name, status string) {
	t.Helper()
	writeFile(t, filepath.Join(changeDir, TasksDir, name+".json"),
		`{"title":"`+name+`","status":"`+status+`"}`)
}

func writeLockRecord(t *testing.T, changeDir string, rec lockfile.Record) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, lockfile.Path(changeDir), string(data))
}
