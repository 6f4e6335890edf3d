package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskmill/taskmill/internal/lockfile"
	"github.com/taskmill/taskmill/internal/tasklist"
)

const liveList = `# Sprint

- [x] Ship parser
  covered by unit tests
- [ ] Write docs
  outline first
- [x] Fix lock leak
`

func writeList(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "TASKS.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestArchiveMovesDoneTasks(t *testing.T) {
	dir := t.TempDir()
	storePath := writeList(t, dir, liveList)
	archiveDir := filepath.Join(dir, "archive")
	fixed := time.Date(2026, 5, 2, 16, 4, 5, 0, time.UTC)
	a := New(lockfile.NewManager(), time.Second, WithClock(func() time.Time { return fixed }))

	count, err := a.Archive(storePath, archiveDir)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if count != 2 {
		t.Fatalf("archived %d tasks, want 2", count)
	}

	snapshotPath := filepath.Join(archiveDir, "tasks-20260502-160405.md")
	data, err := os.ReadFile(snapshotPath)
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	snap := string(data)
	for _, want := range []string{"Source: TASKS.md", "Archived: 2026-05-02T16:04:05Z",
		"- [x] Ship parser\n  covered by unit tests", "- [x] Fix lock leak"} {
		if !strings.Contains(snap, want) {
			t.Fatalf("snapshot missing %q:\n%s", want, snap)
		}
	}

	store, err := tasklist.Load(storePath)
	if err != nil {
		t.Fatalf("reload live store: %v", err)
	}
	counts := store.Counts()
	if counts.Done != 0 || counts.Pending != 1 {
		t.Fatalf("live counts = %+v, want 1 pending, 0 done", counts)
	}
	live := string(store.Bytes())
	if !strings.Contains(live, "- [ ] Write docs\n  outline first\n") {
		t.Fatalf("surviving task body damaged:\n%s", live)
	}
}

func TestArchiveIsNoOpWithoutDoneTasks(t *testing.T) {
	dir := t.TempDir()
	storePath := writeList(t, dir, "- [ ] only pending\n")
	archiveDir := filepath.Join(dir, "archive")
	a := New(lockfile.NewManager(), time.Second)

	before, _ := os.ReadFile(storePath)
	count, err := a.Archive(storePath, archiveDir)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if count != 0 {
		t.Fatalf("archived %d tasks, want 0", count)
	}
	if _, err := os.Stat(archiveDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("archive dir created on no-op: %v", err)
	}
	after, _ := os.ReadFile(storePath)
	if string(before) != string(after) {
		t.Fatal("live store rewritten on no-op")
	}
}

func TestSecondArchiveIsNoOp(t *testing.T) {
	dir := t.TempDir()
	storePath := writeList(t, dir, liveList)
	archiveDir := filepath.Join(dir, "archive")
	a := New(lockfile.NewManager(), time.Second)

	if _, err := a.Archive(storePath, archiveDir); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	count, err := a.Archive(storePath, archiveDir)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if count != 0 {
		t.Fatalf("second archive moved %d tasks, want 0", count)
	}
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("archive files = %d, want 1", len(entries))
	}
}

func TestArchiveLastTaskBodyToEOF(t *testing.T) {
	dir := t.TempDir()
	storePath := writeList(t, dir, "- [ ] keep\n- [x] final task\n  body reaches\n  end of file")
	archiveDir := filepath.Join(dir, "archive")
	a := New(lockfile.NewManager(), time.Second)

	count, err := a.Archive(storePath, archiveDir)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if count != 1 {
		t.Fatalf("archived %d, want 1", count)
	}
	entries, _ := os.ReadDir(archiveDir)
	data, err := os.ReadFile(filepath.Join(archiveDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "- [x] final task\n  body reaches\n  end of file") {
		t.Fatalf("snapshot lost trailing body:\n%s", data)
	}
	live, _ := os.ReadFile(storePath)
	if got := string(live); got != "- [ ] keep" {
		t.Fatalf("live store = %q, want the kept task only", got)
	}
}

func TestArchiveFailsWhenLockHeld(t *testing.T) {
	dir := t.TempDir()
	storePath := writeList(t, dir, liveList)
	locks := lockfile.NewManager()
	held, err := locks.Acquire(storePath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()
	a := New(locks, 200*time.Millisecond)
	if _, err := a.Archive(storePath, filepath.Join(dir, "archive")); !errors.Is(err, lockfile.ErrTimeout) {
		t.Fatalf("archive = %v, want ErrTimeout", err)
	}
}
