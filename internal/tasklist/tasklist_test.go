package tasklist

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleList = `# Backlog

Some preamble notes that are not tasks.

- [ ] First task
  with a body line
  and another body line
- [ ] 🔄 Second task
- [x] Third task
  done body
- [ ] Fourth task
`

func TestParseCountsByState(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	counts := store.Counts()
	if counts.Pending != 2 || counts.InProgress != 1 || counts.Done != 1 {
		t.Fatalf("counts = %+v, want 2 pending, 1 in-progress, 1 done", counts)
	}
	if counts.Total() != 4 {
		t.Fatalf("total = %d, want 4", counts.Total())
	}
}

func TestRoundTripIsByteIdentical(t *testing.T) {
	inputs := []string{
		sampleList,
		"",
		"\n",
		"no tasks at all\njust notes\n",
		"- [ ] lone task without trailing newline",
		"- [X] uppercase done marker\n",
		"- [ ]\n- [x]\n",
	}
	for _, input := range inputs {
		store, err := Parse([]byte(input))
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got := store.Bytes(); !bytes.Equal(got, []byte(input)) {
			t.Fatalf("round trip of %q produced %q", input, got)
		}
	}
}

func TestParseRejectsBinaryInput(t *testing.T) {
	_, err := Parse([]byte("- [ ] task\x00garbage"))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
}

func TestNextPendingIsFirstInFileOrder(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := store.NextPending()
	if task == nil || task.Title != "First task" {
		t.Fatalf("next pending = %+v, want First task", task)
	}
}

func TestFirstInProgressSurvivesReload(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := store.FirstInProgress()
	if task == nil || task.Title != "Second task" {
		t.Fatalf("first in-progress = %+v, want Second task", task)
	}
}

func TestMarkInProgressRewritesOnlyMarkerLine(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := store.NextPending()
	if err := store.MarkInProgress(task); err != nil {
		t.Fatalf("mark in-progress: %v", err)
	}
	out := string(store.Bytes())
	if !strings.Contains(out, "- [ ] 🔄 First task\n") {
		t.Fatalf("output missing in-progress marker:\n%s", out)
	}
	if !strings.Contains(out, "  with a body line\n  and another body line\n") {
		t.Fatalf("body lines were disturbed:\n%s", out)
	}
}

func TestMarkDoneRequiresInProgress(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pending := store.NextPending()
	if err := store.MarkDone(pending); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("mark done on pending = %v, want ErrInvalidTransition", err)
	}
	if err := store.MarkInProgress(store.FirstInProgress()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double mark in-progress = %v, want ErrInvalidTransition", err)
	}
	if err := store.MarkDone(nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("mark done on nil = %v, want ErrInvalidTransition", err)
	}
}

func TestFullTransitionPreservesBody(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	task := store.NextPending()
	if err := store.MarkInProgress(task); err != nil {
		t.Fatalf("mark in-progress: %v", err)
	}
	if err := store.MarkDone(task); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	text := store.Text(task)
	want := "- [x] First task\n  with a body line\n  and another body line"
	if text != want {
		t.Fatalf("task text = %q, want %q", text, want)
	}
}

func TestRemoveDoneKeepsNeighborBodies(t *testing.T) {
	store, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	removed := store.RemoveDone()
	if len(removed) != 1 || removed[0].Title != "Third task" {
		t.Fatalf("removed = %+v, want only Third task", removed)
	}
	out := string(store.Bytes())
	if strings.Contains(out, "Third task") || strings.Contains(out, "done body") {
		t.Fatalf("done task still present:\n%s", out)
	}
	if !strings.Contains(out, "  with a body line\n") {
		t.Fatalf("neighbor body lost:\n%s", out)
	}
	if got := store.Counts().Total(); got != 3 {
		t.Fatalf("remaining tasks = %d, want 3", got)
	}
}

func TestRemoveDoneLastTaskBodyExtendsToEOF(t *testing.T) {
	input := "- [ ] keep me\n- [x] last task\n  trailing body\n  more body\n"
	store, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	removed := store.RemoveDone()
	if len(removed) != 1 {
		t.Fatalf("removed %d tasks, want 1", len(removed))
	}
	if got := string(store.Bytes()); got != "- [ ] keep me\n" {
		t.Fatalf("live store = %q, want only the kept task", got)
	}
}

func TestPersistIsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "TASKS.md")
	if err := os.WriteFile(path, []byte(sampleList), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := store.MarkInProgress(store.NextPending()); err != nil {
		t.Fatalf("mark in-progress: %v", err)
	}
	if err := store.Persist(path); err != nil {
		t.Fatalf("persist: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Counts().InProgress != 2 {
		t.Fatalf("in-progress after reload = %d, want 2", reloaded.Counts().InProgress)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.md")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
