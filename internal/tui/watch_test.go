package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/lockfile"
	"github.com/taskmill/taskmill/internal/loop"
	"github.com/taskmill/taskmill/internal/recorder"
	"github.com/taskmill/taskmill/internal/tasklist"
)

func testModel(t *testing.T) (Model, string) {
	t.Helper()
	projectDir := t.TempDir()
	if err := config.InitDir(projectDir); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.New(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	progress, err := recorder.New(cfg.ProgressFilePath(), lockfile.NewManager(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	return NewModel(cfg, progress), projectDir
}

func TestRefreshCollectsBoardData(t *testing.T) {
	m, projectDir := testModel(t)
	taskFile := filepath.Join(projectDir, "TASKS.md")
	if err := os.WriteFile(taskFile, []byte("- [ ] open\n- [x] shipped\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.progress.Append("resolved something"); err != nil {
		t.Fatal(err)
	}
	if err := loop.NewStateStore(m.cfg.StateDir()).Save(loop.RunState{RunID: "abc", Resolved: 1}); err != nil {
		t.Fatal(err)
	}

	msg, ok := m.refresh().(refreshMsg)
	if !ok {
		t.Fatalf("refresh returned %T", msg)
	}
	if msg.err != nil {
		t.Fatalf("refresh err: %v", msg.err)
	}
	want := tasklist.Counts{Pending: 1, Done: 1}
	if msg.counts != want {
		t.Fatalf("counts = %+v, want %+v", msg.counts, want)
	}
	if !msg.hasState || msg.state.RunID != "abc" {
		t.Fatalf("state = %+v", msg.state)
	}
	if len(msg.progress) != 1 || !strings.Contains(msg.progress[0], "resolved something") {
		t.Fatalf("progress tail = %q", msg.progress)
	}
}

func TestViewShowsCountsAndTail(t *testing.T) {
	m, _ := testModel(t)
	m.applyRefresh(refreshMsg{
		counts:   tasklist.Counts{Pending: 2, InProgress: 1, Done: 3},
		state:    loop.RunState{RunID: "0123456789", Outcome: "completed", Resolved: 3, Iterations: 3},
		hasState: true,
		progress: []string{"2026-01-01T00:00:00Z resolved task"},
	})
	view := m.View()
	for _, want := range []string{"2 pending", "1 in progress", "3 done", "last run 01234567", "resolved task", "q to quit"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewShowsLoadError(t *testing.T) {
	m, projectDir := testModel(t)
	// No TASKS.md in the project yet.
	msg, _ := m.refresh().(refreshMsg)
	if msg.err == nil {
		t.Fatalf("expected refresh error for missing %s", filepath.Join(projectDir, "TASKS.md"))
	}
	m.applyRefresh(msg)
	if !strings.Contains(m.View(), "cannot read task list") {
		t.Fatalf("view missing error:\n%s", m.View())
	}
}
