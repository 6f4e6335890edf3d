// Package tasklist parses and rewrites the live task list file.
//
// The file is the system of record: a UTF-8, line-oriented list where tasks
// start with a checkbox marker and every other line is either body text of
// the preceding task or opaque content that must survive a rewrite
// byte-for-byte. Serialization is the exact inverse of parsing, so loading
// and persisting an untouched store reproduces the input bytes.
package tasklist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// State is the lifecycle state of a single task.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
)

const (
	markerPending = "- [ ]"
	markerDone    = "- [x]"
	// inProgressFlag is layered on top of the pending marker so any tool
	// that only understands checkboxes still treats the task as not done.
	inProgressFlag = "🔄"
)

// ErrParse reports structurally invalid task list input.
var ErrParse = errors.New("tasklist: parse error")

// ErrInvalidTransition reports a state transition the task cannot make.
var ErrInvalidTransition = errors.New("tasklist: invalid transition")

// Task is one unit of work in the live store. Identity is positional: a Task
// is only valid against the Store it was read from, for the lifetime of that
// Store.
type Task struct {
	State State
	Title string

	pos int // index of the marker line within the store
}

// line is the tagged variant model underlying the store: a task marker, a
// continuation line owned by the preceding task, or opaque content.
type line struct {
	text   string
	task   *Task // nil for opaque lines
	marker bool  // true for a task's first line
}

// Store is the in-memory representation of one read of the task list file.
// Lifecycle: load, apply zero or more transitions, persist, discard.
type Store struct {
	lines           []line
	tasks           []*Task
	trailingNewline bool
}

// Load reads and parses the task list at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tasklist: read %s: %w", path, err)
	}
	store, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	return store, nil
}

// Parse builds a store from raw file bytes.
func Parse(data []byte) (*Store, error) {
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, fmt.Errorf("%w: input contains NUL bytes", ErrParse)
	}
	store := &Store{}
	text := string(data)
	if strings.HasSuffix(text, "\n") {
		store.trailingNewline = true
		text = strings.TrimSuffix(text, "\n")
	}
	if text == "" && !store.trailingNewline {
		return store, nil
	}
	var current *Task
	for _, raw := range strings.Split(text, "\n") {
		if state, title, ok := parseMarker(raw); ok {
			task := &Task{State: state, Title: title, pos: len(store.lines)}
			store.tasks = append(store.tasks, task)
			store.lines = append(store.lines, line{text: raw, task: task, marker: true})
			current = task
			continue
		}
		// Lines before the first marker are opaque preamble; everything
		// after a marker is that task's body until the next marker.
		store.lines = append(store.lines, line{text: raw, task: current})
	}
	return store, nil
}

// parseMarker recognizes a task marker at the start of a line and splits it
// into state and title. Unknown leading text is not a marker.
func parseMarker(raw string) (State, string, bool) {
	switch {
	case hasMarkerPrefix(raw, markerDone), hasMarkerPrefix(raw, "- [X]"):
		return StateDone, strings.TrimSpace(raw[len(markerDone):]), true
	case hasMarkerPrefix(raw, markerPending):
		rest := strings.TrimLeft(raw[len(markerPending):], " ")
		if strings.HasPrefix(rest, inProgressFlag) {
			title := strings.TrimSpace(strings.TrimPrefix(rest, inProgressFlag))
			return StateInProgress, title, true
		}
		return StatePending, strings.TrimRight(rest, " "), true
	}
	return "", "", false
}

func hasMarkerPrefix(raw, marker string) bool {
	if raw == marker {
		return true
	}
	return strings.HasPrefix(raw, marker+" ")
}

// Counts holds per-state task totals for one store snapshot.
type Counts struct {
	Pending    int
	InProgress int
	Done       int
}

// Total returns the number of tasks across all states.
func (c Counts) Total() int {
	return c.Pending + c.InProgress + c.Done
}

// Counts tallies tasks by state.
func (s *Store) Counts() Counts {
	var counts Counts
	for _, task := range s.tasks {
		switch task.State {
		case StatePending:
			counts.Pending++
		case StateInProgress:
			counts.InProgress++
		case StateDone:
			counts.Done++
		}
	}
	return counts
}

// Tasks returns the tasks in file order.
func (s *Store) Tasks() []*Task {
	return s.tasks
}

// NextPending returns the first pending task in file order, or nil.
func (s *Store) NextPending() *Task {
	for _, task := range s.tasks {
		if task.State == StatePending {
			return task
		}
	}
	return nil
}

// FirstInProgress returns the first in-progress task, or nil. A non-nil
// result on a fresh load means a prior run stopped without resolving it.
func (s *Store) FirstInProgress() *Task {
	for _, task := range s.tasks {
		if task.State == StateInProgress {
			return task
		}
	}
	return nil
}

// MarkInProgress transitions a pending task to in-progress, rewriting only
// its marker line.
func (s *Store) MarkInProgress(task *Task) error {
	if task == nil || task.State != StatePending {
		return fmt.Errorf("%w: mark in-progress requires a pending task, have %s", ErrInvalidTransition, stateOf(task))
	}
	task.State = StateInProgress
	s.lines[task.pos].text = renderMarker(task)
	return nil
}

// MarkDone transitions an in-progress task to done, rewriting only its
// marker line.
func (s *Store) MarkDone(task *Task) error {
	if task == nil || task.State != StateInProgress {
		return fmt.Errorf("%w: mark done requires an in-progress task, have %s", ErrInvalidTransition, stateOf(task))
	}
	task.State = StateDone
	s.lines[task.pos].text = renderMarker(task)
	return nil
}

func stateOf(task *Task) State {
	if task == nil {
		return "none"
	}
	return task.State
}

func renderMarker(task *Task) string {
	switch task.State {
	case StateInProgress:
		return strings.TrimRight(fmt.Sprintf("%s %s %s", markerPending, inProgressFlag, task.Title), " ")
	case StateDone:
		return strings.TrimRight(fmt.Sprintf("%s %s", markerDone, task.Title), " ")
	default:
		return strings.TrimRight(fmt.Sprintf("%s %s", markerPending, task.Title), " ")
	}
}

// Body returns the task's continuation lines, verbatim.
func (s *Store) Body(task *Task) []string {
	var body []string
	for _, ln := range s.lines {
		if ln.task == task && !ln.marker {
			body = append(body, ln.text)
		}
	}
	return body
}

// Text returns the task's full text: marker line plus body, newline joined.
func (s *Store) Text(task *Task) string {
	parts := []string{s.lines[task.pos].text}
	parts = append(parts, s.Body(task)...)
	return strings.Join(parts, "\n")
}

// RemoveDone deletes every done task (marker and body) from the store and
// returns the removed tasks in file order. Remaining lines keep their
// relative order and body attribution.
func (s *Store) RemoveDone() []*Task {
	var removed []*Task
	var keptLines []line
	var keptTasks []*Task
	for _, ln := range s.lines {
		if ln.task != nil && ln.task.State == StateDone {
			if ln.marker {
				removed = append(removed, ln.task)
			}
			continue
		}
		keptLines = append(keptLines, ln)
	}
	for i := range keptLines {
		if keptLines[i].marker {
			keptLines[i].task.pos = i
			keptTasks = append(keptTasks, keptLines[i].task)
		}
	}
	s.lines = keptLines
	s.tasks = keptTasks
	return removed
}

// Bytes serializes the store back to file bytes.
func (s *Store) Bytes() []byte {
	if len(s.lines) == 0 {
		if s.trailingNewline {
			return []byte("\n")
		}
		return nil
	}
	var buf bytes.Buffer
	for i, ln := range s.lines {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(ln.text)
	}
	if s.trailingNewline {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Persist writes the store to path atomically: the bytes land in a temp file
// in the same directory which is then renamed over the original, so a crash
// mid-write can never leave a truncated task list behind.
func (s *Store) Persist(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("tasklist: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(s.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("tasklist: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tasklist: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tasklist: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tasklist: replace %s: %w", path, err)
	}
	return nil
}
