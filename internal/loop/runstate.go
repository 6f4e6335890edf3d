package loop

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrStateNotFound is returned when no persisted run state exists yet.
var ErrStateNotFound = errors.New("loop: run state not found")

// RunState is the last persisted snapshot of a supervision run. It exists
// for status displays and post-mortems; the loop never reads it back to make
// decisions — the task list file is the only system of record.
type RunState struct {
	RunID      string    `json:"run_id"`
	Outcome    string    `json:"outcome,omitempty"`
	Iterations int       `json:"iterations"`
	Resolved   int       `json:"resolved"`
	Pending    int       `json:"pending"`
	InProgress int       `json:"in_progress"`
	Done       int       `json:"done"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// StateStore persists run-state snapshots inside .taskmill/state.
type StateStore struct {
	path string
}

// NewStateStore creates a store rooted at the given state directory.
func NewStateStore(stateDir string) *StateStore {
	return &StateStore{path: filepath.Join(stateDir, "run.json")}
}

// Load reads the persisted run state if present.
func (s *StateStore) Load() (RunState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RunState{}, ErrStateNotFound
		}
		return RunState{}, err
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return RunState{}, err
	}
	return state, nil
}

// Save writes the run state to disk with best-effort atomicity.
func (s *StateStore) Save(state RunState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, append(encoded, '\n'), 0o644)
}
