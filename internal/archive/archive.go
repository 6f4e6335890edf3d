// Package archive moves completed tasks out of the live task list into
// immutable, timestamp-named snapshot files.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskmill/taskmill/internal/lockfile"
	"github.com/taskmill/taskmill/internal/tasklist"
)

// Archiver compacts a task list under its advisory lock.
type Archiver struct {
	locks   *lockfile.Manager
	timeout time.Duration
	now     func() time.Time
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an Archiver that uses the given lock manager and timeout for
// the task list lock.
func New(locks *lockfile.Manager, lockTimeout time.Duration, opts ...Option) *Archiver {
	a := &Archiver{
		locks:   locks,
		timeout: lockTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive moves every done task from the live store into a new snapshot file
// under archiveDir and returns how many tasks moved. With zero done tasks it
// is a side-effect-free no-op: no file is created and the live store is not
// rewritten. The snapshot write and the live-store rewrite both happen under
// the store's lock, so no reader can observe a task in neither file.
func (a *Archiver) Archive(storePath, archiveDir string) (int, error) {
	count := 0
	err := a.locks.WithLock(storePath, a.timeout, func() error {
		store, err := tasklist.Load(storePath)
		if err != nil {
			return err
		}
		var done []string
		for _, task := range store.Tasks() {
			if task.State == tasklist.StateDone {
				done = append(done, store.Text(task))
			}
		}
		if len(done) == 0 {
			return nil
		}
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return fmt.Errorf("archive: ensure dir %s: %w", archiveDir, err)
		}
		stamp := a.now()
		path := filepath.Join(archiveDir, fmt.Sprintf("tasks-%s.md", stamp.Format("20060102-150405")))
		if err := os.WriteFile(path, snapshot(storePath, stamp, done), 0o644); err != nil {
			return fmt.Errorf("archive: write %s: %w", path, err)
		}
		removed := store.RemoveDone()
		if err := store.Persist(storePath); err != nil {
			return err
		}
		count = len(removed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// snapshot renders the archive file: a header naming the source and time,
// then the full text of every archived task.
func snapshot(storePath string, stamp time.Time, tasks []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Archived tasks\n\nSource: %s\nArchived: %s\n",
		filepath.Base(storePath), stamp.UTC().Format(time.RFC3339))
	for _, text := range tasks {
		b.WriteString("\n")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return []byte(b.String())
}
