// Package recorder appends timestamped entries to the shared progress and
// changelog files. Both files may be written by several processes at once,
// so every append runs under the file's advisory lock. These records are
// observability evidence, not the system of record: a failed append is
// logged and skipped, never fatal.
package recorder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskmill/taskmill/internal/lockfile"
)

// Recorder writes to one append-only control file under its lock.
type Recorder struct {
	path    string
	locks   *lockfile.Manager
	timeout time.Duration
	now     func() time.Time
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a recorder for the given control file.
func New(path string, locks *lockfile.Manager, lockTimeout time.Duration, opts ...Option) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir for %s: %w", path, err)
	}
	r := &Recorder{
		path:    path,
		locks:   locks,
		timeout: lockTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the file backing this recorder.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Append writes one timestamped entry under the file's lock. A lock timeout
// or write failure is returned so the caller can log it, but callers are
// expected to continue.
func (r *Recorder) Append(text string) error {
	if r == nil {
		return nil
	}
	line := fmt.Sprintf("%s %s\n",
		r.now().UTC().Format(time.RFC3339),
		strings.TrimSpace(text),
	)
	return r.locks.WithLock(r.path, r.timeout, func() error {
		file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("recorder: open %s: %w", r.path, err)
		}
		defer file.Close()
		if _, err := file.WriteString(line); err != nil {
			return fmt.Errorf("recorder: append %s: %w", r.path, err)
		}
		return nil
	})
}

// Appendf formats and appends one entry.
func (r *Recorder) Appendf(format string, args ...any) error {
	return r.Append(fmt.Sprintf(format, args...))
}

// Tail returns up to maxLines of the most recent entries. Reads are lockless:
// appends are line-atomic enough for a status display.
func (r *Recorder) Tail(maxLines int) []string {
	if r == nil || maxLines <= 0 {
		return nil
	}
	file, err := os.Open(r.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}
