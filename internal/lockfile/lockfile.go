// Package lockfile provides advisory, per-file mutual exclusion between
// cooperating processes on one host.
//
// A lock is a sentinel file created with O_EXCL next to the protected file.
// Cooperating writers contend on the sentinel; nothing stops a process that
// ignores the convention from touching the protected file directly.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned when the lock could not be acquired within the
// caller's deadline. Callers treat it as "skip this cycle", never as fatal.
var ErrTimeout = errors.New("lockfile: timeout")

const (
	// DefaultTimeout bounds how long Acquire polls before giving up.
	DefaultTimeout = 15 * time.Second

	// DefaultStaleAfter is the age past which a sentinel is assumed to be
	// the debris of a crashed process and may be reclaimed. This is a
	// heuristic, not a guarantee: a very slow holder and an aggressive
	// threshold can leave two processes both believing they own the lock.
	DefaultStaleAfter = 10 * time.Minute

	pollInterval = 100 * time.Millisecond
)

// Manager acquires sentinel locks with a shared staleness policy.
type Manager struct {
	staleAfter time.Duration
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithStaleAfter overrides the stale-lock reclamation threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager with the default staleness policy.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock is a held sentinel. Release is safe to call more than once and on a
// nil receiver, so callers can defer it unconditionally.
type Lock struct {
	path     string
	token    string
	released bool
}

// Path returns the sentinel file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// SentinelPath derives the sentinel location for a protected file.
func SentinelPath(protected string) string {
	return protected + ".lock"
}

// Acquire takes the lock guarding the given file, polling until timeout.
// A sentinel older than the staleness threshold is removed and re-contended.
func (m *Manager) Acquire(protected string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	sentinel := SentinelPath(protected)
	token := uuid.NewString()
	deadline := m.now().Add(timeout)
	for {
		ok, err := m.tryCreate(sentinel, token)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{path: sentinel, token: token}, nil
		}
		m.reclaimIfStale(sentinel)
		if !m.now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s held past %s", ErrTimeout, sentinel, timeout)
		}
		time.Sleep(pollInterval)
	}
}

// Release removes the sentinel. Releasing a lock that was never held, or
// releasing twice, is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("lockfile: release %s: %w", l.path, err)
	}
	return nil
}

// WithLock runs fn while holding the lock for the protected file, releasing
// on every exit path including a panic inside fn.
func (m *Manager) WithLock(protected string, timeout time.Duration, fn func() error) error {
	lock, err := m.Acquire(protected, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

func (m *Manager) tryCreate(sentinel, token string) (bool, error) {
	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("lockfile: create %s: %w", sentinel, err)
	}
	defer f.Close()
	body := fmt.Sprintf("pid=%d\ntoken=%s\nacquired=%s\n",
		os.Getpid(), token, m.now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(body); err != nil {
		os.Remove(sentinel)
		return false, fmt.Errorf("lockfile: write %s: %w", sentinel, err)
	}
	return true, nil
}

// reclaimIfStale removes a sentinel whose age exceeds the threshold.
// Best-effort: a losing race with the legitimate holder's own release just
// means the Remove fails, and the next create attempt re-contends.
func (m *Manager) reclaimIfStale(sentinel string) {
	info, err := os.Stat(sentinel)
	if err != nil {
		return
	}
	if m.now().Sub(info.ModTime()) < m.staleAfter {
		return
	}
	_ = os.Remove(sentinel)
}

// Describe reads the sentinel's owner metadata for diagnostics.
func Describe(sentinel string) string {
	data, err := os.ReadFile(sentinel)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
