// Package loop drives the supervision cycle: select the next task, hand it
// to the external agent, resolve the outcome, repeat until the list is done
// or a stopping condition fires.
//
// Exactly one task is in flight at a time. The task list is loaded and
// persisted transactionally around each lock-protected section and never
// held open across the blocking agent call, so cooperating processes can
// edit the file between iterations.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/taskmill/taskmill/internal/agent"
	"github.com/taskmill/taskmill/internal/archive"
	"github.com/taskmill/taskmill/internal/lockfile"
	"github.com/taskmill/taskmill/internal/logging"
	"github.com/taskmill/taskmill/internal/recorder"
	"github.com/taskmill/taskmill/internal/tasklist"
)

// Outcome classifies how a supervision run ended.
type Outcome string

const (
	// OutcomeCompleted means every task reached done.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAgentFailure means the agent reported failure; the task is
	// left in-progress for operator inspection.
	OutcomeAgentFailure Outcome = "agent_failure"
	// OutcomeIterationLimit means the safety ceiling stopped the loop.
	OutcomeIterationLimit Outcome = "iteration_limit_exceeded"
	// OutcomeLockTimeout means a critical-path lock could not be acquired
	// within the retry budget.
	OutcomeLockTimeout Outcome = "lock_timeout"
	// OutcomeInterrupted means an external signal stopped the loop.
	OutcomeInterrupted Outcome = "interrupted"
	// OutcomeFatal means the run could not proceed at all, e.g. an
	// unparseable task list.
	OutcomeFatal Outcome = "fatal"
)

// ExitCode maps an outcome to the process exit code contract.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeCompleted:
		return 0
	case OutcomeAgentFailure:
		return 2
	case OutcomeIterationLimit:
		return 3
	case OutcomeLockTimeout:
		return 4
	case OutcomeInterrupted:
		return 5
	default:
		return 1
	}
}

// Summary is the final status report produced on every termination path.
type Summary struct {
	RunID      string
	Outcome    Outcome
	Iterations int
	Resolved   int
	Counts     tasklist.Counts
	Err        error
}

// Print writes the human-readable end-of-run report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "run %s finished: %s\n", s.RunID, s.Outcome)
	fmt.Fprintf(w, "  iterations: %d, resolved: %d\n", s.Iterations, s.Resolved)
	fmt.Fprintf(w, "  tasks: %d total, %d done, %d remaining\n",
		s.Counts.Total(), s.Counts.Done, s.Counts.Pending+s.Counts.InProgress)
	if s.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", s.Err)
	}
}

// Options wires a Loop to its collaborators.
type Options struct {
	TaskFile      string
	Locks         *lockfile.Manager
	LockTimeout   time.Duration
	LockRetries   int
	MaxIterations int
	Runner        agent.Runner

	// Optional collaborators. A nil recorder or logger is skipped.
	Progress  *recorder.Recorder
	Changelog *recorder.Recorder
	Log       *logging.Logger
	States    *StateStore

	// Archiver compacts the list after a completed run when set.
	Archiver   *archive.Archiver
	ArchiveDir string
}

// Loop is the supervision state machine.
type Loop struct {
	opts  Options
	runID string

	iterations int
	resolved   int
}

// New validates the wiring and builds a Loop.
func New(opts Options) (*Loop, error) {
	if opts.TaskFile == "" {
		return nil, fmt.Errorf("loop: task file is required")
	}
	if opts.Locks == nil {
		return nil, fmt.Errorf("loop: lock manager is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("loop: agent runner is required")
	}
	if opts.MaxIterations < 1 {
		return nil, fmt.Errorf("loop: max iterations must be >= 1")
	}
	if opts.LockRetries < 1 {
		opts.LockRetries = 1
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = lockfile.DefaultTimeout
	}
	return &Loop{
		opts:  opts,
		runID: uuid.NewString(),
	}, nil
}

// selection is the result of one Selecting phase.
type selection struct {
	title   string
	text    string
	noWork  bool // nothing pending and nothing in progress
	resumed bool // adopted an in-progress task from a prior run
	atLimit bool // iteration ceiling reached with work remaining
}

// Run executes the supervision loop until termination and always returns a
// summary, regardless of how it stopped.
func (l *Loop) Run(ctx context.Context) Summary {
	l.logf("run %s starting on %s", l.runID, l.opts.TaskFile)
	for {
		if ctx.Err() != nil {
			return l.finish(OutcomeInterrupted, nil)
		}
		sel, err := l.selectTask()
		if err != nil {
			return l.finish(outcomeForError(err), err)
		}
		if sel.noWork {
			l.maybeArchive()
			return l.finish(OutcomeCompleted, nil)
		}
		if sel.atLimit {
			return l.finish(OutcomeIterationLimit, nil)
		}
		l.iterations++
		if sel.resumed {
			l.logf("resuming in-progress task %q left by a prior run", sel.title)
		} else {
			l.logf("selected task %q (iteration %d)", sel.title, l.iterations)
		}

		runErr := l.opts.Runner.Run(ctx, sel.text)
		if runErr != nil {
			if ctx.Err() != nil {
				return l.finish(OutcomeInterrupted, runErr)
			}
			l.logf("agent failed on %q: %v", sel.title, runErr)
			l.record(l.opts.Progress, "agent failed on task %q: %v", sel.title, runErr)
			return l.finish(OutcomeAgentFailure, runErr)
		}

		if err := l.resolve(sel.title); err != nil {
			return l.finish(outcomeForError(err), err)
		}
		l.resolved++
		l.record(l.opts.Progress, "resolved task %q", sel.title)
		l.record(l.opts.Changelog, "done: %s", sel.title)
		l.saveState("")
	}
}

// selectTask runs the Selecting phase under the task list lock: adopt a
// leftover in-progress task, or claim the first pending one.
func (l *Loop) selectTask() (selection, error) {
	var sel selection
	err := l.withLockRetry(func() error {
		store, err := tasklist.Load(l.opts.TaskFile)
		if err != nil {
			return err
		}
		if task := store.FirstInProgress(); task != nil {
			// Recoverable anomaly: a prior run crashed between
			// mark-in-progress and resolution. Re-run it rather
			// than blocking on the invariant.
			if l.iterations >= l.opts.MaxIterations {
				sel = selection{atLimit: true}
				return nil
			}
			sel = selection{title: task.Title, text: store.Text(task), resumed: true}
			return nil
		}
		task := store.NextPending()
		if task == nil {
			sel = selection{noWork: true}
			return nil
		}
		if l.iterations >= l.opts.MaxIterations {
			sel = selection{atLimit: true}
			return nil
		}
		if err := store.MarkInProgress(task); err != nil {
			return err
		}
		if err := store.Persist(l.opts.TaskFile); err != nil {
			return err
		}
		sel = selection{title: task.Title, text: store.Text(task)}
		return nil
	})
	return sel, err
}

// resolve runs the Resolving phase: reload the list, mark our in-progress
// task done, persist. The store is re-read because the file may have been
// edited while the agent ran.
func (l *Loop) resolve(title string) error {
	return l.withLockRetry(func() error {
		store, err := tasklist.Load(l.opts.TaskFile)
		if err != nil {
			return err
		}
		task := store.FirstInProgress()
		if task == nil {
			// Someone resolved it for us while the agent ran. Count
			// the work as done and move on.
			l.logf("task %q already resolved externally", title)
			return nil
		}
		if task.Title != title {
			l.logf("resolving %q but found %q in progress", title, task.Title)
		}
		if err := store.MarkDone(task); err != nil {
			return err
		}
		return store.Persist(l.opts.TaskFile)
	})
}

// withLockRetry acquires the task list lock with a small retry budget.
// A timeout that persists past the budget escalates to the caller.
func (l *Loop) withLockRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < l.opts.LockRetries; attempt++ {
		err = l.opts.Locks.WithLock(l.opts.TaskFile, l.opts.LockTimeout, fn)
		if !errors.Is(err, lockfile.ErrTimeout) {
			return err
		}
		l.logf("lock busy on %s (attempt %d/%d)", l.opts.TaskFile, attempt+1, l.opts.LockRetries)
	}
	return err
}

func (l *Loop) maybeArchive() {
	if l.opts.Archiver == nil || l.opts.ArchiveDir == "" {
		return
	}
	count, err := l.opts.Archiver.Archive(l.opts.TaskFile, l.opts.ArchiveDir)
	if err != nil {
		// Archiving is compaction, never required for correctness.
		l.logf("archive skipped: %v", err)
		return
	}
	if count > 0 {
		l.logf("archived %d completed tasks", count)
		l.record(l.opts.Changelog, "archived %d completed tasks", count)
	}
}

// finish produces the summary for every termination path and persists the
// final run-state snapshot.
func (l *Loop) finish(outcome Outcome, err error) Summary {
	summary := Summary{
		RunID:      l.runID,
		Outcome:    outcome,
		Iterations: l.iterations,
		Resolved:   l.resolved,
		Err:        err,
	}
	// Lockless best-effort read for reporting only.
	if store, loadErr := tasklist.Load(l.opts.TaskFile); loadErr == nil {
		summary.Counts = store.Counts()
	}
	l.saveState(string(outcome))
	l.logf("run %s finished: %s (resolved %d in %d iterations)",
		l.runID, outcome, l.resolved, l.iterations)
	return summary
}

func (l *Loop) saveState(outcome string) {
	if l.opts.States == nil {
		return
	}
	var counts tasklist.Counts
	if store, err := tasklist.Load(l.opts.TaskFile); err == nil {
		counts = store.Counts()
	}
	state := RunState{
		RunID:      l.runID,
		Outcome:    outcome,
		Iterations: l.iterations,
		Resolved:   l.resolved,
		Pending:    counts.Pending,
		InProgress: counts.InProgress,
		Done:       counts.Done,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := l.opts.States.Save(state); err != nil {
		l.logf("save run state: %v", err)
	}
}

func (l *Loop) record(rec *recorder.Recorder, format string, args ...any) {
	if rec == nil {
		return
	}
	if err := rec.Appendf(format, args...); err != nil {
		// Evidence files are observability, not the system of record.
		l.logf("record to %s skipped: %v", rec.Path(), err)
	}
}

func (l *Loop) logf(format string, args ...any) {
	l.opts.Log.Printf(format, args...)
}

func outcomeForError(err error) Outcome {
	switch {
	case errors.Is(err, lockfile.ErrTimeout):
		return OutcomeLockTimeout
	default:
		return OutcomeFatal
	}
}
