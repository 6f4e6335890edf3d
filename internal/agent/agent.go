// Package agent invokes the external coding agent that performs the actual
// task work. The agent is an opaque collaborator: it receives the task text
// on stdin, and its exit status is the only signal taskmill interprets.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrAgentFailed wraps any non-zero agent exit.
var ErrAgentFailed = errors.New("agent: command failed")

// Runner executes one task's worth of agent work.
type Runner interface {
	// Run blocks until the agent finishes or ctx is cancelled. A nil
	// return means success; anything else is failure, regardless of what
	// the agent printed.
	Run(ctx context.Context, taskText string) error
}

// CommandRunner shells out to a configured argv, streaming the agent's
// output through to the supervising terminal.
type CommandRunner struct {
	argv   []string
	stdout io.Writer
	stderr io.Writer
}

// CommandOption customizes a CommandRunner.
type CommandOption func(*CommandRunner)

// WithOutput redirects the agent's stdout and stderr (primarily for tests).
func WithOutput(stdout, stderr io.Writer) CommandOption {
	return func(r *CommandRunner) {
		if stdout != nil {
			r.stdout = stdout
		}
		if stderr != nil {
			r.stderr = stderr
		}
	}
}

// NewCommandRunner builds a runner for the given argv.
func NewCommandRunner(argv []string, opts ...CommandOption) (*CommandRunner, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("agent: command is required")
	}
	r := &CommandRunner{
		argv:   argv,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes the agent once with the task text on stdin. Cancelling ctx
// kills the process, so the supervision loop can interrupt a long run.
func (r *CommandRunner) Run(ctx context.Context, taskText string) error {
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Stdin = strings.NewReader(taskText)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("agent: interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %s: %v", ErrAgentFailed, r.argv[0], err)
	}
	return nil
}
