// Command taskmill drives an external coding agent through a markdown task
// list until every task is done.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/agent"
	"github.com/taskmill/taskmill/internal/archive"
	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/lockfile"
	"github.com/taskmill/taskmill/internal/logging"
	"github.com/taskmill/taskmill/internal/loop"
	"github.com/taskmill/taskmill/internal/recorder"
	"github.com/taskmill/taskmill/internal/tasklist"
	"github.com/taskmill/taskmill/internal/tui"
)

const starterTaskList = `# Tasks

- [ ] Replace this task with real work
  Body lines under a task travel with it.
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var projectDir string
	root := &cobra.Command{
		Use:           "taskmill",
		Short:         "Autonomous agent work loop over a markdown task list",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "project directory (defaults to cwd)")

	root.AddCommand(
		newInitCmd(&projectDir),
		newRunCmd(&projectDir),
		newStatusCmd(&projectDir),
		newArchiveCmd(&projectDir),
		newWatchCmd(&projectDir),
	)
	return root
}

func resolveProject(projectDir string) (string, error) {
	dir := projectDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
	}
	return filepath.Abs(dir)
}

func loadConfig(projectDir string) (*config.Config, error) {
	dir, err := resolveProject(projectDir)
	if err != nil {
		return nil, err
	}
	if err := config.InitDir(dir); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.DotDir, err)
	}
	return config.New(dir)
}

func newInitCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .taskmill directory and a starter task list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*projectDir)
			if err != nil {
				return err
			}
			taskFile := cfg.TaskFilePath()
			if _, err := os.Stat(taskFile); os.IsNotExist(err) {
				if err := os.WriteFile(taskFile, []byte(starterTaskList), 0o644); err != nil {
					return fmt.Errorf("seed task list: %w", err)
				}
				fmt.Printf("Created %s\n", taskFile)
			}
			fmt.Printf("Initialized %s\n", cfg.DotProjectDir)
			return nil
		},
	}
}

func newRunCmd(projectDir *string) *cobra.Command {
	var maxIterations int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the supervision loop until the task list is done",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*projectDir)
			if err != nil {
				return err
			}
			if maxIterations > 0 {
				cfg.Project.Loop.MaxIterations = maxIterations
			}

			log, err := logging.New(cfg.DotProjectDir)
			if err != nil {
				return err
			}
			defer log.Close()

			locks := lockfile.NewManager(lockfile.WithStaleAfter(cfg.StaleLockAfter()))
			progress, err := recorder.New(cfg.ProgressFilePath(), locks, cfg.LockTimeout())
			if err != nil {
				return err
			}
			changelog, err := recorder.New(cfg.ChangelogFilePath(), locks, cfg.LockTimeout())
			if err != nil {
				return err
			}
			runner, err := agent.NewCommandRunner(cfg.AgentCommand())
			if err != nil {
				return err
			}
			l, err := loop.New(loop.Options{
				TaskFile:      cfg.TaskFilePath(),
				Locks:         locks,
				LockTimeout:   cfg.LockTimeout(),
				LockRetries:   cfg.LockRetries(),
				MaxIterations: cfg.MaxIterations(),
				Runner:        runner,
				Progress:      progress,
				Changelog:     changelog,
				Log:           log,
				States:        loop.NewStateStore(cfg.StateDir()),
				Archiver:      archiver(cfg, locks),
				ArchiveDir:    cfg.ArchiveDir(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary := l.Run(ctx)
			summary.Print(os.Stdout)
			if code := summary.Outcome.ExitCode(); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override the iteration ceiling")
	return cmd
}

func archiver(cfg *config.Config, locks *lockfile.Manager) *archive.Archiver {
	if !cfg.ArchiveOnSuccess() {
		return nil
	}
	return archive.New(locks, cfg.LockTimeout())
}

func newStatusCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print task counts and the last run's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*projectDir)
			if err != nil {
				return err
			}
			store, err := tasklist.Load(cfg.TaskFilePath())
			if err != nil {
				return err
			}
			counts := store.Counts()
			fmt.Printf("%s: %d total, %d pending, %d in progress, %d done\n",
				cfg.TaskFilePath(), counts.Total(), counts.Pending, counts.InProgress, counts.Done)
			state, err := loop.NewStateStore(cfg.StateDir()).Load()
			if err == nil {
				fmt.Printf("last run %s: %s (%d resolved in %d iterations, %s)\n",
					state.RunID, state.Outcome, state.Resolved, state.Iterations,
					state.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newArchiveCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Move completed tasks into a timestamped archive snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*projectDir)
			if err != nil {
				return err
			}
			locks := lockfile.NewManager(lockfile.WithStaleAfter(cfg.StaleLockAfter()))
			a := archive.New(locks, cfg.LockTimeout())
			count, err := a.Archive(cfg.TaskFilePath(), cfg.ArchiveDir())
			if err != nil {
				return err
			}
			if count == 0 {
				fmt.Println("Nothing to archive.")
				return nil
			}
			fmt.Printf("Archived %d completed tasks to %s\n", count, cfg.ArchiveDir())
			return nil
		},
	}
}

func newWatchCmd(projectDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Live board of task counts and recent progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*projectDir)
			if err != nil {
				return err
			}
			progress, err := recorder.New(cfg.ProgressFilePath(), lockfile.NewManager(), cfg.LockTimeout())
			if err != nil {
				return err
			}
			return tui.Run(cfg, progress)
		},
	}
}
