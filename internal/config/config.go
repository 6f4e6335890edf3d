// Package config handles configuration and the .taskmill directory
// structure. Every project that uses taskmill gets a .taskmill/ folder
// created in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DotDir is the name of the directory we create in each project.
	DotDir = ".taskmill"

	defaultTaskFile      = "TASKS.md"
	defaultProgressFile  = "PROGRESS.md"
	defaultChangelogFile = "CHANGELOG.md"

	defaultMaxIterations = 50
	defaultLockRetries   = 3
	defaultLockTimeout   = 15 * time.Second
	defaultStaleAfter    = 10 * time.Minute
)

const defaultProjectConfigYAML = `# taskmill project configuration
version: 1

# The live task list. Tasks are markdown checkboxes:
#   - [ ] pending
#   - [ ] 🔄 in progress
#   - [x] done
task_file: TASKS.md

# Append-only evidence files.
progress_file: PROGRESS.md
changelog_file: CHANGELOG.md

# The agent command receives the task text on stdin.
agent:
  command: ["claude", "-p"]

loop:
  max_iterations: 50
  lock_timeout: 15s
  lock_retries: 3
  stale_lock_after: 10m
  archive_on_success: true
`

// AgentConfig declares how the external agent is invoked.
type AgentConfig struct {
	Command []string `yaml:"command"`
}

// LoopConfig captures supervision loop limits and lock policy.
type LoopConfig struct {
	MaxIterations    int    `yaml:"max_iterations"`
	LockTimeout      string `yaml:"lock_timeout"`
	LockRetries      int    `yaml:"lock_retries"`
	StaleLockAfter   string `yaml:"stale_lock_after"`
	ArchiveOnSuccess *bool  `yaml:"archive_on_success"`
}

// ProjectConfig models .taskmill/config.yaml.
type ProjectConfig struct {
	Version       int         `yaml:"version"`
	TaskFile      string      `yaml:"task_file"`
	ProgressFile  string      `yaml:"progress_file"`
	ChangelogFile string      `yaml:"changelog_file"`
	Agent         AgentConfig `yaml:"agent"`
	Loop          LoopConfig  `yaml:"loop"`
}

// Config holds the runtime configuration for taskmill.
type Config struct {
	// ProjectDir is the directory where the user ran `taskmill` from.
	ProjectDir string

	// DotProjectDir is ProjectDir/.taskmill.
	DotProjectDir string

	Project ProjectConfig

	lockTimeout time.Duration
	staleAfter  time.Duration
}

// InitDir creates the .taskmill directory structure in the given project
// directory and seeds a commented default config.yaml on first run.
//
// Structure created:
// .taskmill/
// ├── logs/      <- run logs
// ├── state/     <- run-state snapshots
// └── archive/   <- timestamped snapshots of completed tasks
func InitDir(projectDir string) error {
	dotDir := filepath.Join(projectDir, DotDir)
	dirs := []string{
		filepath.Join(dotDir, "logs"),
		filepath.Join(dotDir, "state"),
		filepath.Join(dotDir, "archive"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(dotDir, "config.yaml"))
}

// New creates a Config populated from .taskmill/config.yaml, falling back to
// defaults when the file is absent.
func New(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:    projectDir,
		DotProjectDir: filepath.Join(projectDir, DotDir),
		Project:       defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyDefaults()
	if err := cfg.resolveDurations(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TaskFilePath returns the absolute path of the live task list.
func (c *Config) TaskFilePath() string {
	return resolvePath(c.ProjectDir, c.Project.TaskFile)
}

// ProgressFilePath returns the absolute path of the progress record file.
func (c *Config) ProgressFilePath() string {
	return resolvePath(c.ProjectDir, c.Project.ProgressFile)
}

// ChangelogFilePath returns the absolute path of the changelog file.
func (c *Config) ChangelogFilePath() string {
	return resolvePath(c.ProjectDir, c.Project.ChangelogFile)
}

// ArchiveDir returns the directory that receives archive snapshots.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.DotProjectDir, "archive")
}

// StateDir returns the directory for run-state snapshots.
func (c *Config) StateDir() string {
	return filepath.Join(c.DotProjectDir, "state")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.DotProjectDir, "config.yaml")
}

// AgentCommand returns the configured agent argv.
func (c *Config) AgentCommand() []string {
	return c.Project.Agent.Command
}

// MaxIterations returns the supervision loop's iteration ceiling.
func (c *Config) MaxIterations() int {
	return c.Project.Loop.MaxIterations
}

// LockRetries returns the retry budget for critical-path lock acquisition.
func (c *Config) LockRetries() int {
	return c.Project.Loop.LockRetries
}

// LockTimeout returns the per-acquisition lock timeout.
func (c *Config) LockTimeout() time.Duration {
	return c.lockTimeout
}

// StaleLockAfter returns the stale-lock reclamation threshold.
func (c *Config) StaleLockAfter() time.Duration {
	return c.staleAfter
}

// ArchiveOnSuccess reports whether a successful run compacts the task list.
func (c *Config) ArchiveOnSuccess() bool {
	if c.Project.Loop.ArchiveOnSuccess == nil {
		return true
	}
	return *c.Project.Loop.ArchiveOnSuccess
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	cfg := ProjectConfig{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.TaskFile) == "" {
		pc.TaskFile = defaultTaskFile
	}
	if strings.TrimSpace(pc.ProgressFile) == "" {
		pc.ProgressFile = defaultProgressFile
	}
	if strings.TrimSpace(pc.ChangelogFile) == "" {
		pc.ChangelogFile = defaultChangelogFile
	}
	if len(pc.Agent.Command) == 0 {
		pc.Agent.Command = []string{"claude", "-p"}
	}
	if pc.Loop.MaxIterations == 0 {
		pc.Loop.MaxIterations = defaultMaxIterations
	}
	if pc.Loop.LockRetries == 0 {
		pc.Loop.LockRetries = defaultLockRetries
	}
}

func (pc ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be >= 1")
	}
	if pc.Loop.LockRetries < 1 {
		return fmt.Errorf("loop.lock_retries must be >= 1")
	}
	for _, part := range pc.Agent.Command {
		if strings.TrimSpace(part) == "" {
			return fmt.Errorf("agent.command must not contain empty arguments")
		}
	}
	if len(pc.Agent.Command) == 0 {
		return fmt.Errorf("agent.command is required")
	}
	return nil
}

func (c *Config) resolveDurations() error {
	var err error
	c.lockTimeout, err = parseDuration(c.Project.Loop.LockTimeout, defaultLockTimeout)
	if err != nil {
		return fmt.Errorf("config: loop.lock_timeout: %w", err)
	}
	c.staleAfter, err = parseDuration(c.Project.Loop.StaleLockAfter, defaultStaleAfter)
	if err != nil {
		return fmt.Errorf("config: loop.stale_lock_after: %w", err)
	}
	return nil
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
