// Package tui renders a read-only live board for a taskmill project: task
// counts, the last run's state, and the tail of the progress record.
//
// It follows The Elm Architecture that bubbletea imposes: a Model holds all
// state, Update reacts to messages, View renders a string. The board never
// mutates the task list; it only reads, so it needs no locks.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskmill/taskmill/internal/config"
	"github.com/taskmill/taskmill/internal/loop"
	"github.com/taskmill/taskmill/internal/recorder"
	"github.com/taskmill/taskmill/internal/tasklist"
)

const (
	boardRefreshInterval = 2 * time.Second
	progressTailLines    = 8
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type refreshMsg struct {
	counts   tasklist.Counts
	state    loop.RunState
	hasState bool
	progress []string
	err      error
}

type tickMsg time.Time

// Model is the watch board's state.
type Model struct {
	cfg      *config.Config
	progress *recorder.Recorder
	spin     spinner.Model

	counts   tasklist.Counts
	state    loop.RunState
	hasState bool
	tail     []string
	loadErr  string
	width    int
}

// NewModel builds the watch board for a loaded project configuration.
func NewModel(cfg *config.Config, progress *recorder.Recorder) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = titleStyle
	return Model{
		cfg:      cfg,
		progress: progress,
		spin:     spin,
	}
}

// Init starts the spinner and the first refresh.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refresh)
}

// Update handles refresh results, timer ticks, and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case refreshMsg:
		m.applyRefresh(msg)
		return m, scheduleTick()
	case tickMsg:
		return m, m.refresh
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyRefresh(msg refreshMsg) {
	if msg.err != nil {
		m.loadErr = msg.err.Error()
		return
	}
	m.loadErr = ""
	m.counts = msg.counts
	m.state = msg.state
	m.hasState = msg.hasState
	m.tail = msg.progress
}

// View renders the board.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.spin.View())
	b.WriteString(titleStyle.Render(" taskmill — " + m.cfg.TaskFilePath()))
	b.WriteString("\n\n")
	if m.loadErr != "" {
		b.WriteString(errStyle.Render("cannot read task list: " + m.loadErr))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		pendingStyle.Render(fmt.Sprintf("%d pending", m.counts.Pending)),
		activeStyle.Render(fmt.Sprintf("%d in progress", m.counts.InProgress)),
		doneStyle.Render(fmt.Sprintf("%d done", m.counts.Done)),
	))
	if m.hasState {
		line := fmt.Sprintf("  last run %s: %s (%d resolved in %d iterations)",
			shortID(m.state.RunID), m.state.Outcome, m.state.Resolved, m.state.Iterations)
		if m.state.Outcome == "" {
			line = fmt.Sprintf("  run %s in flight (%d resolved so far)",
				shortID(m.state.RunID), m.state.Resolved)
		}
		b.WriteString(detailStyle.Render(line))
		b.WriteString("\n")
	}
	if len(m.tail) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("  recent progress"))
		b.WriteString("\n")
		for _, line := range m.tail {
			b.WriteString(detailStyle.Render("  " + line))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(detailStyle.Render("  q to quit"))
	b.WriteString("\n")
	return b.String()
}

// refresh reads the task list, run state, and progress tail off-thread.
func (m Model) refresh() tea.Msg {
	store, err := tasklist.Load(m.cfg.TaskFilePath())
	if err != nil {
		return refreshMsg{err: err}
	}
	msg := refreshMsg{
		counts:   store.Counts(),
		progress: m.progress.Tail(progressTailLines),
	}
	if state, err := loop.NewStateStore(m.cfg.StateDir()).Load(); err == nil {
		msg.state = state
		msg.hasState = true
	}
	return msg
}

func scheduleTick() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run launches the watch board and blocks until the user quits.
func Run(cfg *config.Config, progress *recorder.Recorder) error {
	p := tea.NewProgram(NewModel(cfg, progress), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
