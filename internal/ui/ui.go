package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/scanx/internal/tasks"
)

// ViewState identifies which view the model renders.
type ViewState int

const (
	RunningView ViewState = iota
	ResultView
)

// runDoneMsg carries the final result once the engine goroutine returns.
type runDoneMsg struct {
	result *tasks.CopyRunResult
	err    error
}

// progressUpdateMsg wraps one engine progress update.
type progressUpdateMsg tasks.ProgressUpdate

// Model is the bubbletea model for a live copy run.
type Model struct {
	state    ViewState
	updates  <-chan tasks.ProgressUpdate
	done     <-chan runDoneMsg
	bar      progress.Model
	spin     spinner.Model
	keys     keyMap
	help     help.Model
	batch    int
	total    int
	stage    string
	step     int
	steps    int
	message  string
	retries  int
	skipped  int
	result   *tasks.CopyRunResult
	err      error
	quitting bool
}

// RunFunc starts the copy and reports its outcome. It runs in its own
// goroutine so the event loop stays responsive.
type RunFunc func(progress chan<- tasks.ProgressUpdate) (*tasks.CopyRunResult, error)

// NewModel builds a model wired to the given run function.
func NewModel(run RunFunc) Model {
	updates := make(chan tasks.ProgressUpdate, 64)
	done := make(chan runDoneMsg, 1)

	go func() {
		result, err := run(updates)
		close(updates)
		done <- runDoneMsg{result: result, err: err}
	}()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.ok

	return Model{
		state:   RunningView,
		updates: updates,
		done:    done,
		bar:     progress.New(progress.WithDefaultGradient()),
		spin:    sp,
		keys:    newKeyMap(),
		help:    help.New(),
		message: "starting copy run",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForProgress())
}

// waitForProgress yields the next engine update, or the final result once the
// update channel drains.
func (m Model) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		if update, ok := <-m.updates; ok {
			return progressUpdateMsg(update)
		}
		return <-m.done
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 8
		m.help.Width = msg.Width
	case progressUpdateMsg:
		m.applyUpdate(tasks.ProgressUpdate(msg))
		return m, m.waitForProgress()
	case runDoneMsg:
		m.state = ResultView
		m.result = msg.result
		m.err = msg.err
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) applyUpdate(update tasks.ProgressUpdate) {
	if update.Total > 0 {
		m.total = update.Total
	}
	if update.Batch > 0 {
		m.batch = update.Batch
	}
	m.message = update.Message

	switch update.Phase {
	case tasks.BatchSkip:
		m.skipped++
	case tasks.StageProgress:
		m.stage = update.Stage.String()
		m.step = update.Step
		m.steps = update.Steps
	case tasks.BatchRetry:
		m.retries++
	case tasks.BatchDone:
		m.stage = ""
		m.step = 0
		m.steps = 0
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("Scan Copy"))
	b.WriteString("\n")

	switch m.state {
	case ResultView:
		b.WriteString(m.resultView())
	default:
		b.WriteString(m.runningView())
	}

	b.WriteString("\n\n")
	b.WriteString(styles.help.Render(m.help.View(m.keys)))
	return b.String()
}

func (m Model) runningView() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s\n\n", m.spin.View(), m.message))

	if m.total > 0 {
		pct := float64(m.batch) / float64(m.total)
		b.WriteString(fmt.Sprintf("Batch %d/%d\n", m.batch, m.total))
		b.WriteString(m.bar.ViewAs(pct))
		b.WriteString("\n")
	}
	if m.stage != "" && m.steps > 0 {
		b.WriteString(fmt.Sprintf("\n%s: %d/%d scans", m.stage, m.step, m.steps))
	}
	if m.retries > 0 {
		b.WriteString("\n" + styles.warn.Render(fmt.Sprintf("retries: %d", m.retries)))
	}
	if m.skipped > 0 {
		b.WriteString(fmt.Sprintf("\nskipped (checkpointed): %d", m.skipped))
	}
	return b.String()
}

func (m Model) resultView() string {
	var b strings.Builder

	if m.err != nil {
		b.WriteString(styles.err.Render("Run failed: "+m.err.Error()) + "\n")
	}
	if m.result == nil {
		return b.String()
	}

	if m.result.FullyCompleted() {
		b.WriteString(styles.ok.Render("All scans copied") + "\n")
	} else {
		b.WriteString(styles.warn.Render("Run finished with failures") + "\n")
	}
	b.WriteString(fmt.Sprintf("Succeeded: %d\n", m.result.Succeeded))
	b.WriteString(fmt.Sprintf("Failed:    %d\n", m.result.Failed))
	if m.result.SkippedBatches > 0 {
		b.WriteString(fmt.Sprintf("Skipped batches: %d\n", m.result.SkippedBatches))
	}
	if m.result.CheckpointPath != "" && !m.result.FullyCompleted() {
		b.WriteString(fmt.Sprintf("Checkpoint: %s\n", m.result.CheckpointPath))
	}
	return b.String()
}
