package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ProgressMsg reports one job's status change to a running Progress view.
type ProgressMsg struct {
	JobID  string
	Status string
	Done   bool // total job count now known/updated
	Total  int
}

// Progress is a live job-progress view, fed job status changes through
// Report. It is decoupled from pkg/schedule.Scheduler (which knows nothing
// about bubbletea and has no progress hook) via a plain channel, the same
// producer/consumer shape the teacher's own pipeline.Runner uses to keep
// rendering concerns out of core logic. No CLI command constructs one.
type Progress struct {
	total    int
	messages chan ProgressMsg
}

// NewProgress builds a Progress view expecting total jobs.
func NewProgress(total int) *Progress {
	return &Progress{total: total, messages: make(chan ProgressMsg, 256)}
}

// Report is called by the scheduler as each job finishes.
func (p *Progress) Report(jobID, status string) {
	select {
	case p.messages <- ProgressMsg{JobID: jobID, Status: status}:
	default:
	}
}

// Run drives the terminal view until the channel is closed by the caller
// once the scheduler run completes.
func (p *Progress) Run() error {
	m := progressModel{total: p.total, messages: p.messages}
	_, err := tea.NewProgram(m).Run()
	return err
}

// Close signals Run to exit once all buffered messages are drained.
func (p *Progress) Close() { close(p.messages) }

type progressModel struct {
	total    int
	done     int
	failed   int
	last     string
	messages chan ProgressMsg
}

func (m progressModel) Init() tea.Cmd {
	return waitForMessage(m.messages)
}

func waitForMessage(ch chan ProgressMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return tea.Quit()
		}
		return msg
	}
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case ProgressMsg:
		m.done++
		if v.Status == "failed" {
			m.failed++
		}
		m.last = fmt.Sprintf("%s: %s", v.JobID, v.Status)
		return m, waitForMessage(m.messages)
	case tea.KeyMsg:
		if v.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render("sparv run"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%d/%d jobs done", m.done, m.total)
	if m.failed > 0 {
		fmt.Fprintf(&b, " (%d failed)", m.failed)
	}
	b.WriteString("\n")
	if m.last != "" {
		b.WriteString(styleDim.Render(m.last))
		b.WriteString("\n")
	}
	return b.String()
}
