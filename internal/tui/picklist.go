package tui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrArbitrationCancelled is returned when the operator quits a picklist
// without choosing an option (q/esc/ctrl+c).
var ErrArbitrationCancelled = errors.New("tui: arbitration cancelled")

// item is one selectable picklist row: ID is the value returned to the
// caller, Label and Detail are what's rendered.
type item struct {
	ID     string
	Label  string
	Detail string
}

type picklistModel struct {
	title  string
	prompt string
	items  []item
	cursor int
	chosen string
	quit   bool
}

func (m picklistModel) Init() tea.Cmd { return nil }

func (m picklistModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "q", "ctrl+c", "esc":
		m.quit = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "enter":
		m.chosen = m.items[m.cursor].ID
		return m, tea.Quit
	}
	return m, nil
}

func (m picklistModel) View() string {
	var b strings.Builder
	b.WriteString(styleTitle.Render(m.title))
	b.WriteString("\n")
	if m.prompt != "" {
		b.WriteString(styleDim.Render(m.prompt))
		b.WriteString("\n")
	}
	b.WriteString(styleDim.Render("↑/↓ navigate  ⏎ select  q cancel"))
	b.WriteString("\n\n")

	for i, it := range m.items {
		cursor := "  "
		if i == m.cursor {
			cursor = "▸ "
		}
		line := fmt.Sprintf("%s%s", cursor, it.Label)
		if it.Detail != "" {
			line += "  " + styleDim.Render(it.Detail)
		}
		if i == m.cursor {
			b.WriteString(styleSelected.Render(fmt.Sprintf("%s%s", cursor, it.Label)))
			if it.Detail != "" {
				b.WriteString("  " + styleDim.Render(it.Detail))
			}
		} else {
			b.WriteString(styleNormal.Render(line))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// pickOne runs a full-screen picklist over items and returns the chosen
// item's ID, or ErrArbitrationCancelled if the operator quit without
// choosing.
func pickOne(title, prompt string, items []item) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("tui: no candidates to choose from")
	}
	m := picklistModel{title: title, prompt: prompt, items: items}
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	final, err := p.Run()
	if err != nil {
		return "", fmt.Errorf("tui: run picklist: %w", err)
	}
	result := final.(picklistModel)
	if result.quit || result.chosen == "" {
		return "", ErrArbitrationCancelled
	}
	return result.chosen, nil
}
