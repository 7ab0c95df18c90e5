package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/cudaredist/pkg/task"
)

// maxProgressRows bounds the pending rows drawn in the table.
const maxProgressRows = 12

// =============================================================================
// progressModel - live task table
// =============================================================================

type progressMsg task.Progress

type progressModel struct {
	title    string
	progress task.Progress
	seen     bool
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.progress = task.Progress(msg)
		m.seen = true
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) View() string {
	if !m.seen {
		return StyleDim.Render(m.title+"...") + "\n"
	}
	return renderProgress(m.title, m.progress, maxProgressRows)
}

// renderProgress draws a summary line and a table of running and waiting
// tasks, running first.
func renderProgress(title string, p task.Progress, maxRows int) string {
	var b strings.Builder
	b.WriteString(StyleTitle.Render(title))
	b.WriteString("  ")
	b.WriteString(StyleDim.Render(fmt.Sprintf("%d/%d done · %d running · %d cancelled · %s",
		p.Done, p.Total, p.Running, p.Cancelled, p.Elapsed.Round(100*time.Millisecond))))
	b.WriteString("\n")
	if len(p.Pending) == 0 {
		return b.String()
	}

	rows := make([][]string, 0, min(len(p.Pending), maxRows))
	for i, info := range p.Pending {
		if i == maxRows {
			break
		}
		rows = append(rows, []string{info.Status.Icon(), info.Status.String(), info.Label})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Status", "Task").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if row < len(p.Pending) && p.Pending[row].Status == task.Running {
				return lipgloss.NewStyle().Foreground(colorCyan)
			}
			return lipgloss.NewStyle().Foreground(colorDim)
		})
	b.WriteString(t.Render())
	b.WriteString("\n")
	if extra := len(p.Pending) - maxRows; extra > 0 {
		b.WriteString(StyleDim.Render(fmt.Sprintf("  … %d more", extra)))
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// progressView - task.View backed by a bubbletea program
// =============================================================================

// progressView forwards task progress to a running bubbletea program.
type progressView struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
}

func startProgressView(title string, out io.Writer) *progressView {
	v := &progressView{
		program: tea.NewProgram(progressModel{title: title},
			tea.WithOutput(out), tea.WithInput(nil), tea.WithoutSignalHandler()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(v.done)
		_, _ = v.program.Run()
	}()
	return v
}

// Update implements task.View.
func (v *progressView) Update(p task.Progress) {
	v.program.Send(progressMsg(p))
}

// Stop quits the program and waits for it to restore the terminal. Safe to
// call more than once.
func (v *progressView) Stop() {
	v.once.Do(func() {
		v.program.Quit()
		<-v.done
	})
}

// progressFor returns the view for a batch and a stop function. When the
// table is not shown the view is nil and stop does nothing.
func (c *CLI) progressFor(title string, out io.Writer) (task.View, func()) {
	if !c.showProgress() {
		return nil, func() {}
	}
	v := startProgressView(title, out)
	return v, v.Stop
}
