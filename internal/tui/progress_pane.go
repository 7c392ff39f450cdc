package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/events"
)

// ProgressPaneModel shows the counters of the running task set.
type ProgressPaneModel struct {
	set       string
	total     int
	completed int
	running   int
	failed    int
	pending   int
	started   time.Time
	finished  bool
	elapsed   time.Duration
	failures  []string
	width     int
	height    int
	focused   bool
}

// NewProgressPaneModel creates a new progress pane.
func NewProgressPaneModel() ProgressPaneModel {
	return ProgressPaneModel{}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.GraphStartedEvent:
		m.set = msg.Set
		m.total = msg.Total
		m.pending = msg.Total
		m.started = msg.Timestamp

	case events.GraphProgressEvent:
		m.set = msg.Set
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending

	case events.GraphCompletedEvent:
		m.finished = true
		m.elapsed = msg.Duration
		m.failures = msg.Failed
	}

	return m, nil
}

// Finished reports whether the set completed.
func (m ProgressPaneModel) Finished() bool {
	return m.finished
}

// Counts returns completed, running, failed and pending members.
func (m ProgressPaneModel) Counts() (completed, running, failed, pending int) {
	return m.completed, m.running, m.failed, m.pending
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	name := "Progress"
	if m.set != "" {
		name = "Progress: " + m.set
	}
	title := StyleTitle.Render(name)
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", m.total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending)))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, m.completed+m.failed, m.total)
	}

	if m.finished {
		b.WriteString("\n")
		if len(m.failures) == 0 {
			b.WriteString(StyleStatusComplete.Render(fmt.Sprintf("Succeeded in %v", m.elapsed.Round(time.Millisecond))))
		} else {
			b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("Failed in %v: %s",
				m.elapsed.Round(time.Millisecond), strings.Join(m.failures, ", "))))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
