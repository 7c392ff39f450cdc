package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/events"
)

// Task statuses shown in the list.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const listWidth = 25

// TaskState is what the pane knows about a single task.
type TaskState struct {
	Name      string
	Set       string
	Status    string
	Origin    string // task whose own computation failed
	Lines     []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel is the task list with a detail viewport for the selected task.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	taskOrder   []string // first-seen order
	selectedIdx int
	follow      bool // keep the newest task selected until the user moves
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.follow = m.selectedIdx == len(m.taskOrder)-1
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.follow = false
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		task := m.ensure(msg.Name, msg.Set)
		task.Status = StatusRunning
		task.StartTime = msg.Timestamp
		task.Lines = append(task.Lines, fmt.Sprintf("[Started %s]", msg.Timestamp.Format(time.TimeOnly)))
		m.refresh(msg.Name)

	case events.TaskCompletedEvent:
		task := m.ensure(msg.Name, msg.Set)
		task.Status = StatusCompleted
		task.Duration = msg.Duration
		if msg.Value != "" {
			task.Lines = append(task.Lines, msg.Value)
		}
		task.Lines = append(task.Lines, fmt.Sprintf("[Completed in %v]", msg.Duration.Round(time.Millisecond)))
		m.refresh(msg.Name)

	case events.TaskFailedEvent:
		task := m.ensure(msg.Name, msg.Set)
		task.Status = StatusFailed
		task.Duration = msg.Duration
		task.Origin = msg.Origin
		if msg.Origin != "" && msg.Origin != msg.Name {
			task.Lines = append(task.Lines, fmt.Sprintf("[Skipped: %s failed]", msg.Origin))
		} else {
			task.Lines = append(task.Lines, fmt.Sprintf("[Failed: %v]", msg.Err))
		}
		m.refresh(msg.Name)
	}

	return m, cmd
}

// ensure returns the state for name, adding it to the list when first seen.
func (m *TaskPaneModel) ensure(name, set string) *TaskState {
	if task, ok := m.tasks[name]; ok {
		return task
	}
	task := &TaskState{Name: name, Set: set}
	m.tasks[name] = task
	m.taskOrder = append(m.taskOrder, name)
	return task
}

func (m *TaskPaneModel) refresh(name string) {
	if m.follow {
		m.selectedIdx = len(m.taskOrder) - 1
	}
	if m.SelectedTask() == name {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, name := range m.taskOrder {
			task := m.tasks[name]
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", StatusIcon(task.Status), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTask returns the name of the selected task, or "".
func (m TaskPaneModel) SelectedTask() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the state of a task seen by the pane.
func (m TaskPaneModel) Task(name string) (TaskState, bool) {
	task, ok := m.tasks[name]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

// Len returns the number of tasks seen so far.
func (m TaskPaneModel) Len() int {
	return len(m.taskOrder)
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.SelectedTask()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := task.Name
	if task.Set != "" {
		header = task.Set + " / " + task.Name
	}
	if task.Status == StatusFailed && task.Origin != "" && task.Origin != task.Name {
		header += " " + StyleOrigin.Render("(caused by "+task.Origin+")")
	}

	m.viewport.SetContent(header + "\n\n" + strings.Join(task.Lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
