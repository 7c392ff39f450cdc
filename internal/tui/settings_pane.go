package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/config"
)

// Save targets offered by the settings form.
const (
	TargetGlobal  = "global"
	TargetProject = "project"
)

// SettingsPaneModel manages the settings form overlay. Saved settings apply
// to the next run.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings
	saveTarget     string
	workers        string
	queueSize      string
	debug          bool
	journalEnabled bool
	journalPath    string
	uiEnabled      bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

func (m *SettingsPaneModel) loadFromConfig() {
	m.saveTarget = TargetGlobal
	if m.globalPath == "" {
		m.saveTarget = TargetProject
	}
	m.workers = strconv.Itoa(m.config.Workers)
	m.queueSize = strconv.Itoa(m.config.QueueSize)
	m.debug = m.config.Debug
	m.journalEnabled = m.config.Journal.Enabled
	m.journalPath = m.config.Journal.Path
	m.uiEnabled = m.config.UI.Enabled
}

func (m *SettingsPaneModel) buildForm() {
	var targets []huh.Option[string]
	if m.globalPath != "" {
		targets = append(targets, huh.NewOption(fmt.Sprintf("Global (%s)", m.globalPath), TargetGlobal))
	}
	if m.projectPath != "" {
		targets = append(targets, huh.NewOption(fmt.Sprintf("Project (%s)", m.projectPath), TargetProject))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(targets...).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("workers").
				Title("Workers").
				Description("Size of the async worker pool").
				Value(&m.workers).
				Validate(positiveInt),

			huh.NewInput().
				Key("queueSize").
				Title("Queue Size").
				Description("Event buffer per subscriber").
				Value(&m.queueSize).
				Validate(positiveInt),

			huh.NewConfirm().
				Key("debug").
				Title("Scheduler debug logging").
				Value(&m.debug),
		).Title("Execution"),

		huh.NewGroup(
			huh.NewConfirm().
				Key("journalEnabled").
				Title("Record runs in the journal").
				Value(&m.journalEnabled),

			huh.NewInput().
				Key("journalPath").
				Title("Journal Path").
				Placeholder("~/" + config.DirName + "/journal.db").
				Value(&m.journalPath),

			huh.NewConfirm().
				Key("uiEnabled").
				Title("Show this view by default").
				Value(&m.uiEnabled),
		).Title("Journal and UI"),
	)
}

func positiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.save()
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

func (m *SettingsPaneModel) save() {
	m.applyFormToConfig()

	targetPath := m.globalPath
	if m.saveTarget == TargetProject {
		targetPath = m.projectPath
	}

	if err := m.config.Validate(); err != nil {
		m.err = err
		m.saved = false
		return
	}
	if err := config.Save(m.config, targetPath); err != nil {
		m.err = err
		m.saved = false
		return
	}
	m.saved = true
	m.err = nil
}

// applyFormToConfig copies form field values back to the config struct.
// Inputs are validated by the form, so parse errors cannot occur here.
func (m *SettingsPaneModel) applyFormToConfig() {
	if n, err := strconv.Atoi(m.workers); err == nil {
		m.config.Workers = n
	}
	if n, err := strconv.Atoi(m.queueSize); err == nil {
		m.config.QueueSize = n
	}
	m.config.Debug = m.debug
	m.config.Journal.Enabled = m.journalEnabled
	m.config.Journal.Path = m.journalPath
	m.config.UI.Enabled = m.uiEnabled
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings (applied on the next run)")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form = m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the form
// from the current configuration.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.loadFromConfig()
		m.buildForm()
		if m.width > 0 && m.height > 0 {
			m.form = m.form.WithWidth(m.width - 8).WithHeight(m.height - 8)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
