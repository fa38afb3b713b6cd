// Package tui provides the terminal triage console
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alert-triage/internal/rbac"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/scenes"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view
type Scene int

const (
	SceneLogin Scene = iota
	SceneReset
	SceneDashboard
	SceneAlerts
	SceneLogs
	SceneAnalyze
	SceneUsers
)

// tab is a scene reachable from the tab bar.
type tab struct {
	name       string
	key        string
	scene      Scene
	capability rbac.Capability
}

var tabs = []tab{
	{"Dashboard", "1", SceneDashboard, ""},
	{"Alerts", "2", SceneAlerts, rbac.CapViewAlerts},
	{"Logs", "3", SceneLogs, rbac.CapViewOwnRecords},
	{"Analyze", "4", SceneAnalyze, rbac.CapAnalyze},
	{"Users", "5", SceneUsers, rbac.CapManageUsers},
}

// sceneTick tags a scene tick with the ticker that produced it, so a ticker
// started for a scene that is no longer active dies out.
type sceneTick struct {
	seq int
	msg scenes.TickMsg
}

// Model is the main TUI model
type Model struct {
	console *triage.Console

	// Current scene
	scene Scene

	// Scene models - only the active one receives updates
	login     *scenes.LoginScene
	reset     *scenes.ResetScene
	dashboard *scenes.DashboardScene
	alerts    *scenes.AlertsScene
	logs      *scenes.LogsScene
	analyze   *scenes.AnalyzeScene
	users     *scenes.UsersScene

	tickSeq int

	// Window dimensions
	width  int
	height int

	// Whether we're quitting
	quitting bool
}

// New creates a new TUI model. A restored session skips the login screen.
func New(console *triage.Console) *Model {
	m := &Model{
		console: console,
		login:   scenes.NewLoginScene(console),
		reset:   scenes.NewResetScene(console),
	}
	m.newSessionScenes()

	s := console.Session()
	switch {
	case !s.Authenticated():
		m.scene = SceneLogin
	case s.RequirePasswordReset:
		m.scene = SceneReset
	default:
		m.scene = SceneDashboard
	}
	return m
}

// newSessionScenes replaces every scene that shows session data.
func (m *Model) newSessionScenes() {
	m.dashboard = scenes.NewDashboardScene(m.console)
	m.alerts = scenes.NewAlertsScene(m.console)
	m.logs = scenes.NewLogsScene(m.console)
	m.analyze = scenes.NewAnalyzeScene(m.console)
	m.users = scenes.NewUsersScene(m.console)

	if m.width > 0 {
		size := tea.WindowSizeMsg{Width: m.width, Height: m.height}
		m.dashboard, _ = m.dashboard.Update(size)
		m.alerts, _ = m.alerts.Update(size)
		m.logs, _ = m.logs.Update(size)
		m.analyze, _ = m.analyze.Update(size)
		m.users, _ = m.users.Update(size)
	}
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return m.enter(m.scene)
}

// enter activates a scene: its data fetch and its ticker, nothing else.
func (m *Model) enter(s Scene) tea.Cmd {
	m.leave()
	m.scene = s

	var init tea.Cmd
	switch s {
	case SceneLogin:
		init = m.login.Init()
	case SceneReset:
		init = m.reset.Init()
	case SceneDashboard:
		init = m.dashboard.Init()
	case SceneAlerts:
		init = m.alerts.Init()
	case SceneLogs:
		init = m.logs.Init()
	case SceneAnalyze:
		init = m.analyze.Init()
	case SceneUsers:
		init = m.users.Init()
	}
	return tea.Batch(init, m.tick())
}

// leave lets the active scene drop transient state.
func (m *Model) leave() {
	switch m.scene {
	case SceneAlerts:
		m.alerts.Leave()
	case SceneUsers:
		m.users.Leave()
	}
}

// tick starts a ticker for the active scene only. Any previous ticker is
// orphaned.
func (m *Model) tick() tea.Cmd {
	m.tickSeq++
	seq := m.tickSeq

	var cmd tea.Cmd
	switch m.scene {
	case SceneDashboard:
		cmd = m.dashboard.TickCmd()
	case SceneAlerts:
		cmd = m.alerts.TickCmd()
	case SceneLogs:
		cmd = m.logs.TickCmd()
	case SceneUsers:
		cmd = m.users.TickCmd()
	}
	if cmd == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := cmd().(scenes.TickMsg)
		if !ok {
			return nil
		}
		return sceneTick{seq: seq, msg: msg}
	}
}

// signedIn reports whether the tab bar is reachable.
func (m *Model) signedIn() bool {
	s := m.console.Session()
	return s.Authenticated() && !s.RequirePasswordReset
}

// capturing reports whether the active scene is taking text input.
func (m *Model) capturing() bool {
	switch m.scene {
	case SceneLogin:
		return m.login.Capturing()
	case SceneReset:
		return m.reset.Capturing()
	case SceneAnalyze:
		return m.analyze.Capturing()
	case SceneLogs:
		return m.logs.Capturing()
	case SceneUsers:
		return m.users.Capturing()
	}
	return false
}

func (m *Model) visibleTabs() []tab {
	var out []tab
	for _, t := range tabs {
		if t.capability == "" || m.console.Can(t.capability) {
			out = append(out, t)
		}
	}
	return out
}

// toLogin returns to the login screen after the session ended.
func (m *Model) toLogin(reason string) tea.Cmd {
	m.leave()
	m.newSessionScenes()
	m.login.SetNotice(reason)
	m.scene = SceneLogin
	m.tickSeq++
	return m.login.Init()
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Pass to all scenes so they can adjust
		m.dashboard, _ = m.dashboard.Update(msg)
		m.alerts, _ = m.alerts.Update(msg)
		m.logs, _ = m.logs.Update(msg)
		m.analyze, _ = m.analyze.Update(msg)
		m.users, _ = m.users.Update(msg)
		return m, nil

	case sceneTick:
		// Only the current ticker reaches the active scene
		if msg.seq != m.tickSeq {
			return m, nil
		}
		cmd := m.updateActive(msg.msg)
		return m, tea.Batch(cmd, m.tick())

	case scenes.RedirectMsg:
		return m, m.toLogin(msg.Redirect.Reason)

	case scenes.LoggedInMsg:
		m.login, _ = m.login.Update(msg)
		m.newSessionScenes()
		if msg.Session.RequirePasswordReset {
			return m, m.enter(SceneReset)
		}
		return m, m.enter(SceneDashboard)

	case scenes.PasswordResetMsg:
		m.reset, _ = m.reset.Update(msg)
		return m, m.enter(SceneDashboard)
	}

	// Forward other messages to active scene only
	return m, m.updateActive(msg)
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return tea.Quit, true

	case "ctrl+l":
		if m.console.Session().Authenticated() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.console.Logout(ctx)
			return m.toLogin("Signed out"), true
		}
		return nil, false
	}

	if m.capturing() || !m.signedIn() {
		return nil, false
	}

	key := msg.String()
	switch key {
	case "q":
		m.quitting = true
		return tea.Quit, true

	// Tab key cycles through the scenes the role may open
	case "tab":
		visible := m.visibleTabs()
		next := visible[0].scene
		for i, t := range visible {
			if t.scene == m.scene {
				next = visible[(i+1)%len(visible)].scene
			}
		}
		return m.enter(next), true
	}

	// Tab switching - number keys
	for _, t := range m.visibleTabs() {
		if t.key == key {
			if t.scene == m.scene {
				return nil, true
			}
			return m.enter(t.scene), true
		}
	}
	return nil, false
}

func (m *Model) updateActive(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.scene {
	case SceneLogin:
		m.login, cmd = m.login.Update(msg)
	case SceneReset:
		m.reset, cmd = m.reset.Update(msg)
	case SceneDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case SceneAlerts:
		m.alerts, cmd = m.alerts.Update(msg)
	case SceneLogs:
		m.logs, cmd = m.logs.Update(msg)
	case SceneAnalyze:
		m.analyze, cmd = m.analyze.Update(msg)
	case SceneUsers:
		m.users, cmd = m.users.Update(msg)
	}
	return cmd
}

// View renders the current view
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	// Header with tabs
	if m.signedIn() {
		b.WriteString(m.renderHeader())
		b.WriteString("\n")
	}

	// Scene content
	switch m.scene {
	case SceneLogin:
		b.WriteString(m.login.View())
	case SceneReset:
		b.WriteString(m.reset.View())
	case SceneDashboard:
		b.WriteString(m.dashboard.View())
	case SceneAlerts:
		b.WriteString(m.alerts.View())
	case SceneLogs:
		b.WriteString(m.logs.View())
	case SceneAnalyze:
		b.WriteString(m.analyze.View())
	case SceneUsers:
		b.WriteString(m.users.View())
	}

	// Footer with help
	if m.signedIn() {
		b.WriteString("\n")
		b.WriteString(m.renderFooter())
	}

	return b.String()
}

func (m *Model) renderHeader() string {
	visible := m.visibleTabs()

	var tabViews []string
	for _, t := range visible {
		label := fmt.Sprintf(" %s %s ", t.key, t.name)
		if t.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	s := m.console.Session()
	who := styles.Muted.Render(fmt.Sprintf("  %s · %s", s.Email, s.Role.DisplayName()))
	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, append(tabViews, who)...)

	header := lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)

	return header
}

func (m *Model) renderFooter() string {
	help := fmt.Sprintf(" [1-%d] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [Ctrl+L] Sign out  [q] Quit ", len(m.visibleTabs()))
	return styles.Help.Render(help)
}

// Run starts the TUI application
func Run(console *triage.Console) error {
	m := New(console)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
