package scenes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alert-triage/internal/rbac"
	"alert-triage/internal/severity"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const dashboardRefresh = 10 * time.Second

// DashboardScene shows label statistics, alert counts by severity and the
// most recent records. It refreshes itself while it is the active scene.
type DashboardScene struct {
	console *triage.Console
	board   *triage.Dashboard
	err     string
	width   int
	updated time.Time
	pending bool
}

type dashboardMsg struct {
	board triage.Dashboard
	err   error
}

// NewDashboardScene returns a scene that loads on Init.
func NewDashboardScene(console *triage.Console) *DashboardScene {
	return &DashboardScene{console: console, pending: true}
}

func (d *DashboardScene) Init() tea.Cmd { return d.load() }

func (d *DashboardScene) Capturing() bool { return false }

// TickCmd schedules the next refresh. The model only asks the active scene.
func (d *DashboardScene) TickCmd() tea.Cmd {
	return tea.Tick(dashboardRefresh, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "dashboard", Time: t}
	})
}

func (d *DashboardScene) load() tea.Cmd {
	return request(func(ctx context.Context) tea.Msg {
		board, err := d.console.Dashboard(ctx)
		if m, ok := intercept(err); ok {
			return m
		}
		return dashboardMsg{board: board, err: err}
	})
}

func (d *DashboardScene) Update(msg tea.Msg) (*DashboardScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
	case tea.KeyMsg:
		if msg.String() == "r" {
			d.pending = true
			return d, d.load()
		}
	case TickMsg:
		if msg.Scene == "dashboard" {
			return d, d.load()
		}
	case dashboardMsg:
		d.pending = false
		if msg.err != nil {
			d.err = errorText(msg.err)
			break
		}
		d.err = ""
		d.board = &msg.board
		d.updated = time.Now()
	}
	return d, nil
}

func (d *DashboardScene) View() string {
	var b strings.Builder
	s := d.console.Session()
	fmt.Fprintf(&b, "%s\n%s\n\n",
		styles.Title.Render("  Dashboard"),
		styles.Subtitle.Render(fmt.Sprintf("  %s (%s)", s.Email, s.Role.DisplayName())))

	if d.err != "" {
		b.WriteString(styles.StatusError.Render("  Error: "+d.err) + "\n\n")
	}
	switch {
	case d.board == nil && d.pending:
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	case d.board == nil:
		return b.String()
	}

	if d.console.Can(rbac.CapViewStatistics) {
		b.WriteString(statCards(d.board) + "\n\n")
	}
	b.WriteString(severityLine(d.board.Severity))
	d.writeRecent(&b)

	if !d.updated.IsZero() {
		b.WriteString(styles.Muted.Render("\n  [r] Refresh  |  Updated: " + d.updated.Format("15:04:05")))
	}
	return b.String()
}

func statCards(board *triage.Dashboard) string {
	st := board.Statistics
	return lipgloss.JoinHorizontal(lipgloss.Top,
		renderMetricCard("Total Logs", formatNumber(st.Total), styles.Primary),
		renderMetricCard("Normal", formatNumber(st.Normal), styles.Secondary),
		renderMetricCard("Suspicious", formatNumber(st.Suspicious), styles.Warning),
		renderMetricCard("Malicious", formatNumber(st.Malicious), styles.Error),
	)
}

func severityLine(c severity.Counts) string {
	tiers := []struct {
		sev severity.Severity
		n   int
	}{
		{severity.Critical, c.Critical},
		{severity.High, c.High},
		{severity.Medium, c.Medium},
		{severity.Low, c.Low},
	}
	parts := make([]string, len(tiers))
	for i, t := range tiers {
		parts[i] = fmt.Sprintf("%s %d", styles.Severity(t.sev).Render(strings.ToUpper(string(t.sev))), t.n)
	}
	return styles.Subtitle.Render("  Alerts by severity") + "\n  " + strings.Join(parts, "   ") + "\n\n"
}

func (d *DashboardScene) writeRecent(b *strings.Builder) {
	b.WriteString(styles.Subtitle.Render("  Recent activity") + "\n")
	if len(d.board.Recent) == 0 {
		b.WriteString(styles.Muted.Render("  No logs yet.") + "\n")
	}
	for _, v := range d.board.Recent {
		b.WriteString(renderRecordRow(v, d.width, false) + "\n")
	}
}

// renderRecordRow renders one record with only the fields the viewer may see.
// Normal records leave the severity column blank.
func renderRecordRow(v triage.RecordView, width int, selected bool) string {
	const sevWidth = 9

	sev := strings.Repeat(" ", sevWidth)
	if v.Alert {
		sev = styles.Severity(v.Severity).Render(fmt.Sprintf("%-*s", sevWidth, v.Label))
	}
	text := v.Record.Event
	if text == "" {
		text = v.Record.Sequence
	}
	textWidth := max(width-60, 50)

	var owner string
	if v.Fields.Has(rbac.FieldUserEmail) && v.Record.UserEmail != "" {
		owner = "  " + truncate(v.Record.UserEmail, 24)
	}

	pred := string(v.Record.Prediction)
	row := fmt.Sprintf("  %-8s %s %s %.2f  %s%s",
		v.Age,
		styles.Prediction(pred).Render(fmt.Sprintf("%-10s", strings.ToUpper(pred))),
		sev,
		v.Record.Score,
		truncate(text, textWidth),
		owner)
	if selected {
		return styles.TableRowSelected.Render(row)
	}
	return row
}
