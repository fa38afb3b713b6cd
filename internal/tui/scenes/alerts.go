package scenes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alert-triage/internal/alerting"
	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/severity"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var alertFilters = []schema.Prediction{"", schema.PredictionMalicious, schema.PredictionSuspicious}

// AlertsScene lists active alerts and runs the investigate/resolve flow.
// Clearing every log is started from here as well.
type AlertsScene struct {
	console    *triage.Console
	alerts     []alerting.Alert
	summary    severity.Counts
	filter     int
	cur        cursor
	detail     *triage.AlertDetail
	pending    *alerting.PendingConfirmation
	status     string
	warn       bool
	err        string
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
	busy       bool
}

type alertsMsg struct {
	alerts  []alerting.Alert
	summary severity.Counts
	err     error
}

type resolvedMsg struct {
	result alerting.ResolveResult
	err    error
}

type clearedMsg struct {
	result triage.ClearResult
	err    error
}

// NewAlertsScene creates a new alerts scene
func NewAlertsScene(console *triage.Console) *AlertsScene {
	return &AlertsScene{
		console: console,
		cur:     cursor{maxRows: 15},
		loading: true,
	}
}

// Init fetches the board.
func (a *AlertsScene) Init() tea.Cmd {
	return a.fetch()
}

// Capturing reports whether keys go to a text input.
func (a *AlertsScene) Capturing() bool {
	return false
}

// Leave drops any outstanding confirmation when the operator switches away.
func (a *AlertsScene) Leave() {
	if a.pending != nil {
		a.console.CancelConfirmation(a.pending.Token)
		a.pending = nil
	}
}

func (a *AlertsScene) fetch() tea.Cmd {
	filter := alertFilters[a.filter]
	return request(func(ctx context.Context) tea.Msg {
		alerts, err := a.console.Alerts(ctx, filter)
		if m, ok := intercept(err); ok {
			return m
		}
		return alertsMsg{alerts: alerts, summary: a.console.AlertSummary(), err: err}
	})
}

// TickCmd returns a command that ticks every interval
func (a *AlertsScene) TickCmd() tea.Cmd {
	return tea.Tick(15*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "alerts", Time: t}
	})
}

func (a *AlertsScene) selectedID() string {
	if a.detail != nil {
		return a.detail.Alert.ID()
	}
	if a.cur.pos < len(a.alerts) {
		return a.alerts[a.cur.pos].ID()
	}
	return ""
}

func (a *AlertsScene) setStatus(msg string, warn bool) {
	a.status = msg
	a.warn = warn
}

// Update handles messages for the alerts scene
func (a *AlertsScene) Update(msg tea.Msg) (*AlertsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.cur.resize(msg.Height, 16)
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)

	case alertsMsg:
		a.loading = false
		if msg.err != nil {
			a.err = errorText(msg.err)
			return a, nil
		}
		a.err = ""
		a.alerts = msg.alerts
		a.summary = msg.summary
		a.cur.clamp(len(a.alerts))
		if d, ok := a.console.Selected(); ok {
			a.detail = d
		} else {
			a.detail = nil
		}
		a.lastUpdate = time.Now()
		return a, nil

	case resolvedMsg:
		a.busy = false
		if msg.err != nil {
			a.setStatus(errorText(msg.err), true)
			return a, nil
		}
		a.removeAlert(msg.result.Alert.ID())
		if msg.result.Persisted {
			a.setStatus("Alert resolved", false)
		} else {
			a.setStatus("Alert resolved locally; the log store was not updated: "+errorText(msg.result.Warning), true)
		}
		return a, nil

	case clearedMsg:
		a.busy = false
		if msg.err != nil {
			a.pending = nil
			a.setStatus(errorText(msg.err), true)
			return a, nil
		}
		if msg.result.Next != nil {
			a.pending = msg.result.Next
			return a, nil
		}
		a.pending = nil
		a.alerts = nil
		a.detail = nil
		a.summary = severity.Counts{}
		a.cur.clamp(0)
		a.setStatus(fmt.Sprintf("Deleted %d logs", msg.result.Deleted), false)
		return a, a.fetch()

	case TickMsg:
		if msg.Scene == "alerts" && a.pending == nil {
			return a, a.fetch()
		}
		return a, nil
	}

	return a, nil
}

func (a *AlertsScene) handleKey(msg tea.KeyMsg) (*AlertsScene, tea.Cmd) {
	if a.busy {
		return a, nil
	}
	key := msg.String()

	if a.pending != nil {
		switch key {
		case "y", "enter":
			return a, a.confirm()
		case "n", "esc":
			a.console.CancelConfirmation(a.pending.Token)
			a.pending = nil
			a.setStatus("Cancelled", false)
		}
		return a, nil
	}

	if a.detail == nil && a.cur.navigate(key, len(a.alerts)) {
		return a, nil
	}

	switch key {
	case "enter":
		id := a.selectedID()
		if id == "" {
			return a, nil
		}
		d, err := a.console.Investigate(id)
		if err != nil {
			a.setStatus(errorText(err), true)
			return a, nil
		}
		a.detail = d
		a.refreshState(id)
	case "esc":
		if a.detail != nil {
			_, _ = a.console.Investigate("")
			a.detail = nil
		}
	case "x":
		id := a.selectedID()
		if id == "" {
			return a, nil
		}
		p, err := a.console.RequestResolve(id)
		if err != nil {
			a.setStatus(errorText(err), true)
			return a, nil
		}
		a.pending = &p
	case "D":
		p, err := a.console.RequestClearLogs()
		if err != nil {
			a.setStatus(errorText(err), true)
			return a, nil
		}
		a.pending = &p
	case "f":
		a.filter = (a.filter + 1) % len(alertFilters)
		a.detail = nil
		a.loading = true
		return a, a.fetch()
	case "r":
		a.loading = true
		return a, a.fetch()
	}
	return a, nil
}

// refreshState copies the lifecycle state of an alert after investigation.
func (a *AlertsScene) refreshState(id string) {
	for i := range a.alerts {
		if a.alerts[i].ID() == id && a.alerts[i].State == alerting.StateActive {
			a.alerts[i].State = alerting.StateInvestigating
		}
	}
}

func (a *AlertsScene) removeAlert(id string) {
	kept := a.alerts[:0]
	for _, al := range a.alerts {
		if al.ID() != id {
			kept = append(kept, al)
		}
	}
	a.alerts = kept
	a.cur.clamp(len(a.alerts))
	if a.detail != nil && a.detail.Alert.ID() == id {
		a.detail = nil
	}
	a.summary = a.console.AlertSummary()
}

func (a *AlertsScene) confirm() tea.Cmd {
	p := *a.pending
	a.busy = true

	if p.Action.Kind == alerting.ActionClearLogs {
		return request(func(ctx context.Context) tea.Msg {
			res, err := a.console.ConfirmClearLogs(ctx, p.Token)
			if m, ok := intercept(err); ok {
				return m
			}
			return clearedMsg{result: res, err: err}
		})
	}

	a.pending = nil
	return request(func(ctx context.Context) tea.Msg {
		res, err := a.console.ConfirmResolve(ctx, p.Token)
		if m, ok := intercept(err); ok {
			return m
		}
		return resolvedMsg{result: res, err: err}
	})
}

// View renders the alert board
func (a *AlertsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Active Alerts"))
	b.WriteString("\n")

	s := a.summary
	b.WriteString(fmt.Sprintf("  %s %d   %s %d   %s %d   %s %d   %s\n\n",
		styles.Severity(severity.Critical).Render("CRITICAL"), s.Critical,
		styles.Severity(severity.High).Render("HIGH"), s.High,
		styles.Severity(severity.Medium).Render("MEDIUM"), s.Medium,
		styles.Severity(severity.Low).Render("LOW"), s.Low,
		styles.Muted.Render("filter: "+a.filterName())))

	if a.pending != nil {
		b.WriteString(styles.Prompt.Render(fmt.Sprintf("%s  [y/n]  (step %d of %d)", a.pending.Prompt, a.pending.Stage, a.pending.Stages)))
		b.WriteString("\n\n")
	}
	if a.status != "" {
		style := styles.StatusOK
		if a.warn {
			style = styles.StatusWarning
		}
		b.WriteString(style.Render("  " + a.status))
		b.WriteString("\n\n")
	}
	if a.err != "" {
		b.WriteString(styles.StatusError.Render("  Error: " + a.err))
		b.WriteString("\n\n")
	}

	if a.detail != nil {
		b.WriteString(a.renderDetail())
		b.WriteString(styles.Muted.Render("\n  [x] Resolve  [Esc] Back"))
		return b.String()
	}

	if len(a.alerts) == 0 {
		if a.loading {
			b.WriteString(styles.Muted.Render("  Loading..."))
		} else {
			b.WriteString(styles.StatusOK.Render("  No active alerts."))
		}
		b.WriteString(a.help())
		return b.String()
	}

	header := fmt.Sprintf("  %-9s %-10s %-14s %-8s %-5s  %s", "Severity", "Label", "State", "Age", "Score", "Event")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	now := time.Now()
	start, end := a.cur.window(len(a.alerts))
	for i := start; i < end; i++ {
		b.WriteString(a.renderAlertRow(a.alerts[i], now, i == a.cur.pos))
		b.WriteString("\n")
	}
	if len(a.alerts) > a.cur.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  %d-%d of %d", start+1, end, len(a.alerts))))
	}
	b.WriteString(a.help())

	if !a.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", a.lastUpdate.Format("15:04:05"))))
	}
	return b.String()
}

func (a *AlertsScene) help() string {
	help := "\n  [Enter] Investigate  [x] Resolve  [f] Filter  [r] Refresh"
	if a.console.Can(rbac.CapClearLogs) {
		help += "  [D] Delete all logs"
	}
	return styles.Muted.Render(help)
}

func (a *AlertsScene) filterName() string {
	if f := alertFilters[a.filter]; f != "" {
		return string(f)
	}
	return "all"
}

func (a *AlertsScene) renderAlertRow(al alerting.Alert, now time.Time, selected bool) string {
	eventWidth := 40
	if a.width > 80 {
		eventWidth = a.width - 60
	}
	row := fmt.Sprintf("  %s %-10s %-14s %-8s %.2f  %s",
		styles.Severity(al.Severity).Render(fmt.Sprintf("%-9s", severity.Label(al.Severity))),
		al.Record.Prediction,
		al.State,
		severity.TimeAgo(al.Record.Timestamp.Time, now),
		al.Record.Score,
		truncate(al.Record.Event, eventWidth))

	if selected {
		return styles.TableRowSelected.Render(row)
	}
	return row
}

func (a *AlertsScene) renderDetail() string {
	al := a.detail.Alert
	r := al.Record
	fields := a.console.Fields()

	var lines []string
	lines = append(lines,
		styles.Severity(al.Severity).Render(severity.Label(al.Severity))+"  "+
			styles.Prediction(string(r.Prediction)).Render(strings.ToUpper(string(r.Prediction))),
		fmt.Sprintf("ID:         %s", r.ID),
		fmt.Sprintf("Score:      %.4f", r.Score),
		fmt.Sprintf("Time:       %s (%s)", r.Timestamp.Time.Format(time.RFC3339), severity.TimeAgo(r.Timestamp.Time, time.Now())),
		fmt.Sprintf("State:      %s", al.State),
	)
	if fields.Has(rbac.FieldUserEmail) && r.UserEmail != "" {
		lines = append(lines, fmt.Sprintf("User:       %s", r.UserEmail))
	}
	lines = append(lines, "", "Event:", "  "+r.Event)
	if r.Sequence != "" && r.Sequence != r.Event {
		lines = append(lines, "Sequence:", "  "+truncate(r.Sequence, 200))
	}
	if len(a.detail.Actions) > 0 {
		lines = append(lines, "", "Recommended actions:")
		for i, act := range a.detail.Actions {
			lines = append(lines, fmt.Sprintf("  %d. %s", i+1, act))
		}
	}

	width := 76
	if a.width > 20 {
		width = min(a.width-6, 110)
	}
	box := styles.Box.Width(width).Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().MarginLeft(2).Render(box)
}
