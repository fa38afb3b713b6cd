package scenes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"alert-triage/internal/schema"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

// logFilters is the cycle order of the prediction filter. Empty is all.
var logFilters = []schema.Prediction{"", schema.PredictionNormal, schema.PredictionSuspicious, schema.PredictionMalicious}

// LogsScene lists the records the viewer may see.
type LogsScene struct {
	console    *triage.Console
	records    []triage.RecordView
	filter     int
	query      *field
	searching  bool
	cur        cursor
	err        string
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

// logsMsg carries fetched records
type logsMsg struct {
	records []triage.RecordView
	err     error
}

// NewLogsScene creates a new logs scene
func NewLogsScene(console *triage.Console) *LogsScene {
	return &LogsScene{
		console: console,
		query:   newField("Search (e.g. severity>=high time>now-1h)", false),
		cur:     cursor{maxRows: 20},
		loading: true,
	}
}

// Init fetches the first page.
func (l *LogsScene) Init() tea.Cmd {
	return l.fetch()
}

// Capturing reports whether keys go to a text input.
func (l *LogsScene) Capturing() bool {
	return l.searching
}

// fetch runs the search query when one is set and the prediction filter
// otherwise.
func (l *LogsScene) fetch() tea.Cmd {
	filter := logFilters[l.filter]
	query := strings.TrimSpace(l.query.String())
	return request(func(ctx context.Context) tea.Msg {
		var (
			records []triage.RecordView
			err     error
		)
		if query != "" {
			records, err = l.console.Search(ctx, query)
		} else {
			records, err = l.console.Logs(ctx, filter)
		}
		if m, ok := intercept(err); ok {
			return m
		}
		return logsMsg{records: records, err: err}
	})
}

// TickCmd returns a command that ticks every interval
func (l *LogsScene) TickCmd() tea.Cmd {
	return tea.Tick(15*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "logs", Time: t}
	})
}

// Update handles messages for the logs scene
func (l *LogsScene) Update(msg tea.Msg) (*LogsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		l.width = msg.Width
		l.height = msg.Height
		l.cur.resize(msg.Height, 12)
		return l, nil

	case tea.KeyMsg:
		if l.searching {
			switch msg.Type {
			case tea.KeyEnter:
				l.searching = false
				l.loading = true
				return l, l.fetch()
			case tea.KeyEsc:
				l.searching = false
				return l, nil
			}
			l.query.handle(msg)
			return l, nil
		}

		key := msg.String()
		if l.cur.navigate(key, len(l.records)) {
			return l, nil
		}
		switch key {
		case "r":
			l.loading = true
			return l, l.fetch()
		case "f":
			l.query.reset()
			l.filter = (l.filter + 1) % len(logFilters)
			l.loading = true
			return l, l.fetch()
		case "/":
			l.searching = true
			return l, nil
		case "x":
			if l.query.String() != "" {
				l.query.reset()
				l.loading = true
				return l, l.fetch()
			}
		}
		return l, nil

	case logsMsg:
		l.loading = false
		if msg.err != nil {
			l.err = errorText(msg.err)
			return l, nil
		}
		l.err = ""
		l.records = msg.records
		l.cur.clamp(len(l.records))
		l.lastUpdate = time.Now()
		return l, nil

	case TickMsg:
		if msg.Scene == "logs" {
			return l, l.fetch()
		}
		return l, nil
	}

	return l, nil
}

func (l *LogsScene) filterName() string {
	if q := strings.TrimSpace(l.query.String()); q != "" {
		return "search " + q
	}
	if f := logFilters[l.filter]; f != "" {
		return string(f)
	}
	return "all"
}

// View renders the record list
func (l *LogsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Logs"))
	b.WriteString("\n")

	if l.searching {
		b.WriteString(l.query.View(true))
		b.WriteString(styles.Muted.Render("\n  [enter] Search  [esc] Cancel"))
		b.WriteString("\n\n")
	}

	if l.err != "" {
		b.WriteString(styles.StatusError.Render("  Error: " + l.err))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry or [/] to edit the search."))
		return b.String()
	}

	countText := fmt.Sprintf("  %d records  |  filter: %s", len(l.records), l.filterName())
	b.WriteString(styles.Subtitle.Render(countText))
	if l.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	if len(l.records) == 0 {
		if !l.loading {
			b.WriteString(styles.Muted.Render("  No logs found."))
		}
		b.WriteString(styles.Muted.Render("\n\n  [f] Filter  [/] Search  [x] Clear search  [r] Refresh"))
		return b.String()
	}

	header := fmt.Sprintf("  %-8s %-10s %-9s %-5s  %s", "Age", "Label", "Severity", "Score", "Event")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	start, end := l.cur.window(len(l.records))
	for i := start; i < end; i++ {
		b.WriteString(renderRecordRow(l.records[i], l.width, i == l.cur.pos))
		b.WriteString("\n")
	}

	help := "\n  [f] Filter  [/] Search  [x] Clear search  [r] Refresh"
	if len(l.records) > l.cur.maxRows {
		help = fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll, [f] filter, [/] search, [r] refresh)", start+1, end, len(l.records))
	}
	b.WriteString(styles.Muted.Render(help))

	if !l.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  |  Updated: %s", l.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}
