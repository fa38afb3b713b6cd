package scenes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

type analyzeMode int

const (
	modeText analyzeMode = iota
	modeFile
)

// AnalyzeScene submits a log line or a log file for classification.
type AnalyzeScene struct {
	console  *triage.Console
	mode     analyzeMode
	text     *field
	path     *field
	editing  bool
	single   *triage.TextAnalysis
	batch    *triage.BatchAnalysis
	exported string
	err      string
	width    int
	height   int
	loading  bool
}

type textAnalyzedMsg struct {
	result *triage.TextAnalysis
	err    error
}

type fileAnalyzedMsg struct {
	result *triage.BatchAnalysis
	err    error
}

type exportedMsg struct {
	key string
	err error
}

// NewAnalyzeScene creates a new analyze scene
func NewAnalyzeScene(console *triage.Console) *AnalyzeScene {
	text := newField("Log line", false)
	text.limit = 65536
	path := newField("Log file path", false)
	path.limit = 4096
	return &AnalyzeScene{
		console: console,
		text:    text,
		path:    path,
	}
}

// Init starts with the input focused.
func (a *AnalyzeScene) Init() tea.Cmd {
	a.editing = true
	return nil
}

// Capturing reports whether keys go to a text input.
func (a *AnalyzeScene) Capturing() bool {
	return a.editing
}

func (a *AnalyzeScene) input() *field {
	if a.mode == modeFile {
		return a.path
	}
	return a.text
}

func (a *AnalyzeScene) submit() tea.Cmd {
	a.err = ""
	a.exported = ""

	if a.mode == modeText {
		text := a.text.String()
		a.loading = true
		return request(func(ctx context.Context) tea.Msg {
			res, err := a.console.AnalyzeText(ctx, text)
			if m, ok := intercept(err); ok {
				return m
			}
			return textAnalyzedMsg{result: res, err: err}
		})
	}

	path := strings.TrimSpace(a.path.String())
	if path == "" {
		a.err = "Please select a file to analyze"
		return nil
	}
	a.loading = true
	return request(func(ctx context.Context) tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return fileAnalyzedMsg{err: fmt.Errorf("cannot open %s: %w", filepath.Base(path), err)}
		}
		defer f.Close()

		res, err := a.console.AnalyzeFile(ctx, filepath.Base(path), f)
		if m, ok := intercept(err); ok {
			return m
		}
		return fileAnalyzedMsg{result: res, err: err}
	})
}

func (a *AnalyzeScene) export() tea.Cmd {
	batch := a.batch
	a.loading = true
	return request(func(ctx context.Context) tea.Msg {
		key, err := a.console.ExportReport(ctx, batch)
		if m, ok := intercept(err); ok {
			return m
		}
		return exportedMsg{key: key, err: err}
	})
}

// Update handles messages for the analyze scene
func (a *AnalyzeScene) Update(msg tea.Msg) (*AnalyzeScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case tea.KeyMsg:
		if a.loading {
			return a, nil
		}
		if a.editing {
			switch msg.Type {
			case tea.KeyEnter:
				a.editing = false
				return a, a.submit()
			case tea.KeyEsc:
				a.editing = false
				return a, nil
			}
			a.input().handle(msg)
			return a, nil
		}

		switch msg.String() {
		case "i", "enter":
			a.editing = true
		case "m":
			if a.mode == modeText {
				a.mode = modeFile
			} else {
				a.mode = modeText
			}
			a.editing = true
		case "e":
			if a.batch != nil && a.console.Can(rbac.CapExportReports) {
				return a, a.export()
			}
		case "c":
			a.single, a.batch, a.exported, a.err = nil, nil, "", ""
			a.input().reset()
			a.editing = true
		}
		return a, nil

	case textAnalyzedMsg:
		a.loading = false
		if msg.err != nil {
			a.err = errorText(msg.err)
			a.editing = true
			return a, nil
		}
		a.single, a.batch = msg.result, nil
		return a, nil

	case fileAnalyzedMsg:
		a.loading = false
		if msg.err != nil {
			a.err = errorText(msg.err)
			a.editing = true
			return a, nil
		}
		a.batch, a.single = msg.result, nil
		return a, nil

	case exportedMsg:
		a.loading = false
		if msg.err != nil {
			a.err = errorText(msg.err)
			return a, nil
		}
		a.exported = msg.key
		return a, nil
	}

	return a, nil
}

// View renders the analysis form and its result
func (a *AnalyzeScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Analyze Logs"))
	b.WriteString("\n")
	mode := "single log line"
	if a.mode == modeFile {
		mode = "log file"
	}
	b.WriteString(styles.Subtitle.Render("  Mode: " + mode))
	b.WriteString("\n\n")

	b.WriteString(a.input().View(a.editing))
	b.WriteString("\n\n")

	switch {
	case a.loading:
		b.WriteString(styles.Muted.Render("  Analyzing..."))
		b.WriteString("\n")
	case a.err != "":
		b.WriteString(styles.StatusError.Render("  " + a.err))
		b.WriteString("\n")
	}

	if a.single != nil {
		b.WriteString(a.renderSingle())
	}
	if a.batch != nil {
		b.WriteString(a.renderBatch())
	}
	if a.exported != "" {
		b.WriteString(styles.StatusOK.Render("  Report exported: " + a.exported))
		b.WriteString("\n")
	}

	if a.editing {
		b.WriteString(styles.Muted.Render("\n  [Enter] Analyze  [Esc] Stop editing"))
	} else {
		help := "\n  [i] Edit  [m] Switch mode  [c] Clear"
		if a.batch != nil && a.console.Can(rbac.CapExportReports) {
			help += "  [e] Export report"
		}
		b.WriteString(styles.Muted.Render(help))
	}
	return b.String()
}

func (a *AnalyzeScene) renderSingle() string {
	var b strings.Builder
	r := a.single.Record

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  Prediction: %s   Score: %.4f\n",
		styles.Prediction(string(r.Prediction)).Render(strings.ToUpper(string(r.Prediction))), r.Score))
	if r.Prediction.IsAlert() {
		b.WriteString(fmt.Sprintf("  Severity:   %s\n",
			styles.Severity(a.single.Severity).Render(strings.ToUpper(string(a.single.Severity)))))
	}
	if r.Sequence != "" {
		b.WriteString(fmt.Sprintf("  Sequence:   %s\n", truncate(r.Sequence, 100)))
	}
	for _, p := range schema.Predictions {
		if v, ok := r.Probabilities[string(p)]; ok {
			b.WriteString(fmt.Sprintf("  %-11s %.4f\n", string(p)+":", v))
		}
	}
	if len(a.single.Actions) > 0 {
		b.WriteString("\n  Recommended actions:\n")
		for i, act := range a.single.Actions {
			b.WriteString(fmt.Sprintf("    %d. %s\n", i+1, act))
		}
	}
	return b.String()
}

func (a *AnalyzeScene) renderBatch() string {
	var b strings.Builder
	res := a.batch.Result

	b.WriteString("\n")
	b.WriteString(styles.Subtitle.Render(fmt.Sprintf("  %s: %d records", a.batch.Filename, res.TotalCount)))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s %d   %s %d   %s %d\n",
		styles.StatusOK.Render("normal"), res.Count(schema.PredictionNormal),
		styles.StatusWarning.Render("suspicious"), res.Count(schema.PredictionSuspicious),
		styles.StatusError.Render("malicious"), res.Count(schema.PredictionMalicious)))
	if a.batch.Mismatch {
		b.WriteString(styles.StatusWarning.Render("  The server's totals disagreed with its records; counts above are from the records."))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	header := fmt.Sprintf("  %-10s %-6s  %s", "Label", "Score", "Log")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	logWidth := 60
	if a.width > 80 {
		logWidth = a.width - 24
	}
	for _, r := range a.batch.Preview.Records {
		label := fmt.Sprintf("%-10s", r.Prediction)
		b.WriteString(fmt.Sprintf("  %s %.4f  %s\n",
			styles.Prediction(string(r.Prediction)).Render(label), r.Score, truncate(r.Original, logWidth)))
	}
	if a.batch.Preview.Truncated() {
		b.WriteString(styles.Muted.Render("  " + a.batch.Preview.Notice))
		b.WriteString("\n")
	}
	return b.String()
}
