// Package scenes provides the screens of the triage console
package scenes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/session"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// requestTimeout bounds every console call a scene makes.
const requestTimeout = 30 * time.Second

// TickMsg is sent on each tick - exported for use by parent model
type TickMsg struct {
	Scene string
	Time  time.Time
}

// RedirectMsg reports that the session was torn down. The parent model
// navigates to the login screen.
type RedirectMsg struct {
	Redirect session.Redirect
}

// staleMsg is a response a newer request superseded. Scenes drop it.
type staleMsg struct{}

// request runs fn with a bounded context.
func request(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return fn(ctx)
	}
}

// intercept converts errors that are not for the scene into parent
// messages: teardowns become RedirectMsg and superseded responses are
// dropped.
func intercept(err error) (tea.Msg, bool) {
	if err == nil {
		return nil, false
	}
	if r, ok := triage.RedirectOf(err); ok {
		return RedirectMsg{Redirect: r}, true
	}
	if errors.Is(err, triage.ErrStale) {
		return staleMsg{}, true
	}
	return nil, false
}

// errorText is the operator-facing message for err.
func errorText(err error) string {
	return triageerrors.Display(err)
}

// field is a single-line text input.
type field struct {
	label  string
	value  []rune
	secret bool
	limit  int
}

func newField(label string, secret bool) *field {
	return &field{label: label, secret: secret, limit: 256}
}

// handle applies an editing key. It reports whether the key was consumed.
func (f *field) handle(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyRunes:
		if len(f.value)+len(msg.Runes) <= f.limit {
			f.value = append(f.value, msg.Runes...)
		}
		return true
	case tea.KeySpace:
		if len(f.value) < f.limit {
			f.value = append(f.value, ' ')
		}
		return true
	case tea.KeyBackspace:
		if len(f.value) > 0 {
			f.value = f.value[:len(f.value)-1]
		}
		return true
	case tea.KeyCtrlU:
		f.value = nil
		return true
	}
	return false
}

func (f *field) String() string {
	return string(f.value)
}

func (f *field) reset() {
	f.value = nil
}

func (f *field) View(focused bool) string {
	text := string(f.value)
	if f.secret {
		text = strings.Repeat("•", len(f.value))
	}
	if focused {
		text += "▏"
	}

	style := styles.Input
	if focused {
		style = styles.InputFocused
	}
	return styles.MetricLabel.Render("  "+f.label) + "\n" + lipgloss.NewStyle().MarginLeft(2).Render(style.Render(text))
}

func renderMetricCard(label, value string, color lipgloss.TerminalColor) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.MetricLabel.Render(label),
		styles.MetricValue.Foreground(color).Render(value),
	)
	return styles.MetricCard.Render(content)
}

func formatNumber(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// cursor tracks a selection in a scrolling list.
type cursor struct {
	pos     int
	offset  int
	maxRows int
}

func (c *cursor) move(delta, n int) {
	if n == 0 {
		c.pos, c.offset = 0, 0
		return
	}
	c.pos = max(0, min(c.pos+delta, n-1))
	if c.pos < c.offset {
		c.offset = c.pos
	}
	if c.pos >= c.offset+c.maxRows {
		c.offset = c.pos - c.maxRows + 1
	}
}

// clamp keeps the cursor inside a list that changed size.
func (c *cursor) clamp(n int) {
	c.move(0, n)
}

// navigate applies list navigation keys.
func (c *cursor) navigate(key string, n int) bool {
	switch key {
	case "up", "k":
		c.move(-1, n)
	case "down", "j":
		c.move(1, n)
	case "pgup":
		c.move(-c.maxRows, n)
	case "pgdown":
		c.move(c.maxRows, n)
	case "home", "g":
		c.move(-n, n)
	case "end", "G":
		c.move(n, n)
	default:
		return false
	}
	return true
}

func (c *cursor) resize(height, reserved int) {
	c.maxRows = max(5, height-reserved)
}

func (c *cursor) window(n int) (int, int) {
	return c.offset, min(c.offset+c.maxRows, n)
}
