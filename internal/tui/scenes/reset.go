package scenes

import (
	"context"
	"strings"

	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

// PasswordResetMsg reports that the mandatory reset completed.
type PasswordResetMsg struct{}

type resetFailedMsg struct {
	err error
}

// ResetScene forces a password change before anything else is reachable.
type ResetScene struct {
	console  *triage.Console
	password *field
	confirm  *field
	focus    int
	err      string
	loading  bool
}

// NewResetScene creates a new password reset scene
func NewResetScene(console *triage.Console) *ResetScene {
	return &ResetScene{
		console:  console,
		password: newField("New password", true),
		confirm:  newField("Confirm password", true),
	}
}

// Init clears both fields.
func (r *ResetScene) Init() tea.Cmd {
	r.password.reset()
	r.confirm.reset()
	r.focus = 0
	r.err = ""
	r.loading = false
	return nil
}

// Capturing reports whether keys go to a text input.
func (r *ResetScene) Capturing() bool {
	return true
}

func (r *ResetScene) submit() tea.Cmd {
	password, confirm := r.password.String(), r.confirm.String()
	r.loading = true
	r.err = ""
	return request(func(ctx context.Context) tea.Msg {
		if err := r.console.ResetPassword(ctx, password, confirm); err != nil {
			if m, ok := intercept(err); ok {
				return m
			}
			return resetFailedMsg{err: err}
		}
		return PasswordResetMsg{}
	})
}

// Update handles messages for the reset scene
func (r *ResetScene) Update(msg tea.Msg) (*ResetScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if r.loading {
			return r, nil
		}
		switch msg.Type {
		case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
			r.focus = 1 - r.focus
			return r, nil
		case tea.KeyEnter:
			if r.focus == 0 {
				r.focus = 1
				return r, nil
			}
			return r, r.submit()
		}
		if r.focus == 0 {
			r.password.handle(msg)
		} else {
			r.confirm.handle(msg)
		}
		return r, nil

	case resetFailedMsg:
		r.loading = false
		r.confirm.reset()
		r.err = errorText(msg.err)
		return r, nil

	case PasswordResetMsg:
		r.loading = false
		return r, nil
	}

	return r, nil
}

// View renders the reset form
func (r *ResetScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Password Reset Required"))
	b.WriteString("\n")
	s := r.console.Session()
	b.WriteString(styles.Subtitle.Render("  " + s.Email + " must choose a new password (at least 8 characters)"))
	b.WriteString("\n\n")

	b.WriteString(r.password.View(r.focus == 0))
	b.WriteString("\n")
	b.WriteString(r.confirm.View(r.focus == 1))
	b.WriteString("\n\n")

	switch {
	case r.loading:
		b.WriteString(styles.Muted.Render("  Updating password..."))
	case r.err != "":
		b.WriteString(styles.StatusError.Render("  " + r.err))
	}
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render("  [Tab] Next field  [Enter] Submit  [Ctrl+L] Sign out  [Ctrl+C] Quit"))

	return b.String()
}
