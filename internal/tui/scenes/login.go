package scenes

import (
	"context"
	"strings"

	"alert-triage/internal/session"
	"alert-triage/internal/triage"
	"alert-triage/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

// LoggedInMsg reports a successful sign-in.
type LoggedInMsg struct {
	Session session.Session
}

type loginFailedMsg struct {
	err error
}

// LoginScene collects credentials and signs in.
type LoginScene struct {
	console  *triage.Console
	email    *field
	password *field
	focus    int
	notice   string
	err      string
	loading  bool
}

// NewLoginScene creates a new login scene
func NewLoginScene(console *triage.Console) *LoginScene {
	return &LoginScene{
		console:  console,
		email:    newField("Email", false),
		password: newField("Password", true),
	}
}

// Init clears the password and any previous error.
func (l *LoginScene) Init() tea.Cmd {
	l.password.reset()
	l.err = ""
	l.loading = false
	return nil
}

// SetNotice shows why the operator was sent back to sign in.
func (l *LoginScene) SetNotice(reason string) {
	l.notice = reason
}

// Capturing reports whether keys go to a text input.
func (l *LoginScene) Capturing() bool {
	return true
}

func (l *LoginScene) submit() tea.Cmd {
	email := strings.TrimSpace(l.email.String())
	password := l.password.String()
	if email == "" || password == "" {
		l.err = "Email and password are required"
		return nil
	}

	l.loading = true
	l.err = ""
	return request(func(ctx context.Context) tea.Msg {
		s, err := l.console.Login(ctx, email, password)
		if err != nil {
			return loginFailedMsg{err: err}
		}
		return LoggedInMsg{Session: s}
	})
}

// Update handles messages for the login scene
func (l *LoginScene) Update(msg tea.Msg) (*LoginScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if l.loading {
			return l, nil
		}
		switch msg.Type {
		case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
			l.focus = 1 - l.focus
			return l, nil
		case tea.KeyEnter:
			if l.focus == 0 {
				l.focus = 1
				return l, nil
			}
			return l, l.submit()
		}
		if l.focus == 0 {
			l.email.handle(msg)
		} else {
			l.password.handle(msg)
		}
		return l, nil

	case loginFailedMsg:
		l.loading = false
		l.password.reset()
		l.err = errorText(msg.err)
		return l, nil

	case LoggedInMsg:
		l.loading = false
		l.notice = ""
		l.password.reset()
		return l, nil
	}

	return l, nil
}

// View renders the login form
func (l *LoginScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Alert Triage Console"))
	b.WriteString("\n")
	b.WriteString(styles.Subtitle.Render("  Sign in to continue"))
	b.WriteString("\n\n")

	if l.notice != "" {
		b.WriteString(styles.StatusWarning.Render("  " + l.notice))
		b.WriteString("\n\n")
	}

	b.WriteString(l.email.View(l.focus == 0))
	b.WriteString("\n")
	b.WriteString(l.password.View(l.focus == 1))
	b.WriteString("\n\n")

	switch {
	case l.loading:
		b.WriteString(styles.Muted.Render("  Signing in..."))
	case l.err != "":
		b.WriteString(styles.StatusError.Render("  " + l.err))
	}
	b.WriteString("\n")
	b.WriteString(styles.Muted.Render("  [Tab] Next field  [Enter] Sign in  [Ctrl+C] Quit"))

	return b.String()
}
