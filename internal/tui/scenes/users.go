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

type usersMode int

const (
	usersBrowse usersMode = iota
	usersCreate
	usersRole
)

// UsersScene lists users and lets an admin create users and change roles.
type UsersScene struct {
	console *triage.Console
	users   []schema.UserRecord
	cur     cursor
	mode    usersMode
	email   *field
	role    int
	// password is the temporary password of the last created user. It is
	// shown until the next key press and then dropped.
	password string
	created  string
	status   string
	err      string
	width    int
	height   int
	loading  bool
}

type usersMsg struct {
	users []schema.UserRecord
	err   error
}

type userCreatedMsg struct {
	account *triage.NewAccount
	err     error
}

type roleChangedMsg struct {
	email string
	role  schema.Role
	err   error
}

// NewUsersScene creates a new user management scene
func NewUsersScene(console *triage.Console) *UsersScene {
	return &UsersScene{
		console: console,
		cur:     cursor{maxRows: 15},
		email:   newField("Email", false),
		loading: true,
	}
}

// Init fetches the user list.
func (u *UsersScene) Init() tea.Cmd {
	u.mode = usersBrowse
	return u.fetch()
}

// Capturing reports whether keys go to a text input.
func (u *UsersScene) Capturing() bool {
	return u.mode != usersBrowse
}

// Leave forgets any temporary password still on screen.
func (u *UsersScene) Leave() {
	u.password = ""
	u.mode = usersBrowse
}

func (u *UsersScene) fetch() tea.Cmd {
	return request(func(ctx context.Context) tea.Msg {
		users, err := u.console.Users(ctx)
		if m, ok := intercept(err); ok {
			return m
		}
		return usersMsg{users: users, err: err}
	})
}

// TickCmd returns a command that ticks every interval
func (u *UsersScene) TickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "users", Time: t}
	})
}

// Update handles messages for the users scene
func (u *UsersScene) Update(msg tea.Msg) (*UsersScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		u.width = msg.Width
		u.height = msg.Height
		u.cur.resize(msg.Height, 14)
		return u, nil

	case tea.KeyMsg:
		if u.loading && u.mode != usersBrowse {
			return u, nil
		}
		u.password = ""
		switch u.mode {
		case usersCreate:
			return u.handleCreateKey(msg)
		case usersRole:
			return u.handleRoleKey(msg)
		}
		return u.handleBrowseKey(msg)

	case usersMsg:
		u.loading = false
		if msg.err != nil {
			u.err = errorText(msg.err)
			return u, nil
		}
		u.err = ""
		u.users = msg.users
		u.cur.clamp(len(u.users))
		return u, nil

	case userCreatedMsg:
		u.loading = false
		if msg.err != nil {
			u.err = errorText(msg.err)
			return u, nil
		}
		u.mode = usersBrowse
		u.email.reset()
		u.created = msg.account.Email
		if pw, ok := msg.account.Password.Reveal(); ok {
			u.password = pw
		}
		u.status = fmt.Sprintf("Created %s as %s", msg.account.Email, msg.account.Role.DisplayName())
		return u, u.fetch()

	case roleChangedMsg:
		u.loading = false
		u.mode = usersBrowse
		if msg.err != nil {
			u.err = errorText(msg.err)
			return u, nil
		}
		u.status = fmt.Sprintf("%s is now %s", msg.email, msg.role.DisplayName())
		return u, u.fetch()

	case TickMsg:
		if msg.Scene == "users" && u.mode == usersBrowse {
			return u, u.fetch()
		}
		return u, nil
	}

	return u, nil
}

func (u *UsersScene) handleBrowseKey(msg tea.KeyMsg) (*UsersScene, tea.Cmd) {
	key := msg.String()
	if u.cur.navigate(key, len(u.users)) {
		return u, nil
	}
	switch key {
	case "n":
		u.mode = usersCreate
		u.role = roleIndex(schema.RoleNormalUser)
		u.err, u.status = "", ""
	case "e":
		if u.cur.pos < len(u.users) {
			u.mode = usersRole
			u.role = roleIndex(u.users[u.cur.pos].Role)
			u.err, u.status = "", ""
		}
	case "r":
		u.loading = true
		return u, u.fetch()
	}
	return u, nil
}

func (u *UsersScene) handleCreateKey(msg tea.KeyMsg) (*UsersScene, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		u.mode = usersBrowse
		u.email.reset()
		return u, nil
	case tea.KeyTab:
		u.role = (u.role + 1) % len(schema.Roles)
		return u, nil
	case tea.KeyShiftTab:
		u.role = (u.role + len(schema.Roles) - 1) % len(schema.Roles)
		return u, nil
	case tea.KeyEnter:
		email := u.email.String()
		role := schema.Roles[u.role]
		u.loading = true
		u.err = ""
		return u, request(func(ctx context.Context) tea.Msg {
			acct, err := u.console.CreateUser(ctx, email, role)
			if m, ok := intercept(err); ok {
				return m
			}
			return userCreatedMsg{account: acct, err: err}
		})
	}
	u.email.handle(msg)
	return u, nil
}

func (u *UsersScene) handleRoleKey(msg tea.KeyMsg) (*UsersScene, tea.Cmd) {
	switch msg.String() {
	case "esc":
		u.mode = usersBrowse
	case "left", "h", "shift+tab":
		u.role = (u.role + len(schema.Roles) - 1) % len(schema.Roles)
	case "right", "l", "tab":
		u.role = (u.role + 1) % len(schema.Roles)
	case "enter":
		if u.cur.pos >= len(u.users) {
			u.mode = usersBrowse
			return u, nil
		}
		email := u.users[u.cur.pos].Email
		role := schema.Roles[u.role]
		u.loading = true
		u.err = ""
		return u, request(func(ctx context.Context) tea.Msg {
			err := u.console.UpdateUserRole(ctx, email, role)
			if m, ok := intercept(err); ok {
				return m
			}
			return roleChangedMsg{email: email, role: role, err: err}
		})
	}
	return u, nil
}

func roleIndex(r schema.Role) int {
	for i, role := range schema.Roles {
		if role == r {
			return i
		}
	}
	return 0
}

func (u *UsersScene) renderRolePicker() string {
	var parts []string
	for i, r := range schema.Roles {
		label := " " + r.DisplayName() + " "
		if i == u.role {
			parts = append(parts, styles.TabActive.Render(label))
		} else {
			parts = append(parts, styles.TabInactive.Render(label))
		}
	}
	return "  Role: " + strings.Join(parts, " ")
}

// View renders the user list
func (u *UsersScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  User Management"))
	b.WriteString("\n")

	if u.password != "" {
		box := fmt.Sprintf("Temporary password for %s:\n\n  %s\n\nShare it securely. It will not be shown again.", u.created, u.password)
		b.WriteString(styles.Prompt.Render(box))
		b.WriteString("\n\n")
	} else if u.status != "" {
		b.WriteString(styles.StatusOK.Render("  " + u.status))
		b.WriteString("\n\n")
	}
	if u.err != "" {
		b.WriteString(styles.StatusError.Render("  Error: " + u.err))
		b.WriteString("\n\n")
	}

	switch u.mode {
	case usersCreate:
		b.WriteString(styles.Subtitle.Render("  New user"))
		b.WriteString("\n")
		b.WriteString(u.email.View(true))
		b.WriteString("\n")
		b.WriteString(u.renderRolePicker())
		b.WriteString(styles.Muted.Render("\n\n  [Tab] Role  [Enter] Create  [Esc] Cancel"))
		return b.String()
	case usersRole:
		if u.cur.pos < len(u.users) {
			b.WriteString(styles.Subtitle.Render("  Change role of " + u.users[u.cur.pos].Email))
			b.WriteString("\n\n")
		}
		b.WriteString(u.renderRolePicker())
		b.WriteString(styles.Muted.Render("\n\n  [←→] Role  [Enter] Apply  [Esc] Cancel"))
		return b.String()
	}

	if len(u.users) == 0 {
		if u.loading {
			b.WriteString(styles.Muted.Render("  Loading..."))
		} else {
			b.WriteString(styles.Muted.Render("  No users."))
		}
		b.WriteString(styles.Muted.Render("\n\n  [n] New user  [r] Refresh"))
		return b.String()
	}

	header := fmt.Sprintf("  %-32s %-12s %-8s %s", "Email", "Role", "Reset", "Last login")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	start, end := u.cur.window(len(u.users))
	for i := start; i < end; i++ {
		usr := u.users[i]
		reset := ""
		if usr.RequirePasswordReset {
			reset = "pending"
		}
		last := "never"
		if usr.LastLogin != nil && !usr.LastLogin.Time.IsZero() {
			last = usr.LastLogin.Time.Format("2006-01-02 15:04")
		}
		row := fmt.Sprintf("  %-32s %-12s %-8s %s", truncate(usr.Email, 32), usr.Role.DisplayName(), reset, last)
		if i == u.cur.pos {
			row = styles.TableRowSelected.Render(row)
		}
		b.WriteString(row)
		b.WriteString("\n")
	}

	b.WriteString(styles.Muted.Render("\n  [n] New user  [e] Change role  [r] Refresh"))
	return b.String()
}
