package triage

import (
	"context"
	"strings"
	"sync"

	"alert-triage/internal/api"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/kafka"
	"alert-triage/internal/logging"
	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/session"
	"alert-triage/internal/storage"
)

// Users lists every user. Admin only.
func (c *Console) Users(ctx context.Context) ([]schema.UserRecord, error) {
	const op = "triage.Users"

	if _, err := c.require(op, session.RequireAdmin, rbac.CapManageUsers); err != nil {
		return nil, err
	}
	ticket := c.tracker.Begin(ViewUsers)
	epoch := c.guard.Epoch()

	var users []schema.UserRecord
	err := c.call(ctx, "list_users", func(ctx context.Context) error {
		var err error
		users, err = c.api.ListUsers(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var out []schema.UserRecord
	if !c.apply(ticket, epoch, func() { out = users }) {
		return nil, ErrStale
	}
	return out, nil
}

// TemporaryPassword holds a generated password that may be revealed once.
type TemporaryPassword struct {
	mu    sync.Mutex
	value string
}

// Reveal returns the password the first time it is called and false
// afterwards.
func (p *TemporaryPassword) Reveal() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.value == "" {
		return "", false
	}
	v := p.value
	p.value = ""
	return v, true
}

// String never prints the password.
func (p *TemporaryPassword) String() string {
	return "[REDACTED]"
}

// NewAccount is a freshly created user.
type NewAccount struct {
	Email    string
	Role     schema.Role
	Password *TemporaryPassword
}

// CreateUser creates a user with a generated temporary password. Admin only.
func (c *Console) CreateUser(ctx context.Context, email string, role schema.Role) (*NewAccount, error) {
	const op = "triage.CreateUser"

	s, err := c.require(op, session.RequireAdmin, rbac.CapManageUsers)
	if err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, triageerrors.Validation(op, "Email required")
	}
	if !role.IsValid() {
		return nil, triageerrors.Validation(op, "Invalid role")
	}

	var created *api.CreatedUser
	err = c.call(ctx, "create_user", func(ctx context.Context) error {
		var err error
		created, err = c.api.CreateUser(ctx, schema.NewUser{Email: email, Role: role})
		return err
	})
	c.metrics.IncAction("create_user", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	c.logger.Info("user created", "email", logging.MaskEmail(created.Email), "role", role)

	ev := kafka.NewEvent(kafka.EventUserCreated, s.Email, string(s.Role), created.Email).
		With("role", string(role))
	d := decision(s, "create_user", storage.OutcomeOK, created.Email)
	d.Detail = "role=" + string(role)
	c.emit(d, &ev)

	return &NewAccount{
		Email:    created.Email,
		Role:     role,
		Password: &TemporaryPassword{value: created.TemporaryPassword},
	}, nil
}

// UpdateUserRole assigns a new role to a user. Admin only.
func (c *Console) UpdateUserRole(ctx context.Context, email string, role schema.Role) error {
	const op = "triage.UpdateUserRole"

	s, err := c.require(op, session.RequireAdmin, rbac.CapManageUsers)
	if err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return triageerrors.Validation(op, "Email required")
	}
	if !role.IsValid() {
		return triageerrors.Validation(op, "Invalid role")
	}

	err = c.call(ctx, "update_user_role", func(ctx context.Context) error {
		return c.api.UpdateUserRole(ctx, email, role)
	})
	c.metrics.IncAction("update_user_role", outcomeOf(err))
	if err != nil {
		return err
	}

	ev := kafka.NewEvent(kafka.EventUserRoleChanged, s.Email, string(s.Role), email).
		With("role", string(role))
	d := decision(s, "update_user_role", storage.OutcomeOK, email)
	d.Detail = "role=" + string(role)
	c.emit(d, &ev)
	return nil
}
