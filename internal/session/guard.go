package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alert-triage/internal/errors"
	"alert-triage/internal/logging"
	"alert-triage/internal/schema"
)

// Requirement is the role an operation demands.
type Requirement int

const (
	RequireAny     Requirement = iota // any authenticated role
	RequireAnalyst                    // soc_analyst or admin
	RequireAdmin                      // admin only
)

func (r Requirement) String() string {
	switch r {
	case RequireAdmin:
		return "admin"
	case RequireAnalyst:
		return "analyst"
	default:
		return "any"
	}
}

func (r Requirement) allows(role schema.Role) bool {
	switch r {
	case RequireAdmin:
		return role == schema.RoleAdmin
	case RequireAnalyst:
		return role == schema.RoleAdmin || role == schema.RoleSOCAnalyst
	default:
		return role.IsValid()
	}
}

// LoginEntry is the navigation target after a teardown.
const LoginEntry = "login"

// Redirect tells the view layer where to navigate after a teardown.
type Redirect struct {
	Target string
	Reason string
}

// TeardownFunc observes session teardowns. It runs after the session has
// been cleared.
type TeardownFunc func(prev Session, reason string)

// Guard holds the current session and decides whether operations may run.
type Guard struct {
	mu        sync.RWMutex
	current   Session
	epoch     uint64
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	observers []TeardownFunc
}

// NewGuard creates a guard. store may be nil, in which case nothing is
// persisted across restarts.
func NewGuard(store Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// OnTeardown registers an observer for teardowns.
func (g *Guard) OnTeardown(fn TeardownFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

// Current returns a copy of the current session.
func (g *Guard) Current() Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// Epoch increments on every session change. Work started under an older
// epoch must not update state.
func (g *Guard) Epoch() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.epoch
}

// IsAuthorized returns true iff a non-empty token is present.
func (g *Guard) IsAuthorized() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current.Authenticated()
}

// RequireAuthorized checks that the current session may run a non-reset
// operation demanding req.
func (g *Guard) RequireAuthorized(req Requirement) error {
	const op = "session.RequireAuthorized"

	g.mu.RLock()
	s := g.current
	g.mu.RUnlock()

	if !s.Authenticated() {
		return errors.Unauthorized(op, "not signed in")
	}
	if s.RequirePasswordReset {
		return errors.ResetRequired(op)
	}
	if !req.allows(s.Role) {
		return errors.Forbidden(op, req.String()+" access required")
	}
	return nil
}

// RequireResetFlow checks that the current session may run the password reset.
func (g *Guard) RequireResetFlow() error {
	const op = "session.RequireResetFlow"

	g.mu.RLock()
	s := g.current
	g.mu.RUnlock()

	if !s.Authenticated() {
		return errors.Unauthorized(op, "not signed in")
	}
	if !s.RequirePasswordReset {
		return errors.Validation(op, "No password reset is pending")
	}
	return nil
}

// Begin installs a freshly issued session and persists it.
func (g *Guard) Begin(ctx context.Context, s Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = g.now()
	}

	g.mu.Lock()
	g.current = s
	g.epoch++
	g.mu.Unlock()

	g.logger.Info("session started",
		"email", s.Email,
		"role", s.Role,
		"reset_pending", s.RequirePasswordReset,
		"token", logging.MaskToken(s.Token))

	return g.persist(ctx, s)
}

// CompleteReset clears the reset-pending flag after a successful reset.
func (g *Guard) CompleteReset(ctx context.Context) error {
	g.mu.Lock()
	if !g.current.Authenticated() {
		g.mu.Unlock()
		return errors.Unauthorized("session.CompleteReset", "not signed in")
	}
	g.current.RequirePasswordReset = false
	s := g.current
	g.mu.Unlock()

	return g.persist(ctx, s)
}

// Restore loads a persisted session, if any. It does not verify the token;
// callers check it with the API and call HandleAuthFailure on rejection.
func (g *Guard) Restore(ctx context.Context) (Session, bool) {
	if g.store == nil {
		return Session{}, false
	}

	s, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			g.logger.Warn("failed to restore session", "error", err)
		}
		return Session{}, false
	}
	if s.Expired(g.now()) || !s.Authenticated() {
		_ = g.store.Clear(ctx)
		return Session{}, false
	}

	g.mu.Lock()
	g.current = *s
	g.epoch++
	g.mu.Unlock()

	g.logger.Info("session restored", "email", s.Email, "role", s.Role)
	return *s, true
}

// Logout clears the session locally and in the durable store.
func (g *Guard) Logout(ctx context.Context) {
	g.teardown(ctx, "logout")
}

// HandleAuthFailure tears the session down after the API rejected its
// credentials and returns the redirect to the login entry point. It must run
// before any other state update derived from the rejected response.
func (g *Guard) HandleAuthFailure(ctx context.Context, cause error) Redirect {
	reason := "unauthorized"
	if cause != nil {
		reason = errors.Display(cause)
	}
	g.teardown(ctx, "auth_failure")
	return Redirect{Target: LoginEntry, Reason: reason}
}

// Intercept runs HandleAuthFailure if err is Unauthorized and reports
// whether it did.
func (g *Guard) Intercept(ctx context.Context, err error) (Redirect, bool) {
	if err == nil || !errors.IsUnauthorized(err) {
		return Redirect{}, false
	}
	return g.HandleAuthFailure(ctx, err), true
}

func (g *Guard) teardown(ctx context.Context, reason string) {
	g.mu.Lock()
	prev := g.current
	g.current = Session{}
	g.epoch++
	observers := append([]TeardownFunc(nil), g.observers...)
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.Clear(ctx); err != nil {
			g.logger.Warn("failed to clear persisted session", "error", err)
		}
	}

	if prev.Authenticated() {
		g.logger.Info("session cleared", "reason", reason, "email", prev.Email)
	}

	for _, fn := range observers {
		fn(prev, reason)
	}
}

func (g *Guard) persist(ctx context.Context, s Session) error {
	if g.store == nil {
		return nil
	}
	if err := g.store.Save(ctx, &s); err != nil {
		g.logger.Warn("failed to persist session", "error", err)
		return errors.Upstream("session.persist", err)
	}
	return nil
}
