package session

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"alert-triage/internal/errors"
	"alert-triage/internal/schema"
)

func newTestGuard(store Store) (*Guard, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewGuard(store, logger), &buf
}

func analystSession() Session {
	return Session{
		Token: "eyJhbGciOiJIUzI1NiJ9.analyst.sig",
		Role:  schema.RoleSOCAnalyst,
		Email: "soc@example.com",
	}
}

func TestGuard_IsAuthorized(t *testing.T) {
	g, _ := newTestGuard(nil)
	ctx := context.Background()

	if g.IsAuthorized() {
		t.Fatal("expected a new guard to be unauthorized")
	}

	if err := g.Begin(ctx, analystSession()); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if !g.IsAuthorized() {
		t.Error("expected authorized after Begin")
	}

	if err := g.Begin(ctx, Session{Role: schema.RoleAdmin}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if g.IsAuthorized() {
		t.Error("a session without a token must not be authorized")
	}
}

func TestGuard_RequireAuthorized(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		session *Session
		req     Requirement
		check   func(error) bool
	}{
		{"no session", nil, RequireAny, errors.IsUnauthorized},
		{"admin required as analyst", &Session{Token: "t", Role: schema.RoleSOCAnalyst}, RequireAdmin, errors.IsForbidden},
		{"analyst required as normal user", &Session{Token: "t", Role: schema.RoleNormalUser}, RequireAnalyst, errors.IsForbidden},
		{"reset pending", &Session{Token: "t", Role: schema.RoleAdmin, RequirePasswordReset: true}, RequireAny, errors.IsResetRequired},
		{"reset pending beats role", &Session{Token: "t", Role: schema.RoleNormalUser, RequirePasswordReset: true}, RequireAdmin, errors.IsResetRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGuard(nil)
			if tt.session != nil {
				g.Begin(ctx, *tt.session)
			}
			err := g.RequireAuthorized(tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error kind %s: %v", errors.KindOf(err), err)
			}
		})
	}

	allowed := []struct {
		role schema.Role
		req  Requirement
	}{
		{schema.RoleAdmin, RequireAdmin},
		{schema.RoleAdmin, RequireAnalyst},
		{schema.RoleSOCAnalyst, RequireAnalyst},
		{schema.RoleNormalUser, RequireAny},
	}
	for _, a := range allowed {
		g, _ := newTestGuard(nil)
		g.Begin(ctx, Session{Token: "t", Role: a.role})
		if err := g.RequireAuthorized(a.req); err != nil {
			t.Errorf("role %s with %s: unexpected error %v", a.role, a.req, err)
		}
	}
}

func TestGuard_ResetFlow(t *testing.T) {
	g, _ := newTestGuard(nil)
	ctx := context.Background()

	if err := g.RequireResetFlow(); !errors.IsUnauthorized(err) {
		t.Errorf("expected unauthorized without session, got %v", err)
	}

	s := analystSession()
	s.RequirePasswordReset = true
	g.Begin(ctx, s)

	if err := g.RequireResetFlow(); err != nil {
		t.Fatalf("expected reset flow allowed, got %v", err)
	}
	if err := g.CompleteReset(ctx); err != nil {
		t.Fatalf("CompleteReset() error = %v", err)
	}
	if err := g.RequireAuthorized(RequireAny); err != nil {
		t.Errorf("expected operations allowed after reset, got %v", err)
	}
	if err := g.RequireResetFlow(); !errors.IsValidation(err) {
		t.Errorf("expected validation error with no reset pending, got %v", err)
	}
}

func TestGuard_HandleAuthFailureClearsEverything(t *testing.T) {
	store := NewMemoryStore()
	g, _ := newTestGuard(store)
	ctx := context.Background()

	g.Begin(ctx, analystSession())
	epoch := g.Epoch()

	var observed Session
	var reason string
	g.OnTeardown(func(prev Session, r string) {
		observed = prev
		reason = r
		if g.IsAuthorized() {
			t.Error("observers must run after the session is cleared")
		}
	})

	redirect := g.HandleAuthFailure(ctx, errors.Unauthorized("api.ListLogs", "token expired"))

	if redirect.Target != LoginEntry {
		t.Errorf("expected redirect to %s, got %s", LoginEntry, redirect.Target)
	}
	cur := g.Current()
	if cur.Token != "" || cur.Role != "" || cur.Email != "" {
		t.Errorf("expected token, role and email cleared, got %+v", cur)
	}
	if g.Epoch() <= epoch {
		t.Error("expected epoch to advance on teardown")
	}
	if observed.Email != "soc@example.com" || reason != "auth_failure" {
		t.Errorf("unexpected observer call: %+v %q", observed, reason)
	}
	if _, err := store.Load(ctx); err != ErrSessionNotFound {
		t.Errorf("expected durable session cleared, got %v", err)
	}
}

func TestGuard_Intercept(t *testing.T) {
	g, _ := newTestGuard(nil)
	ctx := context.Background()
	g.Begin(ctx, analystSession())

	if _, ok := g.Intercept(ctx, errors.Forbidden("api.ListUsers", "admin access required")); ok {
		t.Error("forbidden must not tear the session down")
	}
	if !g.IsAuthorized() {
		t.Fatal("session must survive a forbidden response")
	}

	if _, ok := g.Intercept(ctx, errors.Upstream("api.ListLogs", context.DeadlineExceeded)); ok {
		t.Error("upstream failures must not tear the session down")
	}

	if _, ok := g.Intercept(ctx, errors.Unauthorized("api.ListLogs", "")); !ok {
		t.Error("expected unauthorized to be intercepted")
	}
	if g.IsAuthorized() {
		t.Error("expected session cleared")
	}
}

func TestGuard_RestoreFromStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, _ := newTestGuard(store)
	first.Begin(ctx, analystSession())

	second, _ := newTestGuard(store)
	s, ok := second.Restore(ctx)
	if !ok {
		t.Fatal("expected session restored")
	}
	if s.Email != "soc@example.com" || !second.IsAuthorized() {
		t.Errorf("unexpected restored session %+v", s)
	}
}

func TestGuard_RestoreExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	s := analystSession()
	s.ExpiresAt = time.Now().Add(-time.Minute)
	store.Save(ctx, &s)

	g, _ := newTestGuard(store)
	if _, ok := g.Restore(ctx); ok {
		t.Error("expected expired session not restored")
	}
	if g.IsAuthorized() {
		t.Error("expected guard unauthorized")
	}
}

func TestGuard_LogoutClearsStore(t *testing.T) {
	store := NewMemoryStore()
	g, _ := newTestGuard(store)
	ctx := context.Background()

	g.Begin(ctx, analystSession())
	g.Logout(ctx)

	if g.IsAuthorized() {
		t.Error("expected unauthorized after logout")
	}
	if _, err := store.Load(ctx); err != ErrSessionNotFound {
		t.Errorf("expected store cleared, got %v", err)
	}
}

func TestGuard_NeverLogsToken(t *testing.T) {
	g, buf := newTestGuard(nil)
	s := analystSession()
	g.Begin(context.Background(), s)

	if strings.Contains(buf.String(), s.Token) {
		t.Errorf("token leaked into logs: %s", buf.String())
	}
}
