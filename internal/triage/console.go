// Package triage is the console controller. Every operation passes through
// the session guard, calls the classification API, filters the response for
// the viewer's role and derives severity before any view sees it.
//
// A response that reports an authorization failure tears the session down
// before anything else from that response is applied.
package triage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"alert-triage/internal/alerting"
	"alert-triage/internal/api"
	"alert-triage/internal/config"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/fetch"
	"alert-triage/internal/kafka"
	"alert-triage/internal/metrics"
	"alert-triage/internal/queue"
	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/session"
	"alert-triage/internal/storage"
	reports "alert-triage/internal/storage/s3"

	"github.com/patrickmn/go-cache"
)

// Views fetched independently. Each has its own request generation.
const (
	ViewDashboard fetch.View = "dashboard"
	ViewLogs      fetch.View = "logs"
	ViewAlerts    fetch.View = "alerts"
	ViewUsers     fetch.View = "users"
)

// ErrStale is returned when a newer request for the same view, or a session
// change, superseded the response. Nothing was applied.
var ErrStale = errors.New("triage: response superseded by a newer request")

// API is the classification API as used by the console.
type API interface {
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	VerifySession(ctx context.Context) (*api.Identity, error)
	ResetPassword(ctx context.Context, newPassword string) error
	ListLogs(ctx context.Context, scope rbac.Scope, limit int) ([]schema.LogRecord, error)
	GetStatistics(ctx context.Context) (schema.Statistics, error)
	AnalyzeText(ctx context.Context, text string) (*schema.ClassifiedRecord, error)
	AnalyzeFile(ctx context.Context, filename string, content io.Reader) (*api.FileAnalysis, error)
	ListUsers(ctx context.Context) ([]schema.UserRecord, error)
	CreateUser(ctx context.Context, u schema.NewUser) (*api.CreatedUser, error)
	UpdateUserRole(ctx context.Context, email string, role schema.Role) error
	ResolveLog(ctx context.Context, id string) error
	DeleteAllLogs(ctx context.Context) (int, error)
}

// ReportExporter stores batch-analysis reports.
type ReportExporter interface {
	Export(ctx context.Context, r *reports.Report) (string, error)
}

// RedirectError carries the navigation that followed a session teardown.
type RedirectError struct {
	Redirect session.Redirect
	Err      error
}

func (e *RedirectError) Error() string {
	return e.Err.Error()
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// RedirectOf returns the redirect attached to err, if the session was torn
// down while handling it.
func RedirectOf(err error) (session.Redirect, bool) {
	var re *RedirectError
	if errors.As(err, &re) {
		return re.Redirect, true
	}
	return session.Redirect{}, false
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the console logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Console) { c.logger = l }
}

// WithMetrics records console activity on h.
func WithMetrics(h *metrics.Handler) Option {
	return func(c *Console) { c.metrics = h }
}

// WithPublisher publishes triage events.
func WithPublisher(p kafka.Publisher) Option {
	return func(c *Console) { c.events = p }
}

// WithJournal records triage decisions.
func WithJournal(j storage.Journal) Option {
	return func(c *Console) { c.journal = j }
}

// WithExporter enables report export for batch analyses.
func WithExporter(e ReportExporter) Option {
	return func(c *Console) { c.exporter = e }
}

// WithClock replaces the console clock.
func WithClock(now func() time.Time) Option {
	return func(c *Console) { c.now = now }
}

// Console orchestrates the triage workflow for one viewer.
type Console struct {
	cfg      config.TriageConfig
	api      API
	guard    *session.Guard
	board    *alerting.Board
	confirms *alerting.Confirmations
	tracker  *fetch.Tracker
	stats    *cache.Cache
	throttle *session.LoginThrottle

	logger   *slog.Logger
	metrics  *metrics.Handler
	events   kafka.Publisher
	journal  storage.Journal
	exporter ReportExporter
	now      func() time.Time

	publishTimeout time.Duration
	outbox         *queue.Bounded[effect]
	wg             sync.WaitGroup
}

// effect is a journal row and an event produced by one operation.
type effect struct {
	decision *storage.Decision
	event    *kafka.Event
}

// New creates a console. The guard must be the one whose token the API
// client sends.
func New(cfg config.TriageConfig, client API, guard *session.Guard, opts ...Option) *Console {
	confirms := alerting.NewConfirmations(cfg.ConfirmationTTL)
	ttl := cfg.StatsCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	c := &Console{
		cfg:            cfg,
		api:            client,
		guard:          guard,
		confirms:       confirms,
		tracker:        fetch.NewTracker(),
		stats:          cache.New(ttl, 2*ttl),
		throttle:       session.NewLoginThrottle(cfg.LoginMaxAttempts, cfg.LoginLockout),
		logger:         slog.Default(),
		now:            time.Now,
		publishTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.throttle.WithClock(c.now)
	c.board = alerting.NewBoard(logResolver{c}, confirms)

	if c.journal != nil || c.events != nil {
		c.outbox = queue.NewBounded[effect](cfg.OutboxSize)
		c.wg.Add(1)
		go c.drain()
	}

	guard.OnTeardown(c.onTeardown)
	return c
}

// Session returns the current session.
func (c *Console) Session() session.Session {
	return c.guard.Current()
}

// Fields returns the record fields the current viewer may see.
func (c *Console) Fields() rbac.FieldSet {
	return rbac.VisibleFields(c.guard.Current().Role)
}

// Can reports whether the current viewer holds a capability.
func (c *Console) Can(capability rbac.Capability) bool {
	s := c.guard.Current()
	return s.Authenticated() && rbac.HasCapability(s.Role, capability)
}

// Close drains outstanding journal and publish work. Effects emitted after
// Close are dropped.
func (c *Console) Close() {
	if c.outbox != nil {
		c.outbox.Close()
	}
	c.wg.Wait()
}

// Login signs in and installs the new session. A pending password reset is
// reported on the returned session; every other operation fails with
// ResetRequired until ResetPassword succeeds.
func (c *Console) Login(ctx context.Context, email, password string) (session.Session, error) {
	const op = "triage.Login"

	if ok, retry := c.throttle.Allow(email); !ok {
		c.metrics.IncAction("login", "throttled")
		minutes := max(int(math.Ceil(retry.Sub(c.now()).Minutes())), 1)
		return session.Session{}, triageerrors.Validation(op,
			fmt.Sprintf("Too many failed sign-in attempts. Try again in %d minute(s)", minutes))
	}

	var res *api.LoginResult
	err := c.call(ctx, "login", func(ctx context.Context) error {
		var err error
		res, err = c.api.Login(ctx, email, password)
		return err
	})
	if err != nil {
		c.metrics.IncAction("login", outcomeOf(err))
		if k := triageerrors.KindOf(err); k == triageerrors.KindValidation || k == triageerrors.KindUnauthorized {
			c.throttle.Fail(email)
		}
		return session.Session{}, err
	}
	c.throttle.Succeed(email)

	c.resetViews()
	s := session.Session{
		Token:                res.Token,
		Role:                 res.Role,
		Email:                res.Email,
		RequirePasswordReset: res.RequirePasswordReset,
	}
	if err := c.guard.Begin(ctx, s); err != nil {
		// The session is live; only its durable copy failed.
		c.logger.Warn("session not persisted", "error", err)
	}

	c.metrics.IncAction("login", storage.OutcomeOK)
	return c.guard.Current(), nil
}

// Restore reinstalls a persisted session and verifies it with the API.
// A rejected token tears the session down. If the API cannot be reached the
// session is kept and the error is returned.
func (c *Console) Restore(ctx context.Context) (session.Session, bool, error) {
	s, ok := c.guard.Restore(ctx)
	if !ok {
		return session.Session{}, false, nil
	}

	var id *api.Identity
	err := c.call(ctx, "verify_session", func(ctx context.Context) error {
		var err error
		id, err = c.api.VerifySession(ctx)
		return err
	})
	if err != nil {
		if triageerrors.IsUnauthorized(err) {
			return session.Session{}, false, err
		}
		return s, true, err
	}

	if id.Role.IsValid() && (id.Role != s.Role || id.RequirePasswordReset != s.RequirePasswordReset) {
		s.Role = id.Role
		s.RequirePasswordReset = id.RequirePasswordReset
		if err := c.guard.Begin(ctx, s); err != nil {
			c.logger.Warn("session not persisted", "error", err)
		}
	}
	return c.guard.Current(), true, nil
}

// ResetPassword completes a pending password reset.
func (c *Console) ResetPassword(ctx context.Context, newPassword, confirmation string) error {
	const op = "triage.ResetPassword"

	if err := c.guard.RequireResetFlow(); err != nil {
		return err
	}
	if newPassword != confirmation {
		return triageerrors.Validation(op, "Passwords do not match")
	}
	minLen := c.cfg.PasswordMinLength
	if minLen < 8 {
		minLen = 8
	}
	if len([]rune(newPassword)) < minLen {
		return triageerrors.Validation(op, fmt.Sprintf("Password must be at least %d characters", minLen))
	}

	err := c.call(ctx, "reset_password", func(ctx context.Context) error {
		return c.api.ResetPassword(ctx, newPassword)
	})
	c.metrics.IncAction("reset_password", outcomeOf(err))
	if err != nil {
		return err
	}

	if err := c.guard.CompleteReset(ctx); err != nil && !triageerrors.IsUpstream(err) {
		return err
	}
	return nil
}

// Logout ends the session locally and in the durable store.
func (c *Console) Logout(ctx context.Context) {
	c.guard.Logout(ctx)
}

// require checks the session and the viewer's capability.
func (c *Console) require(op string, req session.Requirement, capability rbac.Capability) (session.Session, error) {
	if err := c.guard.RequireAuthorized(req); err != nil {
		return session.Session{}, err
	}
	s := c.guard.Current()
	if capability != "" && !rbac.HasCapability(s.Role, capability) {
		return session.Session{}, triageerrors.Forbidden(op, "your role cannot perform this action")
	}
	return s, nil
}

// call runs one API operation and classifies its failure. Unauthorized
// failures tear the session down before call returns.
func (c *Console) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	c.metrics.ObserveAPICall(op, time.Since(start), err)
	if err == nil {
		return nil
	}

	if redirect, ok := c.guard.Intercept(ctx, err); ok {
		return &RedirectError{Redirect: redirect, Err: err}
	}

	c.logger.Warn("api call failed",
		"op", op,
		"kind", string(triageerrors.KindOf(err)),
		"error", triageerrors.Display(err))
	return err
}

// logResolver persists resolutions through call, so a rejected session is
// torn down before the board sees the error.
type logResolver struct {
	c *Console
}

func (r logResolver) ResolveLog(ctx context.Context, id string) error {
	return r.c.call(ctx, "resolve_log", func(ctx context.Context) error {
		return r.c.api.ResolveLog(ctx, id)
	})
}

func (c *Console) onTeardown(prev session.Session, reason string) {
	c.resetViews()
	c.metrics.IncTeardown(reason)

	if prev.Authenticated() {
		ev := kafka.NewEvent(kafka.EventSessionTeardown, prev.Email, string(prev.Role), "").
			With("reason", reason)
		c.emit(nil, &ev)
	}
}

// resetViews drops every piece of state derived from the previous session.
func (c *Console) resetViews() {
	c.tracker.Invalidate()
	c.board.Reset()
	c.stats.Flush()
}

// emit queues a decision and an event for the background drain. Failures
// are logged and never reach the caller.
func (c *Console) emit(d *storage.Decision, ev *kafka.Event) {
	if d == nil || c.journal == nil {
		d = nil
	}
	if ev == nil || c.events == nil {
		ev = nil
	}
	if d == nil && ev == nil {
		return
	}

	if err := c.outbox.Offer(effect{decision: d, event: ev}); err != nil {
		c.logger.Warn("dropping triage effect", "error", err)
	}
}

// drain applies queued effects in order until the outbox is closed and empty.
func (c *Console) drain() {
	defer c.wg.Done()

	for {
		e, err := c.outbox.Take(context.Background())
		if err != nil {
			s := c.outbox.Stats()
			c.logger.Debug("triage outbox drained", "applied", s.Taken, "dropped", s.Rejected)
			return
		}

		if e.decision != nil {
			if err := c.journal.Record(e.decision); err != nil {
				c.logger.Warn("failed to journal decision", "action", e.decision.Action, "error", err)
			}
		}
		if e.event != nil {
			ctx, cancel := context.WithTimeout(context.Background(), c.publishTimeout)
			if err := c.events.Publish(ctx, *e.event); err != nil {
				c.logger.Warn("failed to publish event", "type", e.event.Type, "error", err)
			}
			cancel()
		}
	}
}

// decision builds a journal entry attributed to the viewer.
func decision(s session.Session, action, outcome, target string) *storage.Decision {
	return storage.NewDecision(action, outcome, s.Email, string(s.Role), target)
}

func outcomeOf(err error) string {
	if err == nil {
		return storage.OutcomeOK
	}
	return storage.OutcomeFailed
}
