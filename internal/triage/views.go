package triage

import (
	"context"
	"fmt"

	"alert-triage/internal/alerting"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/fetch"
	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/search"
	"alert-triage/internal/session"
	"alert-triage/internal/severity"
)

// RecordView is a log record prepared for rendering. Hidden fields are
// already cleared from Record.
type RecordView struct {
	Record schema.LogRecord
	Fields rbac.FieldSet
	// Alert is false for normal records, which carry no severity.
	Alert    bool
	Severity severity.Severity
	Label    string
	Color    string
	Age      string
}

// Dashboard is the landing view.
type Dashboard struct {
	Statistics schema.Statistics
	Severity   severity.Counts
	Recent     []RecordView
}

// Statistics returns per-label counts for the viewer. Results are cached
// briefly per viewer; counts that do not add up are an upstream failure.
func (c *Console) Statistics(ctx context.Context) (schema.Statistics, error) {
	const op = "triage.Statistics"

	s, err := c.require(op, session.RequireAny, rbac.CapViewStatistics)
	if err != nil {
		return schema.Statistics{}, err
	}
	return c.statistics(ctx, s)
}

func (c *Console) statistics(ctx context.Context, s session.Session) (schema.Statistics, error) {
	key := statsKey(s)
	if v, ok := c.stats.Get(key); ok {
		return v.(schema.Statistics), nil
	}

	epoch := c.guard.Epoch()
	var stats schema.Statistics
	err := c.call(ctx, "get_statistics", func(ctx context.Context) error {
		var err error
		stats, err = c.api.GetStatistics(ctx)
		return err
	})
	if err != nil {
		return schema.Statistics{}, err
	}
	if !stats.Consistent() {
		return schema.Statistics{}, triageerrors.New("triage.Statistics", triageerrors.KindUpstream,
			fmt.Sprintf("statistics do not add up: total %d, sum %d",
				stats.Total, stats.Normal+stats.Suspicious+stats.Malicious))
	}

	if c.guard.Epoch() == epoch {
		c.stats.SetDefault(key, stats)
	}
	return stats, nil
}

func statsKey(s session.Session) string {
	return "stats:" + string(s.Role) + ":" + s.Email
}

// Dashboard loads statistics, severity counts and the most recent records.
func (c *Console) Dashboard(ctx context.Context) (Dashboard, error) {
	const op = "triage.Dashboard"

	s, err := c.require(op, session.RequireAny, "")
	if err != nil {
		return Dashboard{}, err
	}
	ticket := c.tracker.Begin(ViewDashboard)
	epoch := c.guard.Epoch()

	records, err := c.fetchRecords(ctx, s, rbac.SelectEndpointScope(s.Role, ""), c.cfg.DashboardLimit)
	if err != nil {
		return Dashboard{}, err
	}

	var stats schema.Statistics
	if rbac.HasCapability(s.Role, rbac.CapViewStatistics) {
		if stats, err = c.statistics(ctx, s); err != nil {
			return Dashboard{}, err
		}
	}

	var d Dashboard
	applied := c.apply(ticket, epoch, func() {
		d = Dashboard{
			Statistics: stats,
			Severity:   severity.Tally(records),
			Recent:     c.views(s, records),
		}
	})
	if !applied {
		return Dashboard{}, ErrStale
	}
	return d, nil
}

// Logs lists the records the viewer may see, optionally narrowed to one
// prediction.
func (c *Console) Logs(ctx context.Context, filter schema.Prediction) ([]RecordView, error) {
	const op = "triage.Logs"

	s, err := c.require(op, session.RequireAny, rbac.CapViewOwnRecords)
	if err != nil {
		return nil, err
	}
	if filter != "" && !filter.IsValid() {
		return nil, triageerrors.Validation(op, fmt.Sprintf("unknown prediction %q", filter))
	}

	ticket := c.tracker.Begin(ViewLogs)
	epoch := c.guard.Epoch()

	records, err := c.fetchRecords(ctx, s, rbac.SelectEndpointScope(s.Role, filter), c.cfg.ListLimit)
	if err != nil {
		return nil, err
	}

	var out []RecordView
	if !c.apply(ticket, epoch, func() { out = c.views(s, records) }) {
		return nil, ErrStale
	}
	return out, nil
}

// Search lists the records the viewer may see that match query, for
// example `prediction:malicious score>0.9 time>now-1h`. Queries may only
// name fields visible to the viewer's role.
func (c *Console) Search(ctx context.Context, query string) ([]RecordView, error) {
	const op = "triage.Search"

	s, err := c.require(op, session.RequireAny, rbac.CapViewOwnRecords)
	if err != nil {
		return nil, err
	}
	m, err := search.Compile(query, rbac.VisibleFields(s.Role), c.now())
	if err != nil {
		c.metrics.IncAction("search", "invalid")
		return nil, triageerrors.Validation(op, err.Error())
	}

	ticket := c.tracker.Begin(ViewLogs)
	epoch := c.guard.Epoch()

	records, err := c.fetchRecords(ctx, s, rbac.SelectEndpointScope(s.Role, ""), c.cfg.ListLimit)
	if err != nil {
		return nil, err
	}
	matched := m.Filter(records)

	var out []RecordView
	if !c.apply(ticket, epoch, func() { out = c.views(s, matched) }) {
		return nil, ErrStale
	}
	c.metrics.IncAction("search", "ok")
	c.logger.Debug("search", "query", m.String(), "fetched", len(records), "matched", len(matched))
	return out, nil
}

// Alerts loads the active-alert board. filter is empty or an alert
// prediction; normal records never become alerts.
func (c *Console) Alerts(ctx context.Context, filter schema.Prediction) ([]alerting.Alert, error) {
	const op = "triage.Alerts"

	s, err := c.require(op, session.RequireAny, rbac.CapViewAlerts)
	if err != nil {
		return nil, err
	}
	if filter != "" && !filter.IsAlert() {
		return nil, triageerrors.Validation(op, fmt.Sprintf("%q is not an alert prediction", filter))
	}

	ticket := c.tracker.Begin(ViewAlerts)
	epoch := c.guard.Epoch()

	records, err := c.fetchRecords(ctx, s, rbac.SelectEndpointScope(s.Role, filter), c.cfg.ListLimit)
	if err != nil {
		return nil, err
	}

	if !c.apply(ticket, epoch, func() { c.board.Load(records) }) {
		return nil, ErrStale
	}
	return c.board.Alerts(), nil
}

// AlertSummary counts active alerts per severity.
func (c *Console) AlertSummary() severity.Counts {
	return c.board.Summary()
}

// fetchRecords lists a scope and keeps only what the viewer may see,
// projected for the viewer's role, in server order.
func (c *Console) fetchRecords(ctx context.Context, s session.Session, scope rbac.Scope, limit int) ([]schema.LogRecord, error) {
	var records []schema.LogRecord
	err := c.call(ctx, "list_logs", func(ctx context.Context) error {
		var err error
		records, err = c.api.ListLogs(ctx, scope, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	viewer := s.Viewer()
	scoped := make([]schema.LogRecord, 0, len(records))
	for _, r := range records {
		if scope.Matches(viewer, r) {
			scoped = append(scoped, r)
		}
	}
	if dropped := len(records) - len(scoped); dropped > 0 {
		c.logger.Debug("records outside scope dropped", "scope", scope.String(), "dropped", dropped)
	}
	return rbac.Filter(viewer, scoped), nil
}

// apply runs fn only if ticket is still the latest for its view and the
// session has not changed since the fetch began.
func (c *Console) apply(ticket fetch.Ticket, epoch uint64, fn func()) bool {
	ok := false
	c.tracker.Apply(ticket, func() {
		if c.guard.Epoch() != epoch {
			return
		}
		fn()
		ok = true
	})

	if !ok {
		c.metrics.IncStale(string(ticket.View))
		c.logger.Debug("stale response discarded", "view", ticket.View, "generation", ticket.Generation)
	}
	return ok
}

func (c *Console) views(s session.Session, records []schema.LogRecord) []RecordView {
	fields := rbac.VisibleFields(s.Role)
	now := c.now()

	out := make([]RecordView, 0, len(records))
	for _, r := range records {
		v := RecordView{
			Record: r,
			Fields: fields,
			Age:    severity.TimeAgo(r.Timestamp.Time, now),
		}
		if r.Prediction.IsAlert() {
			v.Alert = true
			v.Severity = severity.Of(r)
			v.Label = severity.Label(v.Severity)
			v.Color = severity.Color(v.Severity)
		}
		out = append(out, v)
	}
	return out
}
