package triage

import (
	"context"
	"fmt"

	"alert-triage/internal/alerting"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/kafka"
	"alert-triage/internal/logging"
	"alert-triage/internal/rbac"
	"alert-triage/internal/session"
	"alert-triage/internal/storage"
)

// AlertDetail is the subject of the detail view.
type AlertDetail struct {
	Alert   alerting.Alert
	Actions []string
}

// Investigate opens the detail view for an alert, replacing any previous
// selection. An empty id closes the detail view and returns nil.
func (c *Console) Investigate(id string) (*AlertDetail, error) {
	const op = "triage.Investigate"

	if _, err := c.require(op, session.RequireAny, rbac.CapViewAlerts); err != nil {
		return nil, err
	}

	a, err := c.board.Investigate(id)
	if err != nil {
		return nil, triageerrors.Wrap(op, triageerrors.KindValidation, "Alert is no longer active", err)
	}
	if a == nil {
		return nil, nil
	}

	actions, _ := alerting.RecommendedActions(a.Record.Prediction)
	return &AlertDetail{Alert: *a, Actions: actions}, nil
}

// Selected returns the alert in the detail view, if any.
func (c *Console) Selected() (*AlertDetail, bool) {
	a, ok := c.board.Selected()
	if !ok {
		return nil, false
	}
	actions, _ := alerting.RecommendedActions(a.Record.Prediction)
	return &AlertDetail{Alert: a, Actions: actions}, true
}

// RequestResolve asks for confirmation before resolving an alert.
func (c *Console) RequestResolve(id string) (alerting.PendingConfirmation, error) {
	const op = "triage.RequestResolve"

	if _, err := c.require(op, session.RequireAny, rbac.CapResolveAlerts); err != nil {
		return alerting.PendingConfirmation{}, err
	}
	p, err := c.board.RequestResolve(id)
	if err != nil {
		return alerting.PendingConfirmation{}, triageerrors.Wrap(op, triageerrors.KindValidation, "Alert cannot be resolved", err)
	}
	return p, nil
}

// ConfirmResolve commits a confirmed resolution. The alert leaves the board
// even when the log store did not record it; Warning on the result says so.
func (c *Console) ConfirmResolve(ctx context.Context, token string) (alerting.ResolveResult, error) {
	const op = "triage.ConfirmResolve"

	s, err := c.require(op, session.RequireAny, rbac.CapResolveAlerts)
	if err != nil {
		return alerting.ResolveResult{}, err
	}

	res, err := c.board.ConfirmResolve(ctx, token)
	if err != nil {
		if triageerrors.IsUnauthorized(err) {
			// Already torn down by the resolver.
			return alerting.ResolveResult{}, err
		}
		c.metrics.IncAction("resolve", storage.OutcomeFailed)
		return alerting.ResolveResult{}, triageerrors.Wrap(op, triageerrors.KindValidation, "Resolution was not confirmed", err)
	}

	outcome := storage.OutcomeOK
	if !res.Persisted {
		outcome = storage.OutcomeWarning
		c.logger.Warn("alert resolved locally only",
			"log_id", res.Alert.ID(),
			"error", triageerrors.Display(res.Warning))
	}
	c.metrics.IncResolve(res.Persisted)
	c.metrics.IncAction("resolve", outcome)

	d := decision(s, "resolve", outcome, res.Alert.ID())
	d.Prediction = string(res.Alert.Record.Prediction)
	d.Severity = string(res.Alert.Severity)
	d.Score = res.Alert.Record.Score
	if res.Warning != nil {
		d.Detail = triageerrors.Display(res.Warning)
	}
	ev := kafka.NewEvent(kafka.EventAlertResolved, s.Email, string(s.Role), res.Alert.ID()).
		With("severity", string(res.Alert.Severity)).
		With("persisted", fmt.Sprintf("%t", res.Persisted))
	c.emit(d, &ev)

	return res, nil
}

// CancelConfirmation discards a pending confirmation of any kind.
func (c *Console) CancelConfirmation(token string) {
	c.confirms.Cancel(token)
}

// RequestClearLogs starts the two-stage confirmation for deleting every log.
func (c *Console) RequestClearLogs() (alerting.PendingConfirmation, error) {
	const op = "triage.RequestClearLogs"

	if _, err := c.require(op, session.RequireAdmin, rbac.CapClearLogs); err != nil {
		return alerting.PendingConfirmation{}, err
	}
	return c.confirms.Request(alerting.Action{Kind: alerting.ActionClearLogs}), nil
}

// ClearResult is the outcome of acknowledging one clear-logs stage.
type ClearResult struct {
	// Next is set while another acknowledgement is still required.
	Next    *alerting.PendingConfirmation
	Done    bool
	Deleted int
}

// ConfirmClearLogs acknowledges one stage. The logs are deleted only when
// the final stage is acknowledged.
func (c *Console) ConfirmClearLogs(ctx context.Context, token string) (ClearResult, error) {
	const op = "triage.ConfirmClearLogs"

	s, err := c.require(op, session.RequireAdmin, rbac.CapClearLogs)
	if err != nil {
		return ClearResult{}, err
	}

	conf, err := c.confirms.Confirm(token)
	if err != nil {
		return ClearResult{}, triageerrors.Wrap(op, triageerrors.KindValidation, "Deletion was not confirmed", err)
	}
	if conf.Action.Kind != alerting.ActionClearLogs {
		return ClearResult{}, triageerrors.Validation(op, "token is not a clear-logs confirmation")
	}
	if !conf.Complete {
		return ClearResult{Next: conf.Next}, nil
	}

	var deleted int
	err = c.call(ctx, "delete_all_logs", func(ctx context.Context) error {
		var err error
		deleted, err = c.api.DeleteAllLogs(ctx)
		return err
	})
	c.metrics.IncAction("clear_logs", outcomeOf(err))
	if err != nil {
		if !triageerrors.IsUnauthorized(err) {
			d := decision(s, "clear_logs", storage.OutcomeFailed, "")
			d.Detail = triageerrors.Display(err)
			c.emit(d, nil)
		}
		return ClearResult{}, err
	}

	c.tracker.Invalidate()
	c.board.Reset()
	c.stats.Flush()

	c.logger.Info("all logs cleared", "email", logging.MaskEmail(s.Email), "deleted", deleted)

	d := decision(s, "clear_logs", storage.OutcomeOK, "")
	d.Detail = fmt.Sprintf("deleted %d records", deleted)
	ev := kafka.NewEvent(kafka.EventLogsCleared, s.Email, string(s.Role), "").
		With("deleted_count", fmt.Sprintf("%d", deleted))
	c.emit(d, &ev)

	return ClearResult{Done: true, Deleted: deleted}, nil
}
