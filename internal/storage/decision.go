package storage

import (
	"time"

	"github.com/google/uuid"
)

// Outcome values recorded with a decision.
const (
	OutcomeOK        = "ok"
	OutcomeWarning   = "warning"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Decision is one journalled triage action.
type Decision struct {
	ID         uuid.UUID
	OccurredAt time.Time
	Action     string
	Outcome    string
	ActorEmail string
	ActorRole  string
	Target     string
	Prediction string
	Severity   string
	Score      float64
	Detail     string
}

// NewDecision returns a decision stamped with a fresh ID and the current time.
func NewDecision(action, outcome, actorEmail, actorRole, target string) *Decision {
	return &Decision{
		ID:         uuid.New(),
		OccurredAt: time.Now().UTC(),
		Action:     action,
		Outcome:    outcome,
		ActorEmail: actorEmail,
		ActorRole:  actorRole,
		Target:     target,
	}
}

// columns lists the values of d in triage_decisions column order.
func (d *Decision) columns() []any {
	return []any{
		d.ID,
		d.OccurredAt,
		d.Action,
		d.Outcome,
		d.ActorEmail,
		d.ActorRole,
		d.Target,
		d.Prediction,
		d.Severity,
		d.Score,
		d.Detail,
	}
}

// Journal records triage decisions.
type Journal interface {
	Record(d *Decision) error
}
