// Package alerting governs the per-alert triage lifecycle: investigate,
// confirm, resolve. Alerts are built from fetched log records; the lifecycle
// state is a view-only overlay and never mutates the record.
package alerting

import (
	"errors"
	"fmt"
	"time"

	"alert-triage/internal/schema"
	"alert-triage/internal/severity"
)

// State is the triage state of an alert.
type State string

const (
	StateActive        State = "active"
	StateInvestigating State = "investigating"
	StateResolved      State = "resolved"
)

// ErrInvalidTransition is returned for a transition the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions lists the allowed moves. Resolved is terminal.
var transitions = map[State][]State{
	StateActive:        {StateInvestigating, StateResolved},
	StateInvestigating: {StateResolved},
	StateResolved:      {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Alert is a suspicious or malicious log record under triage.
type Alert struct {
	Record     schema.LogRecord  `json:"record"`
	Severity   severity.Severity `json:"severity"`
	State      State             `json:"state"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// NewAlert wraps a record. Normal records are not alerts.
func NewAlert(r schema.LogRecord) (*Alert, error) {
	if !r.Prediction.IsAlert() {
		return nil, fmt.Errorf("record %s with prediction %q is not an alert", r.ID, r.Prediction)
	}
	return &Alert{
		Record:   r,
		Severity: severity.Of(r),
		State:    StateActive,
	}, nil
}

// ID returns the underlying record ID.
func (a *Alert) ID() string {
	return a.Record.ID
}

// TransitionTo moves the alert to a new state.
func (a *Alert) TransitionTo(to State, at time.Time) error {
	if a.State == to && to == StateInvestigating {
		return nil
	}
	if !CanTransition(a.State, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, a.State, to)
	}
	a.State = to
	if to == StateResolved {
		a.ResolvedAt = &at
	}
	return nil
}

// Terminal reports whether no further transitions are possible.
func (a *Alert) Terminal() bool {
	return len(transitions[a.State]) == 0
}
