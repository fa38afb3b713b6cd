package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alert-triage/internal/errors"
	"alert-triage/internal/schema"
	"alert-triage/internal/severity"
)

// Resolver persists a resolution in the external log store.
type Resolver interface {
	ResolveLog(ctx context.Context, id string) error
}

// ResolveResult describes a committed resolution.
type ResolveResult struct {
	Alert Alert
	// Persisted is false when the external store did not record the
	// resolution. The alert is still removed locally and Warning says why.
	Persisted bool
	Warning   error
}

// Board holds the active alerts of one view and runs their lifecycle.
type Board struct {
	mu       sync.Mutex
	alerts   []*Alert
	resolved map[string]*Alert // local overlay kept across reloads
	selected string
	confirms *Confirmations
	resolver Resolver
	now      func() time.Time
}

// NewBoard creates an empty board. resolver may be nil, in which case
// resolutions are local only and always carry a warning.
func NewBoard(resolver Resolver, confirms *Confirmations) *Board {
	if confirms == nil {
		confirms = NewConfirmations(DefaultConfirmationTTL)
	}
	return &Board{
		resolved: make(map[string]*Alert),
		confirms: confirms,
		resolver: resolver,
		now:      time.Now,
	}
}

// Load replaces the board's alerts with the alert-worthy records, in order.
// Normal records and records resolved earlier in this session are skipped.
// The selection survives if its record is still present.
func (b *Board) Load(records []schema.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := make(map[string]State, len(b.alerts))
	for _, a := range b.alerts {
		prev[a.ID()] = a.State
	}

	alerts := make([]*Alert, 0, len(records))
	for _, r := range records {
		if _, done := b.resolved[r.ID]; done {
			continue
		}
		a, err := NewAlert(r)
		if err != nil {
			continue
		}
		if st, ok := prev[r.ID]; ok {
			a.State = st
		}
		alerts = append(alerts, a)
	}
	b.alerts = alerts

	if b.selected != "" && b.findLocked(b.selected) == nil {
		b.selected = ""
	}
}

// Alerts returns copies of the active alerts in display order.
func (b *Board) Alerts() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Alert, len(b.alerts))
	for i, a := range b.alerts {
		out[i] = *a
	}
	return out
}

// Len returns the number of active alerts.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.alerts)
}

// Summary counts active alerts per severity.
func (b *Board) Summary() severity.Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := make([]schema.LogRecord, len(b.alerts))
	for i, a := range b.alerts {
		records[i] = a.Record
	}
	return severity.Tally(records)
}

// Investigate makes the alert the subject of the detail view, replacing any
// previous selection. An empty id closes the detail view.
func (b *Board) Investigate(id string) (*Alert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == "" {
		b.selected = ""
		return nil, nil
	}

	a := b.findLocked(id)
	if a == nil {
		return nil, fmt.Errorf("alert %s not found", id)
	}
	if err := a.TransitionTo(StateInvestigating, b.now()); err != nil {
		return nil, err
	}
	b.selected = id

	cp := *a
	return &cp, nil
}

// Selected returns the alert in the detail view.
func (b *Board) Selected() (Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.selected == "" {
		return Alert{}, false
	}
	a := b.findLocked(b.selected)
	if a == nil {
		return Alert{}, false
	}
	return *a, true
}

// RequestResolve starts the confirmation for resolving an alert. Nothing
// changes until the returned token is confirmed.
func (b *Board) RequestResolve(id string) (PendingConfirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.findLocked(id)
	if a == nil {
		return PendingConfirmation{}, fmt.Errorf("alert %s not found", id)
	}
	if !CanTransition(a.State, StateResolved) {
		return PendingConfirmation{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, a.State, StateResolved)
	}
	return b.confirms.Request(Action{Kind: ActionResolve, Target: id}), nil
}

// CancelResolve discards a pending resolve confirmation.
func (b *Board) CancelResolve(token string) {
	b.confirms.Cancel(token)
}

// ConfirmResolve commits a resolution after the operator acknowledged it.
// The store is asked to persist the resolution first; if the store rejects
// the session the board is left untouched and the error is returned so the
// session can be torn down. Any other store failure still resolves locally
// and is reported as a warning.
func (b *Board) ConfirmResolve(ctx context.Context, token string) (ResolveResult, error) {
	c, err := b.confirms.Confirm(token)
	if err != nil {
		return ResolveResult{}, err
	}
	if c.Action.Kind != ActionResolve || !c.Complete {
		return ResolveResult{}, fmt.Errorf("%w: token is not a resolve confirmation", ErrUnknownConfirmation)
	}
	id := c.Action.Target

	b.mu.Lock()
	if b.findLocked(id) == nil {
		b.mu.Unlock()
		return ResolveResult{}, fmt.Errorf("alert %s not found", id)
	}
	b.mu.Unlock()

	var warning error
	if b.resolver == nil {
		warning = fmt.Errorf("resolution of %s was not saved: no log store configured", id)
	} else if err := b.resolver.ResolveLog(ctx, id); err != nil {
		if errors.IsUnauthorized(err) {
			return ResolveResult{}, err
		}
		warning = err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.findLocked(id)
	if a == nil {
		// Reloaded without this record while the store call was in flight.
		return ResolveResult{}, fmt.Errorf("alert %s not found", id)
	}
	if err := a.TransitionTo(StateResolved, b.now()); err != nil {
		return ResolveResult{}, err
	}
	b.removeLocked(id)
	b.resolved[id] = a
	if b.selected == id {
		b.selected = ""
	}

	return ResolveResult{Alert: *a, Persisted: warning == nil, Warning: warning}, nil
}

// Resolved returns a copy of an alert resolved in this session.
func (b *Board) Resolved(id string) (Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.resolved[id]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

// Reset empties the board, its overlay and any pending confirmations.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.alerts = nil
	b.resolved = make(map[string]*Alert)
	b.selected = ""
	b.confirms.Reset()
}

func (b *Board) findLocked(id string) *Alert {
	for _, a := range b.alerts {
		if a.ID() == id {
			return a
		}
	}
	return nil
}

func (b *Board) removeLocked(id string) {
	for i, a := range b.alerts {
		if a.ID() == id {
			b.alerts = append(b.alerts[:i], b.alerts[i+1:]...)
			return
		}
	}
}
