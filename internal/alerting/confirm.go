package alerting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActionKind is a destructive action that needs operator confirmation.
type ActionKind string

const (
	ActionResolve   ActionKind = "resolve"
	ActionClearLogs ActionKind = "clear_logs"
)

// stages is the number of separate acknowledgements an action needs.
func (k ActionKind) stages() int {
	if k == ActionClearLogs {
		return 2
	}
	return 1
}

var prompts = map[ActionKind][]string{
	ActionResolve: {
		"Mark this alert as resolved?",
	},
	ActionClearLogs: {
		"WARNING: This will permanently delete ALL logs. This action cannot be undone. Continue?",
		"FINAL CONFIRMATION: You are about to delete ALL logs. Proceed with deletion?",
	},
}

// Action is a requested destructive action.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target,omitempty"` // alert ID for resolve
}

// PendingConfirmation is an outstanding request for acknowledgement.
type PendingConfirmation struct {
	Token     string    `json:"token"`
	Action    Action    `json:"action"`
	Stage     int       `json:"stage"`  // 1-based
	Stages    int       `json:"stages"` // total acknowledgements required
	Prompt    string    `json:"prompt"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Confirmation is the outcome of acknowledging a pending confirmation.
type Confirmation struct {
	Action Action
	// Complete is true once every stage has been acknowledged and the action
	// may be committed. Otherwise Next holds the following stage.
	Complete bool
	Next     *PendingConfirmation
}

var (
	// ErrUnknownConfirmation is returned for a token that was never issued,
	// was already used or was cancelled.
	ErrUnknownConfirmation = errors.New("unknown confirmation token")

	// ErrConfirmationExpired is returned for a token past its deadline.
	ErrConfirmationExpired = errors.New("confirmation expired")
)

// DefaultConfirmationTTL bounds how long a prompt stays answerable.
const DefaultConfirmationTTL = 2 * time.Minute

// Confirmations issues and redeems single-use confirmation tokens.
type Confirmations struct {
	mu      sync.Mutex
	pending map[string]PendingConfirmation
	ttl     time.Duration
	now     func() time.Time
}

// NewConfirmations creates a confirmation registry.
func NewConfirmations(ttl time.Duration) *Confirmations {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &Confirmations{
		pending: make(map[string]PendingConfirmation),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Request issues the first-stage confirmation for an action.
func (c *Confirmations) Request(a Action) PendingConfirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issueLocked(a, 1)
}

// Confirm redeems a token. Tokens are single use; a multi-stage action returns
// a fresh token for its next stage.
func (c *Confirmations) Confirm(token string) (Confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[token]
	if !ok {
		return Confirmation{}, ErrUnknownConfirmation
	}
	delete(c.pending, token)

	if c.now().After(p.ExpiresAt) {
		return Confirmation{}, fmt.Errorf("%w: %s", ErrConfirmationExpired, p.Action.Kind)
	}

	if p.Stage < p.Stages {
		next := c.issueLocked(p.Action, p.Stage+1)
		return Confirmation{Action: p.Action, Next: &next}, nil
	}
	return Confirmation{Action: p.Action, Complete: true}, nil
}

// Cancel discards a pending token.
func (c *Confirmations) Cancel(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, token)
}

// Reset discards every pending token.
func (c *Confirmations) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]PendingConfirmation)
}

// Pending returns the number of outstanding tokens, expired ones excluded.
func (c *Confirmations) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for token, p := range c.pending {
		if now.After(p.ExpiresAt) {
			delete(c.pending, token)
			continue
		}
		n++
	}
	return n
}

func (c *Confirmations) issueLocked(a Action, stage int) PendingConfirmation {
	p := PendingConfirmation{
		Token:     uuid.NewString(),
		Action:    a,
		Stage:     stage,
		Stages:    a.Kind.stages(),
		Prompt:    prompts[a.Kind][stage-1],
		ExpiresAt: c.now().Add(c.ttl),
	}
	c.pending[p.Token] = p
	return p
}
