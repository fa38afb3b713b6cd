package alerting

import (
	"errors"
	"testing"
	"time"

	"alert-triage/internal/schema"
	"alert-triage/internal/severity"
)

func TestNewAlert(t *testing.T) {
	a, err := NewAlert(schema.LogRecord{ID: "1", Prediction: schema.PredictionMalicious, Score: 0.95})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.State != StateActive {
		t.Errorf("expected initial state active, got %s", a.State)
	}
	if a.Severity != severity.Critical {
		t.Errorf("expected critical, got %s", a.Severity)
	}

	if _, err := NewAlert(schema.LogRecord{ID: "2", Prediction: schema.PredictionNormal}); err == nil {
		t.Error("normal records must not become alerts")
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateActive, StateInvestigating, true},
		{StateActive, StateResolved, true},
		{StateInvestigating, StateResolved, true},
		{StateInvestigating, StateActive, false},
		{StateResolved, StateActive, false},
		{StateResolved, StateInvestigating, false},
		{StateResolved, StateResolved, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestInvestigateThenResolveIsTerminal(t *testing.T) {
	a, _ := NewAlert(schema.LogRecord{ID: "1", Prediction: schema.PredictionSuspicious, Score: 0.8})
	now := time.Now()

	if err := a.TransitionTo(StateInvestigating, now); err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if err := a.TransitionTo(StateResolved, now); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !a.Terminal() {
		t.Error("expected resolved to be terminal")
	}
	if a.ResolvedAt == nil {
		t.Error("expected ResolvedAt set")
	}

	for _, to := range []State{StateActive, StateInvestigating, StateResolved} {
		if err := a.TransitionTo(to, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition to %s, got %v", to, err)
		}
	}
}

func TestRecommendedActions(t *testing.T) {
	malicious, ok := RecommendedActions(schema.PredictionMalicious)
	if !ok || len(malicious) != 5 {
		t.Fatalf("expected 5 malicious actions, got %d", len(malicious))
	}
	if malicious[0] != "Isolate affected system immediately" {
		t.Errorf("unexpected first action %q", malicious[0])
	}
	if malicious[4] != "Notify security team" {
		t.Errorf("unexpected last action %q", malicious[4])
	}

	suspicious, ok := RecommendedActions(schema.PredictionSuspicious)
	if !ok || len(suspicious) != 4 {
		t.Fatalf("expected 4 suspicious actions, got %d", len(suspicious))
	}
	if suspicious[0] != "Monitor user activity closely" || suspicious[3] != "Document findings" {
		t.Errorf("unexpected suspicious actions %v", suspicious)
	}

	if _, ok := RecommendedActions(schema.PredictionNormal); ok {
		t.Error("normal has no playbook")
	}

	malicious[0] = "mutated"
	again, _ := RecommendedActions(schema.PredictionMalicious)
	if again[0] == "mutated" {
		t.Error("callers must not be able to mutate the playbook")
	}
}
