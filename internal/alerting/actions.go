package alerting

import "alert-triage/internal/schema"

var recommendedActions = map[schema.Prediction][]string{
	schema.PredictionMalicious: {
		"Isolate affected system immediately",
		"Disable user account if compromised",
		"Review recent activity logs",
		"Conduct forensic analysis",
		"Notify security team",
	},
	schema.PredictionSuspicious: {
		"Monitor user activity closely",
		"Review related logs",
		"Investigate source IP/location",
		"Document findings",
	},
}

// RecommendedActions returns the ordered response playbook for an alert
// prediction. It reports false for predictions that never raise alerts.
func RecommendedActions(p schema.Prediction) ([]string, bool) {
	actions, ok := recommendedActions[p]
	if !ok {
		return nil, false
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out, true
}
