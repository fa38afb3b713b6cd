// Package schema defines the records exchanged with the classification API.
// Records are validated on receipt; severity is never stored on them.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Prediction is the classifier's label for a log event.
type Prediction string

const (
	PredictionNormal     Prediction = "normal"
	PredictionSuspicious Prediction = "suspicious"
	PredictionMalicious  Prediction = "malicious"
)

// Predictions lists every label in display order.
var Predictions = []Prediction{PredictionNormal, PredictionSuspicious, PredictionMalicious}

// IsValid checks if the prediction is one of the enumerated labels.
func (p Prediction) IsValid() bool {
	switch p {
	case PredictionNormal, PredictionSuspicious, PredictionMalicious:
		return true
	}
	return false
}

// IsAlert reports whether records with this label surface as alerts.
// Normal records never do.
func (p Prediction) IsAlert() bool {
	return p == PredictionSuspicious || p == PredictionMalicious
}

// ParsePrediction parses a label, case-insensitively.
func ParsePrediction(s string) (Prediction, error) {
	p := Prediction(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("invalid prediction %q", s)
	}
	return p, nil
}

// Role is a viewer role.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSOCAnalyst Role = "soc_analyst"
	RoleNormalUser Role = "normal_user"
)

// Roles lists every role.
var Roles = []Role{RoleAdmin, RoleSOCAnalyst, RoleNormalUser}

// IsValid checks if the role is one of the enumerated roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleSOCAnalyst, RoleNormalUser:
		return true
	}
	return false
}

// DisplayName returns the human-readable role name.
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleSOCAnalyst:
		return "SOC Analyst"
	default:
		return "Normal User"
	}
}

// LogRecord is a classified log event as returned by the log listing endpoints.
type LogRecord struct {
	ID         string     `json:"_id" validate:"required,max=128"`
	Event      string     `json:"event" validate:"max=65536"`
	Prediction Prediction `json:"prediction" validate:"required,oneof=normal suspicious malicious"`
	Score      float64    `json:"score" validate:"min=0,max=1"`
	Timestamp  Time       `json:"timestamp"`
	UserEmail  string     `json:"user_email,omitempty" validate:"max=320"`
	Sequence   string     `json:"sequence,omitempty" validate:"max=65536"`
}

// ClassifiedRecord is the classifier output for one analyzed log line.
type ClassifiedRecord struct {
	LogID         string             `json:"log_id" validate:"max=128"`
	Original      string             `json:"original"`
	Sequence      string             `json:"sequence"`
	Prediction    Prediction         `json:"prediction" validate:"required,oneof=normal suspicious malicious"`
	Score         float64            `json:"score" validate:"min=0,max=1"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
}

// UserRecord is a user as listed by the user-management endpoint.
type UserRecord struct {
	Email                string `json:"email" validate:"required,email"`
	Role                 Role   `json:"role" validate:"required,oneof=admin soc_analyst normal_user"`
	RequirePasswordReset bool   `json:"require_password_reset"`
	CreatedBy            string `json:"created_by,omitempty"`
	CreatedAt            *Time  `json:"created_at,omitempty"`
	LastLogin            *Time  `json:"last_login,omitempty"`
}

// NewUser is the create-user request.
type NewUser struct {
	Email string `json:"email" validate:"required,email,max=320"`
	Role  Role   `json:"role" validate:"required,oneof=admin soc_analyst normal_user"`
}

// Statistics holds per-label counts.
type Statistics struct {
	Total      int `json:"total" validate:"min=0"`
	Normal     int `json:"normal" validate:"min=0"`
	Suspicious int `json:"suspicious" validate:"min=0"`
	Malicious  int `json:"malicious" validate:"min=0"`
}

// Consistent reports whether Total equals the sum of the label counts.
func (s Statistics) Consistent() bool {
	return s.Total == s.Normal+s.Suspicious+s.Malicious
}

// Time is a timestamp that accepts both RFC 3339 and the RFC 1123 form
// produced by Flask-style JSON encoders.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02T15:04:05.999999", // naive ISO, assumed UTC
}

// NewTime wraps t.
func NewTime(t time.Time) Time {
	return Time{Time: t}
}

// UnmarshalJSON parses any of the accepted layouts. Null leaves the zero time.
func (t *Time) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON writes RFC 3339.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
