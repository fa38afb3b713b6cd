// Package severity derives alert urgency from a classification result.
// Severity is never stored; it is recomputed from (prediction, score) on every view.
package severity

import (
	"fmt"
	"strings"
	"time"

	"alert-triage/internal/schema"
)

// Severity is the derived urgency tier of an alert.
type Severity string

const (
	Low      Severity = "low"
	Medium   Severity = "medium"
	High     Severity = "high"
	Critical Severity = "critical"
)

// Score thresholds. Both comparisons are strict.
const (
	CriticalThreshold = 0.9
	MediumThreshold   = 0.7
)

// Classify maps a prediction and its confidence to a severity tier.
// Rules are evaluated in order and the first match wins. Normal records fall
// through to Low; callers must still keep them out of alert views.
func Classify(prediction schema.Prediction, score float64) Severity {
	switch {
	case prediction == schema.PredictionMalicious && score > CriticalThreshold:
		return Critical
	case prediction == schema.PredictionMalicious:
		return High
	case prediction == schema.PredictionSuspicious && score > MediumThreshold:
		return Medium
	default:
		return Low
	}
}

// Of classifies a log record.
func Of(r schema.LogRecord) Severity {
	return Classify(r.Prediction, r.Score)
}

// Label returns the upper-case display label.
func Label(s Severity) string {
	return strings.ToUpper(string(s))
}

// Rank converts severity to a sortable value; higher is more urgent.
func Rank(s Severity) int {
	switch s {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	case Critical:
		return 4
	default:
		return 0
	}
}

// Color returns the hex display color for a severity.
func Color(s Severity) string {
	switch s {
	case Critical:
		return "#dc2626"
	case High:
		return "#ef4444"
	case Medium:
		return "#f59e0b"
	default:
		return "#fbbf24"
	}
}

// TimeAgo renders the elapsed time between ts and now as "Ns ago", "Nm ago",
// "Nh ago" or "Nd ago", truncating at each boundary. Future timestamps
// render as "0s ago".
func TimeAgo(ts, now time.Time) string {
	seconds := int64(now.Sub(ts) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}

// Counts tallies alerts per severity tier.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Total returns the number of alerts counted.
func (c Counts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// Tally counts alert records by severity. Normal records are skipped.
func Tally(records []schema.LogRecord) Counts {
	var c Counts
	for _, r := range records {
		if !r.Prediction.IsAlert() {
			continue
		}
		switch Of(r) {
		case Critical:
			c.Critical++
		case High:
			c.High++
		case Medium:
			c.Medium++
		default:
			c.Low++
		}
	}
	return c
}
