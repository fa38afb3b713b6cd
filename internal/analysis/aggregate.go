// Package analysis folds batch classification results into summary counts.
package analysis

import (
	"fmt"

	"alert-triage/internal/schema"
)

// DefaultPreviewLimit is how many records presentation layers show.
const DefaultPreviewLimit = 20

// BatchResult is the aggregated outcome of one batch upload.
type BatchResult struct {
	TotalCount         int                       `json:"total_count"`
	CountsByPrediction map[schema.Prediction]int `json:"counts_by_prediction"`
	Records            []schema.ClassifiedRecord `json:"records"`
}

// Aggregate tallies records per prediction label. Every label is present in
// the counts, zero-filled, and records keep their input order. The input is
// copied; Aggregate never truncates.
func Aggregate(records []schema.ClassifiedRecord) BatchResult {
	counts := make(map[schema.Prediction]int, len(schema.Predictions))
	for _, p := range schema.Predictions {
		counts[p] = 0
	}
	for _, r := range records {
		counts[r.Prediction]++
	}

	out := make([]schema.ClassifiedRecord, len(records))
	copy(out, records)

	return BatchResult{
		TotalCount:         len(records),
		CountsByPrediction: counts,
		Records:            out,
	}
}

// Count returns the tally for one label.
func (b BatchResult) Count(p schema.Prediction) int {
	return b.CountsByPrediction[p]
}

// Statistics returns the counts in the API's statistics shape.
func (b BatchResult) Statistics() schema.Statistics {
	return schema.Statistics{
		Total:      b.TotalCount,
		Normal:     b.Count(schema.PredictionNormal),
		Suspicious: b.Count(schema.PredictionSuspicious),
		Malicious:  b.Count(schema.PredictionMalicious),
	}
}

// Matches reports whether the label counts a server reported for a batch
// agree with this result. Batch statistics carry no total; the batch total
// arrives separately as total_logs.
func (b BatchResult) Matches(s schema.Statistics) bool {
	own := b.Statistics()
	return own.Normal == s.Normal && own.Suspicious == s.Suspicious && own.Malicious == s.Malicious
}

// Preview is the display-truncated view of a batch result.
type Preview struct {
	Records []schema.ClassifiedRecord
	Shown   int
	Total   int
	// Notice is set whenever Total exceeds the number shown.
	Notice string
}

// Truncated reports whether records were left out of the preview.
func (p Preview) Truncated() bool {
	return p.Total > p.Shown
}

// PreviewOf returns at most limit records for display. The result itself is
// not modified. A non-positive limit uses DefaultPreviewLimit.
func PreviewOf(b BatchResult, limit int) Preview {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}

	n := len(b.Records)
	shown := n
	if shown > limit {
		shown = limit
	}

	p := Preview{
		Records: b.Records[:shown:shown],
		Shown:   shown,
		Total:   n,
	}
	if n > shown {
		p.Notice = fmt.Sprintf("showing first %d of %d", shown, n)
	}
	return p
}
