package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"alert-triage/internal/analysis"
	"alert-triage/internal/schema"
	"alert-triage/internal/severity"

	"github.com/google/uuid"
)

// Report is the exported form of one bulk analysis.
type Report struct {
	ID          string                    `json:"report_id"`
	GeneratedAt time.Time                 `json:"generated_at"`
	GeneratedBy string                    `json:"generated_by,omitempty"`
	Source      string                    `json:"source"`
	Filename    string                    `json:"filename,omitempty"`
	Statistics  schema.Statistics         `json:"statistics"`
	Severity    severity.Counts           `json:"severity"`
	Records     []schema.ClassifiedRecord `json:"records"`
}

// BuildReport captures a batch result. Every record is kept, not just the preview.
func BuildReport(result analysis.BatchResult, source, filename, generatedBy string, now time.Time) *Report {
	var counts severity.Counts
	for _, r := range result.Records {
		if !r.Prediction.IsAlert() {
			continue
		}
		switch severity.Classify(r.Prediction, r.Score) {
		case severity.Critical:
			counts.Critical++
		case severity.High:
			counts.High++
		case severity.Medium:
			counts.Medium++
		default:
			counts.Low++
		}
	}

	records := make([]schema.ClassifiedRecord, len(result.Records))
	copy(records, result.Records)

	return &Report{
		ID:          uuid.NewString(),
		GeneratedAt: now.UTC(),
		GeneratedBy: generatedBy,
		Source:      source,
		Filename:    filename,
		Statistics:  result.Statistics(),
		Severity:    counts,
		Records:     records,
	}
}

// Key returns the object key for the report, partitioned by date.
func (r *Report) Key() string {
	return fmt.Sprintf("%s/%s.json.gz", r.GeneratedAt.Format("2006/01/02"), r.ID)
}

// Exporter writes reports as gzip-compressed JSON.
type Exporter struct {
	bucket *Bucket
	logger *slog.Logger
}

// NewExporter creates a report exporter writing into bucket.
func NewExporter(bucket *Bucket, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{bucket: bucket, logger: logger}
}

// Export uploads the report and returns its key.
func (e *Exporter) Export(ctx context.Context, r *Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("s3: failed to marshal report: %w", err)
	}

	compressed, err := compressGzip(data)
	if err != nil {
		return "", err
	}

	key, err := e.bucket.Put(ctx, Object{
		Key:             r.Key(),
		Body:            compressed,
		ContentType:     "application/json",
		ContentEncoding: "gzip",
		Metadata: map[string]string{
			"report-id":   r.ID,
			"source":      r.Source,
			"total-count": strconv.Itoa(r.Statistics.Total),
		},
	})
	if err != nil {
		return "", err
	}

	e.logger.Info("analysis report exported",
		"key", key,
		"records", len(r.Records),
		"compressed_bytes", len(compressed),
	)
	return key, nil
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("s3: gzip write failed: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("s3: gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeReport reverses Export's encoding.
func DecodeReport(data []byte) (*Report, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("s3: invalid gzip data: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to decompress report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("s3: failed to decode report: %w", err)
	}
	return &r, nil
}
