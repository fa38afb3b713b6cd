package triage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"alert-triage/internal/alerting"
	"alert-triage/internal/analysis"
	"alert-triage/internal/api"
	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/kafka"
	"alert-triage/internal/rbac"
	"alert-triage/internal/schema"
	"alert-triage/internal/session"
	"alert-triage/internal/severity"
	"alert-triage/internal/storage"
	reports "alert-triage/internal/storage/s3"
)

// TextAnalysis is the classification of one log line.
type TextAnalysis struct {
	Record schema.ClassifiedRecord
	// Severity and Actions are set only for alert predictions.
	Severity severity.Severity
	Actions  []string
}

// AnalyzeText classifies a single log line.
func (c *Console) AnalyzeText(ctx context.Context, text string) (*TextAnalysis, error) {
	const op = "triage.AnalyzeText"

	s, err := c.require(op, session.RequireAny, rbac.CapAnalyze)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, triageerrors.Validation(op, "Please enter log text to analyze")
	}

	var rec *schema.ClassifiedRecord
	err = c.call(ctx, "analyze_text", func(ctx context.Context) error {
		var err error
		rec, err = c.api.AnalyzeText(ctx, text)
		return err
	})
	c.metrics.IncAction("analyze_text", outcomeOf(err))
	if err != nil {
		return nil, err
	}

	out := &TextAnalysis{Record: *rec}
	if rec.Prediction.IsAlert() {
		out.Severity = severity.Classify(rec.Prediction, rec.Score)
		out.Actions, _ = alerting.RecommendedActions(rec.Prediction)
	}
	c.metrics.AddAnalyzed(string(rec.Prediction), 1)

	d := decision(s, "analyze_text", storage.OutcomeOK, rec.LogID)
	d.Prediction = string(rec.Prediction)
	d.Severity = string(out.Severity)
	d.Score = rec.Score
	c.emit(d, nil)

	return out, nil
}

// BatchAnalysis is an aggregated file upload.
type BatchAnalysis struct {
	Filename string
	Result   analysis.BatchResult
	Preview  analysis.Preview
	// Mismatch is set when the counts the server reported disagree with the
	// records it returned. The counts derived from the records win.
	Mismatch bool
}

// AnalyzeFile uploads a log file and aggregates the classified records.
func (c *Console) AnalyzeFile(ctx context.Context, filename string, content io.Reader) (*BatchAnalysis, error) {
	const op = "triage.AnalyzeFile"

	s, err := c.require(op, session.RequireAny, rbac.CapAnalyze)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, triageerrors.Validation(op, "Please select a file to analyze")
	}
	if strings.TrimSpace(filename) == "" {
		return nil, triageerrors.Validation(op, "No file selected")
	}

	var raw *api.FileAnalysis
	err = c.call(ctx, "analyze_file", func(ctx context.Context) error {
		var err error
		raw, err = c.api.AnalyzeFile(ctx, filename, content)
		return err
	})
	if err != nil {
		c.metrics.IncAction("analyze_file", storage.OutcomeFailed)
		return nil, err
	}

	limit := c.cfg.BatchMax
	if limit <= 0 {
		limit = 100
	}
	if len(raw.Results) > limit {
		c.metrics.IncAction("analyze_file", storage.OutcomeFailed)
		return nil, triageerrors.New(op, triageerrors.KindUpstream,
			fmt.Sprintf("batch of %d records exceeds the limit of %d", len(raw.Results), limit))
	}

	result := analysis.Aggregate(raw.Results)
	b := &BatchAnalysis{
		Filename: filename,
		Result:   result,
		Preview:  analysis.PreviewOf(result, c.cfg.PreviewLimit),
		Mismatch: !result.Matches(raw.Statistics) || raw.TotalLogs != result.TotalCount,
	}
	if b.Mismatch {
		c.logger.Warn("batch statistics disagree with returned records",
			"filename", filename,
			"reported_total", raw.TotalLogs,
			"records", result.TotalCount)
	}

	for _, p := range schema.Predictions {
		c.metrics.AddAnalyzed(string(p), result.Count(p))
	}
	c.metrics.IncAction("analyze_file", storage.OutcomeOK)

	d := decision(s, "analyze_file", storage.OutcomeOK, filename)
	d.Detail = fmt.Sprintf("total=%d normal=%d suspicious=%d malicious=%d",
		result.TotalCount,
		result.Count(schema.PredictionNormal),
		result.Count(schema.PredictionSuspicious),
		result.Count(schema.PredictionMalicious))
	ev := kafka.NewEvent(kafka.EventAnalysisComplete, s.Email, string(s.Role), filename).
		With("total", fmt.Sprintf("%d", result.TotalCount)).
		With("malicious", fmt.Sprintf("%d", result.Count(schema.PredictionMalicious))).
		With("suspicious", fmt.Sprintf("%d", result.Count(schema.PredictionSuspicious)))
	c.emit(d, &ev)

	return b, nil
}

// ExportReport stores the full batch, not just its preview, and returns the
// object key.
func (c *Console) ExportReport(ctx context.Context, b *BatchAnalysis) (string, error) {
	const op = "triage.ExportReport"

	s, err := c.require(op, session.RequireAny, rbac.CapExportReports)
	if err != nil {
		return "", err
	}
	if c.exporter == nil {
		return "", triageerrors.Validation(op, "Report export is not configured")
	}
	if b == nil {
		return "", triageerrors.Validation(op, "Nothing to export")
	}

	r := reports.BuildReport(b.Result, "file", b.Filename, s.Email, c.now())
	key, err := c.exporter.Export(ctx, r)
	c.metrics.IncAction("export_report", outcomeOf(err))
	if err != nil {
		return "", triageerrors.Upstream(op, err)
	}

	c.emit(decision(s, "export_report", storage.OutcomeOK, key), nil)
	return key, nil
}
