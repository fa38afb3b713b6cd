// Package startup checks the console's configuration and dependencies
// before the terminal UI takes over.
package startup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alert-triage/internal/config"

	"golang.org/x/sync/errgroup"
)

// Status is the outcome of one check.
type Status int

const (
	OK Status = iota
	Warn
	Fail
	Skip
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case Warn:
		return "WARNING"
	case Fail:
		return "ERROR"
	case Skip:
		return "SKIPPED"
	}
	return "UNKNOWN"
}

// Result is what one check found.
type Result struct {
	Check   string
	Status  Status
	Message string
	Details map[string]string
}

// Report holds every result of a run, in check order.
type Report struct {
	Results []Result
}

// Count returns how many results have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any check failed.
func (r Report) Failed() bool { return r.Count(Fail) > 0 }

// Find returns the result of the named check.
func (r Report) Find(check string) (Result, bool) {
	for _, res := range r.Results {
		if res.Check == check {
			return res, true
		}
	}
	return Result{}, false
}

// HealthChecker reports whether the classification API answers.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Diagnostics runs the startup checks for one configuration.
type Diagnostics struct {
	cfg        *config.Config
	configPath string
	api        HealthChecker
	logger     *slog.Logger
	timeout    time.Duration
	parallel   int
}

// New returns diagnostics for cfg, read from config.Path().
func New(cfg *config.Config, logger *slog.Logger) *Diagnostics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diagnostics{
		cfg:        cfg,
		configPath: config.Path(),
		logger:     logger,
		timeout:    5 * time.Second,
		parallel:   4,
	}
}

// WithAPI adds the classification API probe.
func (d *Diagnostics) WithAPI(h HealthChecker) *Diagnostics {
	d.api = h
	return d
}

// Run performs the local checks in order, then the network probes
// concurrently, logs every result and a summary, and returns the report.
func (d *Diagnostics) Run(ctx context.Context) Report {
	var rep Report
	rep.Results = append(rep.Results,
		d.runtimeInfo(),
		d.configFile(),
		d.configValid(),
		d.logFile(),
	)
	rep.Results = append(rep.Results, d.transport()...)

	probes := []func(context.Context) Result{
		d.apiProbe,
		d.sessionProbe,
		d.kafkaProbe,
		d.journalProbe,
		d.exportInfo,
	}
	found := make([]Result, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)
	for i, probe := range probes {
		g.Go(func() error {
			found[i] = probe(gctx)
			return nil
		})
	}
	_ = g.Wait()
	rep.Results = append(rep.Results, found...)

	for _, r := range rep.Results {
		d.log(r)
	}
	d.logger.Info("diagnostics summary",
		"passed", rep.Count(OK),
		"warnings", rep.Count(Warn),
		"errors", rep.Count(Fail),
		"skipped", rep.Count(Skip),
	)
	return rep
}

func (d *Diagnostics) log(r Result) {
	attrs := []any{"check", r.Check, "status", r.Status.String()}
	if r.Message != "" {
		attrs = append(attrs, "message", r.Message)
	}
	for k, v := range r.Details {
		attrs = append(attrs, k, v)
	}

	switch r.Status {
	case OK:
		d.logger.Info("diagnostic passed", attrs...)
	case Warn:
		d.logger.Warn("diagnostic warning", attrs...)
	case Fail:
		d.logger.Error("diagnostic failed", attrs...)
	default:
		d.logger.Debug("diagnostic skipped", attrs...)
	}
}

// Banner is printed above the diagnostics output.
func Banner(version string) string {
	var b strings.Builder
	b.WriteString("\n  Alert Triage Console\n")
	b.WriteString("  Log anomaly triage for security operations\n")
	fmt.Fprintf(&b, "  Version: %s\n\n", version)
	return b.String()
}
