// Package metrics exposes Prometheus counters for triage activity.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/middleware"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler holds the console's metric vectors.
type Handler struct {
	registry *prometheus.Registry

	ActionsTotal      *prometheus.CounterVec
	APIErrorsTotal    *prometheus.CounterVec
	TeardownsTotal    *prometheus.CounterVec
	ResolvesTotal     *prometheus.CounterVec
	RecordsAnalyzed   *prometheus.CounterVec
	StaleResponses    *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
}

// New registers the console metrics on a fresh registry.
func New() *Handler {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Handler{
		registry: reg,
		ActionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_actions_total",
			Help: "The total number of triage actions by action and outcome",
		}, []string{"action", "outcome"}),
		APIErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_api_errors_total",
			Help: "The total number of classification API errors by kind",
		}, []string{"op", "kind"}),
		TeardownsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_session_teardowns_total",
			Help: "The total number of session teardowns by reason",
		}, []string{"reason"}),
		ResolvesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_alert_resolves_total",
			Help: "The total number of resolved alerts by persistence result",
		}, []string{"persisted"}),
		RecordsAnalyzed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_records_analyzed_total",
			Help: "The total number of records returned by analysis, by prediction",
		}, []string{"prediction"}),
		StaleResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_stale_responses_total",
			Help: "The total number of discarded out-of-date view responses",
		}, []string{"view"}),
		APIRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "triage_api_request_latency_seconds",
			Help:    "The latency of classification API calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "success"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (h *Handler) Registry() *prometheus.Registry {
	return h.registry
}

// IncAction records a triage action and its outcome.
func (h *Handler) IncAction(action, outcome string) {
	if h == nil {
		return
	}
	h.ActionsTotal.WithLabelValues(action, outcome).Inc()
}

// ObserveAPICall records the latency of an API call and classifies its error.
func (h *Handler) ObserveAPICall(op string, duration time.Duration, err error) {
	if h == nil {
		return
	}
	success := "true"
	if err != nil {
		success = "false"
		h.APIErrorsTotal.WithLabelValues(op, string(triageerrors.KindOf(err))).Inc()
	}
	h.APIRequestLatency.WithLabelValues(op, success).Observe(duration.Seconds())
}

// IncTeardown records a session teardown.
func (h *Handler) IncTeardown(reason string) {
	if h == nil {
		return
	}
	h.TeardownsTotal.WithLabelValues(reason).Inc()
}

// IncResolve records an alert resolution.
func (h *Handler) IncResolve(persisted bool) {
	if h == nil {
		return
	}
	label := "true"
	if !persisted {
		label = "false"
	}
	h.ResolvesTotal.WithLabelValues(label).Inc()
}

// AddAnalyzed adds per-prediction analysis counts.
func (h *Handler) AddAnalyzed(prediction string, n int) {
	if h == nil || n <= 0 {
		return
	}
	h.RecordsAnalyzed.WithLabelValues(prediction).Add(float64(n))
}

// IncStale records a discarded stale response.
func (h *Handler) IncStale(view string) {
	if h == nil {
		return
	}
	h.StaleResponses.WithLabelValues(view).Inc()
}

// HTTPHandler serves the registry in the Prometheus exposition format.
func (h *Handler) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics listener until ctx is cancelled. Middleware wraps
// the mux in the order given.
func (h *Handler) Serve(ctx context.Context, addr string, logger *slog.Logger, mw ...func(http.Handler) http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h.HTTPHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           middleware.Chain(mux, mw...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("starting metrics listener", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
