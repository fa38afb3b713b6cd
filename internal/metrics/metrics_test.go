package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	triageerrors "alert-triage/internal/errors"
	"alert-triage/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewUsesIndependentRegistries(t *testing.T) {
	// Two handlers must not collide on registration.
	a := New()
	b := New()
	a.IncAction("resolve", "ok")
	if got := testutil.ToFloat64(b.ActionsTotal.WithLabelValues("resolve", "ok")); got != 0 {
		t.Errorf("expected independent counters, got %v", got)
	}
}

func TestObserveAPICall(t *testing.T) {
	h := New()
	h.ObserveAPICall("api.ListLogs", 10*time.Millisecond, nil)
	h.ObserveAPICall("api.ListLogs", 10*time.Millisecond, triageerrors.Unauthorized("api.ListLogs", "expired"))
	h.ObserveAPICall("api.ListLogs", 10*time.Millisecond, errors.New("connection reset"))

	if got := testutil.ToFloat64(h.APIErrorsTotal.WithLabelValues("api.ListLogs", "unauthorized")); got != 1 {
		t.Errorf("expected 1 unauthorized error, got %v", got)
	}
	if got := testutil.ToFloat64(h.APIErrorsTotal.WithLabelValues("api.ListLogs", "upstream")); got != 1 {
		t.Errorf("expected 1 upstream error, got %v", got)
	}
}

func TestCounters(t *testing.T) {
	h := New()
	h.IncTeardown("unauthorized")
	h.IncResolve(true)
	h.IncResolve(false)
	h.IncResolve(false)
	h.AddAnalyzed("malicious", 3)
	h.AddAnalyzed("normal", 0)
	h.IncStale("alerts")

	if got := testutil.ToFloat64(h.TeardownsTotal.WithLabelValues("unauthorized")); got != 1 {
		t.Errorf("expected 1 teardown, got %v", got)
	}
	if got := testutil.ToFloat64(h.ResolvesTotal.WithLabelValues("false")); got != 2 {
		t.Errorf("expected 2 unpersisted resolves, got %v", got)
	}
	if got := testutil.ToFloat64(h.RecordsAnalyzed.WithLabelValues("malicious")); got != 3 {
		t.Errorf("expected 3 malicious records, got %v", got)
	}
	if got := testutil.ToFloat64(h.StaleResponses.WithLabelValues("alerts")); got != 1 {
		t.Errorf("expected 1 stale response, got %v", got)
	}
}

func TestNilHandlerIsNoop(t *testing.T) {
	var h *Handler
	h.IncAction("resolve", "ok")
	h.IncTeardown("logout")
	h.IncResolve(true)
	h.AddAnalyzed("normal", 1)
	h.IncStale("users")
	h.ObserveAPICall("api.Health", time.Millisecond, nil)
}

func TestHTTPHandler(t *testing.T) {
	h := New()
	h.IncAction("clear_logs", "confirmed")

	rec := httptest.NewRecorder()
	h.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `triage_actions_total{action="clear_logs",outcome="confirmed"} 1`) {
		t.Errorf("expected action counter in exposition, got:\n%s", rec.Body.String())
	}
}

func TestServeAppliesMiddleware(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New().Serve(ctx, addr, slog.New(slog.NewTextHandler(io.Discard, nil)), middleware.SecurityHeaders)
	}()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("metrics listener never came up: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
