package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, reg
}

func TestObserveValidation(t *testing.T) {
	c, _ := newCollector(t)
	c.ObserveValidation("delivery", false, []string{"insufficient_capacity"}, []string{"restriction_active", "restriction_active"})
	c.ObserveValidation("delivery", true, nil, nil)

	if got := testutil.ToFloat64(c.Validations.WithLabelValues("delivery", "invalid")); got != 1 {
		t.Errorf("invalid validations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Validations.WithLabelValues("delivery", "valid")); got != 1 {
		t.Errorf("valid validations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Findings.WithLabelValues("warning", "restriction_active")); got != 2 {
		t.Errorf("restriction warnings = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Findings.WithLabelValues("error", "insufficient_capacity")); got != 1 {
		t.Errorf("capacity errors = %v, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	c, _ := newCollector(t)
	c.IncGuardRejection()
	c.AddSweepFlips(3)
	c.AddSweepFlips(0)
	c.IncRevertOutcome("restored")

	if got := testutil.ToFloat64(c.GuardRejections); got != 1 {
		t.Errorf("guard rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.SweepFlips); got != 3 {
		t.Errorf("sweep flips = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Reverts.WithLabelValues("restored")); got != 1 {
		t.Errorf("restored outcomes = %v, want 1", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveValidation("delivery", true, nil, nil)
	c.ObserveReplay(true, time.Millisecond)
	c.IncGuardRejection()
	c.AddSweepFlips(1)
	c.IncRevertOutcome("failed")
	if c.Handler() == nil {
		t.Error("Handler() on nil collector should fall back to the default gatherer")
	}
}

func TestNew_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(reg)
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	first.IncGuardRejection()
	if got := testutil.ToFloat64(second.GuardRejections); got != 1 {
		t.Errorf("second collector sees %v rejections, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c, _ := newCollector(t)
	c.ObserveReplay(false, 2*time.Millisecond)
	c.AddSweepFlips(2)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		"yardcap_sweep_flips_total 2",
		`yardcap_replay_duration_seconds_count{regime="historical"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
