// Package metrics holds the Prometheus collectors of the capacity service.
// Every method is safe on a nil *Collector so callers never need to check
// whether metrics are enabled.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Validations     *prometheus.CounterVec
	Findings        *prometheus.CounterVec
	ReplayDuration  *prometheus.HistogramVec
	GuardRejections prometheus.Counter
	SweepFlips      prometheus.Counter
	Reverts         *prometheus.CounterVec
}

// New registers the collectors against reg, defaulting to the global
// registry when nil. Registering twice returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	validations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yardcap_validations_total",
		Help: "Movement proposals validated, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "yardcap_validations_total")
	if err != nil {
		return nil, err
	}

	findings, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yardcap_validation_findings_total",
		Help: "Validation errors and warnings, labeled by severity and code.",
	}, []string{"severity", "code"}), "yardcap_validation_findings_total")
	if err != nil {
		return nil, err
	}

	replay, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "yardcap_replay_duration_seconds",
		Help:    "Track replay latency in seconds, labeled by regime.",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"regime"}), "yardcap_replay_duration_seconds")
	if err != nil {
		return nil, err
	}

	guard, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yardcap_guard_rejections_total",
		Help: "Movement writes rolled back by the integrity guard.",
	}), "yardcap_guard_rejections_total")
	if err != nil {
		return nil, err
	}

	flips, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "yardcap_sweep_flips_total",
		Help: "Movements whose planned flag was cleared by the sweep.",
	}), "yardcap_sweep_flips_total")
	if err != nil {
		return nil, err
	}

	reverts, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yardcap_revert_outcomes_total",
		Help: "Per-wagon compensation outcomes of movement deletions.",
	}, []string{"status"}), "yardcap_revert_outcomes_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Validations:     validations,
		Findings:        findings,
		ReplayDuration:  replay,
		GuardRejections: guard,
		SweepFlips:      flips,
		Reverts:         reverts,
	}, nil
}

// Handler exposes the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveValidation counts one validation run and its findings.
func (c *Collector) ObserveValidation(kind string, valid bool, errorCodes, warningCodes []string) {
	if c == nil {
		return
	}
	outcome := "valid"
	if !valid {
		outcome = "invalid"
	}
	c.Validations.WithLabelValues(kind, outcome).Inc()
	for _, code := range errorCodes {
		c.Findings.WithLabelValues("error", code).Inc()
	}
	for _, code := range warningCodes {
		c.Findings.WithLabelValues("warning", code).Inc()
	}
}

// ObserveReplay records how long a replay took.
func (c *Collector) ObserveReplay(projected bool, d time.Duration) {
	if c == nil {
		return
	}
	regime := "historical"
	if projected {
		regime = "projected"
	}
	c.ReplayDuration.WithLabelValues(regime).Observe(d.Seconds())
}

// IncGuardRejection counts a write refused by the integrity guard.
func (c *Collector) IncGuardRejection() {
	if c == nil {
		return
	}
	c.GuardRejections.Inc()
}

// AddSweepFlips counts movements flipped from planned to executed.
func (c *Collector) AddSweepFlips(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.SweepFlips.Add(float64(n))
}

// IncRevertOutcome counts one per-wagon compensation outcome.
func (c *Collector) IncRevertOutcome(status string) {
	if c == nil {
		return
	}
	c.Reverts.WithLabelValues(status).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("metrics: collector %s already registered with incompatible type", name)
		}
		return nil, fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("metrics: collector %s already registered with incompatible type", name)
		}
		return nil, fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("metrics: collector %s already registered with incompatible type", name)
		}
		return nil, fmt.Errorf("metrics: register %s: %w", name, err)
	}
	return counter, nil
}
