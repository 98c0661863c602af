// Package metrics provides Prometheus metrics for sprint execution.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cadence"

// Collector owns the cadence metrics and the registry they live in.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// PhaseTransitions counts committed phase advancements.
	// Labels: phase (the phase entered)
	PhaseTransitions *prometheus.CounterVec

	// PhaseFailures counts failed phase attempts.
	// Labels: phase, kind (worker, gate, timeout, merge-conflict, resource-exhaustion, workspace-busy, io)
	PhaseFailures *prometheus.CounterVec

	// PhaseDuration tracks how long a single phase attempt takes.
	PhaseDuration *prometheus.HistogramVec

	// SprintsBlocked counts sprints that exhausted their retries.
	SprintsBlocked prometheus.Counter

	// GateIssues counts issues raised by quality gates.
	// Labels: gate, severity
	GateIssues *prometheus.CounterVec

	// WorkspacesLive is the number of live workspace handles.
	WorkspacesLive prometheus.Gauge
}

// New creates a Collector with a private registry that also carries the
// standard Go and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		PhaseTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of committed phase transitions by phase entered",
			},
			[]string{"phase"},
		),
		PhaseFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_failures_total",
				Help:      "Total number of failed phase attempts by phase and cause",
			},
			[]string{"phase", "kind"},
		),
		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase attempts in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"phase"},
		),
		SprintsBlocked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sprints_blocked_total",
				Help:      "Total number of sprints moved to Blocked",
			},
		),
		GateIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_issues_total",
				Help:      "Total number of quality gate issues by gate and severity",
			},
			[]string{"gate", "severity"},
		),
		WorkspacesLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workspaces_live",
				Help:      "Number of live workspace handles",
			},
		),
	}
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// RecordTransition records a committed transition into phase.
func (c *Collector) RecordTransition(phase string) {
	if c == nil {
		return
	}
	c.PhaseTransitions.WithLabelValues(phase).Inc()
}

// RecordFailure records a failed attempt of phase.
func (c *Collector) RecordFailure(phase, kind string) {
	if c == nil {
		return
	}
	c.PhaseFailures.WithLabelValues(phase, kind).Inc()
}

// ObservePhase records the duration of one phase attempt.
func (c *Collector) ObservePhase(phase string, d time.Duration) {
	if c == nil {
		return
	}
	c.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordBlocked records a sprint moving to Blocked.
func (c *Collector) RecordBlocked() {
	if c == nil {
		return
	}
	c.SprintsBlocked.Inc()
}

// RecordIssue records one gate issue.
func (c *Collector) RecordIssue(gate, severity string) {
	if c == nil {
		return
	}
	c.GateIssues.WithLabelValues(gate, severity).Inc()
}

// SetWorkspacesLive sets the live workspace gauge.
func (c *Collector) SetWorkspacesLive(n int) {
	if c == nil {
		return
	}
	c.WorkspacesLive.Set(float64(n))
}

// Handler returns the /metrics HTTP handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
