package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	lifecycleAwaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sshapp",
			Subsystem: "lifecycle",
			Name:      "awaits_total",
			Help:      "Number of lifecycle waits by kind and outcome.",
		}, []string{"service", "kind", "outcome"},
	)
	awaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sshapp",
			Subsystem: "lifecycle",
			Name:      "await_duration_seconds",
			Help:      "Time spent waiting for a lifecycle marker or process exit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "kind"},
	)
	nodeStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sshapp",
			Subsystem: "node",
			Name:      "stops_total",
			Help:      "Number of stop signals sent to nodes (graceful or kill).",
		}, []string{"service", "mode"},
	)
	serviceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sshapp",
			Subsystem: "service",
			Name:      "state",
			Help:      "Last observed lifecycle state of a service (1 = current state, 0 = not).",
		}, []string{"service", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{lifecycleAwaits, awaitDuration, nodeStops, serviceState, processCPUPercent, processMemoryMB, processNumThreads}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// ObserveAwait records one finished wait. outcome is "ok", "timeout", "broken" or "error".
func ObserveAwait(service, kind, outcome string, seconds float64) {
	if regOK.Load() {
		lifecycleAwaits.WithLabelValues(service, kind, outcome).Inc()
		awaitDuration.WithLabelValues(service, kind).Observe(seconds)
	}
}

func IncStop(service string, graceful bool) {
	if regOK.Load() {
		mode := "kill"
		if graceful {
			mode = "graceful"
		}
		nodeStops.WithLabelValues(service, mode).Inc()
	}
}

// SetState marks state as the current one for service among all known states.
func SetState(service, state string, all []string) {
	if !regOK.Load() {
		return
	}
	for _, s := range all {
		var v float64
		if s == state {
			v = 1
		}
		serviceState.WithLabelValues(service, s).Set(v)
	}
}
