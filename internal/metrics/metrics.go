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

	updateChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "checks_total",
			Help:      "Number of remote update checks by result (new/current/error).",
		}, []string{"result"},
	)
	downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "downloads_total",
			Help:      "Number of staged version downloads by result (ok/error).",
		}, []string{"result"},
	)
	updatesApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "applied_total",
			Help:      "Number of successfully committed updates.",
		},
	)
	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "rollbacks_total",
			Help:      "Number of rollbacks by result (ok/failed/impossible).",
		}, []string{"result"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of full update cycles that found a new version.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	processStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of managed process starts.",
		},
	)
	processStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rollout",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of managed process stops.",
		},
	)
	currentInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rollout",
			Subsystem: "update",
			Name:      "current_info",
			Help:      "Set to 1 for the currently adopted version label.",
		}, []string{"version"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		updateChecks, downloads, updatesApplied, rollbacks, cycleDuration,
		processStarts, processStops, currentInfo,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns the /metrics handler for the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncCheck(result string) { updateChecks.WithLabelValues(result).Inc() }

func IncDownload(result string) { downloads.WithLabelValues(result).Inc() }

func IncApplied() { updatesApplied.Inc() }

func IncRollback(result string) { rollbacks.WithLabelValues(result).Inc() }

func ObserveCycle(seconds float64) { cycleDuration.Observe(seconds) }

func IncStart() { processStarts.Inc() }

func IncStop() { processStops.Inc() }

// SetCurrentVersion points the info gauge at the adopted version.
func SetCurrentVersion(version string) {
	currentInfo.Reset()
	if version != "" {
		currentInfo.WithLabelValues(version).Set(1)
	}
}
