// Package metrics exposes prometheus instrumentation for the detection
// pipeline. All collectors are registered on the default registry so the
// gateway can serve them from the stock /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ThreatsDetected counts recorded threats by type and severity.
	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wardstone",
		Name:      "threats_detected_total",
		Help:      "Threats recorded in the ledger, by type and severity.",
	}, []string{"type", "severity"})

	// ThreatsSuppressed counts detections dropped below the confidence threshold.
	ThreatsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wardstone",
		Name:      "threats_suppressed_total",
		Help:      "Detections dropped for falling below the configured threat threshold.",
	})

	// AlertsFired counts threshold meta-threats by kind.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wardstone",
		Name:      "alerts_fired_total",
		Help:      "Rolling-window threshold alerts, by threshold kind.",
	}, []string{"kind"})

	// AnalysisDuration observes end-to-end analysis latency per signal kind.
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wardstone",
		Name:      "analysis_duration_seconds",
		Help:      "Latency of a full analysis cycle, by signal kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"signal"})

	// StoreFailures counts degraded operations caused by store errors.
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wardstone",
		Name:      "store_failures_total",
		Help:      "Store errors observed by the engine, by operation.",
	}, []string{"op"})
)
