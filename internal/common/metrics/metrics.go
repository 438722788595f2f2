// Package metrics exposes Prometheus metrics for the Mission Control
// orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mission lifecycle metrics
	MissionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_missions_created_total",
			Help: "Total number of missions created",
		},
	)

	MissionsAborted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_missions_aborted_total",
			Help: "Total number of missions aborted",
		},
	)

	MissionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "missionctl_missions_active",
			Help: "Number of missions currently held in memory",
		},
	)

	// Telemetry metrics
	TelemetryTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_telemetry_ticks_total",
			Help: "Total number of telemetry aggregation ticks",
		},
	)

	TelemetrySamplesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "missionctl_telemetry_samples_published_total",
			Help: "Total number of telemetry samples pushed to clients",
		},
	)

	CollaboratorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_collaborator_failures_total",
			Help: "Total number of failed collaborator calls by service",
		},
		[]string{"service"},
	)

	// Reflection metrics
	Reflections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "missionctl_reflections_total",
			Help: "Total number of reflection runs by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all metrics with the default Prometheus registry.
// Safe to call once at startup.
func Register() {
	prometheus.MustRegister(
		MissionsCreated,
		MissionsAborted,
		MissionsActive,
		TelemetryTicks,
		TelemetrySamplesPublished,
		CollaboratorFailures,
		Reflections,
	)
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
