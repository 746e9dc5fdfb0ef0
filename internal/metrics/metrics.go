// Package metrics defines the Prometheus instruments exposed on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outline_commands_total",
			Help: "Commands processed, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outline_command_duration_seconds",
			Help:    "Time from dispatch to commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "outline_events_published_total",
			Help: "Events published on the bus",
		},
	)

	SerializersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outline_serializers_live",
			Help: "Container serializers currently resident",
		},
	)

	AnalyzerJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outline_analyzer_jobs_total",
			Help: "URL analyzer jobs, by outcome",
		},
		[]string{"outcome"},
	)

	AnalyzerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outline_analyzer_queue_depth",
			Help: "Analyzer jobs waiting to run",
		},
	)
)

// Register adds all engine metrics to the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CommandsTotal,
		CommandDuration,
		EventsPublished,
		SerializersLive,
		AnalyzerJobs,
		AnalyzerQueueDepth,
	)
}
