// Package metrics provides Prometheus metrics for monitoring the waveform server.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavedaq_tasks_created_total",
			Help: "Total number of output tasks created",
		},
		[]string{"type"},
	)
	TaskTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavedaq_task_transitions_total",
			Help: "Total number of task lifecycle operations, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wavedaq_tasks_running",
			Help: "Number of tasks currently running",
		},
	)
	ChannelsConfigured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wavedaq_channels_configured",
			Help: "Number of output channels across all open tasks",
		},
	)
	SynthesisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wavedaq_synthesis_duration_seconds",
			Help:    "Time to synthesize all waveforms of one task",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
	StatusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wavedaq_status_messages_total",
			Help: "Total number of status messages published, by tag",
		},
		[]string{"tag"},
	)
	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wavedaq_rpc_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

// RecordTaskCreated counts a new task of the given type (AO, DO, CO).
func RecordTaskCreated(taskType string) {
	TasksCreated.WithLabelValues(taskType).Inc()
}

// RecordTransition counts one lifecycle operation and whether it succeeded.
func RecordTransition(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TaskTransitions.WithLabelValues(operation, outcome).Inc()
}

// RecordSynthesis observes the time taken to synthesize one task's waveforms.
func RecordSynthesis(duration time.Duration) {
	SynthesisDuration.Observe(duration.Seconds())
}

// RecordStatusMessage counts one published status message.
func RecordStatusMessage(tag string) {
	StatusMessages.WithLabelValues(tag).Inc()
}

// RecordRPC observes the duration of one RPC request.
func RecordRPC(method string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RPCRequestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

// UpdateTaskGauges sets the running-task and channel gauges.
func UpdateTaskGauges(running, channels int) {
	TasksRunning.Set(float64(running))
	ChannelsConfigured.Set(float64(channels))
}

// Serve exposes the default registry at /metrics on the given port. It blocks.
func Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
