// Package metrics provides Prometheus metrics for monitoring the
// collaboration server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// activeConnections tracks the number of live websocket connections
	// across all rooms.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_connections",
			Help: "Number of live websocket connections",
		},
	)

	// openRooms tracks the number of documents with at least one live
	// connection.
	openRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_open_rooms",
			Help: "Number of documents with at least one live connection",
		},
	)

	// operationsApplied records edits sequenced into document logs.
	// Labels:
	//   - kind: Operation kind ("insert", "delete", "neutral")
	operationsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_operations_applied_total",
			Help: "Total number of edit operations applied to documents",
		},
		[]string{"kind"},
	)

	// transformsFolded records how many log entries incoming operations
	// were rebased against.
	transformsFolded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_transforms_folded_total",
			Help: "Total number of transform steps performed while rebasing operations",
		},
	)

	// runSessions records sandboxed executions by terminal status.
	// Labels:
	//   - status: "completed", "stopped", "failed"
	runSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_run_sessions_total",
			Help: "Total number of sandboxed document executions",
		},
		[]string{"status"},
	)

	// runDuration records wall-clock duration of sandboxed executions.
	// Buckets: 0.1s .. 300s, matching the sandbox runtime ceiling.
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "collab_run_duration_seconds",
			Help:    "Duration of sandboxed document executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	// outputChunks records file_output events streamed to rooms.
	outputChunks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_run_output_chunks_total",
			Help: "Total number of output chunks streamed from sandboxed executions",
		},
	)
)

func init() {
	prometheus.MustRegister(activeConnections)
	prometheus.MustRegister(openRooms)
	prometheus.MustRegister(operationsApplied)
	prometheus.MustRegister(transformsFolded)
	prometheus.MustRegister(runSessions)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(outputChunks)
}

// ConnectionOpened increments the live connection gauge.
func ConnectionOpened() { activeConnections.Inc() }

// ConnectionClosed decrements the live connection gauge.
func ConnectionClosed() { activeConnections.Dec() }

// RoomOpened increments the open room gauge.
func RoomOpened() { openRooms.Inc() }

// RoomClosed decrements the open room gauge.
func RoomClosed() { openRooms.Dec() }

// RecordOperationApplied records one sequenced edit of the given kind.
func RecordOperationApplied(kind string) {
	operationsApplied.WithLabelValues(kind).Inc()
}

// RecordTransformsFolded records n transform steps from one rebase.
func RecordTransformsFolded(n int) {
	transformsFolded.Add(float64(n))
}

// RecordRunSession records a finished execution with its terminal status.
func RecordRunSession(status string, durationSeconds float64) {
	runSessions.WithLabelValues(status).Inc()
	runDuration.Observe(durationSeconds)
}

// RecordOutputChunk records one streamed output chunk.
func RecordOutputChunk() { outputChunks.Inc() }
