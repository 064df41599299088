package loggo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics, registered with the default Prometheus registry.
var (
	// ErrorsTotal counts errors reported through the error channel, by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loggo_errors_total",
			Help: "Total number of errors reported by the logging engine",
		},
		[]string{"kind"},
	)

	// RecordsTotal counts records delivered to at least one route, by level.
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loggo_records_total",
			Help: "Total number of log records dispatched",
		},
		[]string{"level"},
	)

	// RotationsTotal counts file rotations across all rotating writers.
	RotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loggo_rotations_total",
			Help: "Total number of log file rotations",
		},
	)

	// CompressionsTotal counts backup compressions by result.
	CompressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loggo_compressions_total",
			Help: "Total number of rotated backup compressions",
		},
		[]string{"result"},
	)

	// PrunedBackupsTotal counts backups removed by retention.
	PrunedBackupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loggo_pruned_backups_total",
			Help: "Total number of rotated backups deleted by retention",
		},
	)

	// ReconfigurationsTotal counts successful core swaps.
	ReconfigurationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loggo_reconfigurations_total",
			Help: "Total number of logger core reconfigurations",
		},
	)
)

// recordError increments the error counter for kind.
func recordError(kind string) {
	ErrorsTotal.WithLabelValues(kind).Inc()
}

// recordDispatch increments the record counter for level.
func recordDispatch(level Level) {
	RecordsTotal.WithLabelValues(level.String()).Inc()
}

// recordCompression increments the compression counter.
func recordCompression(err error) {
	if err != nil {
		CompressionsTotal.WithLabelValues("failure").Inc()
		return
	}
	CompressionsTotal.WithLabelValues("success").Inc()
}
