package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ExportBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_export_batches_total",
			Help: "Batches successfully delivered per export sink.",
		},
		[]string{"exporter"},
	)

	ExportUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_export_uploads_total",
			Help: "Upload attempts per export sink and outcome status.",
		},
		[]string{"exporter", "status"},
	)

	ExportUploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportexporter_export_upload_duration_seconds",
			Help:    "Upload transport latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"exporter"},
	)

	ReportsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_reports_uploaded_total",
			Help: "Reports accepted by the internal sink.",
		},
		[]string{"key"},
	)

	ReportsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_reports_dropped_total",
			Help: "Reports dropped by the internal sink.",
		},
		[]string{"key", "reason"},
	)

	ObservationsUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_observations_uploaded_total",
			Help: "Observations forwarded downstream per transmitter type.",
		},
		[]string{"key", "type"},
	)

	ObservationsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_observations_dropped_total",
			Help: "Observations dropped per transmitter type.",
		},
		[]string{"key", "type", "reason"},
	)

	QueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reportexporter_queue_size",
			Help: "Current number of items per monitored queue.",
		},
		[]string{"queue"},
	)

	JobsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportexporter_jobs_dropped_total",
			Help: "Jobs rejected because the worker pool was saturated.",
		},
		[]string{"job"},
	)
)

func Register() {
	prometheus.MustRegister(
		ExportBatchesTotal,
		ExportUploadsTotal,
		ExportUploadDuration,
		ReportsUploadedTotal,
		ReportsDroppedTotal,
		ObservationsUploadedTotal,
		ObservationsDroppedTotal,
		QueueSize,
		JobsDroppedTotal,
	)
}
