package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	// JobsProcessed counts jobs by entity kind and outcome.
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "jobs_processed_total",
			Help:      "Total number of transcode jobs processed",
		},
		[]string{"kind", "outcome"},
	)

	// JobRetries counts redeliveries scheduled after a failed attempt.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "job_retries_total",
			Help:      "Total number of job redeliveries scheduled",
		},
		[]string{"kind"},
	)

	// DeadLetters counts jobs admitted to the dead-letter sink.
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vod",
			Name:      "dead_letters_total",
			Help:      "Total number of jobs admitted to the dead-letter sink",
		},
		[]string{"kind"},
	)

	// ActiveJobs tracks the number of jobs currently in flight.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vod",
			Name:      "active_jobs",
			Help:      "Number of currently processing jobs",
		},
	)

	// PipelineDuration tracks end-to-end job duration.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end time taken to process a job",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"kind"},
	)

	// FetchDuration tracks the time taken to materialize source files.
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "source_fetch_duration_seconds",
			Help:      "Time taken to fetch source files from storage",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// TranscodeDuration tracks per-rendition encode time.
	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "rendition_transcode_duration_seconds",
			Help:      "Time taken to encode one rendition",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"resolution"},
	)

	// PublishDuration tracks the time taken to persist HLS output.
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vod",
			Name:      "output_publish_duration_seconds",
			Help:      "Time taken to persist HLS output to storage",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)
)

// RecordSuccess records a successfully processed job.
func RecordSuccess(kind string) {
	JobsProcessed.WithLabelValues(kind, "success").Inc()
}

// RecordFailure records a failed job attempt.
func RecordFailure(kind string) {
	JobsProcessed.WithLabelValues(kind, "failed").Inc()
}

// RecordRetry records a scheduled redelivery.
func RecordRetry(kind string) {
	JobRetries.WithLabelValues(kind).Inc()
}

// RecordDeadLetter records a dead-letter admission.
func RecordDeadLetter(kind string) {
	DeadLetters.WithLabelValues(kind).Inc()
}
