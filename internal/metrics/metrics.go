package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wishjobs_jobs_enqueued_total",
		Help: "Total number of jobs enqueued, by type and source",
	}, []string{"type", "source"})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wishjobs_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	})

	JobsRescheduledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wishjobs_jobs_rescheduled_total",
		Help: "Total number of failed jobs put back in the queue with backoff",
	})

	JobsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wishjobs_jobs_dropped_total",
		Help: "Total number of jobs deleted after reaching the attempt ceiling",
	})

	ZombiesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wishjobs_zombies_reclaimed_total",
		Help: "Total number of stale processing jobs returned to the queue",
	})

	OrphansCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wishjobs_orphans_cleaned_total",
		Help: "Total number of jobs deleted because their wish no longer exists",
	})

	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wishjobs_batches_total",
		Help: "Total number of worker batches run",
	})

	JobProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wishjobs_job_processing_duration_seconds",
		Help:    "Time taken to process jobs in seconds",
		Buckets: prometheus.DefBuckets,
	})

	ImageBytesFetched = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wishjobs_image_bytes_fetched",
		Help:    "Size of downloaded images in bytes",
		Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wishjobs_active_workers",
		Help: "Current number of batch workers in the pool",
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wishjobs_queue_depth",
		Help: "Number of jobs per status as of the last stats read",
	}, []string{"status"})
)
