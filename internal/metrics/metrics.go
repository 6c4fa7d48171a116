package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Version Metrics
	VersionsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wesub_versions_appended_total",
			Help: "Total number of subtitle versions appended",
		},
		[]string{"origin", "visibility"},
	)

	VersionAppendConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wesub_version_append_conflicts_total",
			Help: "Total number of version-number races retried",
		},
	)

	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wesub_rollbacks_total",
			Help: "Total number of rollback versions created",
		},
	)

	LanguagesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wesub_languages_published_total",
			Help: "Total number of language publications",
		},
	)

	// Pipeline Metrics
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wesub_pipeline_duration_seconds",
			Help:    "Write pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	PipelineRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wesub_pipeline_rejections_total",
			Help: "Total number of rejected pipeline calls",
		},
		[]string{"reason"},
	)

	// Lock Metrics
	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wesub_lock_contention_total",
			Help: "Total number of write-lock acquisitions refused",
		},
	)

	// Task Metrics
	TasksCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wesub_tasks_created_total",
			Help: "Total number of tasks created",
		},
		[]string{"type"},
	)

	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wesub_tasks_completed_total",
			Help: "Total number of completed tasks",
		},
		[]string{"type", "decision"},
	)

	// Side-effect Job Metrics
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wesub_jobs_submitted_total",
			Help: "Total number of side-effect jobs submitted",
		},
		[]string{"kind"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wesub_jobs_processed_total",
			Help: "Total number of side-effect jobs processed by the worker",
		},
		[]string{"kind", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wesub_job_duration_seconds",
			Help:    "Side-effect job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"kind"},
	)
)
