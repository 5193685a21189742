package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegrid_jobs_processed_total",
		Help: "Total number of sampling jobs processed, by status",
	}, []string{"status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framegrid_job_duration_seconds",
		Help:    "Duration of the sampling pipeline, by stage",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framegrid_frames_sampled_total",
		Help: "Total number of frames sampled across all jobs",
	})

	DecodeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framegrid_decode_failures_total",
		Help: "Total number of sampling sequences aborted by a decode failure",
	})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framegrid_active_workers",
		Help: "Number of workers currently running a sampling job",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegrid_retry_total",
		Help: "Total number of job retries",
	}, []string{"attempt"})
)
