package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide Prometheus collectors. They register on the default
// registry and are served by the API's /metrics route.
var (
	JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "jobs_started_total",
		Help:      "Jobs attached to a worker, by type.",
	}, []string{"job_type"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "jobs_finished_total",
		Help:      "Jobs reaching a terminal status, by type and status.",
	}, []string{"job_type", "status"})

	JobItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "job_items_total",
		Help:      "Items processed by jobs, by type and outcome.",
	}, []string{"job_type", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "outreach",
		Name:      "job_duration_seconds",
		Help:      "Wall time of jobs from attach to terminal status.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"job_type"})

	TriggerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "job_trigger_rejected_total",
		Help:      "Trigger attempts rejected because a job of the type was active.",
	}, []string{"job_type"})

	RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "outreach",
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for provider budget.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"provider"})

	RateLimitFailOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "ratelimit_fail_open_total",
		Help:      "Calls allowed through because the limiter could not decide.",
	}, []string{"provider"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "provider_calls_total",
		Help:      "External provider calls by outcome.",
	}, []string{"provider", "outcome"})

	ProspectsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "prospects_discovered_total",
		Help:      "Discovery results by platform and dedup outcome.",
	}, []string{"platform", "outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "outreach",
		Name:      "stage_transitions_total",
		Help:      "Stage transitions by event and result.",
	}, []string{"event", "result"})
)

// Gauges refreshed by the Collector.
var (
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "outreach",
		Name:      "jobs_active",
		Help:      "Jobs pending or running across all processes.",
	})

	ProspectsByStage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "outreach",
		Name:      "prospects_by_stage",
		Help:      "Prospect count per derived stage.",
	}, []string{"stage"})
)
