package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProvidersOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "job_dispatch", Name: "providers_online", Help: "Number of providers currently online"})

	OffersDispatched  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "offers_dispatched_total", Help: "Total booking offers fanned out"})
	OffersAccepted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "offers_accepted_total", Help: "Total offers resolved by an accept"})
	OffersUnfulfilled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "offers_unfulfilled_total", Help: "Total offers that expired or were rejected by all candidates"})

	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "job_transitions_total", Help: "Job lifecycle transitions by target status"},
		[]string{"to"},
	)
	MirrorWriteFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "mirror_write_failures_total", Help: "Best-effort mirror writes that failed"})
	NotifyFailures      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_dispatch", Name: "notify_failures_total", Help: "Notifier deliveries that failed"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "job_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
