package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueueCounter   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_jobs_enqueued_total", Help: "Total enqueued jobs"}, []string{"queue"})
	WorkerSuccess    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_jobs_completed_total", Help: "Jobs completed successfully"}, []string{"queue"})
	WorkerRetries    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_jobs_retried_total", Help: "Failed attempts scheduled for retry"}, []string{"queue"})
	WorkerFailures   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_jobs_failed_total", Help: "Jobs failed permanently"}, []string{"queue"})
	JobsPruned       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_jobs_pruned_total", Help: "Terminal jobs removed by cleanup"}, []string{"queue"})
	RateLimitRejects = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "rate_limit_rejects_total", Help: "Requests rejected by rate limiter"}, []string{"class"})
	CacheHits        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_cache_hits_total", Help: "AI result cache hits"}, []string{"namespace"})
	CacheMisses      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_cache_misses_total", Help: "AI result cache misses"}, []string{"namespace"})
	CacheErrors      = prometheus.NewCounter(prometheus.CounterOpts{Name: "ai_cache_errors_total", Help: "Cache store errors treated as misses"})
	AIRequests       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ai_requests_total", Help: "Chat completion calls by outcome"}, []string{"outcome"})
	AIDuration       = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "ai_request_duration_seconds", Help: "Chat completion latency", Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80}})
	QueueDepthGauge  = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ai_queue_depth", Help: "Ready jobs waiting for a worker"}, []string{"queue"})
	InFlightGauge    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ai_jobs_inflight", Help: "Jobs currently leased by this process"}, []string{"queue"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueueCounter,
			WorkerSuccess,
			WorkerRetries,
			WorkerFailures,
			JobsPruned,
			RateLimitRejects,
			CacheHits,
			CacheMisses,
			CacheErrors,
			AIRequests,
			AIDuration,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
