package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// DiscountRunsTotal counts calculation runs by result (ok, conflict, timeout, error).
	DiscountRunsTotal *prometheus.CounterVec
	// DiscountRunDuration records calculation run latency in milliseconds.
	DiscountRunDuration prometheus.Histogram
	// DiscountBatchesTotal counts batches by classification outcome.
	DiscountBatchesTotal *prometheus.CounterVec
	// AnalyticsCacheTotal counts analytics cache lookups by result (hit, miss).
	AnalyticsCacheTotal *prometheus.CounterVec
	// ScheduledRunsTotal counts worker-triggered runs by result.
	ScheduledRunsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers discount engine collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		DiscountRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_runs_total",
			Help:      "Count of discount calculation runs by result.",
		}, []string{"result"})
		DiscountRunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discount_run_duration_ms",
			Help:      "Discount calculation run latency in milliseconds.",
			Buckets:   []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 15000, 30000},
		})
		DiscountBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_batches_total",
			Help:      "Count of evaluated inventory batches by outcome.",
		}, []string{"outcome"})
		AnalyticsCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_cache_total",
			Help:      "Analytics cache lookups by result.",
		}, []string{"result"})
		ScheduledRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_scheduled_runs_total",
			Help:      "Count of worker-triggered calculation runs by result.",
		}, []string{"result"})

		DiscountRunsTotal = register(reg, DiscountRunsTotal)
		DiscountRunDuration = register(reg, DiscountRunDuration)
		DiscountBatchesTotal = register(reg, DiscountBatchesTotal)
		AnalyticsCacheTotal = register(reg, AnalyticsCacheTotal)
		ScheduledRunsTotal = register(reg, ScheduledRunsTotal)
	})
}

// ObserveRun records one finished calculation run. Safe before registration.
func ObserveRun(result string, durationMs float64, outcomes map[string]int) {
	if DiscountRunsTotal != nil {
		DiscountRunsTotal.WithLabelValues(result).Inc()
	}
	if DiscountRunDuration != nil && durationMs >= 0 {
		DiscountRunDuration.Observe(durationMs)
	}
	if DiscountBatchesTotal != nil {
		for outcome, n := range outcomes {
			if n > 0 {
				DiscountBatchesTotal.WithLabelValues(outcome).Add(float64(n))
			}
		}
	}
}

// ObserveAnalyticsCache records a cache hit or miss.
func ObserveAnalyticsCache(hit bool) {
	if AnalyticsCacheTotal == nil {
		return
	}
	if hit {
		AnalyticsCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	AnalyticsCacheTotal.WithLabelValues("miss").Inc()
}
