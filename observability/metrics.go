package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics records sale module activity: operation counts segmented by
// outcome, rejection reasons, and operation latency.
type SaleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	saleMetricsOnce sync.Once
	saleRegistry    *SaleMetrics
)

// Metrics returns the lazily-initialised sale metrics registry.
func Metrics() *SaleMetrics {
	saleMetricsOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "sale",
				Name:      "requests_total",
				Help:      "Total sale module operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "sale",
				Name:      "errors_total",
				Help:      "Total rejected sale module operations segmented by reason code.",
			}, []string{"op", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokensale",
				Subsystem: "sale",
				Name:      "latency_seconds",
				Help:      "Sale module operation latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(saleRegistry.requests, saleRegistry.errors, saleRegistry.latency)
	})
	return saleRegistry
}

// Observe records one completed operation.
func (m *SaleMetrics) Observe(op string, start time.Time, err error, reason string) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if reason == "" {
			reason = "Internal"
		}
		m.errors.WithLabelValues(op, reason).Inc()
	}
	m.requests.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
