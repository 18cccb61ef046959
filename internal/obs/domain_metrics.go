package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingResolutions counts price lookups by outcome (hit, not_found, error).
	PricingResolutions *prometheus.CounterVec
	// DocumentRecomputeTotal counts aggregate recomputes per document kind and outcome.
	DocumentRecomputeTotal *prometheus.CounterVec
	// DocumentRecomputeDuration records recompute latency in milliseconds.
	DocumentRecomputeDuration *prometheus.HistogramVec
	// DocumentSyncTotal counts linked-document mirror attempts.
	DocumentSyncTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics registers the pricing and document collectors.
// Calls after the first are no-ops.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingResolutions = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_resolutions_total",
			Help:      "Count of price rule resolutions by outcome.",
		}, []string{"result"}))
		DocumentRecomputeTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_recompute_total",
			Help:      "Count of document aggregate recomputes.",
		}, []string{"kind", "result"}))
		DocumentRecomputeDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_recompute_duration_ms",
			Help:      "Latency of document recompute and sync in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"kind"}))
		DocumentSyncTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_sync_total",
			Help:      "Count of linked document sync outcomes.",
		}, []string{"result"}))
	})
}

// ObservePriceResolution records a resolver outcome. Safe before registration.
func ObservePriceResolution(result string) {
	if PricingResolutions == nil {
		return
	}
	PricingResolutions.WithLabelValues(result).Inc()
}

// ObserveRecompute records a recompute outcome and its latency.
func ObserveRecompute(kind, result string, elapsed time.Duration) {
	if DocumentRecomputeTotal != nil {
		DocumentRecomputeTotal.WithLabelValues(kind, result).Inc()
	}
	if DocumentRecomputeDuration != nil {
		DocumentRecomputeDuration.WithLabelValues(kind).Observe(DurationMillis(elapsed))
	}
}

// ObserveSync records a linked document sync outcome (ok, failed, retried, skipped).
func ObserveSync(result string) {
	if DocumentSyncTotal == nil {
		return
	}
	DocumentSyncTotal.WithLabelValues(result).Inc()
}
