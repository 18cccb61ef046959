package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// QueueDepth is the number of ready tasks per kind, refreshed by Stats.
	QueueDepth *prometheus.GaugeVec
	// QueueEnqueuedTotal counts accepted tasks per kind.
	QueueEnqueuedTotal *prometheus.CounterVec
	// QueueProcessedTotal counts deliveries by status (ok, retry, dlq, discarded).
	QueueProcessedTotal *prometheus.CounterVec
	// QueueTaskDuration is handler latency per kind.
	QueueTaskDuration *prometheus.HistogramVec
	// QueueDLQSize is the number of dead letters per kind.
	QueueDLQSize *prometheus.GaugeVec
)

// MustRegisterMetrics creates the queue collectors and registers them with
// reg, or the default registerer when reg is nil. Later calls are no-ops.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QueueDepth = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Ready tasks per kind.",
		}, []string{"kind"}))
		QueueEnqueuedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Tasks accepted by the queue per kind.",
		}, []string{"kind"}))
		QueueProcessedTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_processed_total",
			Help:      "Task deliveries grouped by status.",
		}, []string{"kind", "status"}))
		QueueTaskDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_task_duration_seconds",
			Help:      "Handler latency per task kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}))
		QueueDLQSize = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_dlq_size",
			Help:      "Tasks held in the dead letter store per kind.",
		}, []string{"kind"}))
	})
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// queueLabel bounds metric label values to known-safe kinds.
func queueLabel(kind string) string {
	if k := sanitizeKind(kind); k != "" {
		return k
	}
	return "unknown"
}

func observeEnqueued(kind string) {
	if QueueEnqueuedTotal != nil {
		QueueEnqueuedTotal.WithLabelValues(queueLabel(kind)).Inc()
	}
}

func observeProcessed(kind, status string) {
	if QueueProcessedTotal != nil {
		QueueProcessedTotal.WithLabelValues(queueLabel(kind), status).Inc()
	}
}

func observeDuration(kind string, d time.Duration) {
	if QueueTaskDuration != nil {
		QueueTaskDuration.WithLabelValues(queueLabel(kind)).Observe(d.Seconds())
	}
}

func addDLQ(kind string, n float64) {
	if QueueDLQSize != nil {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Add(n)
	}
}

func setDLQ(kind string, n int64) {
	if QueueDLQSize != nil {
		QueueDLQSize.WithLabelValues(queueLabel(kind)).Set(float64(n))
	}
}

func setDepth(kind string, n int64) {
	if QueueDepth != nil {
		QueueDepth.WithLabelValues(queueLabel(kind)).Set(float64(n))
	}
}
