package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EntriesEnqueued  prometheus.Counter
	EntriesClaimed   prometheus.Counter
	EntriesDelivered prometheus.Counter
	EntriesDiscarded prometheus.Counter
	EntriesReaped    *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	DeliveryDuration prometheus.Histogram
	QueueDepth       *prometheus.GaugeVec
}

// New registers the queue metrics with reg. Pass prometheus.DefaultRegisterer
// in services and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EntriesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_entries_enqueued_total",
			Help: "Total number of documents appended to the queue",
		}),
		EntriesClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_entries_claimed_total",
			Help: "Total number of queue entries claimed by workers",
		}),
		EntriesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_entries_delivered_total",
			Help: "Total number of documents delivered to the search index",
		}),
		EntriesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_entries_discarded_total",
			Help: "Total number of superseded entries dropped without delivery",
		}),
		EntriesReaped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "index_queue_entries_reaped_total",
			Help: "Total number of stale claimed entries handled by the reaper",
		}, []string{"action"}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "index_queue_delivery_failures_total",
			Help: "Total number of batches rejected by the search index",
		}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "index_queue_delivery_duration_seconds",
			Help:    "Duration of batch deliveries to the search index",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "index_queue_depth",
			Help: "Number of entries in the queue by claim state",
		}, []string{"state"}),
	}
}

func (m *Metrics) AddEnqueued(n int) {
	m.EntriesEnqueued.Add(float64(n))
}

func (m *Metrics) AddClaimed(n int) {
	m.EntriesClaimed.Add(float64(n))
}

func (m *Metrics) ObserveDelivery(start time.Time, delivered, discarded int) {
	m.DeliveryDuration.Observe(time.Since(start).Seconds())
	m.EntriesDelivered.Add(float64(delivered))
	m.EntriesDiscarded.Add(float64(discarded))
}

func (m *Metrics) IncrementDeliveryFailure() {
	m.DeliveryFailures.Inc()
}

func (m *Metrics) AddReaped(deleted, released int64) {
	m.EntriesReaped.WithLabelValues("deleted").Add(float64(deleted))
	m.EntriesReaped.WithLabelValues("released").Add(float64(released))
}

func (m *Metrics) SetDepth(pending, claimed int64) {
	m.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	m.QueueDepth.WithLabelValues("claimed").Set(float64(claimed))
}
