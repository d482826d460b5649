package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for monitoring the ingestion pipeline
var (
	NotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_notifications_total",
			Help: "Total number of payment notifications received",
		},
	)

	NotificationsInvalidTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_notifications_invalid_total",
			Help: "Total number of notifications rejected before acknowledgement (bad signature or malformed body)",
		},
	)

	NotificationsDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_notifications_duplicate_total",
			Help: "Total number of notifications short-circuited as repeat deliveries",
		},
	)

	AckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_ack_duration_seconds",
			Help:    "Time from request receipt to acknowledgement",
			Buckets: []float64{.005, .01, .025, .05, .1, .2, .5, 1},
		},
	)

	ClassificationMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "purchase_classification_mismatch_total",
			Help: "Total number of purchases where the products hint disagreed with the paid amount",
		},
	)

	DispatchResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_dispatch_results_total",
			Help: "Settled fan-out results per destination",
		},
		[]string{"destination", "status"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(NotificationsInvalidTotal)
	prometheus.MustRegister(NotificationsDuplicateTotal)
	prometheus.MustRegister(AckDuration)
	prometheus.MustRegister(ClassificationMismatchTotal)
	prometheus.MustRegister(DispatchResultsTotal)
}
