package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the dashboard collectors.
	Registry = prometheus.NewRegistry()

	feedSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "printfleet",
			Subsystem: "feed",
			Name:      "subscriptions_active",
			Help:      "Change feed subscriptions currently open, by collection.",
		},
		[]string{"collection"},
	)

	storeRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printfleet",
			Subsystem: "store",
			Name:      "refreshes_total",
			Help:      "Entity store refreshes, by store.",
		},
		[]string{"store"},
	)

	storeSnapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printfleet",
			Subsystem: "store",
			Name:      "snapshots_applied_total",
			Help:      "Snapshots applied to entity stores, by store.",
		},
		[]string{"store"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printfleet",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Terminal subscription errors surfaced by entity stores.",
		},
		[]string{"store", "code"},
	)

	mqttMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printfleet",
			Subsystem: "mqtt",
			Name:      "messages_total",
			Help:      "MQTT publishes handled, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	printJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printfleet",
			Subsystem: "printer",
			Name:      "print_jobs_total",
			Help:      "ESC/POS jobs sent to printers, by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printfleet",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "printfleet",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		feedSubscriptions,
		storeRefreshes,
		storeSnapshots,
		storeErrors,
		mqttMessages,
		printJobs,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SubscriptionOpened tracks a feed subscription registered by a backend.
func SubscriptionOpened(collection string) {
	feedSubscriptions.WithLabelValues(collection).Inc()
}

// SubscriptionClosed undoes SubscriptionOpened.
func SubscriptionClosed(collection string) {
	feedSubscriptions.WithLabelValues(collection).Dec()
}

// StoreRefreshed counts a refresh of the named entity store.
func StoreRefreshed(store string) {
	storeRefreshes.WithLabelValues(store).Inc()
}

// SnapshotApplied counts a snapshot applied by the named entity store.
func SnapshotApplied(store string) {
	storeSnapshots.WithLabelValues(store).Inc()
}

// StoreFailed counts a terminal subscription error.
func StoreFailed(store, code string) {
	storeErrors.WithLabelValues(store, code).Inc()
}

// MQTTMessage counts one handled publish.
func MQTTMessage(kind, outcome string) {
	mqttMessages.WithLabelValues(kind, outcome).Inc()
}

// PrintJob counts one ESC/POS job.
func PrintJob(ok bool) {
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	printJobs.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one finished request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
