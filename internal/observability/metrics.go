// Package observability holds the service's Prometheus metrics, logger and error reporting.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activityPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_sync",
		Subsystem: "persistence",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity written to Postgres.",
	})
	syncCompletedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "activity_sync",
		Subsystem: "sync",
		Name:      "last_sync_completed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent historical sweep that completed.",
	})
	webhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries grouped by boundary result.",
	}, []string{"result"})
	eventsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "engine",
		Name:      "events_applied_total",
		Help:      "Events applied by the reconciliation engine grouped by kind and outcome.",
	}, []string{"kind", "outcome"})
	tokenRefreshes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "activity_sync",
		Subsystem: "tokens",
		Name:      "refresh_duration_seconds",
		Help:      "Time spent in credential refresh grouped by outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"outcome"})
	syncPages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "activity_sync",
		Subsystem: "sync",
		Name:      "pages_total",
		Help:      "Historical sync pages grouped by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(activityPersistGauge, syncCompletedGauge, webhookDeliveries, eventsApplied, tokenRefreshes, syncPages)
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityPersistGauge.Set(float64(ts.Unix()))
}

// RecordSyncCompleted updates the completed sweep watermark gauge.
func RecordSyncCompleted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	syncCompletedGauge.Set(float64(ts.Unix()))
}

// RecordWebhookDelivery counts one webhook delivery by its boundary result.
func RecordWebhookDelivery(result string) {
	webhookDeliveries.WithLabelValues(result).Inc()
}

// RecordEventApplied counts one engine application.
func RecordEventApplied(kind, outcome string) {
	eventsApplied.WithLabelValues(kind, outcome).Inc()
}

// RecordTokenRefresh observes one refresh attempt.
func RecordTokenRefresh(outcome string, d time.Duration) {
	tokenRefreshes.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordSyncPage counts one historical sync page.
func RecordSyncPage(result string) {
	syncPages.WithLabelValues(result).Inc()
}
