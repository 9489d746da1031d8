// Package metrics holds the prometheus collectors of the seat monitor.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rzdbot"

// Check results.
const (
	CheckAvailable   = "available"
	CheckUnavailable = "unavailable"
	CheckFailed      = "failed"
)

// Notification outcomes.
const (
	NotificationSent       = "sent"
	NotificationFailed     = "failed"
	NotificationSuppressed = "suppressed"
)

var (
	checksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "checks_total",
			Help:      "Availability checks by result",
		},
		[]string{"result"},
	)

	checkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "check_duration_seconds",
			Help:      "Time spent in the availability source per check",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
	)

	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one monitoring cycle",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	cycleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "cycle_errors_total",
			Help:      "Monitoring cycles aborted before fan-out",
		},
	)

	activeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "active_subscriptions",
			Help:      "Active subscriptions seen by the last cycle",
		},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "total",
			Help:      "Seat notifications by outcome",
		},
		[]string{"status"},
	)

	cleanupRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "housekeeping",
			Name:      "rows_total",
			Help:      "Rows removed or deactivated by housekeeping",
		},
		[]string{"kind"},
	)
)

// RecordCheck records one availability check.
func RecordCheck(result string, duration time.Duration) {
	checksTotal.WithLabelValues(result).Inc()
	checkDuration.Observe(duration.Seconds())
}

// RecordCycle records a finished monitoring cycle.
func RecordCycle(subscriptions int, duration time.Duration) {
	activeSubscriptions.Set(float64(subscriptions))
	cycleDuration.Observe(duration.Seconds())
}

// RecordCycleError counts a cycle that failed before checking anything.
func RecordCycleError() {
	cycleErrors.Inc()
}

// RecordNotification records a notification outcome.
func RecordNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// RecordCleanup adds housekeeping counts.
func RecordCleanup(checkRecords, notifications, deactivated int64) {
	cleanupRows.WithLabelValues("check_history").Add(float64(checkRecords))
	cleanupRows.WithLabelValues("notifications").Add(float64(notifications))
	cleanupRows.WithLabelValues("deactivated_subscriptions").Add(float64(deactivated))
}
