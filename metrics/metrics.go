// Package metrics exposes Prometheus instruments for the social feed.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	interactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialfeed_interactions_total",
		Help: "Social actions applied, by action.",
	}, []string{"action"})

	notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialfeed_notifications_created_total",
		Help: "Notifications written, by type.",
	}, []string{"type"})

	notificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialfeed_notifications_failed_total",
		Help: "Actions applied whose notification could not be written, by type.",
	}, []string{"type"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "socialfeed_conflict_retries_total",
		Help: "Store operations that lost a race and were retried, by operation.",
	}, []string{"op"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "socialfeed_http_request_duration_seconds",
		Help:    "HTTP request latency, by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// InteractionApplied counts an applied action such as "like" or "unfollow".
func InteractionApplied(action string) {
	interactions.WithLabelValues(action).Inc()
}

// NotificationCreated counts a written notification.
func NotificationCreated(kind string) {
	notificationsCreated.WithLabelValues(kind).Inc()
}

// NotificationFailed counts a notification that could not be written.
func NotificationFailed(kind string) {
	notificationsFailed.WithLabelValues(kind).Inc()
}

// ConflictRetried counts a conflicting write of op.
func ConflictRetried(op string) {
	conflictRetries.WithLabelValues(op).Inc()
}

// ObserveRequest records the latency of a served HTTP request.
func ObserveRequest(method, route string, status int, d time.Duration) {
	requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
