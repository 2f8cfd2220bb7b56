// Package metrics exposes prometheus collectors for the automation engine and
// its REST surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_actions_total",
			Help: "Action attempts recorded in the action log, by final status",
		},
		[]string{"status"},
	)

	actionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_action_duration_seconds",
			Help:    "Action handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module"},
	)

	approvalsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_approvals_resolved_total",
			Help: "Approval items that left pending, by resulting status",
		},
		[]string{"status"},
	)

	ruleFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_rule_fires_total",
			Help: "Rule fires, by trigger type",
		},
		[]string{"trigger"},
	)

	engineTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autopilot_engine_tick_duration_seconds",
			Help:    "Duration of one rule engine evaluation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autopilot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autopilot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordAction counts a finished action attempt. Zero durations are not observed.
func RecordAction(moduleID, status string, d time.Duration) {
	actionsTotal.WithLabelValues(status).Inc()
	if d > 0 {
		actionDuration.WithLabelValues(moduleID).Observe(d.Seconds())
	}
}

// RecordApprovalResolved counts a reviewed approval item.
func RecordApprovalResolved(status string) {
	approvalsResolvedTotal.WithLabelValues(status).Inc()
}

// RecordRuleFire counts a rule fire.
func RecordRuleFire(trigger string) {
	ruleFiresTotal.WithLabelValues(trigger).Inc()
}

// ObserveTick records the duration of an engine cycle.
func ObserveTick(d time.Duration) {
	engineTickDuration.Observe(d.Seconds())
}

// RecordHTTPRequest records an HTTP request. endpoint should be the route template,
// not the raw path, to keep label cardinality bounded.
func RecordHTTPRequest(method, endpoint string, statusCode int, d time.Duration) {
	status := "unknown"
	switch {
	case statusCode >= 500:
		status = "5xx"
	case statusCode >= 400:
		status = "4xx"
	case statusCode >= 300:
		status = "3xx"
	case statusCode >= 200:
		status = "2xx"
	}

	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
