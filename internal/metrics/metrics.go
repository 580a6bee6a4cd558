package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	emailsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_emails_scheduled_total",
			Help: "Emails moved to scheduled, by email type",
		},
		[]string{"type"},
	)

	emailsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_emails_dispatched_total",
			Help: "Dispatch outcomes per email: sent, failed, skipped, deferred",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outreach_send_duration_seconds",
			Help:    "Mail transport call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"transport"},
	)

	dispatchPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_dispatch_passes_total",
			Help: "Dispatch passes by result: completed, error, lock_held",
		},
		[]string{"result"},
	)

	dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outreach_dispatch_duration_seconds",
			Help:    "Wall time of one dispatch pass",
			Buckets: prometheus.ExponentialBuckets(.01, 4, 8),
		},
	)

	circuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outreach_circuit_state",
			Help: "Transport circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"transport"},
	)

	engagementEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_engagement_events_total",
			Help: "Engagement events by event and source",
		},
		[]string{"event", "source"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outreach_sqs_messages_in_flight",
			Help: "Engagement messages currently being processed",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_rate_limit_rejections_total",
			Help: "API requests rejected by the rate limiter",
		},
	)

	snapshotsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_analytics_snapshots_total",
			Help: "Daily analytics snapshots written",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordScheduled(emailType string, n int) {
	emailsScheduled.WithLabelValues(emailType).Add(float64(n))
}

// RecordDispatchOutcome counts one email's dispatch outcome.
func RecordDispatchOutcome(outcome string) {
	emailsDispatched.WithLabelValues(outcome).Inc()
}

func RecordSendDuration(transport string, d time.Duration) {
	sendDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// RecordDispatchPass records a finished (or skipped) dispatch pass.
func RecordDispatchPass(result string, d time.Duration) {
	dispatchPasses.WithLabelValues(result).Inc()
	if d > 0 {
		dispatchDuration.Observe(d.Seconds())
	}
}

func SetCircuitState(transport string, state int) {
	circuitState.WithLabelValues(transport).Set(float64(state))
}

func RecordEngagement(event, source string) {
	engagementEvents.WithLabelValues(event, source).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

func RecordSnapshots(n int) {
	snapshotsWritten.Add(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the connection.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request metrics labelled by the matched chi route, so
// ids in the path do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
