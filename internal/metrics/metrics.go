// Package metrics exposes the chat server's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OnlineSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "palmchat_online_sessions",
		Help: "Number of registered WebSocket sessions",
	})

	EventsBroadcast = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmchat_events_broadcast_total",
			Help: "Events fanned out by the hub, by event type",
		},
		[]string{"type"},
	)

	SlowConsumerEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "palmchat_slow_consumer_evictions_total",
		Help: "Sessions disconnected because their outbound queue was full",
	})

	SendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palmchat_send_failures_total",
			Help: "Rejected sendMessage requests, by reason",
		},
		[]string{"reason"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "palmchat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(OnlineSessions)
	prometheus.MustRegister(EventsBroadcast)
	prometheus.MustRegister(SlowConsumerEvictions)
	prometheus.MustRegister(SendFailures)
	prometheus.MustRegister(httpRequestDuration)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request durations labelled by the matched chi route
// pattern, so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
