package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "recallbox",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "recallbox",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	wsSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "recallbox",
		Subsystem: "ws",
		Name:      "subscribers",
		Help:      "Connected WebSocket subscribers.",
	})

	wsEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recallbox",
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Change events broadcast to WebSocket subscribers.",
	})

	wsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "recallbox",
		Subsystem: "ws",
		Name:      "dropped_subscribers_total",
		Help:      "Subscribers dropped for exceeding their send queue.",
	})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counts and latency per chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routePattern(r)
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
