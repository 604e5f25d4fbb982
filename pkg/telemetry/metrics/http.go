package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rpzk/throttleguard/pkg/config"
)

// HTTPMetrics tracks served requests and the guard's background pool.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	poolDropped     *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers the HTTP metrics.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HTTPMetrics {
	hm := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.RequestDurationBuckets,
			},
			[]string{"method", "route"},
		),
		poolDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "guard",
				Name:      "pool_dropped_total",
				Help:      "Background tasks dropped because the pool queue was full",
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(hm.requestsTotal, hm.requestDuration, hm.poolDropped)
	return hm
}

// RecordRequest records one served request.
func (hm *HTTPMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	hm.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	hm.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPoolDrop counts one dropped background task.
func (hm *HTTPMetrics) RecordPoolDrop(task string) {
	hm.poolDropped.WithLabelValues(task).Inc()
}
