package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	EndpointLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "farecast",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of fare API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	EndpointErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "farecast",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by fare API endpoint and kind",
		},
		[]string{"endpoint", "kind"},
	)

	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "farecast",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the admin rate limiter",
		},
		[]string{"endpoint"},
	)
)

// Register adds the endpoint collectors to reg once per process.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(EndpointLatency, EndpointErrors, RateLimited)
	})
}

// ObserveSince records the latency of endpoint since start.
func ObserveSince(endpoint string, start time.Time) {
	EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
