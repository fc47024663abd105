package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// unmeasured paths are served but never observed.
var unmeasured = map[string]bool{"/metrics": true, "/healthz": true}

// PrometheusMiddleware records per-route request counts, latency and in-flight requests.
type PrometheusMiddleware struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewPrometheusMiddleware registers the HTTP collectors with reg. Registering twice on
// the same registry fails.
func NewPrometheusMiddleware(reg prometheus.Registerer) (*PrometheusMiddleware, error) {
	m := &PrometheusMiddleware{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
	}
	for _, col := range []prometheus.Collector{m.requests, m.latency, m.inFlight} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns the fiber middleware.
func (m *PrometheusMiddleware) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if unmeasured[c.Path()] {
			return c.Next()
		}

		m.inFlight.Inc()
		defer m.inFlight.Dec()
		start := time.Now()

		err := c.Next()

		// the matched pattern keeps record ids out of the label set; unmatched
		// requests still sit on the "/" Use route
		route := c.Route().Path
		if route == "" || (route == "/" && c.Path() != "/") {
			route = c.Path()
		}
		method := c.Method()
		m.requests.WithLabelValues(method, route, strconv.Itoa(responseStatus(c, err))).Inc()
		m.latency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
