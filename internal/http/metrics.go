package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/iapropria/iapropria/internal/logging"
)

const httpInstrumentationName = "github.com/iapropria/iapropria/internal/http"

// HTTPMetrics records request counts, latency and response sizes through
// the global OpenTelemetry meter provider.
type HTTPMetrics struct {
	meter    metric.Meter
	logger   *logging.Logger
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inflight metric.Int64UpDownCounter
}

// NewHTTPMetrics creates a new HTTPMetrics instance.
func NewHTTPMetrics(logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &HTTPMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	var err error
	warn := func(what string) {
		if err != nil {
			m.logger.Warn(context.Background(), "failed to create "+what, zap.Error(err))
		}
	}

	m.requests, err = m.meter.Int64Counter(
		"iapropria.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	warn("requests counter")

	m.latency, err = m.meter.Float64Histogram(
		"iapropria.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 30),
	)
	warn("duration histogram")

	m.size, err = m.meter.Int64Histogram(
		"iapropria.http.response_size_bytes",
		metric.WithDescription("HTTP response body size."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000),
	)
	warn("response size histogram")

	m.inflight, err = m.meter.Int64UpDownCounter(
		"iapropria.http.active_requests",
		metric.WithDescription("HTTP requests currently being served."),
		metric.WithUnit("{request}"),
	)
	warn("active requests gauge")
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// normalizePath returns the route pattern used as the endpoint label.
// Echo reports patterns such as /api/v1/documents/:id, so document ids
// never become label values.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
