package observability

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricHTTPRequests = "sigillo.http.requests"
	metricHTTPDuration = "sigillo.http.request.duration.seconds"

	attrRoute  = "route"
	attrMethod = "method"
	attrStatus = "status"
)

// httpBucketBoundaries covers the latency range of both HTTP surfaces.
var httpBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// HTTPMetrics records request counts and durations per route for the
// ingress and cloud routers.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewHTTPMetrics creates the HTTP instruments on the given meter.
func NewHTTPMetrics(mt metric.Meter) (*HTTPMetrics, error) {
	b := newMetricBuilder(mt)

	hm := &HTTPMetrics{
		requests: b.counter(metricHTTPRequests, "HTTP requests served", "{request}"),
		duration: b.histogram(metricHTTPDuration, "HTTP request duration in seconds", "s", httpBucketBoundaries...),
	}

	if b.err != nil {
		return nil, b.err
	}

	return hm, nil
}

// Middleware wraps next, recording method, path, status, and duration of
// every request. A nil receiver disables recording, so routers can wire the
// middleware unconditionally.
func (hm *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if hm == nil {
		return next
	}

	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: rw}

		next.ServeHTTP(sw, hr)

		attrs := metric.WithAttributes(
			attribute.String(attrRoute, hr.URL.Path),
			attribute.String(attrMethod, hr.Method),
			attribute.Int(attrStatus, sw.status()),
		)

		hm.requests.Add(hr.Context(), 1, attrs)
		hm.duration.Record(hr.Context(), time.Since(start).Seconds(), attrs)
	})
}

// statusWriter wraps [http.ResponseWriter] to capture the status code.
type statusWriter struct {
	http.ResponseWriter

	statusCode int
	written    bool
}

// WriteHeader captures the status code before delegating.
func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}

	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(buf []byte) (int, error) {
	if !sw.written {
		sw.statusCode = http.StatusOK
		sw.written = true
	}

	n, err := sw.ResponseWriter.Write(buf)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}

	return n, nil
}

func (sw *statusWriter) status() int {
	if !sw.written {
		return http.StatusOK
	}

	return sw.statusCode
}
