package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusProvider couples an OTel MeterProvider with the HTTP handler
// scraping its accumulated metrics. Each call builds an independent
// Prometheus registry, so tests can run providers side by side.
type PrometheusProvider struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewPrometheusProvider builds the registry, the exporter reading from it,
// and the MeterProvider feeding the exporter.
func NewPrometheusProvider() (*PrometheusProvider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return &PrometheusProvider{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, nil
}

// Meter returns a meter for the given instrumentation scope.
func (p *PrometheusProvider) Meter(name string) metric.Meter {
	return p.provider.Meter(name)
}

// Handler returns the /metrics scrape handler.
func (p *PrometheusProvider) Handler() http.Handler {
	return p.handler
}
