package commands

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/observability"
)

// telemetry bundles the diagnostics listener, the Prometheus-backed meter
// provider, and the optional OTLP push exporter.
type telemetry struct {
	provider    *observability.PrometheusProvider
	diagnostics *observability.DiagnosticsServer
	otlp        *observability.OTLPExporter
}

// setupTelemetry starts the diagnostics listener and, when configured, the
// OTLP exporters. checks gate the readiness endpoint.
func setupTelemetry(ctx context.Context, cfg *config.Config, log *slog.Logger, checks ...observability.ReadyCheck) (*telemetry, error) {
	provider, err := observability.NewPrometheusProvider()
	if err != nil {
		return nil, fmt.Errorf("create metrics provider: %w", err)
	}

	diagnostics, err := observability.NewDiagnosticsServer(cfg.Telemetry.Listen, provider.Handler(), log, checks...)
	if err != nil {
		return nil, fmt.Errorf("start diagnostics server: %w", err)
	}

	t := &telemetry{provider: provider, diagnostics: diagnostics}

	if cfg.Telemetry.OTLPEndpoint != "" {
		t.otlp, err = observability.NewOTLPExporter(ctx, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			_ = diagnostics.Close()

			return nil, fmt.Errorf("start otlp exporter: %w", err)
		}
	}

	log.InfoContext(ctx, "diagnostics listening", "addr", diagnostics.Addr())

	return t, nil
}

func (t *telemetry) meter(scope string) metric.Meter {
	return t.provider.Meter(scope)
}

func (t *telemetry) close(ctx context.Context, log *slog.Logger) {
	if t.otlp != nil {
		err := t.otlp.Shutdown(ctx)
		if err != nil {
			log.Warn("otlp shutdown failed", "error", err)
		}
	}

	err := t.diagnostics.Close()
	if err != nil {
		log.Warn("diagnostics shutdown failed", "error", err)
	}
}
