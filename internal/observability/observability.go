// Package observability wires structured logging, Prometheus-scraped OTel
// metrics, and the diagnostics HTTP listener (/metrics, /healthz, /readyz)
// for the edge and cloud services. Metric export is pull-based by default;
// an OTLP gRPC endpoint can be configured for push-based collection.
package observability

import (
	"log/slog"
	"os"
)

// serviceAttr is the log attribute naming the emitting service.
const serviceAttr = "service"

// NewLogger builds the process-wide structured logger. Services log JSON
// lines; the verify command keeps human-readable text on stderr.
func NewLogger(level slog.Level, json bool, service string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler).With(serviceAttr, service)
}
