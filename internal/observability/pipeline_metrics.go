package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricMeasurementsIngested = "sigillo.measurements.ingested"
	metricBatchesSealed        = "sigillo.batches.sealed"
	metricBatchesProcessed     = "sigillo.batches.processed"
	metricBatchesDelivered     = "sigillo.batches.delivered"
	metricSensorsAcked         = "sigillo.sensors.acked"
	metricPipelineErrors       = "sigillo.pipeline.errors"
	metricProcessDuration      = "sigillo.process.duration.seconds"
	metricInflightRequests     = "sigillo.inflight.requests"

	attrKind = "kind"
	attrOp   = "op"
)

// processBucketBoundaries covers 10ms in-memory tree builds up to 60s
// object-store round trips.
var processBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// PipelineMetrics holds the OTel instruments of the batching pipeline:
// ingestion, sealing, processing, delivery, and the persisted error kinds.
type PipelineMetrics struct {
	measurementsIngested metric.Int64Counter
	batchesSealed        metric.Int64Counter
	batchesProcessed     metric.Int64Counter
	batchesDelivered     metric.Int64Counter
	sensorsAcked         metric.Int64Counter
	pipelineErrors       metric.Int64Counter
	processDuration      metric.Float64Histogram
	inflightRequests     metric.Int64UpDownCounter
}

// NewPipelineMetrics creates the pipeline instruments on the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		measurementsIngested: b.counter(metricMeasurementsIngested, "Measurements accepted at ingress", "{measurement}"),
		batchesSealed:        b.counter(metricBatchesSealed, "Batches sealed at the threshold", "{batch}"),
		batchesProcessed:     b.counter(metricBatchesProcessed, "Batches with recorded Merkle artifacts", "{batch}"),
		batchesDelivered:     b.counter(metricBatchesDelivered, "Batches acknowledged by the cloud", "{batch}"),
		sensorsAcked:         b.counter(metricSensorsAcked, "Sensors acknowledged by the cloud", "{sensor}"),
		pipelineErrors:       b.counter(metricPipelineErrors, "Pipeline errors by persisted kind", "{error}"),
		processDuration:      b.histogram(metricProcessDuration, "Batch processing duration in seconds", "s", processBucketBoundaries...),
		inflightRequests:     b.upDownCounter(metricInflightRequests, "In-flight outbound requests", "{request}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// MeasurementIngested counts one accepted measurement.
func (pm *PipelineMetrics) MeasurementIngested(ctx context.Context) {
	pm.measurementsIngested.Add(ctx, 1)
}

// BatchSealed counts one batch reaching the threshold.
func (pm *PipelineMetrics) BatchSealed(ctx context.Context) {
	pm.batchesSealed.Add(ctx, 1)
}

// BatchProcessed counts one batch whose artifacts were recorded and records
// the end-to-end processing duration.
func (pm *PipelineMetrics) BatchProcessed(ctx context.Context, duration time.Duration) {
	pm.batchesProcessed.Add(ctx, 1)
	pm.processDuration.Record(ctx, duration.Seconds())
}

// BatchDelivered counts one batch acknowledged by the cloud.
func (pm *PipelineMetrics) BatchDelivered(ctx context.Context) {
	pm.batchesDelivered.Add(ctx, 1)
}

// SensorAcked counts one sensor acknowledged by the cloud.
func (pm *PipelineMetrics) SensorAcked(ctx context.Context) {
	pm.sensorsAcked.Add(ctx, 1)
}

// PipelineError counts one pipeline error under its persisted kind.
func (pm *PipelineMetrics) PipelineError(ctx context.Context, kind string) {
	pm.pipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// TrackInflight increments the in-flight gauge for op and returns the
// matching decrement.
func (pm *PipelineMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	pm.inflightRequests.Add(ctx, 1, attrs)

	return func() {
		pm.inflightRequests.Add(ctx, -1, attrs)
	}
}
