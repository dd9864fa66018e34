package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/observability"
	"github.com/sigillo-iot/sigillo/internal/store"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

// Store is the slice of the local store the workers poll.
type Store interface {
	SelectUnackedSensors(ctx context.Context, limit int) ([]models.Sensor, error)
	SelectSealedUnprocessed(ctx context.Context) (int64, bool, error)
	SelectReadyForDelivery(ctx context.Context, limit int) ([]store.Delivery, error)
	AckSensor(ctx context.Context, sensorID string) error
	AckBatch(ctx context.Context, batchID int64) error
}

// CloudWriter is the slice of the cloud client the forwarding workers use.
type CloudWriter interface {
	RegisterSensor(ctx context.Context, sensor models.Sensor) error
	DeliverBatch(ctx context.Context, batchID int64, payloadJSON string) error
}

// BatchProcessor runs the per-batch pipeline.
type BatchProcessor interface {
	Process(ctx context.Context, batchID int64) (bool, error)
}

// Deps carries everything the worker ticks close over.
type Deps struct {
	Store     Store
	Cloud     CloudWriter
	Processor BatchProcessor
	Metrics   *observability.PipelineMetrics
	Log       *slog.Logger
}

// Workers builds the three pipeline workers from cfg.
func Workers(cfg config.WorkersConfig, deps Deps) []Worker {
	return []Worker{
		{
			Name:     "sensor-forward",
			Interval: cfg.SensorInterval,
			Delay:    cfg.SensorDelay,
			Tick:     sensorForwardTick(deps, cfg.SensorLimit),
		},
		{
			Name:     "batch-process",
			Interval: cfg.ProcessInterval,
			Delay:    cfg.ProcessDelay,
			Tick:     batchProcessTick(deps),
		},
		{
			Name:     "batch-deliver",
			Interval: cfg.DeliverInterval,
			Delay:    cfg.DeliverDelay,
			Tick:     batchDeliverTick(deps, cfg.DeliverLimit),
		},
	}
}

// sensorForwardTick pushes unacked sensors to the cloud and flips their ack
// on confirmation. The first network failure ends the tick: a down cloud is
// down for the rest of the list too.
func sensorForwardTick(deps Deps, limit int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		sensors, err := deps.Store.SelectUnackedSensors(ctx, limit)
		if err != nil {
			return fmt.Errorf("select unacked sensors: %w", err)
		}

		for _, sensor := range sensors {
			err = registerOne(ctx, deps, sensor)
			if err != nil {
				deps.Log.WarnContext(ctx, "sensor forward failed, ending tick",
					"sensor", sensor.ID, "error", err)

				return nil
			}
		}

		return nil
	}
}

func registerOne(ctx context.Context, deps Deps, sensor models.Sensor) error {
	done := trackInflight(ctx, deps.Metrics, "register_sensor")
	defer done()

	err := deps.Cloud.RegisterSensor(ctx, sensor)
	if err != nil {
		return err
	}

	err = deps.Store.AckSensor(ctx, sensor.ID)
	if err != nil {
		return fmt.Errorf("ack sensor %s: %w", sensor.ID, err)
	}

	if deps.Metrics != nil {
		deps.Metrics.SensorAcked(ctx)
	}

	return nil
}

// batchProcessTick processes at most one sealed batch per tick. Pipeline
// errors already poisoned the batch inside Process; nothing to do here but
// wait for the next tick.
func batchProcessTick(deps Deps) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		batchID, ok, err := deps.Store.SelectSealedUnprocessed(ctx)
		if err != nil {
			return fmt.Errorf("select sealed batch: %w", err)
		}

		if !ok {
			return nil
		}

		processed, err := deps.Processor.Process(ctx, batchID)
		if err != nil {
			deps.Log.WarnContext(ctx, "batch processing failed", "batch", batchID, "error", err)

			return nil
		}

		if processed {
			deps.Log.InfoContext(ctx, "batch ready for delivery", "batch", batchID)
		}

		return nil
	}
}

// batchDeliverTick pushes processed batches whose sensors are all acked and
// flips the batch ack on confirmation. Sensor-gated ordering keeps the
// cloud's foreign keys intact.
func batchDeliverTick(deps Deps, limit int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		deliveries, err := deps.Store.SelectReadyForDelivery(ctx, limit)
		if err != nil {
			return fmt.Errorf("select deliverable batches: %w", err)
		}

		for _, delivery := range deliveries {
			err = deliverOne(ctx, deps, delivery)
			if err != nil {
				deps.Log.WarnContext(ctx, "batch delivery failed, ending tick",
					"batch", delivery.BatchID, "error", err)

				return nil
			}
		}

		return nil
	}
}

func deliverOne(ctx context.Context, deps Deps, delivery store.Delivery) error {
	done := trackInflight(ctx, deps.Metrics, "deliver_batch")
	defer done()

	start := time.Now()

	err := deps.Cloud.DeliverBatch(ctx, delivery.BatchID, delivery.PayloadJSON)
	if err != nil {
		return err
	}

	err = deps.Store.AckBatch(ctx, delivery.BatchID)
	if err != nil {
		return fmt.Errorf("ack batch %d: %w", delivery.BatchID, err)
	}

	if deps.Metrics != nil {
		deps.Metrics.BatchDelivered(ctx)
	}

	deps.Log.InfoContext(ctx, "batch delivered",
		"batch", delivery.BatchID,
		"duration", time.Since(start))

	return nil
}

func trackInflight(ctx context.Context, metrics *observability.PipelineMetrics, op string) func() {
	if metrics == nil {
		return func() {}
	}

	return metrics.TrackInflight(ctx, op)
}
