// Package store is the fog producer's durable local state: sensors,
// batches, and measurements, with the batch lifecycle flags the pipeline
// workers poll. Every mutation runs in its own transaction; workers never
// hold one across a network call. The store is the only ground truth for
// batches not yet acknowledged by the cloud.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/sigillo-iot/sigillo/internal/payload"
	"github.com/sigillo-iot/sigillo/pkg/canonjson"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUnknownSensor is returned when a measurement references a sensor that
// was never registered.
var ErrUnknownSensor = errors.New("store: unknown sensor")

// Store wraps the local sqlite database.
type Store struct {
	db        *sqlx.DB
	threshold int
}

// InsertResult reports the outcome of one measurement insert. SealedBatchID
// is non-nil when this insert made the batch reach the threshold.
type InsertResult struct {
	MeasurementID int64
	BatchID       int64
	Timestamp     string
	SealedBatchID *int64
}

// Delivery is one batch ready to be pushed to the cloud.
type Delivery struct {
	BatchID     int64  `db:"batch_id"`
	PayloadJSON string `db:"payload_json"`
}

// BatchRow mirrors one row of the batches table.
type BatchRow struct {
	BatchID      int64          `db:"batch_id"`
	CreatedAt    string         `db:"created_at"`
	Count        int64          `db:"measurement_count"`
	Complete     bool           `db:"complete"`
	Ack          bool           `db:"ack"`
	Elaborable   bool           `db:"elaborable"`
	MerkleRoot   sql.NullString `db:"merkle_root"`
	PathCID      sql.NullString `db:"path_cid"`
	PayloadJSON  sql.NullString `db:"payload_json"`
	ErrorKind    sql.NullString `db:"error_kind"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// Open opens (creating if needed) the sqlite database at path and applies
// pending migrations. threshold is the measurement count at which a batch
// seals; callers validate it before opening.
func Open(ctx context.Context, path string, threshold int) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	// A single connection serializes writers; sqlite has one writer anyway.
	db.SetMaxOpenConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("store: ping: %w", err)
	}

	err = migrate(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Store{db: db, threshold: threshold}, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db.DB, sub)
	if err != nil {
		return fmt.Errorf("store: migration provider: %w", err)
	}

	_, err = provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}

	return nil
}

// Close closes the database. The scheduler must be stopped first.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}

	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}

	return nil
}

// UpsertSensor inserts a sensor, ignoring duplicates by id.
func (s *Store) UpsertSensor(ctx context.Context, sensor models.Sensor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sensors (sensor_id, description, kind) VALUES (?, ?, ?)`,
		sensor.ID, sensor.Description, sensor.Kind)
	if err != nil {
		return fmt.Errorf("store: upsert sensor %s: %w", sensor.ID, err)
	}

	return nil
}

// InsertMeasurement appends one measurement to the open batch, creating the
// batch if none is open and sealing it when the threshold is reached.
// Sensor check, batch selection, insert, count bump, and seal are one
// transaction.
func (s *Store) InsertMeasurement(ctx context.Context, sensorID string, data map[string]any) (InsertResult, error) {
	dataJSON, err := canonjson.Marshal(data)
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: measurement data: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool

	err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM sensors WHERE sensor_id = ?)`, sensorID)
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: sensor lookup: %w", err)
	}

	if !exists {
		return InsertResult{}, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}

	batchID, count, err := openBatch(ctx, tx)
	if err != nil {
		return InsertResult{}, err
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO measurements (batch_id, sensor_id, timestamp, data) VALUES (?, ?, ?, ?)`,
		batchID, sensorID, timestamp, string(dataJSON))
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: insert measurement: %w", err)
	}

	measurementID, err := res.LastInsertId()
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: measurement id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE batches SET measurement_count = measurement_count + 1 WHERE batch_id = ?`, batchID)
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: bump count: %w", err)
	}

	result := InsertResult{MeasurementID: measurementID, BatchID: batchID, Timestamp: timestamp}

	if count+1 >= int64(s.threshold) {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET complete = 1 WHERE batch_id = ?`, batchID)
		if err != nil {
			return InsertResult{}, fmt.Errorf("store: seal batch: %w", err)
		}

		sealed := batchID
		result.SealedBatchID = &sealed
	}

	err = tx.Commit()
	if err != nil {
		return InsertResult{}, fmt.Errorf("store: commit: %w", err)
	}

	return result, nil
}

// openBatch returns the current open batch, creating one when none exists.
func openBatch(ctx context.Context, tx *sqlx.Tx) (int64, int64, error) {
	var row struct {
		BatchID int64 `db:"batch_id"`
		Count   int64 `db:"measurement_count"`
	}

	err := tx.GetContext(ctx, &row,
		`SELECT batch_id, measurement_count FROM batches
		 WHERE complete = 0 ORDER BY batch_id DESC LIMIT 1`)
	if err == nil {
		return row.BatchID, row.Count, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("store: open batch lookup: %w", err)
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO batches (created_at) VALUES (?)`, createdAt)
	if err != nil {
		return 0, 0, fmt.Errorf("store: create batch: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("store: batch id: %w", err)
	}

	return id, 0, nil
}

// SelectSealedUnprocessed returns the smallest sealed batch id still
// missing its artifacts, or ok=false when none is pending.
func (s *Store) SelectSealedUnprocessed(ctx context.Context) (int64, bool, error) {
	var id int64

	err := s.db.GetContext(ctx, &id,
		`SELECT batch_id FROM batches
		 WHERE complete = 1 AND ack = 0 AND elaborable = 1
		   AND (merkle_root IS NULL OR payload_json IS NULL)
		 ORDER BY batch_id ASC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("store: select sealed: %w", err)
	}

	return id, true, nil
}

// SelectReadyForDelivery returns up to limit processed batches whose
// referenced sensors have all been acknowledged by the cloud, oldest first.
// The sensor gate preserves referential integrity cloud-side.
func (s *Store) SelectReadyForDelivery(ctx context.Context, limit int) ([]Delivery, error) {
	var out []Delivery

	err := s.db.SelectContext(ctx, &out,
		`SELECT b.batch_id, b.payload_json FROM batches b
		 WHERE b.payload_json IS NOT NULL AND b.complete = 1 AND b.ack = 0 AND b.elaborable = 1
		   AND NOT EXISTS (
		     SELECT 1 FROM measurements m
		     JOIN sensors sn ON sn.sensor_id = m.sensor_id
		     WHERE m.batch_id = b.batch_id AND sn.ack = 0
		   )
		 ORDER BY b.batch_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select deliverable: %w", err)
	}

	return out, nil
}

// SelectUnackedSensors returns up to limit sensors not yet confirmed by the
// cloud.
func (s *Store) SelectUnackedSensors(ctx context.Context, limit int) ([]models.Sensor, error) {
	var rows []struct {
		ID          string `db:"sensor_id"`
		Description string `db:"description"`
		Kind        string `db:"kind"`
	}

	err := s.db.SelectContext(ctx, &rows,
		`SELECT sensor_id, description, kind FROM sensors WHERE ack = 0 ORDER BY sensor_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select unacked sensors: %w", err)
	}

	sensors := make([]models.Sensor, 0, len(rows))
	for _, r := range rows {
		sensors = append(sensors, models.Sensor{ID: r.ID, Description: r.Description, Kind: r.Kind})
	}

	return sensors, nil
}

// SelectBatchRows returns the (batch ⨝ measurement) rows for batchID in
// ascending measurement id order, the exact input of the payload builder.
func (s *Store) SelectBatchRows(ctx context.Context, batchID int64) ([]payload.Row, error) {
	var rows []struct {
		BatchID        int64  `db:"batch_id"`
		BatchCreatedAt string `db:"created_at"`
		BatchCount     int64  `db:"measurement_count"`
		MeasurementID  int64  `db:"measurement_id"`
		SensorID       string `db:"sensor_id"`
		Timestamp      string `db:"timestamp"`
		Data           string `db:"data"`
	}

	err := s.db.SelectContext(ctx, &rows,
		`SELECT b.batch_id, b.created_at, b.measurement_count,
		        m.measurement_id, m.sensor_id, m.timestamp, m.data
		 FROM batches b JOIN measurements m ON m.batch_id = b.batch_id
		 WHERE b.batch_id = ?
		 ORDER BY m.measurement_id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("store: select batch rows: %w", err)
	}

	out := make([]payload.Row, 0, len(rows))

	for _, r := range rows {
		data, err := models.DecodeData([]byte(r.Data))
		if err != nil {
			return nil, fmt.Errorf("store: measurement %d data: %w", r.MeasurementID, err)
		}

		out = append(out, payload.Row{
			BatchID:        r.BatchID,
			BatchCreatedAt: r.BatchCreatedAt,
			BatchCount:     r.BatchCount,
			MeasurementID:  r.MeasurementID,
			SensorID:       r.SensorID,
			Timestamp:      r.Timestamp,
			Data:           data,
		})
	}

	return out, nil
}

// RecordBatchArtifacts writes root, cid, and the payload document in one
// update, the commit point of the processing pipeline.
func (s *Store) RecordBatchArtifacts(ctx context.Context, batchID int64, root, cid, payloadJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET merkle_root = ?, path_cid = ?, payload_json = ? WHERE batch_id = ?`,
		root, cid, payloadJSON, batchID)
	if err != nil {
		return fmt.Errorf("store: record artifacts for batch %d: %w", batchID, err)
	}

	return nil
}

// MarkBatchError poisons a batch: elaborable flips to false and the error
// kind and message are recorded. No worker selects the batch afterwards.
func (s *Store) MarkBatchError(ctx context.Context, batchID int64, kind, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET elaborable = 0, error_kind = ?, error_message = ? WHERE batch_id = ?`,
		kind, msg, batchID)
	if err != nil {
		return fmt.Errorf("store: mark batch %d error: %w", batchID, err)
	}

	return nil
}

// AckSensor flips a sensor's ack to true. The flip is monotonic.
func (s *Store) AckSensor(ctx context.Context, sensorID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sensors SET ack = 1 WHERE sensor_id = ?`, sensorID)
	if err != nil {
		return fmt.Errorf("store: ack sensor %s: %w", sensorID, err)
	}

	return nil
}

// AckBatch flips a batch's ack to true. The flip is monotonic.
func (s *Store) AckBatch(ctx context.Context, batchID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET ack = 1 WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("store: ack batch %d: %w", batchID, err)
	}

	return nil
}

// Batch returns the full batch row.
func (s *Store) Batch(ctx context.Context, batchID int64) (BatchRow, error) {
	var row BatchRow

	err := s.db.GetContext(ctx, &row,
		`SELECT batch_id, created_at, measurement_count, complete, ack, elaborable,
		        merkle_root, path_cid, payload_json, error_kind, error_message
		 FROM batches WHERE batch_id = ?`, batchID)
	if err != nil {
		return BatchRow{}, fmt.Errorf("store: batch %d: %w", batchID, err)
	}

	return row, nil
}

// SensorRow is one sensor with its cloud acknowledgment flag.
type SensorRow struct {
	Sensor models.Sensor
	Ack    bool
}

// Sensor returns one sensor row; found is false when the id is unknown.
func (s *Store) Sensor(ctx context.Context, sensorID string) (SensorRow, bool, error) {
	var row struct {
		ID          string `db:"sensor_id"`
		Description string `db:"description"`
		Kind        string `db:"kind"`
		Ack         bool   `db:"ack"`
	}

	err := s.db.GetContext(ctx, &row,
		`SELECT sensor_id, description, kind, ack FROM sensors WHERE sensor_id = ?`, sensorID)
	if errors.Is(err, sql.ErrNoRows) {
		return SensorRow{}, false, nil
	}

	if err != nil {
		return SensorRow{}, false, fmt.Errorf("store: sensor %s: %w", sensorID, err)
	}

	sensor := models.Sensor{ID: row.ID, Description: row.Description, Kind: row.Kind}

	return SensorRow{Sensor: sensor, Ack: row.Ack}, true, nil
}
