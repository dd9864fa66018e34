// Package cloudstore is the cloud service's relational persistence: the
// sensors, batch metadata, and measurements the producer delivers. Writes
// are insert-or-ignore by primary key, so the producer's at-least-once
// delivery degrades to exactly-once rows.
package cloudstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/sigillo-iot/sigillo/internal/payload"
	"github.com/sigillo-iot/sigillo/pkg/canonjson"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by the metadata lookups when no row matches.
var ErrNotFound = errors.New("cloudstore: not found")

// Store wraps the cloud Postgres database.
type Store struct {
	db *sqlx.DB
}

// Open connects to databaseURL and applies pending migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("cloudstore: open: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("cloudstore: ping: %w", err)
	}

	err = migrate(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("cloudstore: migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectPostgres, db.DB, sub)
	if err != nil {
		return fmt.Errorf("cloudstore: migration provider: %w", err)
	}

	_, err = provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("cloudstore: migrate: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("cloudstore: close: %w", err)
	}

	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("cloudstore: ping: %w", err)
	}

	return nil
}

// InsertSensor persists a sensor, ignoring duplicates by id.
func (s *Store) InsertSensor(ctx context.Context, sensor models.Sensor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensore (id_sensore, descrizione, tipo) VALUES ($1, $2, $3)
		 ON CONFLICT (id_sensore) DO NOTHING`,
		sensor.ID, sensor.Description, sensor.Kind)
	if err != nil {
		return fmt.Errorf("cloudstore: insert sensor %s: %w", sensor.ID, err)
	}

	return nil
}

// InsertPayload persists a delivered batch: the metadata row first, then
// every measurement, in one transaction. Re-delivery of the same payload is
// a no-op row-wise.
func (s *Store) InsertPayload(ctx context.Context, p models.Payload) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cloudstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batch (id_batch, timestamp_creazione, numero_misurazioni) VALUES ($1, $2, $3)
		 ON CONFLICT (id_batch) DO NOTHING`,
		p.Batch.ID, p.Batch.CreatedAt, p.Batch.Count)
	if err != nil {
		return fmt.Errorf("cloudstore: insert batch %d: %w", p.Batch.ID, err)
	}

	for _, m := range p.Measurements {
		dataJSON, err := canonjson.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("cloudstore: measurement %d data: %w", m.ID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO misurazione (id_misurazione, id_batch, id_sensore, timestamp, dati)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id_batch, id_misurazione) DO NOTHING`,
			m.ID, p.Batch.ID, m.SensorID, m.Timestamp, string(dataJSON))
		if err != nil {
			return fmt.Errorf("cloudstore: insert measurement %d: %w", m.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("cloudstore: commit: %w", err)
	}

	return nil
}

// BatchRows returns the (batch ⨝ measurement) rows for batchID in ascending
// measurement id order, feeding the same payload assembly the producer ran.
func (s *Store) BatchRows(ctx context.Context, batchID int64) ([]payload.Row, error) {
	var rows []struct {
		BatchID        int64  `db:"id_batch"`
		BatchCreatedAt string `db:"timestamp_creazione"`
		BatchCount     int64  `db:"numero_misurazioni"`
		MeasurementID  int64  `db:"id_misurazione"`
		SensorID       string `db:"id_sensore"`
		Timestamp      string `db:"timestamp"`
		Data           string `db:"dati"`
	}

	err := s.db.SelectContext(ctx, &rows,
		`SELECT b.id_batch, b.timestamp_creazione, b.numero_misurazioni,
		        m.id_misurazione, m.id_sensore, m.timestamp, m.dati
		 FROM batch b JOIN misurazione m ON m.id_batch = b.id_batch
		 WHERE b.id_batch = $1
		 ORDER BY m.id_misurazione ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("cloudstore: batch rows %d: %w", batchID, err)
	}

	out := make([]payload.Row, 0, len(rows))

	for _, r := range rows {
		data, err := models.DecodeData([]byte(r.Data))
		if err != nil {
			return nil, fmt.Errorf("cloudstore: measurement %d data: %w", r.MeasurementID, err)
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

// BatchMeta returns the stored metadata of one batch.
func (s *Store) BatchMeta(ctx context.Context, batchID int64) (models.BatchMeta, error) {
	var row struct {
		ID        int64  `db:"id_batch"`
		CreatedAt string `db:"timestamp_creazione"`
		Count     int64  `db:"numero_misurazioni"`
	}

	err := s.db.GetContext(ctx, &row,
		`SELECT id_batch, timestamp_creazione, numero_misurazioni FROM batch WHERE id_batch = $1`, batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.BatchMeta{}, fmt.Errorf("%w: batch %d", ErrNotFound, batchID)
	}

	if err != nil {
		return models.BatchMeta{}, fmt.Errorf("cloudstore: batch %d: %w", batchID, err)
	}

	return models.BatchMeta{ID: row.ID, CreatedAt: row.CreatedAt, Count: row.Count}, nil
}

// Measurement returns one stored measurement row by id.
func (s *Store) Measurement(ctx context.Context, measurementID int64) (models.Measurement, error) {
	var row struct {
		ID        int64  `db:"id_misurazione"`
		SensorID  string `db:"id_sensore"`
		Timestamp string `db:"timestamp"`
		Data      string `db:"dati"`
	}

	err := s.db.GetContext(ctx, &row,
		`SELECT id_misurazione, id_sensore, timestamp, dati FROM misurazione
		 WHERE id_misurazione = $1`, measurementID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Measurement{}, fmt.Errorf("%w: measurement %d", ErrNotFound, measurementID)
	}

	if err != nil {
		return models.Measurement{}, fmt.Errorf("cloudstore: measurement %d: %w", measurementID, err)
	}

	data, err := models.DecodeData([]byte(row.Data))
	if err != nil {
		return models.Measurement{}, fmt.Errorf("cloudstore: measurement %d data: %w", measurementID, err)
	}

	return models.Measurement{
		ID:        row.ID,
		SensorID:  row.SensorID,
		Timestamp: row.Timestamp,
		Data:      data,
	}, nil
}
