// Package cloudapi is the cloud ingest service's HTTP surface: sensor and
// batch writes from the producer, and the read-back endpoints the verifier
// uses. Every endpoint sits behind an API key resolving to a role; writes
// answer with an explicit conferma_ricezione the producer keys its ack on.
package cloudapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sigillo-iot/sigillo/internal/cloudstore"
	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/observability"
	"github.com/sigillo-iot/sigillo/internal/payload"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

// maxBodyBytes bounds request bodies; a full batch payload stays well under
// this with the default threshold.
const maxBodyBytes = 8 << 20

// Store is the slice of the cloud store the API uses.
type Store interface {
	InsertSensor(ctx context.Context, sensor models.Sensor) error
	InsertPayload(ctx context.Context, p models.Payload) error
	BatchRows(ctx context.Context, batchID int64) ([]payload.Row, error)
	BatchMeta(ctx context.Context, batchID int64) (models.BatchMeta, error)
	Measurement(ctx context.Context, measurementID int64) (models.Measurement, error)
}

// Server handles the cloud endpoints.
type Server struct {
	store   Store
	apiKeys map[string]config.APIUser
	httpMet *observability.HTTPMetrics
	log     *slog.Logger
}

// New builds the cloud API server.
func New(st Store, apiKeys map[string]config.APIUser, httpMet *observability.HTTPMetrics, log *slog.Logger) *Server {
	return &Server{store: st, apiKeys: apiKeys, httpMet: httpMet, log: log}
}

// Router builds the chi router for the cloud surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.httpMet.Middleware)
	r.Use(s.authenticate)

	r.Group(func(r chi.Router) {
		r.Use(s.requireProducer)

		r.Post("/sensori", s.handleSensor)
		r.Post("/batch", s.handleBatch)
	})

	r.Get("/batch/mappa-id-hash", s.handleIDHashMap)
	r.Get("/metadata/misurazione/{id}", s.handleMeasurementMeta)
	r.Get("/metadata/batch/{id}", s.handleBatchMeta)

	return r
}

// handleSensor persists one forwarded sensor registration.
func (s *Server) handleSensor(rw http.ResponseWriter, hr *http.Request) {
	var sensor models.Sensor

	err := decodeBody(hr, &sensor)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusBadRequest, err)

		return
	}

	err = sensor.Normalize()
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusUnprocessableEntity, err)

		return
	}

	err = s.store.InsertSensor(hr.Context(), sensor)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusInternalServerError, err)

		return
	}

	s.log.InfoContext(hr.Context(), "sensor persisted", "sensor", sensor.ID)

	writeJSON(rw, http.StatusOK, map[string]any{
		"conferma_ricezione": true,
		"id_sensore":         sensor.ID,
		"messaggio":          "sensore registrato",
	})
}

// handleBatch persists one delivered payload: batch row then measurements,
// insert-or-ignore throughout, so re-deliveries confirm without new rows.
func (s *Server) handleBatch(rw http.ResponseWriter, hr *http.Request) {
	body, err := io.ReadAll(io.LimitReader(hr.Body, maxBodyBytes))
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusBadRequest, err)

		return
	}

	p, err := models.DecodePayload(body)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusBadRequest, err)

		return
	}

	err = s.store.InsertPayload(hr.Context(), p)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusInternalServerError, err)

		return
	}

	s.log.InfoContext(hr.Context(), "batch persisted",
		"batch", p.Batch.ID,
		"measurements", len(p.Measurements))

	writeJSON(rw, http.StatusOK, map[string]any{
		"conferma_ricezione": true,
		"id_batch":           p.Batch.ID,
		"messaggio":          "batch registrato",
	})
}

// handleIDHashMap recomputes the ordered id→hash map from the stored rows.
// Digests are recomputed, not stored: a tampered row yields a digest that no
// longer matches its anchored path, which is what the verifier detects.
func (s *Server) handleIDHashMap(rw http.ResponseWriter, hr *http.Request) {
	batchID, err := strconv.ParseInt(hr.URL.Query().Get("id"), 10, 64)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusBadRequest, err)

		return
	}

	rows, err := s.store.BatchRows(hr.Context(), batchID)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusInternalServerError, err)

		return
	}

	built, err := payload.Build(rows)
	if err != nil {
		if errors.Is(err, payload.ErrEmptyBatch) {
			s.writeRefusal(rw, hr, http.StatusNotFound, err)

			return
		}

		s.writeRefusal(rw, hr, http.StatusInternalServerError, err)

		return
	}

	writeJSON(rw, http.StatusOK, built.IDHashMap())
}

// handleMeasurementMeta serves one stored measurement row.
func (s *Server) handleMeasurementMeta(rw http.ResponseWriter, hr *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(hr, "id"), 10, 64)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusBadRequest, err)

		return
	}

	m, err := s.store.Measurement(hr.Context(), id)
	if err != nil {
		s.writeLookupError(rw, hr, err)

		return
	}

	writeJSON(rw, http.StatusOK, m)
}

// handleBatchMeta serves one stored batch metadata row.
func (s *Server) handleBatchMeta(rw http.ResponseWriter, hr *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(hr, "id"), 10, 64)
	if err != nil {
		s.writeRefusal(rw, hr, http.StatusBadRequest, err)

		return
	}

	meta, err := s.store.BatchMeta(hr.Context(), id)
	if err != nil {
		s.writeLookupError(rw, hr, err)

		return
	}

	writeJSON(rw, http.StatusOK, meta)
}

func (s *Server) writeLookupError(rw http.ResponseWriter, hr *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, cloudstore.ErrNotFound) {
		status = http.StatusNotFound
	}

	s.writeRefusal(rw, hr, status, err)
}

func (s *Server) writeRefusal(rw http.ResponseWriter, hr *http.Request, status int, err error) {
	s.log.WarnContext(hr.Context(), "request refused",
		"path", hr.URL.Path,
		"status", status,
		"error", err)

	writeJSON(rw, status, map[string]any{
		"conferma_ricezione": false,
		"messaggio":          err.Error(),
	})
}

func decodeBody(hr *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(hr.Body, maxBodyBytes)).Decode(v)
	if err != nil {
		return fmt.Errorf("cloudapi: decode body: %w", err)
	}

	return nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	_ = json.NewEncoder(rw).Encode(v)
}
