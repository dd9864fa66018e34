// Package ingest is the fog producer's HTTP surface: sensor registration
// and single-measurement submission. Each request maps to one store
// mutation; batch sealing is a side effect of the insert transaction and
// processing is left entirely to the scheduler.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sigillo-iot/sigillo/internal/observability"
	"github.com/sigillo-iot/sigillo/internal/store"
	"github.com/sigillo-iot/sigillo/pkg/canonjson"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

// maxBodyBytes bounds request bodies; measurements are small.
const maxBodyBytes = 1 << 16

// requestIDHeader echoes the per-request id back to the caller.
const requestIDHeader = "X-Request-ID"

// Store is the slice of the local store the ingress mutates.
type Store interface {
	UpsertSensor(ctx context.Context, sensor models.Sensor) error
	InsertMeasurement(ctx context.Context, sensorID string, data map[string]any) (store.InsertResult, error)
}

// Server handles the two ingress endpoints.
type Server struct {
	store     Store
	validator *validator
	limiter   *rate.Limiter
	metrics   *observability.PipelineMetrics
	httpMet   *observability.HTTPMetrics
	log       *slog.Logger
}

// New builds the ingress server. rateLimit is requests per second for the
// measurement endpoint; zero disables limiting. metrics may be nil.
func New(st Store, rateLimit float64, metrics *observability.PipelineMetrics, httpMet *observability.HTTPMetrics, log *slog.Logger) (*Server, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), int(rateLimit)+1)
	}

	return &Server{
		store:     st,
		validator: v,
		limiter:   limiter,
		metrics:   metrics,
		httpMet:   httpMet,
		log:       log,
	}, nil
}

// Router builds the chi router for the ingress surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.httpMet.Middleware)

	r.Post("/sensori", s.handleSensor)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.rateLimit)
		}

		r.Post("/misurazioni", s.handleMeasurement)
	})

	return r
}

// handleSensor registers a sensor: validate, normalize, insert-or-ignore.
func (s *Server) handleSensor(rw http.ResponseWriter, hr *http.Request) {
	body, err := readBody(hr)
	if err != nil {
		s.writeError(rw, hr, http.StatusBadRequest, err)

		return
	}

	err = s.validator.validateSensor(body)
	if err != nil {
		s.writeError(rw, hr, http.StatusUnprocessableEntity, err)

		return
	}

	var sensor models.Sensor

	err = json.Unmarshal(body, &sensor)
	if err != nil {
		s.writeError(rw, hr, http.StatusBadRequest, fmt.Errorf("decode sensor: %w", err))

		return
	}

	err = sensor.Normalize()
	if err != nil {
		s.writeError(rw, hr, http.StatusUnprocessableEntity, err)

		return
	}

	err = s.store.UpsertSensor(hr.Context(), sensor)
	if err != nil {
		s.writeError(rw, hr, http.StatusInternalServerError, err)

		return
	}

	s.log.InfoContext(hr.Context(), "sensor registered", "sensor", sensor.ID, "kind", sensor.Kind)

	writeJSON(rw, http.StatusOK, map[string]any{
		"status":      "registrato",
		"id_sensore":  sensor.ID,
		"descrizione": sensor.Description,
		"tipo":        sensor.Kind,
	})
}

// handleMeasurement accepts one reading: validate per kind, strip the
// envelope, normalize floats, insert into the open batch.
func (s *Server) handleMeasurement(rw http.ResponseWriter, hr *http.Request) {
	body, err := readBody(hr)
	if err != nil {
		s.writeError(rw, hr, http.StatusBadRequest, err)

		return
	}

	envelope, err := models.DecodeData(body)
	if err != nil {
		s.writeError(rw, hr, http.StatusBadRequest, err)

		return
	}

	kind, _ := envelope["tipo"].(string)

	err = s.validator.validateMeasurement(kind, body)
	if err != nil {
		s.writeError(rw, hr, http.StatusUnprocessableEntity, err)

		return
	}

	sensorID, _ := envelope["id_sensore"].(string)

	// The stored data map carries only the readings; the envelope fields
	// live in their own columns.
	delete(envelope, "id_sensore")
	delete(envelope, "tipo")

	data, _ := canonjson.NormalizeValue(envelope).(map[string]any)

	result, err := s.store.InsertMeasurement(hr.Context(), sensorID, data)
	if err != nil {
		// Store errors, unknown sensor included, are server-side failures;
		// 422 is reserved for schema violations.
		s.writeError(rw, hr, http.StatusInternalServerError, err)

		return
	}

	if s.metrics != nil {
		s.metrics.MeasurementIngested(hr.Context())
	}

	response := map[string]any{
		"status":        "registrata",
		"sensore":       sensorID,
		"ricevuto_alle": result.Timestamp,
	}

	if result.SealedBatchID != nil {
		response["batch_completato"] = true
		response["id_batch"] = *result.SealedBatchID

		if s.metrics != nil {
			s.metrics.BatchSealed(hr.Context())
		}

		s.log.InfoContext(hr.Context(), "batch sealed", "batch", *result.SealedBatchID)
	}

	writeJSON(rw, http.StatusOK, response)
}

// rateLimit sheds measurement load beyond the configured rate.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(rw, hr, http.StatusTooManyRequests, errors.New("ingest: rate limit exceeded"))

			return
		}

		next.ServeHTTP(rw, hr)
	})
}

// requestID tags every request with a uuid, echoed in the response header.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		id := hr.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		rw.Header().Set(requestIDHeader, id)
		next.ServeHTTP(rw, hr)
	})
}

func (s *Server) writeError(rw http.ResponseWriter, hr *http.Request, status int, err error) {
	s.log.WarnContext(hr.Context(), "request rejected",
		"path", hr.URL.Path,
		"status", status,
		"error", err)

	writeJSON(rw, status, map[string]any{"status": "errore", "dettaglio": err.Error()})
}

func readBody(hr *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(hr.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("ingest: read body: %w", err)
	}

	return body, nil
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	_ = json.NewEncoder(rw).Encode(v)
}
