package cloudapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/internal/cloudapi"
	"github.com/sigillo-iot/sigillo/internal/cloudstore"
	"github.com/sigillo-iot/sigillo/internal/config"
	"github.com/sigillo-iot/sigillo/internal/payload"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

const (
	producerKey = "chiave-produttore"
	verifierKey = "chiave-verificatore"
)

type fakeStore struct {
	sensors  []models.Sensor
	payloads []models.Payload
	rows     []payload.Row
	meta     map[int64]models.BatchMeta
}

func (f *fakeStore) InsertSensor(_ context.Context, sensor models.Sensor) error {
	f.sensors = append(f.sensors, sensor)

	return nil
}

func (f *fakeStore) InsertPayload(_ context.Context, p models.Payload) error {
	f.payloads = append(f.payloads, p)

	return nil
}

func (f *fakeStore) BatchRows(_ context.Context, _ int64) ([]payload.Row, error) {
	return f.rows, nil
}

func (f *fakeStore) BatchMeta(_ context.Context, batchID int64) (models.BatchMeta, error) {
	meta, ok := f.meta[batchID]
	if !ok {
		return models.BatchMeta{}, cloudstore.ErrNotFound
	}

	return meta, nil
}

func (f *fakeStore) Measurement(_ context.Context, _ int64) (models.Measurement, error) {
	return models.Measurement{}, cloudstore.ErrNotFound
}

func testKeys() map[string]config.APIUser {
	return map[string]config.APIUser{
		producerKey: {Name: "fog-node", Role: config.RoleProducer},
		verifierKey: {Name: "auditor", Role: config.RoleVerifier},
	}
}

func newHandler(st *fakeStore) http.Handler {
	return cloudapi.New(st, testKeys(), nil, slog.New(slog.NewTextHandler(io.Discard, nil))).Router()
}

func call(t *testing.T, h http.Handler, method, path, key, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))

	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	h.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))

	return rec, decoded
}

func TestAuth_MissingOrUnknownKey(t *testing.T) {
	t.Parallel()

	h := newHandler(&fakeStore{})

	rec, body := call(t, h, http.MethodPost, "/sensori", "", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["conferma_ricezione"])

	rec, _ = call(t, h, http.MethodPost, "/sensori", "chiave-sbagliata", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuth_VerifierCannotWrite(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	h := newHandler(st)

	rec, body := call(t, h, http.MethodPost, "/sensori", verifierKey,
		`{"id_sensore":"JOY001","descrizione":"d"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["conferma_ricezione"])
	assert.Empty(t, st.sensors)
}

func TestHandleSensor_Confirms(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	h := newHandler(st)

	rec, body := call(t, h, http.MethodPost, "/sensori", producerKey,
		`{"id_sensore":"joy001","descrizione":"cabin joystick"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["conferma_ricezione"])
	assert.Equal(t, "JOY001", body["id_sensore"], "id is uppercased on the way in")

	require.Len(t, st.sensors, 1)
	assert.Equal(t, models.KindJoystick, st.sensors[0].Kind)
}

func TestHandleSensor_InvalidID(t *testing.T) {
	t.Parallel()

	h := newHandler(&fakeStore{})

	rec, body := call(t, h, http.MethodPost, "/sensori", producerKey,
		`{"id_sensore":"BAD1","descrizione":"d"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, body["conferma_ricezione"])
}

func TestHandleBatch_Confirms(t *testing.T) {
	t.Parallel()

	st := &fakeStore{}
	h := newHandler(st)

	doc := `{
		"batch": {"id_batch": 7, "timestamp_creazione": "2026-08-25T10:00:00Z", "numero_misurazioni": 1},
		"misurazioni": [
			{"id_misurazione": 1, "id_sensore": "TEMP001", "timestamp": "2026-08-25T10:00:01Z", "dati": {"valore": 21}}
		]
	}`

	rec, body := call(t, h, http.MethodPost, "/batch", producerKey, doc)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["conferma_ricezione"])
	assert.Equal(t, float64(7), body["id_batch"])

	require.Len(t, st.payloads, 1)
	assert.Equal(t, int64(7), st.payloads[0].Batch.ID)
	require.Len(t, st.payloads[0].Measurements, 1)
}

func TestHandleBatch_MalformedBody(t *testing.T) {
	t.Parallel()

	h := newHandler(&fakeStore{})

	rec, body := call(t, h, http.MethodPost, "/batch", producerKey, `not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["conferma_ricezione"])
}

func TestHandleIDHashMap_RecomputesDigests(t *testing.T) {
	t.Parallel()

	rows := []payload.Row{
		{
			BatchID: 7, BatchCreatedAt: "2026-08-25T10:00:00Z", BatchCount: 1,
			MeasurementID: 1, SensorID: "TEMP001", Timestamp: "2026-08-25T10:00:01Z",
			Data: map[string]any{"valore": 21},
		},
	}

	h := newHandler(&fakeStore{rows: rows})

	// Readable with either role.
	rec, _ := call(t, h, http.MethodGet, "/batch/mappa-id-hash?id=7", verifierKey, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var m map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))

	built, err := payload.Build(rows)
	require.NoError(t, err)
	assert.Equal(t, built.IDHashMap(), m)

	_, hasBatchLeaf := m["0"]
	assert.True(t, hasBatchLeaf, "map must include the reserved batch leaf")
}

func TestHandleIDHashMap_UnknownBatch(t *testing.T) {
	t.Parallel()

	h := newHandler(&fakeStore{})

	rec, _ := call(t, h, http.MethodGet, "/batch/mappa-id-hash?id=99", producerKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = call(t, h, http.MethodGet, "/batch/mappa-id-hash?id=abc", producerKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBatchMeta(t *testing.T) {
	t.Parallel()

	st := &fakeStore{meta: map[int64]models.BatchMeta{
		7: {ID: 7, CreatedAt: "2026-08-25T10:00:00Z", Count: 1},
	}}
	h := newHandler(st)

	rec, body := call(t, h, http.MethodGet, "/metadata/batch/7", verifierKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["id_batch"])
	assert.Equal(t, float64(1), body["numero_misurazioni"])

	rec, _ = call(t, h, http.MethodGet, "/metadata/batch/8", verifierKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMeasurementMeta_NotFound(t *testing.T) {
	t.Parallel()

	h := newHandler(&fakeStore{})

	rec, body := call(t, h, http.MethodGet, "/metadata/misurazione/42", verifierKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["conferma_ricezione"])
}
