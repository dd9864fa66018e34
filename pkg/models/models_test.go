package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/pkg/digest"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

func TestSensorNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		id       string
		wantID   string
		wantKind string
		wantErr  bool
	}{
		{name: "joystick lowercased", id: "joy001", wantID: "JOY001", wantKind: models.KindJoystick},
		{name: "temperature", id: "TEMP042", wantID: "TEMP042", wantKind: models.KindTemperature},
		{name: "humidity", id: "hum123", wantID: "HUM123", wantKind: models.KindHumidity},
		{name: "pressure", id: "press007", wantID: "PRESS007", wantKind: models.KindPressure},
		{name: "padded whitespace", id: " joy002 ", wantID: "JOY002", wantKind: models.KindJoystick},
		{name: "bad prefix", id: "GYRO001", wantErr: true},
		{name: "too few digits", id: "JOY01", wantErr: true},
		{name: "too many digits", id: "JOY0001", wantErr: true},
		{name: "empty", id: "", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := models.Sensor{ID: tc.id, Description: "test"}

			err := s.Normalize()
			if tc.wantErr {
				require.ErrorIs(t, err, models.ErrInvalidSensorID)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantID, s.ID)
			assert.Equal(t, tc.wantKind, s.Kind)
		})
	}
}

func TestSensorNormalize_OverwritesSuppliedKind(t *testing.T) {
	t.Parallel()

	s := models.Sensor{ID: "TEMP001", Kind: "joystick"}

	require.NoError(t, s.Normalize())
	assert.Equal(t, models.KindTemperature, s.Kind)
}

func TestMeasurementHash_CanonicalInput(t *testing.T) {
	t.Parallel()

	m := models.Measurement{
		ID:        3,
		SensorID:  "JOY001",
		Timestamp: "2026-08-24T10:00:00Z",
		Data:      map[string]any{"x": json.Number("0.5"), "y": json.Number("0"), "pressed": true},
	}

	want := digest.Sum(`{"dati":{"pressed":true,"x":0.5,"y":0},"id_misurazione":3,"id_sensore":"JOY001","timestamp":"2026-08-24T10:00:00Z"}`)

	got, err := m.Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBatchMetaHash_CanonicalInput(t *testing.T) {
	t.Parallel()

	b := models.BatchMeta{ID: 7, CreatedAt: "2026-08-24T09:00:00Z", Count: 3}

	want := digest.Sum(`{"id_batch":7,"numero_misurazioni":3,"timestamp_creazione":"2026-08-24T09:00:00Z"}`)

	got, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPayloadCanonicalJSON_RoundTripStable(t *testing.T) {
	t.Parallel()

	p := models.Payload{
		Batch: models.BatchMeta{ID: 1, CreatedAt: "2026-08-24T09:00:00Z", Count: 1},
		Measurements: []models.Measurement{
			{ID: 1, SensorID: "TEMP001", Timestamp: "2026-08-24T09:01:00Z",
				Data: map[string]any{"valore": json.Number("21.5")}},
		},
	}

	first, err := p.CanonicalJSON()
	require.NoError(t, err)

	decoded, err := models.DecodePayload(first)
	require.NoError(t, err)

	second, err := decoded.CanonicalJSON()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))

	// Leaf hashes survive the round trip as well.
	h1, err := p.Measurements[0].Hash()
	require.NoError(t, err)

	h2, err := decoded.Measurements[0].Hash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestDecodeData_KeepsNumbersStable(t *testing.T) {
	t.Parallel()

	data, err := models.DecodeData([]byte(`{"valore":21.5,"seq":12}`))
	require.NoError(t, err)

	assert.Equal(t, json.Number("21.5"), data["valore"])
	assert.Equal(t, json.Number("12"), data["seq"])
}

func TestKindForID_UnknownPrefix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, models.KindGeneric, models.KindForID("XYZ001"))
}
