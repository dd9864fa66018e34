// Package models defines the wire entities shared by the fog producer, the
// cloud ingest service, and the verifier. The JSON field names are the wire
// contract: leaf digests are computed over the canonical rendering of these
// structs, so producer and verifier must deserialize into the same shapes.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sigillo-iot/sigillo/pkg/canonjson"
	"github.com/sigillo-iot/sigillo/pkg/digest"
)

// Sensor kinds derived from the alphabetic id prefix.
const (
	KindJoystick    = "joystick"
	KindTemperature = "temperatura"
	KindHumidity    = "umidità"
	KindPressure    = "pressione"
	KindGeneric     = "generico"
)

// BatchLeafID is the leaf id reserved for the batch metadata leaf in every
// id→hash map and paths document. Measurement ids start at 1.
const BatchLeafID int64 = 0

// ErrInvalidSensorID is returned when a sensor id does not match the
// accepted format (JOY001, TEMP042, HUM123, PRESS007, ...).
var ErrInvalidSensorID = errors.New("models: invalid sensor id")

var sensorIDPattern = regexp.MustCompile(`^(JOY|TEMP|HUM|PRESS)\d{3}$`)

// Sensor is a registered measurement source.
type Sensor struct {
	ID          string `json:"id_sensore"`
	Description string `json:"descrizione"`
	Kind        string `json:"tipo"`
}

// Normalize uppercases the id, validates it against the accepted format,
// and derives Kind from the alphabetic prefix. Any caller-supplied Kind is
// overwritten; the id is the single source of truth.
func (s *Sensor) Normalize() error {
	s.ID = strings.ToUpper(strings.TrimSpace(s.ID))

	if !sensorIDPattern.MatchString(s.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidSensorID, s.ID)
	}

	s.Kind = KindForID(s.ID)

	return nil
}

// KindForID maps a sensor id prefix to its kind.
func KindForID(id string) string {
	switch strings.TrimRight(id, "0123456789") {
	case "JOY":
		return KindJoystick
	case "TEMP":
		return KindTemperature
	case "HUM":
		return KindHumidity
	case "PRESS":
		return KindPressure
	default:
		return KindGeneric
	}
}

// Measurement is one sensor reading bound to a batch. Data holds the
// sensor-specific readings with numbers already normalized at ingress.
type Measurement struct {
	ID        int64          `json:"id_misurazione"`
	SensorID  string         `json:"id_sensore"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"dati"`
}

// Hash returns the leaf digest of the measurement.
func (m Measurement) Hash() (string, error) {
	return hashCanonical(m)
}

// BatchMeta is the metadata row of a sealed batch; it hashes into the
// reserved leaf id 0.
type BatchMeta struct {
	ID        int64  `json:"id_batch"`
	CreatedAt string `json:"timestamp_creazione"`
	Count     int64  `json:"numero_misurazioni"`
}

// Hash returns the leaf digest of the batch metadata.
func (b BatchMeta) Hash() (string, error) {
	return hashCanonical(b)
}

// Payload is the full batch document delivered to the cloud.
type Payload struct {
	Batch        BatchMeta     `json:"batch"`
	Measurements []Measurement `json:"misurazioni"`
}

// CanonicalJSON returns the canonical rendering of the payload, the exact
// bytes persisted in payload_json and POSTed to the cloud.
func (p Payload) CanonicalJSON() ([]byte, error) {
	out, err := canonjson.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("models: payload: %w", err)
	}

	return out, nil
}

// DecodeData parses a JSON object into a measurement data map, keeping
// numbers as json.Number so re-rendering stays byte-stable.
func DecodeData(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]any

	err := dec.Decode(&data)
	if err != nil {
		return nil, fmt.Errorf("models: decode data: %w", err)
	}

	return data, nil
}

// DecodePayload parses a payload document produced by CanonicalJSON,
// keeping numbers as json.Number.
func DecodePayload(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var p Payload

	err := dec.Decode(&p)
	if err != nil {
		return Payload{}, fmt.Errorf("models: decode payload: %w", err)
	}

	return p, nil
}

func hashCanonical(v any) (string, error) {
	b, err := canonjson.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("models: canonicalize: %w", err)
	}

	return digest.Sum(string(b)), nil
}
