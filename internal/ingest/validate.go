package ingest

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// ErrSchemaViolation is returned when a request body fails its JSON Schema.
var ErrSchemaViolation = errors.New("ingest: request violates schema")

// Measurement kinds and their schema files. Joystick readings have their own
// shape; the remaining kinds all carry a single numeric value.
var measurementSchemas = map[string]string{
	"joystick":    "schemas/measurement_joystick.json",
	"temperatura": "schemas/measurement_scalar.json",
	"umidità":     "schemas/measurement_scalar.json",
	"pressione":   "schemas/measurement_scalar.json",
}

// validator holds the compiled request schemas.
type validator struct {
	sensor       *gojsonschema.Schema
	measurements map[string]*gojsonschema.Schema
}

func newValidator() (*validator, error) {
	sensor, err := compileSchema("schemas/sensor.json")
	if err != nil {
		return nil, err
	}

	measurements := make(map[string]*gojsonschema.Schema, len(measurementSchemas))

	for kind, file := range measurementSchemas {
		schema, err := compileSchema(file)
		if err != nil {
			return nil, err
		}

		measurements[kind] = schema
	}

	return &validator{sensor: sensor, measurements: measurements}, nil
}

func compileSchema(file string) (*gojsonschema.Schema, error) {
	raw, err := schemasFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("ingest: read schema %s: %w", file, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("ingest: compile schema %s: %w", file, err)
	}

	return schema, nil
}

// validateSensor checks a sensor registration body.
func (v *validator) validateSensor(body []byte) error {
	return validate(v.sensor, body)
}

// validateMeasurement checks a measurement body against the schema of its
// kind. Unknown kinds fail outright.
func (v *validator) validateMeasurement(kind string, body []byte) error {
	schema, ok := v.measurements[kind]
	if !ok {
		return fmt.Errorf("%w: unknown measurement kind %q", ErrSchemaViolation, kind)
	}

	return validate(schema, body)
}

func validate(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(details, "; "))
}
