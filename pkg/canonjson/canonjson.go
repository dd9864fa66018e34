// Package canonjson renders values as canonical JSON: object keys sorted
// lexicographically at every nesting level, no insignificant whitespace, and
// a single normalized rendering for every number. Leaf digests are computed
// over this form on the producer and recomputed on the cloud service and the
// verifier, so any change here breaks verification of already anchored
// batches.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// fracPrecision is the decimal place fractional values are rounded to
// before rendering.
const fracPrecision = 1e6

// roundCutoff is the magnitude above which float64 carries no fractional
// precision left to round.
const roundCutoff = 1e15

// Marshal returns the canonical JSON encoding of v.
//
// v is first encoded with encoding/json (struct tags apply, NaN and Inf are
// rejected), then re-rendered canonically. Integer literals pass through
// verbatim; fractional and exponent literals are normalized by Number.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonjson: encode: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var tree any

	err = dec.Decode(&tree)
	if err != nil {
		return nil, fmt.Errorf("canonjson: decode: %w", err)
	}

	var buf bytes.Buffer

	err = writeValue(&buf, tree)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Number normalizes a JSON number literal to its canonical rendering.
// Integer literals are kept as written ("-0" collapses to "0"). Fractional
// and exponent literals are parsed as float64: a zero value renders as the
// integer 0, any other value is rounded to six decimal places and rendered
// with the minimal digits that round-trip.
func Number(n json.Number) (string, error) {
	s := n.String()
	if s == "-0" {
		return "0", nil
	}

	if !bytes.ContainsAny([]byte(s), ".eE") {
		return s, nil
	}

	f, err := n.Float64()
	if err != nil {
		return "", fmt.Errorf("canonjson: number %q: %w", s, err)
	}

	return formatFloat(f), nil
}

// NormalizeValue rewrites every number reachable from v to its canonical
// literal, recursing through maps and slices. Ingested measurement data goes
// through this before storage so the stored form already hashes canonically.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			val[k] = NormalizeValue(elem)
		}

		return val
	case []any:
		for i, elem := range val {
			val[i] = NormalizeValue(elem)
		}

		return val
	case json.Number:
		lit, err := Number(val)
		if err != nil {
			return val
		}

		return json.Number(lit)
	case float64:
		return json.Number(formatFloat(val))
	default:
		return v
	}
}

func formatFloat(f float64) string {
	if f == 0 {
		return "0"
	}

	if math.Abs(f) < roundCutoff {
		f = math.Round(f*fracPrecision) / fracPrecision
		if f == 0 {
			return "0"
		}
	}

	return strconv.FormatFloat(f, 'g', -1, 64)
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, val)
	case json.Number:
		lit, err := Number(val)
		if err != nil {
			return err
		}

		buf.WriteString(lit)
	case map[string]any:
		return writeObject(buf, val)
	case []any:
		return writeArray(buf, val)
	default:
		return fmt.Errorf("canonjson: unsupported type %T", v)
	}

	return nil
}

func writeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		err := writeString(buf, k)
		if err != nil {
			return err
		}

		buf.WriteByte(':')

		err = writeValue(buf, m[k])
		if err != nil {
			return err
		}
	}

	buf.WriteByte('}')

	return nil
}

func writeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}

		err := writeValue(buf, elem)
		if err != nil {
			return err
		}
	}

	buf.WriteByte(']')

	return nil
}

// writeString encodes s without HTML escaping, so "<" stays "<" on every
// side that recomputes a digest.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer

	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)

	err := enc.Encode(s)
	if err != nil {
		return fmt.Errorf("canonjson: encode string: %w", err)
	}

	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))

	return nil
}
