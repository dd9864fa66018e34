package report_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sigillo-iot/sigillo/internal/report"
	"github.com/sigillo-iot/sigillo/internal/verifier"
)

func compromisedResult() *verifier.Result {
	return &verifier.Result{
		BatchID:      7,
		Root:         "abc123",
		PathCID:      "QmTestCID",
		StructureOK:  true,
		AnomalyCount: 1,
		Details: verifier.Details{
			OK: []verifier.Leaf{
				{ID: 0, Kind: verifier.LeafKindBatch, Valid: true},
				{ID: 1, Kind: verifier.LeafKindMeasurement, Valid: true},
			},
			Anomalies: []verifier.Leaf{
				{ID: 2, Kind: verifier.LeafKindMeasurement, Note: "digest does not fold to the anchored root"},
			},
		},
	}
}

func TestRender_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.Render(&buf, compromisedResult(), report.FormatText))

	out := buf.String()
	assert.Contains(t, out, "Batch 7")
	assert.Contains(t, out, "COMPROMESSO")
	assert.Contains(t, out, "Anomalie: 1")
	assert.Contains(t, out, "misurazione")
}

func TestRender_TextIntact(t *testing.T) {
	t.Parallel()

	result := compromisedResult()
	result.GlobalOK = true
	result.AnomalyCount = 0
	result.Details.Anomalies = nil

	var buf bytes.Buffer

	require.NoError(t, report.Render(&buf, result, report.FormatText))
	assert.Contains(t, buf.String(), "INTEGRO")
}

func TestRender_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.Render(&buf, compromisedResult(), report.FormatJSON))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, float64(7), decoded["id_batch"])
	assert.Equal(t, false, decoded["esito_globale"])
	assert.Equal(t, float64(1), decoded["numero_anomalie"])
}

func TestRender_YAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.Render(&buf, compromisedResult(), report.FormatYAML))

	var decoded verifier.Result
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, int64(7), decoded.BatchID)
	assert.Len(t, decoded.Details.Anomalies, 1)
}

func TestRender_UnknownFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := report.Render(&buf, compromisedResult(), "xml")
	require.ErrorIs(t, err, report.ErrUnknownFormat)
}

func TestRenderHTML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "verifica.html")

	require.NoError(t, report.RenderHTML(path, compromisedResult()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Verifica batch 7")
	assert.Contains(t, string(raw), "compromesso")
}
