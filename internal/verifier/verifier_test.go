package verifier_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigillo-iot/sigillo/internal/payload"
	"github.com/sigillo-iot/sigillo/internal/verifier"
	"github.com/sigillo-iot/sigillo/pkg/canonjson"
	"github.com/sigillo-iot/sigillo/pkg/merkle"
)

type fakeCloud struct {
	idHashes map[string]string
}

func (f *fakeCloud) IDHashMap(_ context.Context, _ int64) (map[string]string, error) {
	return f.idHashes, nil
}

type fakeGateway struct {
	doc []byte
}

func (f *fakeGateway) Fetch(_ context.Context, _ string) ([]byte, error) {
	return f.doc, nil
}

// anchoredBatch builds a batch of three measurements the way the producer
// does, returning the cloud-side id→hash map, the anchored paths document,
// and the root.
func anchoredBatch(t *testing.T) (map[string]string, []byte, string) {
	t.Helper()

	rows := []payload.Row{
		{
			BatchID: 7, BatchCreatedAt: "2026-08-25T10:00:00Z", BatchCount: 3,
			MeasurementID: 1, SensorID: "JOY001", Timestamp: "2026-08-25T10:00:01Z",
			Data: map[string]any{"x": 0.5, "y": -0.25, "pressed": false},
		},
		{
			BatchID: 7, BatchCreatedAt: "2026-08-25T10:00:00Z", BatchCount: 3,
			MeasurementID: 2, SensorID: "TEMP001", Timestamp: "2026-08-25T10:00:02Z",
			Data: map[string]any{"valore": 21.5},
		},
		{
			BatchID: 7, BatchCreatedAt: "2026-08-25T10:00:00Z", BatchCount: 3,
			MeasurementID: 3, SensorID: "HUM001", Timestamp: "2026-08-25T10:00:03Z",
			Data: map[string]any{"valore": 48},
		},
	}

	built, err := payload.Build(rows)
	require.NoError(t, err)

	tree, err := merkle.Build(built.IDs, built.Hashes)
	require.NoError(t, err)

	doc, err := canonjson.Marshal(tree.PathsDocument())
	require.NoError(t, err)

	return built.IDHashMap(), doc, tree.Root()
}

func runVerifier(t *testing.T, idHashes map[string]string, doc []byte, root string) *verifier.Result {
	t.Helper()

	v := verifier.New(&fakeCloud{idHashes: idHashes}, &fakeGateway{doc: doc}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := v.Run(context.Background(), 7, root, "QmTestCID")
	require.NoError(t, err)

	return result
}

func TestRun_IntactBatch(t *testing.T) {
	t.Parallel()

	idHashes, doc, root := anchoredBatch(t)

	result := runVerifier(t, idHashes, doc, root)

	assert.True(t, result.GlobalOK)
	assert.True(t, result.StructureOK)
	assert.Zero(t, result.AnomalyCount)
	assert.Empty(t, result.Details.Anomalies)

	// Batch leaf plus three measurements, all intact.
	require.Len(t, result.Details.OK, 4)
	assert.Equal(t, verifier.LeafKindBatch, result.Details.OK[0].Kind)
	assert.Equal(t, int64(0), result.Details.OK[0].ID)
}

func TestRun_TamperedMeasurement(t *testing.T) {
	t.Parallel()

	idHashes, doc, root := anchoredBatch(t)

	// The cloud recomputes digests from stored rows; a tampered row shows up
	// as a changed digest for its id.
	idHashes["2"] = "0000000000000000000000000000000000000000000000000000000000000002"

	result := runVerifier(t, idHashes, doc, root)

	assert.False(t, result.GlobalOK)
	assert.True(t, result.StructureOK, "same ids, only a value changed")
	assert.Equal(t, 1, result.AnomalyCount)

	require.Len(t, result.Details.Anomalies, 1)
	anomaly := result.Details.Anomalies[0]
	assert.Equal(t, int64(2), anomaly.ID)
	assert.Equal(t, verifier.LeafKindMeasurement, anomaly.Kind)
	assert.False(t, anomaly.Valid)

	// The other leaves still fold cleanly.
	assert.Len(t, result.Details.OK, 3)
}

func TestRun_TamperedBatchMetadata(t *testing.T) {
	t.Parallel()

	idHashes, doc, root := anchoredBatch(t)

	idHashes["0"] = "1111111111111111111111111111111111111111111111111111111111111111"

	result := runVerifier(t, idHashes, doc, root)

	assert.False(t, result.GlobalOK)
	assert.True(t, result.StructureOK, "the reserved leaf is not a structural id")

	require.Len(t, result.Details.Anomalies, 1)
	assert.Equal(t, verifier.LeafKindBatch, result.Details.Anomalies[0].Kind)
	assert.Equal(t, int64(0), result.Details.Anomalies[0].ID)
}

func TestRun_MissingMeasurement(t *testing.T) {
	t.Parallel()

	idHashes, doc, root := anchoredBatch(t)

	delete(idHashes, "3")

	result := runVerifier(t, idHashes, doc, root)

	assert.False(t, result.GlobalOK)
	assert.False(t, result.StructureOK)
	assert.Equal(t, []int64{3}, result.MissingIDs)
	assert.Empty(t, result.ExtraIDs)

	// The remaining leaves still fold; the verdict localizes the removal.
	assert.Empty(t, result.Details.Anomalies)
	assert.Len(t, result.Details.OK, 3)
}

func TestRun_ExtraMeasurement(t *testing.T) {
	t.Parallel()

	idHashes, doc, root := anchoredBatch(t)

	idHashes["9"] = "2222222222222222222222222222222222222222222222222222222222222222"

	result := runVerifier(t, idHashes, doc, root)

	assert.False(t, result.GlobalOK)
	assert.False(t, result.StructureOK)
	assert.Equal(t, []int64{9}, result.ExtraIDs)
	assert.Empty(t, result.MissingIDs)

	// The inserted id has no anchored path to fold against.
	require.Len(t, result.Details.Anomalies, 1)
	assert.Equal(t, int64(9), result.Details.Anomalies[0].ID)
	assert.Equal(t, "merkle path missing", result.Details.Anomalies[0].Note)
}

func TestRun_WrongRoot(t *testing.T) {
	t.Parallel()

	idHashes, doc, _ := anchoredBatch(t)

	result := runVerifier(t, idHashes, doc,
		"3333333333333333333333333333333333333333333333333333333333333333")

	assert.False(t, result.GlobalOK)
	assert.True(t, result.StructureOK)
	assert.Equal(t, 4, result.AnomalyCount, "no leaf folds to a foreign root")
}
