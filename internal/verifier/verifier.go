// Package verifier localizes tampering in a delivered batch. It pulls the
// id→hash map recomputed by the cloud, the anchored paths document from the
// content-addressed gateway, and folds every leaf against the expected root.
//
// Because the batch metadata and each measurement hash into separate leaves
// of one tree, a verdict distinguishes tampered measurements, tampered batch
// metadata, and structural changes (ids added or removed).
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/sigillo-iot/sigillo/pkg/merkle"
	"github.com/sigillo-iot/sigillo/pkg/models"
)

// Leaf kinds in verdicts.
const (
	LeafKindBatch       = "batch"
	LeafKindMeasurement = "misurazione"
)

// MapFetcher pulls the id→hash map of one batch from the cloud.
type MapFetcher interface {
	IDHashMap(ctx context.Context, batchID int64) (map[string]string, error)
}

// PathsFetcher pulls a paths document by content id.
type PathsFetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Leaf is the verdict for one leaf.
type Leaf struct {
	ID    int64  `json:"id" yaml:"id"`
	Kind  string `json:"kind" yaml:"kind"`
	Valid bool   `json:"valid" yaml:"valid"`
	Note  string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Details splits the per-leaf verdicts into intact and anomalous.
type Details struct {
	OK        []Leaf `json:"integre" yaml:"integre"`
	Anomalies []Leaf `json:"anomalie" yaml:"anomalie"`
}

// Result is the full verdict for one batch.
type Result struct {
	BatchID      int64   `json:"id_batch" yaml:"id_batch"`
	Root         string  `json:"merkle_root" yaml:"merkle_root"`
	PathCID      string  `json:"cid_merkle_path" yaml:"cid_merkle_path"`
	GlobalOK     bool    `json:"esito_globale" yaml:"esito_globale"`
	StructureOK  bool    `json:"struttura_integra" yaml:"struttura_integra"`
	MissingIDs   []int64 `json:"id_mancanti,omitempty" yaml:"id_mancanti,omitempty"`
	ExtraIDs     []int64 `json:"id_aggiunti,omitempty" yaml:"id_aggiunti,omitempty"`
	AnomalyCount int     `json:"numero_anomalie" yaml:"numero_anomalie"`
	Details      Details `json:"dettagli" yaml:"dettagli"`
}

// Verifier checks batches against externally anchored roots.
type Verifier struct {
	cloud   MapFetcher
	gateway PathsFetcher
	log     *slog.Logger
}

// New wires the verifier.
func New(cloud MapFetcher, gateway PathsFetcher, log *slog.Logger) *Verifier {
	return &Verifier{cloud: cloud, gateway: gateway, log: log}
}

// Run verifies batchID against the anchored (root, pathCID) pair.
func (v *Verifier) Run(ctx context.Context, batchID int64, root, pathCID string) (*Result, error) {
	idHashes, err := v.cloud.IDHashMap(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("verifier: fetch id-hash map: %w", err)
	}

	rawPaths, err := v.gateway.Fetch(ctx, pathCID)
	if err != nil {
		return nil, fmt.Errorf("verifier: fetch paths %s: %w", pathCID, err)
	}

	paths, err := decodePaths(rawPaths)
	if err != nil {
		return nil, err
	}

	v.log.DebugContext(ctx, "verification inputs loaded",
		"batch", batchID,
		"leaves", len(idHashes),
		"paths", len(paths))

	result := &Result{BatchID: batchID, Root: root, PathCID: pathCID}

	v.checkStructure(result, idHashes, paths)
	v.checkLeaves(result, idHashes, paths, root)

	result.AnomalyCount = len(result.Details.Anomalies)
	result.GlobalOK = result.StructureOK && result.AnomalyCount == 0

	return result, nil
}

// checkStructure compares the id sets of the cloud map and the anchored
// paths, excluding the reserved batch leaf. Any asymmetry means rows were
// added or removed after anchoring.
func (v *Verifier) checkStructure(result *Result, idHashes map[string]string, paths map[string]merkle.Proof) {
	for key := range paths {
		if key == batchLeafKey() {
			continue
		}

		if _, ok := idHashes[key]; !ok {
			result.MissingIDs = append(result.MissingIDs, parseLeafID(key))
		}
	}

	for key := range idHashes {
		if key == batchLeafKey() {
			continue
		}

		if _, ok := paths[key]; !ok {
			result.ExtraIDs = append(result.ExtraIDs, parseLeafID(key))
		}
	}

	sortIDs(result.MissingIDs)
	sortIDs(result.ExtraIDs)

	result.StructureOK = len(result.MissingIDs) == 0 && len(result.ExtraIDs) == 0
}

// checkLeaves folds every leaf in the cloud map against the root using its
// anchored path.
func (v *Verifier) checkLeaves(result *Result, idHashes map[string]string, paths map[string]merkle.Proof, root string) {
	keys := make([]string, 0, len(idHashes))
	for key := range idHashes {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return parseLeafID(keys[i]) < parseLeafID(keys[j]) })

	for _, key := range keys {
		id := parseLeafID(key)
		leaf := Leaf{ID: id, Kind: leafKind(id)}

		proof, ok := paths[key]
		if !ok {
			leaf.Note = "merkle path missing"
			result.Details.Anomalies = append(result.Details.Anomalies, leaf)

			continue
		}

		if merkle.VerifyLeaf(idHashes[key], proof, root) {
			leaf.Valid = true
			result.Details.OK = append(result.Details.OK, leaf)

			continue
		}

		leaf.Note = "digest does not fold to the anchored root"
		result.Details.Anomalies = append(result.Details.Anomalies, leaf)
	}
}

func decodePaths(raw []byte) (map[string]merkle.Proof, error) {
	paths := make(map[string]merkle.Proof)

	err := json.Unmarshal(raw, &paths)
	if err != nil {
		return nil, fmt.Errorf("verifier: decode paths document: %w", err)
	}

	return paths, nil
}

func leafKind(id int64) string {
	if id == models.BatchLeafID {
		return LeafKindBatch
	}

	return LeafKindMeasurement
}

func batchLeafKey() string {
	return strconv.FormatInt(models.BatchLeafID, 10)
}

// parseLeafID parses a decimal leaf key; malformed keys map to -1 and fail
// verification downstream instead of aborting the run.
func parseLeafID(key string) int64 {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return -1
	}

	return id
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
