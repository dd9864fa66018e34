// Package payload assembles the delivery payload and the ordered leaf set
// for one sealed batch from its (batch ⨝ measurement) join rows. The batch
// metadata leaf always occupies position 0 under the reserved id 0;
// measurement leaves follow in ascending measurement id order. The cloud
// service runs the same assembly over its own rows to serve the id→hash map,
// so producer and verifier agree on leaf order by construction.
package payload

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/sigillo-iot/sigillo/pkg/models"
)

// ErrEmptyBatch is returned when the join row set is empty.
var ErrEmptyBatch = errors.New("payload: empty batch")

// Row is one (batch ⨝ measurement) join row. Rows must arrive in ascending
// MeasurementID order; the store queries guarantee it.
type Row struct {
	BatchID        int64
	BatchCreatedAt string
	BatchCount     int64
	MeasurementID  int64
	SensorID       string
	Timestamp      string
	Data           map[string]any
}

// Built is the assembled batch: the payload document plus the parallel
// (ids, hashes) lists feeding the Merkle engine, batch leaf first.
type Built struct {
	Payload models.Payload
	IDs     []int64
	Hashes  []string
}

// Build assembles the payload and leaf lists from rows.
func Build(rows []Row) (*Built, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyBatch
	}

	meta := models.BatchMeta{
		ID:        rows[0].BatchID,
		CreatedAt: rows[0].BatchCreatedAt,
		Count:     rows[0].BatchCount,
	}

	batchHash, err := meta.Hash()
	if err != nil {
		return nil, fmt.Errorf("payload: batch leaf: %w", err)
	}

	ids := make([]int64, 0, len(rows)+1)
	hashes := make([]string, 0, len(rows)+1)
	measurements := make([]models.Measurement, 0, len(rows))

	ids = append(ids, models.BatchLeafID)
	hashes = append(hashes, batchHash)

	for _, row := range rows {
		m := models.Measurement{
			ID:        row.MeasurementID,
			SensorID:  row.SensorID,
			Timestamp: row.Timestamp,
			Data:      row.Data,
		}

		h, err := m.Hash()
		if err != nil {
			return nil, fmt.Errorf("payload: measurement leaf %d: %w", m.ID, err)
		}

		ids = append(ids, m.ID)
		hashes = append(hashes, h)
		measurements = append(measurements, m)
	}

	return &Built{
		Payload: models.Payload{Batch: meta, Measurements: measurements},
		IDs:     ids,
		Hashes:  hashes,
	}, nil
}

// IDHashMap returns the leaf digests keyed by decimal leaf id, the form the
// cloud service serves to verifiers.
func (b *Built) IDHashMap() map[string]string {
	m := make(map[string]string, len(b.IDs))
	for i, id := range b.IDs {
		m[strconv.FormatInt(id, 10)] = b.Hashes[i]
	}

	return m
}
