package processor

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Anchorer persists a batch's Merkle root and paths CID to an immutable
// store. The real anchor is external to this system; the stub stands in for
// it so the pipeline exercises the failure path.
type Anchorer interface {
	// Anchor records (root, cid) for batchID and returns a transaction id.
	Anchor(ctx context.Context, batchID int64, root, cid string) (string, error)
}

// StubAnchorer logs the anchor request and fabricates a transaction id.
type StubAnchorer struct {
	log *slog.Logger
}

// NewStubAnchorer builds the stub.
func NewStubAnchorer(log *slog.Logger) *StubAnchorer {
	return &StubAnchorer{log: log}
}

// Anchor implements Anchorer without any external effect.
func (a *StubAnchorer) Anchor(ctx context.Context, batchID int64, root, cid string) (string, error) {
	txID := uuid.NewString()

	a.log.InfoContext(ctx, "anchor stub invoked",
		"batch", batchID,
		"root", root,
		"cid", cid,
		"tx", txID)

	return txID, nil
}
