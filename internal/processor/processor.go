// Package processor runs the per-batch pipeline: load the join rows, build
// the payload and the Merkle tree, publish the paths document to the object
// store, record the artifacts, and anchor the root.
//
// Every step is deterministic given the batch contents, so a crash between
// the upload and the artifact record replays cleanly: the recomputed paths
// document maps to the same content-addressed key and the record retries.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sigillo-iot/sigillo/internal/artifact"
	"github.com/sigillo-iot/sigillo/internal/observability"
	pb "github.com/sigillo-iot/sigillo/internal/payload"
	"github.com/sigillo-iot/sigillo/internal/store"
	"github.com/sigillo-iot/sigillo/pkg/canonjson"
	"github.com/sigillo-iot/sigillo/pkg/merkle"
)

// Store is the slice of the local store the processor uses.
type Store interface {
	SelectBatchRows(ctx context.Context, batchID int64) ([]pb.Row, error)
	RecordBatchArtifacts(ctx context.Context, batchID int64, root, cid, payloadJSON string) error
	MarkBatchError(ctx context.Context, batchID int64, kind, msg string) error
}

// Uploader publishes a paths document and returns its content id.
type Uploader interface {
	Put(ctx context.Context, doc []byte) (cid, key string, err error)
}

// Processor executes the pipeline for one sealed batch at a time.
type Processor struct {
	store    Store
	uploader Uploader
	anchorer Anchorer
	cache    *artifact.Cache
	metrics  *observability.PipelineMetrics
	log      *slog.Logger
}

// New wires the processor. cache and metrics may be nil; both are optional.
func New(st Store, up Uploader, an Anchorer, cache *artifact.Cache, metrics *observability.PipelineMetrics, log *slog.Logger) *Processor {
	return &Processor{store: st, uploader: up, anchorer: an, cache: cache, metrics: metrics, log: log}
}

// Process runs the pipeline for batchID. It returns true when the batch's
// artifacts were recorded and the root anchored. Unrecoverable failures
// poison the batch and return false with the pipeline error; transient
// failures return false with a plain error and the batch stays selectable.
func (p *Processor) Process(ctx context.Context, batchID int64) (bool, error) {
	start := time.Now()

	rows, err := p.store.SelectBatchRows(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("processor: load batch %d: %w", batchID, err)
	}

	if len(rows) == 0 {
		p.log.WarnContext(ctx, "batch has no rows, skipping", "batch", batchID)

		return false, nil
	}

	root, cid, payloadJSON, err := p.buildAndPublish(ctx, batchID, rows)
	if err != nil {
		return false, p.fail(ctx, batchID, err)
	}

	err = p.store.RecordBatchArtifacts(ctx, batchID, root, cid, payloadJSON)
	if err != nil {
		// The upload already happened; the next tick recomputes the same
		// document and key, so this is recoverable.
		p.log.ErrorContext(ctx, "artifact record failed, will retry", "batch", batchID, "error", err)

		return false, fmt.Errorf("processor: record artifacts: %w", err)
	}

	_, err = p.anchorer.Anchor(ctx, batchID, root, cid)
	if err != nil {
		return false, p.fail(ctx, batchID, blockchainFailure(err))
	}

	if p.metrics != nil {
		p.metrics.BatchProcessed(ctx, time.Since(start))
	}

	p.log.InfoContext(ctx, "batch processed",
		"batch", batchID,
		"root", root,
		"cid", cid,
		"leaves", len(rows)+1,
		"duration", time.Since(start))

	return true, nil
}

// buildAndPublish covers the deterministic middle of the pipeline: payload,
// tree, paths document, upload. All failures here carry a persisted kind.
func (p *Processor) buildAndPublish(ctx context.Context, batchID int64, rows []pb.Row) (root, cid, payloadJSON string, err error) {
	built, err := pb.Build(rows)
	if err != nil {
		return "", "", "", payloadInvalid(err)
	}

	payloadBytes, err := built.Payload.CanonicalJSON()
	if err != nil {
		return "", "", "", payloadInvalid(err)
	}

	tree, err := merkle.Build(built.IDs, built.Hashes)
	if err != nil {
		return "", "", "", merkleInvalid(err)
	}

	pathsDoc, err := canonjson.Marshal(tree.PathsDocument())
	if err != nil {
		return "", "", "", merkleInvalid(err)
	}

	cid, key, err := p.uploader.Put(ctx, pathsDoc)
	if err != nil {
		return "", "", "", ipfsFailure(err)
	}

	p.log.DebugContext(ctx, "paths document published", "batch", batchID, "key", key, "cid", cid)

	if p.cache != nil {
		path, cacheErr := p.cache.SavePaths(batchID, pathsDoc)
		if cacheErr != nil {
			p.log.WarnContext(ctx, "artifact cache write failed", "batch", batchID, "error", cacheErr)
		} else {
			p.log.DebugContext(ctx, "paths document cached", "batch", batchID, "path", path)
		}
	}

	return tree.Root(), cid, string(payloadBytes), nil
}

// fail poisons the batch when err carries a persisted kind; transient
// errors pass through untouched.
func (p *Processor) fail(ctx context.Context, batchID int64, err error) error {
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) {
		return err
	}

	if p.metrics != nil {
		p.metrics.PipelineError(ctx, pipeErr.Kind)
	}

	p.log.ErrorContext(ctx, "batch poisoned",
		"batch", batchID,
		"kind", pipeErr.Kind,
		"error", pipeErr.Err)

	markErr := p.store.MarkBatchError(ctx, batchID, pipeErr.Kind, pipeErr.Err.Error())
	if markErr != nil {
		p.log.ErrorContext(ctx, "mark batch error failed", "batch", batchID, "error", markErr)
	}

	return err
}

// Verify store satisfies the Store interface.
var _ Store = (*store.Store)(nil)
