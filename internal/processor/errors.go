package processor

import "fmt"

// Persisted error kinds. The strings are written verbatim into the batch's
// error_kind column and must stay stable across releases.
const (
	KindMerkleInvalid  = "MERKLE_INVALID"
	KindPayloadInvalid = "PAYLOAD_INVALID"
	KindIPFS           = "IPFS"
	KindBlockchain     = "BLOCKCHAIN"
)

// PipelineError is an unrecoverable pipeline failure: the batch it occurred
// on is poisoned (elaborable=false) and never retried. Transient failures
// (DB blips, outbound HTTP) are plain errors and stay retryable.
type PipelineError struct {
	Kind string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error %s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func merkleInvalid(err error) *PipelineError {
	return &PipelineError{Kind: KindMerkleInvalid, Err: err}
}

func payloadInvalid(err error) *PipelineError {
	return &PipelineError{Kind: KindPayloadInvalid, Err: err}
}

func ipfsFailure(err error) *PipelineError {
	return &PipelineError{Kind: KindIPFS, Err: err}
}

func blockchainFailure(err error) *PipelineError {
	return &PipelineError{Kind: KindBlockchain, Err: err}
}
