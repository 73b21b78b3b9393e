package syncengine

import "fmt"

// ErrChainDiscontinuity is fatal: the parent hash chain inside a single
// fetched batch does not connect (spec.md §4.7.2 Phase 2 step 3). This
// should not occur from a well-behaved RPC and is not retried.
type ErrChainDiscontinuity struct {
	ChainID  string
	AtBlock  uint64
	Expected string
	Actual   string
}

func (e *ErrChainDiscontinuity) Error() string {
	return fmt.Sprintf("syncengine: chain %s block %d: chain discontinuity, expected parent %s got %s",
		e.ChainID, e.AtBlock, e.Expected, e.Actual)
}

// ErrCheckpointAdvanceFailed is raised when the checkpoint CAS, issued
// inside the write transaction just before commit, does not apply
// (spec.md §4.7.2 Phase 5): this implies a concurrent writer, i.e. the
// advisory-lock invariant was violated. The transaction is rolled back.
type ErrCheckpointAdvanceFailed struct {
	ChainID string
}

func (e *ErrCheckpointAdvanceFailed) Error() string {
	return fmt.Sprintf("syncengine: chain %s: checkpoint advance failed, concurrent writer suspected", e.ChainID)
}

// ErrWriteVerification is raised when the post-insert row count inside
// the write transaction does not match the number of blocks submitted
// (spec.md §4.7.2 Phase 4 "Verify").
type ErrWriteVerification struct {
	ChainID  string
	Expected int
	Actual   int
}

func (e *ErrWriteVerification) Error() string {
	return fmt.Sprintf("syncengine: chain %s: write verification failed, expected %d blocks got %d",
		e.ChainID, e.Expected, e.Actual)
}

// ErrBlockFetchError wraps a Phase 1 failure classified as transient
// (timeout, 5xx, rate limit). The batch is aborted and a gap recorded
// for the caller to retry (spec.md §4.7.2 Phase 1).
type ErrBlockFetchError struct {
	BlockNumber uint64
	Err         error
}

func (e *ErrBlockFetchError) Error() string {
	return fmt.Sprintf("syncengine: fetch block %d: %v", e.BlockNumber, e.Err)
}

func (e *ErrBlockFetchError) Unwrap() error { return e.Err }

// ErrBatchTooLarge is returned when toBlock-fromBlock+1 exceeds BatchCap.
type ErrBatchTooLarge struct {
	Size int
	Cap  int
}

func (e *ErrBatchTooLarge) Error() string {
	return fmt.Sprintf("syncengine: batch size %d exceeds cap %d", e.Size, e.Cap)
}
