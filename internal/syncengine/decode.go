package syncengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	rpcpkg "github.com/chainsync-io/evmsync/internal/rpc"
	"github.com/chainsync-io/evmsync/internal/validator"
)

// RPCClient is the subset of internal/rpc.Client the Sync Engine needs.
type RPCClient interface {
	BatchBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error)
	Logs(ctx context.Context, tokenAddress common.Address, topic common.Hash, fromBlock, toBlock uint64) ([]types.Log, error)
}

// fetchAndValidateBlocks runs Phase 1 (parallel fetch, delegated to the
// RPC client's own batching) and Phase 2 (in-memory validation and
// intra-batch chain-continuity check) of spec.md §4.7.2.
func fetchAndValidateBlocks(
	ctx context.Context,
	rpc RPCClient,
	chainID *big.Int,
	fromBlock, toBlock uint64,
	expectedParentHash string,
	now time.Time,
) ([]*validator.Block, error) {
	blockNums := make([]uint64, 0, toBlock-fromBlock+1)
	for n := fromBlock; n <= toBlock; n++ {
		blockNums = append(blockNums, n)
	}

	headers, err := rpc.BatchBlockHeaders(ctx, blockNums)
	if err != nil {
		// Non-transient upstream errors (e.g. -32602 invalid params) are not
		// fetch failures a gap retry could heal.
		var nonRetryable *rpcpkg.NonRetryableError
		if errors.As(err, &nonRetryable) {
			return nil, fmt.Errorf("syncengine: fetch blocks %d-%d: %w", fromBlock, toBlock, err)
		}
		return nil, &ErrBlockFetchError{BlockNumber: fromBlock, Err: err}
	}

	blocks := make([]*validator.Block, len(headers))
	for i, h := range headers {
		b, err := validator.ParseBlockHeader(chainID, h, now)
		if err != nil {
			return nil, fmt.Errorf("syncengine: validate block %d: %w", h.Number.Uint64(), err)
		}
		blocks[i] = b
	}

	// A mismatch against expectedParentHash only means the *local* chain
	// tip is stale (a reorg candidate) — the fetched range itself is still
	// internally valid, so intra-batch continuity is still checked in
	// full, and the validated blocks are returned alongside the
	// ReorgCandidate error rather than discarded, so the caller can write
	// them straight through once it has rolled the local tail back.
	var candidate *ReorgCandidate
	for i, b := range blocks {
		if i == 0 {
			if expectedParentHash != "" && b.ParentHash != expectedParentHash {
				candidate = &ReorgCandidate{AtBlock: b.Number.Uint64(), ExpectedParent: expectedParentHash, ActualParent: b.ParentHash}
			}
			continue
		}
		if b.ParentHash != blocks[i-1].Hash {
			return nil, &ErrChainDiscontinuity{
				ChainID:  chainID.String(),
				AtBlock:  b.Number.Uint64(),
				Expected: blocks[i-1].Hash,
				Actual:   b.ParentHash,
			}
		}
	}

	if candidate != nil {
		return blocks, candidate
	}
	return blocks, nil
}

// decodeTransferLogs fetches and decodes the ERC-20 Transfer logs for the
// batch range, strictly within the caller's open transaction window
// (spec.md §4.7.2 Phase 4 "no logs, no confirmation").
func decodeTransferLogs(ctx context.Context, rpc RPCClient, chainID *big.Int, tokenAddress common.Address, topic common.Hash, fromBlock, toBlock uint64) ([]*validator.Transfer, error) {
	logs, err := rpc.Logs(ctx, tokenAddress, topic, fromBlock, toBlock)
	if err != nil {
		return nil, fmt.Errorf("syncengine: fetch transfer logs: %w", err)
	}

	transfers := make([]*validator.Transfer, len(logs))
	for i := range logs {
		t, err := validator.DecodeTransferLog(chainID, &logs[i])
		if err != nil {
			return nil, fmt.Errorf("syncengine: decode transfer log %s#%d: %w", logs[i].TxHash.Hex(), logs[i].Index, err)
		}
		transfers[i] = t
	}

	return transfers, nil
}

// ReorgCandidate signals that Phase 2's expectedParentHash check failed,
// meaning Phase 3/§4.8 must run instead of treating it as fatal.
type ReorgCandidate struct {
	AtBlock        uint64
	ExpectedParent string
	ActualParent   string
}

func (e *ReorgCandidate) Error() string {
	return fmt.Sprintf("syncengine: reorg candidate at block %d: expected parent %s got %s", e.AtBlock, e.ExpectedParent, e.ActualParent)
}
