// Package syncengine implements the Sync Engine (spec.md §4.7): the
// orchestrator that fetches a batch of blocks in parallel, validates
// them, detects reorgs, and commits everything atomically. The checkpoint
// compare-and-set runs inside the same write transaction, just before
// commit; there is no separate advance step after commit.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsync-io/evmsync/internal/block"
	"github.com/chainsync-io/evmsync/internal/checkpoint"
	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/metrics"
	"github.com/chainsync-io/evmsync/internal/reorg"
	"github.com/chainsync-io/evmsync/internal/transfer"
	"github.com/chainsync-io/evmsync/internal/validator"
)

// BatchCap is the hard ceiling on a single batch's block count regardless
// of the configured BATCH_SIZE, bounding memory (spec.md §4.7.1).
const BatchCap = 1000

// DefaultBatchSize is the default batch size absent configuration.
const DefaultBatchSize = 100

// Engine is the Sync Engine.
type Engine struct {
	pool         *pgxpool.Pool
	rpc          RPCClient
	blocks       *block.Repository
	transfers    *transfer.Repository
	checkpoints  *checkpoint.Store
	reorgHandler *reorg.Handler
	tokenAddress common.Address
	log          *logger.Logger
	clock        func() time.Time
}

// Config bundles the Engine's collaborators.
type Config struct {
	Pool         *pgxpool.Pool
	RPC          RPCClient
	Blocks       *block.Repository
	Transfers    *transfer.Repository
	Checkpoints  *checkpoint.Store
	ReorgHandler *reorg.Handler
	TokenAddress common.Address
	Log          *logger.Logger
}

// NewEngine builds a Sync Engine from its collaborators.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		pool:         cfg.Pool,
		rpc:          cfg.RPC,
		blocks:       cfg.Blocks,
		transfers:    cfg.Transfers,
		checkpoints:  cfg.Checkpoints,
		reorgHandler: cfg.ReorgHandler,
		tokenAddress: cfg.TokenAddress,
		log:          cfg.Log.WithComponent("sync-engine"),
		clock:        time.Now,
	}
}

// BatchResult reports what one SyncBatch call accomplished.
type BatchResult struct {
	FromBlock       uint64
	ToBlock         uint64
	BlocksWritten   int
	TransfersWritten int64
	Reorg           *reorg.Result
}

// SyncBatch runs the full fail-fast, atomic batch algorithm of
// spec.md §4.7.2 over the inclusive range [fromBlock, toBlock]. The
// caller must already hold the advisory lock for chainID.
func (e *Engine) SyncBatch(ctx context.Context, chainID *big.Int, fromBlock, toBlock uint64, expectedParentHash string) (*BatchResult, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("syncengine: fromBlock %d > toBlock %d", fromBlock, toBlock)
	}
	size := int(toBlock-fromBlock) + 1
	if size > BatchCap {
		return nil, &ErrBatchTooLarge{Size: size, Cap: BatchCap}
	}

	start := time.Now()
	defer func() {
		metrics.BatchDurationObserve(chainID.String(), time.Since(start))
	}()

	// Phase 1 + 2: parallel fetch, in-memory validation, intra-batch
	// continuity check.
	blocks, err := fetchAndValidateBlocks(ctx, e.rpc, chainID, fromBlock, toBlock, expectedParentHash, e.clock())
	var candidate *ReorgCandidate
	if err != nil {
		if !asReorgCandidate(err, &candidate) {
			return nil, err
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var reorgResult *reorg.Result

	// Phase 3: DB-anchored continuity check, only when the caller did not
	// already supply expectedParentHash (spec.md §4.7.2 Phase 3).
	if expectedParentHash == "" && fromBlock > 0 {
		prevNumber := new(big.Int).SetUint64(fromBlock - 1)
		prev, err := e.blocks.FindByNumberForUpdate(ctx, tx, chainID, prevNumber)
		if err != nil {
			return nil, fmt.Errorf("syncengine: lookup predecessor block: %w", err)
		}
		if prev != nil && len(blocks) > 0 && blocks[0].ParentHash != prev.Hash {
			candidate = &ReorgCandidate{AtBlock: fromBlock, ExpectedParent: prev.Hash, ActualParent: blocks[0].ParentHash}
		}
	}

	if candidate != nil {
		reorgResult, err = e.reorgHandler.Rollback(ctx, tx, chainID, fromBlock)
		if err != nil {
			return nil, err
		}
	}

	// Phase 4: atomic write.
	upserted, err := e.blocks.UpsertMany(ctx, tx, blocks)
	if err != nil {
		return nil, err
	}

	transferTopic := validator.TransferEventTopic
	transfers, err := decodeTransferLogs(ctx, e.rpc, chainID, e.tokenAddress, transferTopic, fromBlock, toBlock)
	if err != nil {
		// No logs, no confirmation: roll back the block writes too.
		return nil, fmt.Errorf("syncengine: transfer log fetch failed, rolling back block writes: %w", err)
	}

	transfersWritten, err := e.transfers.SaveMany(ctx, tx, transfers)
	if err != nil {
		return nil, err
	}

	if err := e.verifyWrite(ctx, tx, chainID, blocks); err != nil {
		return nil, err
	}

	currentNext := new(big.Int).SetUint64(fromBlock)
	confirmedBlock := new(big.Int).SetUint64(toBlock)
	nextBlock := new(big.Int).SetUint64(toBlock + 1)
	if err := e.checkpoints.Advance(ctx, tx, chainID, currentNext, nextBlock, confirmedBlock); err != nil {
		if errors.Is(err, checkpoint.ErrCASFailed) {
			return nil, &ErrCheckpointAdvanceFailed{ChainID: chainID.String()}
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("syncengine: commit transaction: %w", err)
	}

	metrics.BlocksIndexedAdd(chainID.String(), len(blocks))
	metrics.TransfersIndexedAdd(chainID.String(), int(transfersWritten))

	e.log.Infow("batch synced",
		"chain_id", chainID.String(),
		"from_block", fromBlock,
		"to_block", toBlock,
		"blocks_written", len(upserted),
		"transfers_written", transfersWritten,
	)

	return &BatchResult{
		FromBlock:        fromBlock,
		ToBlock:          toBlock,
		BlocksWritten:    len(upserted),
		TransfersWritten: transfersWritten,
		Reorg:            reorgResult,
	}, nil
}

// PredecessorHash returns the locally stored hash at the given height, for
// the Poll Loop to pin the next batch's expectedParentHash against
// (spec.md §4.9).
func (e *Engine) PredecessorHash(ctx context.Context, chainID *big.Int, height uint64) (string, error) {
	b, err := e.blocks.FindByNumber(ctx, chainID, new(big.Int).SetUint64(height))
	if err != nil {
		return "", fmt.Errorf("syncengine: predecessor hash at %d: %w", height, err)
	}
	if b == nil {
		return "", nil
	}
	return b.Hash, nil
}

// verifyWrite re-selects the inserted block numbers inside the still-open
// transaction and fails the batch on any count mismatch (spec.md §4.7.2
// Phase 4 "Verify").
func (e *Engine) verifyWrite(ctx context.Context, tx pgx.Tx, chainID *big.Int, blocks []*validator.Block) error {
	matched := 0
	for _, b := range blocks {
		got, err := e.blocks.FindByNumberForUpdate(ctx, tx, chainID, b.Number)
		if err != nil {
			return fmt.Errorf("syncengine: verify write for block %s: %w", b.Number.String(), err)
		}
		if got != nil && got.Hash == b.Hash {
			matched++
		}
	}
	if matched != len(blocks) {
		return &ErrWriteVerification{ChainID: chainID.String(), Expected: len(blocks), Actual: matched}
	}
	return nil
}

func asReorgCandidate(err error, out **ReorgCandidate) bool {
	if c, ok := err.(*ReorgCandidate); ok {
		*out = c
		return true
	}
	return false
}
