// Package reorg implements the Reorg Handler component (spec.md §4.8):
// walking backwards to the common ancestor with the upstream chain and
// rolling back local history to it, all inside the Sync Engine's single
// write transaction.
package reorg

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"

	"github.com/chainsync-io/evmsync/internal/block"
	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/metrics"
	"github.com/chainsync-io/evmsync/internal/validator"
)

// MaxReorgDepth bounds the backward walk for a common ancestor
// (spec.md §4.8: "MAX_REORG_DEPTH = 1000 at the repository level").
const MaxReorgDepth = block.MaxReorgDepth

// HeaderFetcher is the subset of the RPC Client the Handler needs to walk
// backwards comparing upstream headers against local history.
type HeaderFetcher interface {
	BlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)
}

// BlockStore is the subset of the Block Repository the Handler needs: a
// row lookup to compare hashes and a cascading delete to roll back to the
// common ancestor. Narrowed to an interface so the walk can be tested
// without a live database.
type BlockStore interface {
	FindByNumberForUpdate(ctx context.Context, tx pgx.Tx, chainID, number *big.Int) (*validator.Block, error)
	DeleteAfter(ctx context.Context, tx pgx.Tx, chainID, number *big.Int) (int64, error)
}

// Handler is the Reorg Handler.
type Handler struct {
	blocks BlockStore
	rpc    HeaderFetcher
	log    *logger.Logger
}

// NewHandler builds a Handler bound to the Block Repository and an RPC
// header source.
func NewHandler(blocks *block.Repository, rpc HeaderFetcher, log *logger.Logger) *Handler {
	return &Handler{blocks: blocks, rpc: rpc, log: log.WithComponent("reorg-handler")}
}

// Result reports the outcome of a rollback for the caller to resume
// syncing from.
type Result struct {
	AncestorHeight *big.Int
	AncestorHash   string
	Depth          uint64
	RowsDeleted    int64
}

// Rollback walks backwards from newBlockHeight-1 to find the highest
// height whose locally stored hash still matches the upstream chain, then
// deletes every local block above it inside tx (cascading to Transfers).
// It must be called from within the Sync Engine's single write
// transaction per spec.md §4.7.3 — the handler never opens its own.
func (h *Handler) Rollback(ctx context.Context, tx pgx.Tx, chainID *big.Int, newBlockHeight uint64) (*Result, error) {
	ancestorHeight, ancestorHash, depth, err := h.findCommonAncestor(ctx, tx, chainID, newBlockHeight)
	if err != nil {
		return nil, err
	}

	if depth > MaxReorgDepth {
		return nil, &ErrReorgTooDeep{
			ChainID: chainID.String(),
			Height:  fmt.Sprintf("%d", newBlockHeight),
			Depth:   depth,
			Max:     MaxReorgDepth,
		}
	}

	rowsDeleted, err := h.blocks.DeleteAfter(ctx, tx, chainID, ancestorHeight)
	if err != nil {
		return nil, fmt.Errorf("reorg: delete after ancestor %s: %w", ancestorHeight.String(), err)
	}

	metrics.ReorgObserve(chainID.String(), depth)
	h.log.Warnw("reorg handled",
		"chain_id", chainID.String(),
		"ancestor_height", ancestorHeight.String(),
		"ancestor_hash", ancestorHash,
		"depth", depth,
		"rows_deleted", rowsDeleted,
	)

	return &Result{
		AncestorHeight: ancestorHeight,
		AncestorHash:   ancestorHash,
		Depth:          depth,
		RowsDeleted:    rowsDeleted,
	}, nil
}

// findCommonAncestor walks backwards from newBlockHeight-1, comparing the
// locally stored hash at each height against the upstream header, until
// it finds a match or exhausts local history / MaxReorgDepth+1 steps.
func (h *Handler) findCommonAncestor(ctx context.Context, tx pgx.Tx, chainID *big.Int, newBlockHeight uint64) (*big.Int, string, uint64, error) {
	if newBlockHeight == 0 {
		return nil, "", 0, &ErrConvergenceFailed{ChainID: chainID.String()}
	}

	var depth uint64
	for height := newBlockHeight - 1; ; height-- {
		depth = newBlockHeight - 1 - height + 1

		number := new(big.Int).SetUint64(height)
		local, err := h.blocks.FindByNumberForUpdate(ctx, tx, chainID, number)
		if err != nil {
			return nil, "", depth, fmt.Errorf("reorg: find local block %d: %w", height, err)
		}
		if local == nil {
			return nil, "", depth, &ErrConvergenceFailed{ChainID: chainID.String()}
		}

		upstream, err := h.rpc.BlockHeader(ctx, height)
		if err != nil {
			return nil, "", depth, fmt.Errorf("reorg: fetch upstream header %d: %w", height, err)
		}

		if upstream.Hash().Hex() == local.Hash {
			return number, local.Hash, depth, nil
		}

		if depth > MaxReorgDepth {
			return nil, "", depth, &ErrReorgTooDeep{
				ChainID: chainID.String(),
				Height:  fmt.Sprintf("%d", newBlockHeight),
				Depth:   depth,
				Max:     MaxReorgDepth,
			}
		}

		if height == 0 {
			return nil, "", depth, &ErrConvergenceFailed{ChainID: chainID.String()}
		}
	}
}

