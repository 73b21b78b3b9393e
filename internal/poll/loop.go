// Package poll implements the Poll Loop (spec.md §4.9): the outer control
// loop that runs under an advisory lock its caller acquired once, verifies
// that lock each tick, then asks the chain for its head, carves batches off
// the gap between the checkpoint and the confirmed target, and periodically
// runs gap repair.
package poll

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/chainsync-io/evmsync/internal/checkpoint"
	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/metrics"
	"github.com/chainsync-io/evmsync/internal/syncengine"
)

// HeadSource reports the current remote chain head.
type HeadSource interface {
	ChainHead(ctx context.Context) (uint64, error)
}

// Engine is the subset of the Sync Engine the Poll Loop drives: batch
// sync plus the predecessor-hash lookup used to pin expectedParentHash.
type Engine interface {
	SyncBatch(ctx context.Context, chainID *big.Int, fromBlock, toBlock uint64, expectedParentHash string) (*syncengine.BatchResult, error)
	PredecessorHash(ctx context.Context, chainID *big.Int, height uint64) (string, error)
}

// CheckpointStore is the subset of the Checkpoint Store the Poll Loop
// needs: reading progress, recording the observed head, and draining the
// gap ledger.
type CheckpointStore interface {
	GetStatus(ctx context.Context, chainID *big.Int) (*checkpoint.Status, error)
	SetHeadBlock(ctx context.Context, chainID, head *big.Int) error
	RecordGap(ctx context.Context, chainID, start, end *big.Int) error
	PendingGaps(ctx context.Context, chainID *big.Int) ([]*checkpoint.Gap, error)
	MarkFilled(ctx context.Context, chainID, start, end *big.Int) error
	MarkRetryFailed(ctx context.Context, chainID, start, end *big.Int, cause error) error
}

// Locker is satisfied by the Advisory Lock: a liveness check the loop runs
// once per tick, confirming single-writer ownership still holds.
type Locker interface {
	Verify(ctx context.Context) error
}

// Config bundles the Poll Loop's tunables and collaborators.
type Config struct {
	ChainID           *big.Int
	PollInterval      time.Duration
	GapRepairInterval time.Duration
	ConfirmationDepth uint64
	BatchSize         uint64

	Head        HeadSource
	Engine      Engine
	Checkpoints CheckpointStore
	Lock        Locker
	Log         *logger.Logger
}

// Loop is the Poll Loop.
type Loop struct {
	cfg Config
	log *logger.Logger
}

// NewLoop builds a Loop from its configuration.
func NewLoop(cfg Config) *Loop {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = syncengine.DefaultBatchSize
	}
	return &Loop{cfg: cfg, log: cfg.Log.WithComponent("poll-loop")}
}

// Run blocks until ctx is cancelled, ticking every PollInterval and
// running gap repair every GapRepairInterval (spec.md §4.9).
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	gapTicker := time.NewTicker(l.cfg.GapRepairInterval)
	defer gapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				l.log.Errorw("tick failed, will retry next interval", "error", err)
			}
		case <-gapTicker.C:
			if err := l.repairGaps(ctx); err != nil {
				l.log.Errorw("gap repair failed, will retry next interval", "error", err)
			}
		}
	}
}

// tick runs one outer-loop iteration: query head, compute target, drain
// the inner batch loop until caught up or a batch fails.
func (l *Loop) tick(ctx context.Context) error {
	if err := l.cfg.Lock.Verify(ctx); err != nil {
		return err
	}

	head, err := l.cfg.Head.ChainHead(ctx)
	if err != nil {
		return err
	}

	target := int64(head) - int64(l.cfg.ConfirmationDepth)
	if target < 0 {
		target = 0
	}

	status, err := l.cfg.Checkpoints.GetStatus(ctx, l.cfg.ChainID)
	if err != nil {
		return err
	}
	var nextBlock uint64
	if status != nil {
		nextBlock = status.NextBlock.Uint64()
	}

	// sync_lag_blocks = head - (nextBlock - 1), per spec.md §4.10.
	lag := int64(head) - int64(nextBlock) + 1
	if lag < 0 {
		lag = 0
	}
	metrics.SyncLagSet(l.cfg.ChainID.String(), uint64(lag))

	if err := l.cfg.Checkpoints.SetHeadBlock(ctx, l.cfg.ChainID, new(big.Int).SetUint64(head)); err != nil {
		l.log.Warnw("failed to record head block", "error", err)
	}

	for nextBlock <= uint64(target) {
		toBlock := nextBlock + l.cfg.BatchSize - 1
		if toBlock > uint64(target) {
			toBlock = uint64(target)
		}

		expectedParentHash := ""
		if nextBlock > 0 {
			prev, err := l.cfg.Engine.PredecessorHash(ctx, l.cfg.ChainID, nextBlock-1)
			if err != nil {
				return err
			}
			expectedParentHash = prev
		}

		result, err := l.cfg.Engine.SyncBatch(ctx, l.cfg.ChainID, nextBlock, toBlock, expectedParentHash)
		if err != nil {
			var fetchErr *syncengine.ErrBlockFetchError
			if errors.As(err, &fetchErr) {
				if gapErr := l.cfg.Checkpoints.RecordGap(ctx, l.cfg.ChainID, new(big.Int).SetUint64(nextBlock), new(big.Int).SetUint64(toBlock)); gapErr != nil {
					l.log.Errorw("failed to record sync gap", "error", gapErr)
				}
			}
			return err
		}

		l.log.Infow("batch committed", "from_block", result.FromBlock, "to_block", result.ToBlock)
		nextBlock = result.ToBlock + 1

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// RepairGapsOnce runs a single gap-repair pass and returns. Exposed for the
// standalone gap-repair command, which runs one pass and exits rather than
// looping on GapRepairInterval.
func (l *Loop) RepairGapsOnce(ctx context.Context) error {
	return l.repairGaps(ctx)
}

// repairGaps drains the pending gap ledger by re-running SyncBatch over
// each recorded range (spec.md §4.9 "periodically invoke gap repair").
func (l *Loop) repairGaps(ctx context.Context) error {
	gaps, err := l.cfg.Checkpoints.PendingGaps(ctx, l.cfg.ChainID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, gap := range gaps {
		from := gap.Start.Uint64()
		to := gap.End.Uint64()

		expectedParentHash := ""
		if from > 0 {
			prev, err := l.cfg.Engine.PredecessorHash(ctx, l.cfg.ChainID, from-1)
			if err == nil {
				expectedParentHash = prev
			}
		}

		_, err := l.cfg.Engine.SyncBatch(ctx, l.cfg.ChainID, from, to, expectedParentHash)
		if err != nil {
			l.log.Warnw("gap repair attempt failed", "gap_start", from, "gap_end", to, "error", err)
			if markErr := l.cfg.Checkpoints.MarkRetryFailed(ctx, l.cfg.ChainID, gap.Start, gap.End, err); markErr != nil {
				l.log.Errorw("failed to record gap retry", "error", markErr)
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := l.cfg.Checkpoints.MarkFilled(ctx, l.cfg.ChainID, gap.Start, gap.End); err != nil {
			l.log.Errorw("failed to mark gap filled", "error", err)
		}
	}

	return firstErr
}
