// Package checkpoint implements the Checkpoint Store component
// (spec.md §4.4): durable tracking of per-chain sync progress and the
// gap ledger used to retry ranges the engine failed to index cleanly.
package checkpoint

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsync-io/evmsync/internal/db"
	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/metrics"
)

// Status is the per-chain sync progress snapshot (spec.md §4.4).
type Status struct {
	ChainID        *big.Int
	NextBlock      *big.Int
	ConfirmedBlock *big.Int
	HeadBlock      *big.Int
}

// GapStatus enumerates sync_gaps.status.
type GapStatus string

const (
	GapPending   GapStatus = "pending"
	GapRetrying  GapStatus = "retrying"
	GapFilled    GapStatus = "filled"
	GapAbandoned GapStatus = "abandoned"
)

// MaxGapRetries bounds how many times a gap is retried before it is
// marked abandoned and surfaced for operator attention (spec.md §4.4,
// §4.9 "gaps are retried with backoff up to a bounded attempt count").
const MaxGapRetries = 10

// Gap is one row of the gap ledger.
type Gap struct {
	ChainID      *big.Int
	Start        *big.Int
	End          *big.Int
	Status       GapStatus
	RetryCount   int
	ErrorMessage string
}

// Store is the Checkpoint Store.
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewStore builds a Store bound to the shared connection pool.
func NewStore(pool *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{pool: pool, log: log.WithComponent("checkpoint-store")}
}

// NextBlock reports the next block the sync engine will attempt to index
// for the given chain.
func (s *Store) NextBlock(ctx context.Context, chainID *big.Int) (uint64, error) {
	status, err := s.GetStatus(ctx, chainID)
	if err != nil {
		return 0, err
	}
	if status == nil {
		return 0, nil
	}
	return status.NextBlock.Uint64(), nil
}

// ForChain binds a Store to one chain ID, satisfying health.CheckpointSource
// (spec.md §4.10) for a process that indexes a single chain.
func (s *Store) ForChain(chainID *big.Int) *ChainBinding {
	return &ChainBinding{store: s, chainID: chainID}
}

// ChainBinding adapts Store to the single-chain-per-process health interface.
type ChainBinding struct {
	store   *Store
	chainID *big.Int
}

// NextBlock satisfies health.CheckpointSource.
func (c *ChainBinding) NextBlock(ctx context.Context) (uint64, error) {
	return c.store.NextBlock(ctx, c.chainID)
}

// GetStatus returns the current sync status for a chain, or nil if the
// chain has never been initialized.
func (s *Store) GetStatus(ctx context.Context, chainID *big.Int) (*Status, error) {
	const query = `SELECT chain_id::text, next_block::text, confirmed_block::text, head_block::text FROM sync_status WHERE chain_id = $1`

	var chainIDStr, nextStr, confirmedStr, headStr string
	err := s.pool.QueryRow(ctx, query, db.NumericString(chainID)).
		Scan(&chainIDStr, &nextStr, &confirmedStr, &headStr)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("checkpoint: get status: %w", err)
	}

	return rowToStatus(chainIDStr, nextStr, confirmedStr, headStr)
}

func rowToStatus(chainIDStr, nextStr, confirmedStr, headStr string) (*Status, error) {
	chainID, err := db.ParseNumeric(chainIDStr)
	if err != nil {
		return nil, err
	}
	next, err := db.ParseNumeric(nextStr)
	if err != nil {
		return nil, err
	}
	confirmed, err := db.ParseNumeric(confirmedStr)
	if err != nil {
		return nil, err
	}
	head, err := db.ParseNumeric(headStr)
	if err != nil {
		return nil, err
	}
	return &Status{ChainID: chainID, NextBlock: next, ConfirmedBlock: confirmed, HeadBlock: head}, nil
}

// Initialize creates the sync_status row for a chain if it does not
// already exist, starting at the given block.
func (s *Store) Initialize(ctx context.Context, chainID, startBlock *big.Int) error {
	const query = `
		INSERT INTO sync_status (chain_id, next_block, confirmed_block, head_block)
		VALUES ($1, $2, $2, $2)
		ON CONFLICT (chain_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query, db.NumericString(chainID), db.NumericString(startBlock))
	if err != nil {
		return fmt.Errorf("checkpoint: initialize: %w", err)
	}
	return nil
}

// ErrCASFailed is returned by Advance when no row matched expectedNext:
// another writer moved next_block first, which should never happen while
// the advisory lock invariant holds (spec.md §4.7.2 Phase 5).
var ErrCASFailed = fmt.Errorf("checkpoint: compare-and-swap failed, concurrent writer suspected")

// Advance moves next_block/confirmed_block forward inside the caller's
// transaction, atomically with the block/transfer writes it checkpoints
// (spec.md §4.4's "checkpoint update is part of the same transaction as
// the data it checkpoints"). The update is a compare-and-swap guarded on
// the pre-batch next_block value, so a second writer clobbering the
// checkpoint out from under the advisory-lock holder is detected rather
// than silently overwritten.
func (s *Store) Advance(ctx context.Context, tx pgx.Tx, chainID, expectedCurrentNext, nextBlock, confirmedBlock *big.Int) error {
	const query = `
		UPDATE sync_status
		SET next_block = $3, confirmed_block = $4, updated_at = now()
		WHERE chain_id = $1 AND next_block = $2`

	start := time.Now()
	tag, err := tx.Exec(ctx, query,
		db.NumericString(chainID), db.NumericString(expectedCurrentNext),
		db.NumericString(nextBlock), db.NumericString(confirmedBlock))
	metrics.DBWriteLatencyObserve("checkpoint_advance", time.Since(start))
	if err != nil {
		metrics.DBErrorInc("checkpoint_advance", "exec")
		return fmt.Errorf("checkpoint: advance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCASFailed
	}
	return nil
}

// SetHeadBlock records the latest observed remote chain head, used only
// for lag reporting (spec.md §4.10 sync_lag_blocks).
func (s *Store) SetHeadBlock(ctx context.Context, chainID, head *big.Int) error {
	const query = `UPDATE sync_status SET head_block = $2, updated_at = now() WHERE chain_id = $1`
	_, err := s.pool.Exec(ctx, query, db.NumericString(chainID), db.NumericString(head))
	if err != nil {
		return fmt.Errorf("checkpoint: set head block: %w", err)
	}
	return nil
}

// RecordGap inserts a new gap row as pending. If the same range already
// exists and is abandoned, its status is set back to pending; retry_count
// and the other bookkeeping columns are kept, and a gap in any other state
// is left unchanged (spec.md §4.4, §4.9).
func (s *Store) RecordGap(ctx context.Context, chainID, start, end *big.Int) error {
	const query = `
		INSERT INTO sync_gaps (chain_id, gap_start, gap_end, status)
		VALUES ($1, $2, $3, 'pending')
		ON CONFLICT (chain_id, gap_start, gap_end) DO UPDATE
			SET status = 'pending'
			WHERE sync_gaps.status = 'abandoned'`

	_, err := s.pool.Exec(ctx, query, db.NumericString(chainID), db.NumericString(start), db.NumericString(end))
	if err != nil {
		return fmt.Errorf("checkpoint: record gap: %w", err)
	}
	return nil
}

// PendingGaps returns gaps in 'pending' or 'retrying' state for a chain,
// oldest first, for the gap-filling worker to process.
func (s *Store) PendingGaps(ctx context.Context, chainID *big.Int) ([]*Gap, error) {
	const query = `
		SELECT chain_id::text, gap_start::text, gap_end::text, status, retry_count, coalesce(error_message, '')
		FROM sync_gaps
		WHERE chain_id = $1 AND status IN ('pending', 'retrying')
		ORDER BY detected_at`

	rows, err := s.pool.Query(ctx, query, db.NumericString(chainID))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: pending gaps: %w", err)
	}
	defer rows.Close()

	var gaps []*Gap
	for rows.Next() {
		var chainIDStr, startStr, endStr, status, errMsg string
		var retryCount int
		if err := rows.Scan(&chainIDStr, &startStr, &endStr, &status, &retryCount, &errMsg); err != nil {
			return nil, fmt.Errorf("checkpoint: scan gap: %w", err)
		}
		chainID, err := db.ParseNumeric(chainIDStr)
		if err != nil {
			return nil, err
		}
		start, err := db.ParseNumeric(startStr)
		if err != nil {
			return nil, err
		}
		end, err := db.ParseNumeric(endStr)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, &Gap{
			ChainID:      chainID,
			Start:        start,
			End:          end,
			Status:       GapStatus(status),
			RetryCount:   retryCount,
			ErrorMessage: errMsg,
		})
	}
	return gaps, rows.Err()
}

// MarkFilled marks a gap as successfully backfilled.
func (s *Store) MarkFilled(ctx context.Context, chainID, start, end *big.Int) error {
	const query = `UPDATE sync_gaps SET status = 'filled' WHERE chain_id = $1 AND gap_start = $2 AND gap_end = $3`
	_, err := s.pool.Exec(ctx, query, db.NumericString(chainID), db.NumericString(start), db.NumericString(end))
	if err != nil {
		return fmt.Errorf("checkpoint: mark filled: %w", err)
	}
	return nil
}

// MarkRetryFailed increments retry_count and records the failure; once
// retry_count reaches MaxGapRetries the gap is marked abandoned instead
// of retrying (spec.md §4.9).
func (s *Store) MarkRetryFailed(ctx context.Context, chainID, start, end *big.Int, cause error) error {
	const query = `
		UPDATE sync_gaps
		SET retry_count = retry_count + 1,
		    last_retry_at = now(),
		    error_message = $4,
		    status = CASE WHEN retry_count + 1 >= $5 THEN 'abandoned' ELSE 'retrying' END
		WHERE chain_id = $1 AND gap_start = $2 AND gap_end = $3`

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.pool.Exec(ctx, query,
		db.NumericString(chainID), db.NumericString(start), db.NumericString(end), msg, MaxGapRetries)
	if err != nil {
		return fmt.Errorf("checkpoint: mark retry failed: %w", err)
	}
	return nil
}
