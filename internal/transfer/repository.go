// Package transfer implements the Transfer Repository component
// (spec.md §4.3): idempotent bulk persistence of decoded ERC-20 Transfer
// events and the read paths over them.
package transfer

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
	"github.com/chainsync-io/evmsync/internal/validator"
)

// Repository is the Transfer Repository.
type Repository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewRepository builds a Repository bound to the shared connection pool.
func NewRepository(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{pool: pool, log: log.WithComponent("transfer-repository")}
}

// SaveMany bulk-inserts decoded transfers inside the caller's transaction.
// Conflicts on (chain_id, block_number, log_index) are silently skipped:
// this is what makes replaying an already-indexed batch idempotent
// (spec.md §4.3, §4.8).
func (r *Repository) SaveMany(ctx context.Context, tx pgx.Tx, transfers []*validator.Transfer) (int64, error) {
	const query = `
		INSERT INTO transfers (
			chain_id, block_number, transaction_hash, log_index,
			from_address, to_address, token_address, amount
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chain_id, block_number, log_index) DO NOTHING`

	var saved int64
	start := time.Now()
	for _, t := range transfers {
		tag, err := tx.Exec(ctx, query,
			db.NumericString(t.ChainID),
			db.NumericString(t.BlockNumber),
			t.TransactionHash,
			t.LogIndex,
			t.FromAddress,
			t.ToAddress,
			t.TokenAddress,
			db.NumericString(t.Amount),
		)
		if err != nil {
			metrics.DBErrorInc("transfer_save", "exec")
			return saved, fmt.Errorf("transfer: save transfer %s#%d: %w", t.TransactionHash, t.LogIndex, err)
		}
		saved += tag.RowsAffected()
	}
	metrics.DBWriteLatencyObserve("transfer_save_many", time.Since(start))

	return saved, nil
}

// FindByBlockRange returns every transfer with chainId/blockNumber in
// [from, to], ordered by (block_number, log_index).
func (r *Repository) FindByBlockRange(ctx context.Context, chainID, from, to *big.Int) ([]*validator.Transfer, error) {
	const query = `
		SELECT chain_id::text, block_number::text, transaction_hash, log_index,
		       from_address, to_address, token_address, amount::text
		FROM transfers
		WHERE chain_id = $1 AND block_number BETWEEN $2 AND $3
		ORDER BY block_number, log_index`

	rows, err := r.pool.Query(ctx, query,
		db.NumericString(chainID), db.NumericString(from), db.NumericString(to))
	if err != nil {
		return nil, fmt.Errorf("transfer: find by block range: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// FindByAddress returns every transfer where the address appears as
// sender or recipient, most recent block first.
func (r *Repository) FindByAddress(ctx context.Context, chainID *big.Int, address string, limit int) ([]*validator.Transfer, error) {
	const query = `
		SELECT chain_id::text, block_number::text, transaction_hash, log_index,
		       from_address, to_address, token_address, amount::text
		FROM transfers
		WHERE chain_id = $1 AND (from_address = $2 OR to_address = $2)
		ORDER BY block_number DESC, log_index DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, db.NumericString(chainID), address, limit)
	if err != nil {
		return nil, fmt.Errorf("transfer: find by address: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// CountByBlockRange returns the number of transfers stored in [from, to].
// The sync engine does not call it; its write verification checks blocks only.
func (r *Repository) CountByBlockRange(ctx context.Context, chainID, from, to *big.Int) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM transfers WHERE chain_id = $1 AND block_number BETWEEN $2 AND $3`,
		db.NumericString(chainID), db.NumericString(from), db.NumericString(to),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("transfer: count by block range: %w", err)
	}
	return count, nil
}

func scanTransfers(rows pgx.Rows) ([]*validator.Transfer, error) {
	var out []*validator.Transfer
	for rows.Next() {
		var chainIDStr, blockNumberStr, txHash, from, to, token, amountStr string
		var logIndex uint32
		if err := rows.Scan(&chainIDStr, &blockNumberStr, &txHash, &logIndex, &from, &to, &token, &amountStr); err != nil {
			return nil, fmt.Errorf("transfer: scan row: %w", err)
		}

		chainID, err := db.ParseNumeric(chainIDStr)
		if err != nil {
			return nil, err
		}
		blockNumber, err := db.ParseNumeric(blockNumberStr)
		if err != nil {
			return nil, err
		}
		amount, err := db.ParseNumeric(amountStr)
		if err != nil {
			return nil, err
		}

		out = append(out, &validator.Transfer{
			ChainID:         chainID,
			BlockNumber:     blockNumber,
			TransactionHash: txHash,
			LogIndex:        logIndex,
			FromAddress:     from,
			ToAddress:       to,
			TokenAddress:    token,
			Amount:          amount,
		})
	}
	return out, rows.Err()
}
