// Package lock implements the Advisory Lock component (spec.md §4.5): a
// database-backed mutex enforcing single-writer semantics per chain.
package lock

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainsync-io/evmsync/internal/logger"
)

// ErrAlreadyHeld is returned by Acquire when another instance holds the lock.
// Per spec.md §4.5/§7, this is non-fatal: the caller exits with status 0.
var ErrAlreadyHeld error = alreadyHeldError{}

type alreadyHeldError struct{}

func (alreadyHeldError) Error() string { return "lock: another instance is syncing" }

// Key derives the stable 64-bit advisory-lock key for a chain from the
// fixed-seed hash of "block-sync:<chainId>" (spec.md §9, "Lock identity
// stability"). FNV-1a is used because it is deterministic across processes
// and versions without requiring a seed to be distributed.
func Key(chainID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("block-sync:" + chainID))
	// Postgres advisory lock keys are signed bigint; truncating the 64-bit
	// hash into int64's range by reinterpreting the bit pattern is lossless
	// and still deterministic.
	return int64(h.Sum64())
}

// AdvisoryLock holds one dedicated, long-lived session against which
// pg_try_advisory_lock/pg_advisory_unlock are issued. The lock is
// automatically released if this session is lost, which is the behavior
// spec.md §4.5 relies on for crash safety.
type AdvisoryLock struct {
	conn    *pgxpool.Conn
	key     int64
	chainID string
	log     *logger.Logger
	held    bool
}

// Acquire attempts to take the named chain's lock using a fresh dedicated
// connection checked out of pool for the lifetime of the lock. It does not
// wait or poll: on failure it returns ErrAlreadyHeld immediately, matching
// spec.md §4.5's "does not wait or poll" policy.
func Acquire(ctx context.Context, pool *pgxpool.Pool, chainID string, log *logger.Logger) (*AdvisoryLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock: failed to acquire dedicated session: %w", err)
	}

	key := Key(chainID)

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("lock: pg_try_advisory_lock failed: %w", err)
	}

	if !acquired {
		conn.Release()
		log.WithComponent("advisory-lock").Infow("another instance is syncing", "chain_id", chainID, "key", key)
		return nil, ErrAlreadyHeld
	}

	return &AdvisoryLock{
		conn:    conn,
		key:     key,
		chainID: chainID,
		log:     log.WithComponent("advisory-lock"),
		held:    true,
	}, nil
}

// Verify re-checks that this session still considers the lock held by
// issuing a cheap round trip against it (the "verify possession
// periodically" alternative spec.md §4.5 allows in place of relying purely
// on session survival).
func (l *AdvisoryLock) Verify(ctx context.Context) error {
	var alive bool
	if err := l.conn.QueryRow(ctx, "SELECT true").Scan(&alive); err != nil {
		l.held = false
		return fmt.Errorf("lock: session unreachable, lock may have been lost: %w", err)
	}
	return nil
}

// Held reports whether this process still believes it owns the lock.
func (l *AdvisoryLock) Held() bool {
	return l.held
}

// Release explicitly unlocks and returns the dedicated connection to the
// pool. Called during graceful shutdown (spec.md §5 cancellation semantics,
// step 4).
func (l *AdvisoryLock) Release(ctx context.Context) error {
	if !l.held {
		l.conn.Release()
		return nil
	}

	var unlocked bool
	err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&unlocked)
	l.conn.Release()
	l.held = false

	if err != nil {
		return fmt.Errorf("lock: pg_advisory_unlock failed: %w", err)
	}
	if !unlocked {
		l.log.Warnw("pg_advisory_unlock reported no lock held", "chain_id", l.chainID, "key", l.key)
	}
	return nil
}
