// Package health implements the liveness/readiness probes described in
// spec.md §4.10: a liveness check that only fails during shutdown, and a
// readiness check that fans out to the database and RPC pool and compares
// sync lag against a configured threshold, with its result cached for five
// seconds to damp upstream load.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// cacheTTL is how long a computed readiness result is reused before the
// dependency checks run again (spec.md §4.10).
const cacheTTL = 5 * time.Second

// Pinger is satisfied by anything whose reachability can be checked with a
// single round trip: the database pool, the RPC pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HeadSource reports the current remote chain head.
type HeadSource interface {
	ChainHead(ctx context.Context) (uint64, error)
}

// CheckpointSource reports the next block the sync engine will process.
type CheckpointSource interface {
	NextBlock(ctx context.Context) (uint64, error)
}

// Prober answers liveness and readiness queries for the health HTTP server.
type Prober struct {
	db                Pinger
	rpc               Pinger
	head              HeadSource
	checkpoint        CheckpointSource
	readinessLagLimit uint64

	mu         sync.Mutex
	shuttingDown bool
	cachedAt   time.Time
	cachedOK   bool
	cachedErr  error
}

// NewProber wires the dependency checks the readiness probe fans out to.
func NewProber(db, rpc Pinger, head HeadSource, checkpoint CheckpointSource, readinessLagLimit uint64) *Prober {
	return &Prober{
		db:                db,
		rpc:               rpc,
		head:              head,
		checkpoint:        checkpoint,
		readinessLagLimit: readinessLagLimit,
	}
}

// MarkShuttingDown flips liveness to unhealthy; called once the process has
// begun graceful shutdown so load balancers stop routing new traffic here.
func (p *Prober) MarkShuttingDown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shuttingDown = true
}

// Live reports liveness: OK unless the process is shutting down.
func (p *Prober) Live() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shuttingDown {
		return fmt.Errorf("health: process is shutting down")
	}
	return nil
}

// Ready reports readiness: DB reachable, RPC reachable, and sync lag within
// the configured threshold. The result is cached for cacheTTL.
func (p *Prober) Ready(ctx context.Context) error {
	p.mu.Lock()
	if time.Since(p.cachedAt) < cacheTTL {
		err := p.cachedErr
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	err := p.computeReadiness(ctx)

	p.mu.Lock()
	p.cachedAt = time.Now()
	p.cachedOK = err == nil
	p.cachedErr = err
	p.mu.Unlock()

	return err
}

func (p *Prober) computeReadiness(ctx context.Context) error {
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("health: database unreachable: %w", err)
	}
	if err := p.rpc.Ping(ctx); err != nil {
		return fmt.Errorf("health: rpc unreachable: %w", err)
	}

	head, err := p.head.ChainHead(ctx)
	if err != nil {
		return fmt.Errorf("health: could not fetch chain head: %w", err)
	}
	next, err := p.checkpoint.NextBlock(ctx)
	if err != nil {
		return fmt.Errorf("health: could not fetch checkpoint: %w", err)
	}

	if head < next {
		// Nothing to do yet; not behind.
		return nil
	}
	lag := head - next
	if lag > p.readinessLagLimit {
		return fmt.Errorf("health: sync lag %d exceeds readiness threshold %d", lag, p.readinessLagLimit)
	}
	return nil
}
