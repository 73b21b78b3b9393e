package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/chainsync-io/evmsync/internal/logger"
)

// endpoint is one upstream JSON-RPC connection in the pool.
type endpoint struct {
	url string
	eth *ethclient.Client
	rpc *gethrpc.Client
}

// Pool is a round-robin, timeout-bounded pool over N upstream JSON-RPC
// endpoints with per-endpoint failover, per spec.md §4.1. It never retries
// on its own; retryWithBackoff above it is the sole retry authority.
type Pool struct {
	endpoints      []*endpoint
	next           atomic.Uint64
	requestTimeout time.Duration
	log            *logger.Logger
}

// NewPool dials every endpoint eagerly so a dead endpoint is discovered at
// startup rather than on first use.
func NewPool(ctx context.Context, urls []string, requestTimeout time.Duration, log *logger.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("rpc: at least one endpoint is required")
	}

	eps := make([]*endpoint, 0, len(urls))
	for _, u := range urls {
		dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		rpcClient, err := gethrpc.DialContext(dialCtx, u)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("rpc: failed to dial endpoint %q: %w", u, err)
		}
		eps = append(eps, &endpoint{
			url: u,
			eth: ethclient.NewClient(rpcClient),
			rpc: rpcClient,
		})
	}

	return &Pool{
		endpoints:      eps,
		requestTimeout: requestTimeout,
		log:            log.WithComponent("rpc-pool"),
	}, nil
}

// Close closes every endpoint connection.
func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		ep.eth.Close()
	}
}

// Ping satisfies health.Pinger: the pool is reachable if an endpoint answers
// eth_blockNumber within the request timeout. Like every withFailover call,
// it moves on to the next endpoint only after a transport/5xx/timeout
// failure; a rate-limited or other error ends the check at that endpoint.
func (p *Pool) Ping(ctx context.Context) error {
	_, err := withFailover(p, ctx, "eth_blockNumber", func(ctx context.Context, ep *endpoint) (uint64, error) {
		return ep.eth.BlockNumber(ctx)
	})
	return err
}

// withFailover walks the pool starting at the next round-robin index,
// calling fn against each endpoint in turn. Transport/5xx/timeout errors
// advance to the next endpoint immediately (spec.md §4.1); a rate-limit
// response is returned immediately so the caller's retry loop can back off
// instead of silently rotating past a healthy-but-throttled endpoint.
func withFailover[T any](p *Pool, ctx context.Context, method string, fn func(ctx context.Context, ep *endpoint) (T, error)) (T, error) {
	var zero T
	start := int(p.next.Add(1) - 1)

	var lastErr error
	for i := 0; i < len(p.endpoints); i++ {
		ep := p.endpoints[(start+i)%len(p.endpoints)]

		callStart := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		result, err := fn(callCtx, ep)
		cancel()
		recordLatency(ep.url, method, time.Since(callStart))

		if err == nil {
			recordOutcome(ep.url, method, "success")
			return result, nil
		}

		if isRateLimited(err) {
			recordOutcome(ep.url, method, "rate_limited")
			return zero, fmt.Errorf("%w: endpoint %s: %v", ErrRateLimited, ep.url, err)
		}

		recordOutcome(ep.url, method, "error")
		lastErr = err

		if !isFailoverEligible(err) {
			return zero, &NonRetryableError{Method: method, Err: err}
		}

		p.log.Warnw("endpoint failed, trying next", "endpoint", ep.url, "method", method, "error", err)
	}

	return zero, fmt.Errorf("%w for %s: %v", ErrAllEndpointsFailed, method, lastErr)
}
