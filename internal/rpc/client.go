// Package rpc implements the RPC Pool component (spec.md §4.1): pooled,
// timeout-bounded, round-robin access to N upstream JSON-RPC endpoints with
// per-endpoint failover and caller-owned retry.
package rpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/chainsync-io/evmsync/internal/logger"
)

// defaultBatchConcurrency bounds how many header-batch chunks are in
// flight against the endpoint pool at once (spec.md §4.7.1 "parallel
// fetch"), independent of BATCH_SIZE which bounds the total range.
const defaultBatchConcurrency = 10

// Client is the caller-facing handle used by the sync engine and poll loop.
// It owns the retry authority: the Pool itself performs exactly one attempt
// per endpoint per call.
type Client struct {
	pool        *Pool
	retryCfg    RetryConfig
	concurrency int
	log         *logger.Logger
}

// NewClient dials every endpoint and wraps the pool with the configured
// retry policy.
func NewClient(ctx context.Context, urls []string, requestTimeout time.Duration, retryCfg RetryConfig, log *logger.Logger) (*Client, error) {
	pool, err := NewPool(ctx, urls, requestTimeout, log)
	if err != nil {
		return nil, err
	}
	return &Client{pool: pool, retryCfg: retryCfg, concurrency: defaultBatchConcurrency, log: log.WithComponent("rpc-client")}, nil
}

// WithConcurrency overrides the number of header-batch chunks dispatched in
// parallel, matching CONCURRENCY from configuration.
func (c *Client) WithConcurrency(n int) *Client {
	if n > 0 {
		c.concurrency = n
	}
	return c
}

// Close releases the underlying pool connections.
func (c *Client) Close() {
	c.pool.Close()
}

// Ping satisfies health.Pinger.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// ChainHead satisfies health.HeadSource and is also the Poll Loop's head
// query (spec.md §4.9).
func (c *Client) ChainHead(ctx context.Context) (uint64, error) {
	return c.LatestBlockNumber(ctx)
}

// LatestBlockNumber fetches eth_blockNumber with retry.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var result uint64
	err := retryWithBackoff(ctx, c.retryCfg, "eth_blockNumber", func() error {
		n, err := withFailover(c.pool, ctx, "eth_blockNumber", func(ctx context.Context, ep *endpoint) (uint64, error) {
			return ep.eth.BlockNumber(ctx)
		})
		result = n
		return err
	})
	return result, err
}

// BlockHeader fetches the header for a specific block number.
func (c *Client) BlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	var header *types.Header
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getBlockByNumber", func() error {
		h, err := withFailover(c.pool, ctx, "eth_getBlockByNumber", func(ctx context.Context, ep *endpoint) (*types.Header, error) {
			return ep.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
		})
		header = h
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: fetching header for block %d: %w", blockNum, err)
	}
	return header, nil
}

// BatchBlockHeaders fetches headers for multiple block numbers via JSON-RPC
// batching. Chunks are dispatched concurrently, bounded by concurrency, so
// a wide block range does not serialize behind one chunk's round trip
// (spec.md §4.7.1 "parallel fetch").
func (c *Client) BatchBlockHeaders(ctx context.Context, blockNums []uint64) ([]*types.Header, error) {
	const maxBatch = 100

	var chunks [][]uint64
	for i := 0; i < len(blockNums); i += maxBatch {
		end := i + maxBatch
		if end > len(blockNums) {
			end = len(blockNums)
		}
		chunks = append(chunks, blockNums[i:end])
	}

	chunkResults := make([][]*types.Header, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			headers, err := c.fetchHeaderChunk(gctx, chunk)
			if err != nil {
				return fmt.Errorf("rpc: batch fetching %d headers: %w", len(chunk), err)
			}
			chunkResults[i] = headers
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]*types.Header, 0, len(blockNums))
	for _, headers := range chunkResults {
		results = append(results, headers...)
	}
	return results, nil
}

func (c *Client) fetchHeaderChunk(ctx context.Context, chunk []uint64) ([]*types.Header, error) {
	var out []*types.Header
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getBlockByNumber_batch", func() error {
		r, err := withFailover(c.pool, ctx, "eth_getBlockByNumber_batch", func(ctx context.Context, ep *endpoint) ([]*types.Header, error) {
			batch := make([]gethrpc.BatchElem, len(chunk))
			results := make([]*types.Header, len(chunk))
			for j, num := range chunk {
				batch[j] = gethrpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(num), false},
					Result: &results[j],
				}
			}
			if err := ep.rpc.BatchCallContext(ctx, batch); err != nil {
				return nil, err
			}
			for _, elem := range batch {
				if elem.Error != nil {
					return nil, elem.Error
				}
			}
			return results, nil
		})
		out = r
		return err
	})
	return out, err
}

// Logs fetches ERC-20 Transfer logs for the configured token address and
// event topic over an inclusive block range (spec.md §4.7.4, §6.1).
func (c *Client) Logs(ctx context.Context, tokenAddress common.Address, topic common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{tokenAddress},
		Topics:    [][]common.Hash{{topic}},
	}

	var logs []types.Log
	err := retryWithBackoff(ctx, c.retryCfg, "eth_getLogs", func() error {
		l, err := withFailover(c.pool, ctx, "eth_getLogs", func(ctx context.Context, ep *endpoint) ([]types.Log, error) {
			return ep.eth.FilterLogs(ctx, query)
		})
		logs = l
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: fetching logs [%d,%d]: %w", fromBlock, toBlock, err)
	}
	return logs, nil
}

func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
