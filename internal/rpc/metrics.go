package rpc

import (
	"time"

	"github.com/chainsync-io/evmsync/internal/metrics"
)

// recordOutcome feeds the pool's per-endpoint result into the shared
// rpc_calls_total{endpoint,method,outcome} counter (spec.md §4.10).
func recordOutcome(endpointURL, method, outcome string) {
	metrics.RPCCallInc(endpointURL, method, outcome)
}

func recordLatency(endpointURL, method string, d time.Duration) {
	metrics.RPCLatencyObserve(endpointURL, method, d)
}
