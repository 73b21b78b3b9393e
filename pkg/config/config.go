// Package config defines the runtime configuration for the sync engine.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the complete configuration for one chain-sync instance.
//
// Every instance indexes exactly one chain, identified by ChainID.
type Config struct {
	RPCURLs              []string      `yaml:"rpc_urls" toml:"rpc_urls"`
	DatabaseURL           string        `yaml:"database_url" toml:"database_url"`
	ChainID               *big.Int      `yaml:"-" toml:"-"`
	ChainIDStr            string        `yaml:"chain_id" toml:"chain_id"`
	BatchSize             uint64        `yaml:"batch_size" toml:"batch_size"`
	Concurrency           int           `yaml:"concurrency" toml:"concurrency"`
	MaxRetries            int           `yaml:"max_retries" toml:"max_retries"`
	PollIntervalMs        int           `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	ConfirmationDepth     uint64        `yaml:"confirmation_depth" toml:"confirmation_depth"`
	TokenContractAddress  string        `yaml:"token_contract_address" toml:"token_contract_address"`
	InstanceID            string        `yaml:"instance_id" toml:"instance_id"`
	RPCTimeoutMs          int           `yaml:"rpc_timeout_ms" toml:"rpc_timeout_ms"`
	LogLevel              string        `yaml:"log_level" toml:"log_level"`
	LogDevelopment        bool          `yaml:"log_development" toml:"log_development"`
	MetricsListenAddr     string        `yaml:"metrics_listen_addr" toml:"metrics_listen_addr"`
	ReadinessLagThreshold uint64        `yaml:"readiness_lag_threshold" toml:"readiness_lag_threshold"`
	GapRepairInterval     time.Duration `yaml:"-" toml:"-"`
}

// Batch processing constants from spec.md §4.7, §4.8, §5.
const (
	// DefaultBatchCap is the configured default blocks-per-invocation.
	DefaultBatchCap = 100
	// HardBatchCap bounds memory regardless of configuration (spec.md §4.7.1).
	HardBatchCap = 1000
	// MaxReorgDepth is the deepest rollback the Reorg Handler will attempt
	// before requiring operator intervention (spec.md §4.8).
	MaxReorgDepth = 1000
	// MaxRangeDelete bounds Block Repository.DeleteAfter's blast radius.
	MaxRangeDelete = 1000
)

// ApplyDefaults fills in zero-valued optional fields with spec.md §6.3 defaults.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchCap
	}
	if c.Concurrency == 0 {
		c.Concurrency = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = 3000
	}
	if c.RPCTimeoutMs == 0 {
		c.RPCTimeoutMs = 10000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsListenAddr == "" {
		c.MetricsListenAddr = ":9090"
	}
	if c.ReadinessLagThreshold == 0 {
		c.ReadinessLagThreshold = c.ConfirmationDepth + uint64(c.BatchSize)
	}
	if c.GapRepairInterval == 0 {
		c.GapRepairInterval = 60 * time.Second
	}
	if c.InstanceID == "" {
		c.InstanceID = "instance-0"
	}
}

// Validate checks the configuration for internal consistency, per spec.md §6.3.
func (c *Config) Validate() error {
	if len(c.RPCURLs) == 0 {
		return fmt.Errorf("config: RPC_URL must list at least one endpoint")
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.ChainID == nil || c.ChainID.Sign() < 0 {
		return fmt.Errorf("config: CHAIN_ID must be a non-negative integer")
	}
	if c.BatchSize == 0 || c.BatchSize > HardBatchCap {
		return fmt.Errorf("config: BATCH_SIZE must be in (0, %d]", HardBatchCap)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: CONCURRENCY must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("config: MAX_RETRIES must be positive")
	}
	if c.RPCTimeoutMs < 1000 {
		return fmt.Errorf("config: RPC_TIMEOUT_MS must be >= 1000")
	}
	if strings.TrimSpace(c.TokenContractAddress) == "" {
		return fmt.Errorf("config: TOKEN_CONTRACT_ADDRESS is required")
	}
	return nil
}

// RPCTimeout is the per-request RPC timeout as a duration.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMs) * time.Millisecond
}

// PollInterval is the Poll Loop tick period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
