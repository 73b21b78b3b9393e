package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
)

// LoadFromEnv builds a Config from the environment variables enumerated in
// spec.md §6.3. It applies defaults and validates the result.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		RPCURLs:              splitAndTrim(os.Getenv("RPC_URL")),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ChainIDStr:           os.Getenv("CHAIN_ID"),
		TokenContractAddress: strings.ToLower(os.Getenv("TOKEN_CONTRACT_ADDRESS")),
		InstanceID:           os.Getenv("INSTANCE_ID"),
		LogLevel:             os.Getenv("LOG_LEVEL"),
	}

	var err error
	if cfg.BatchSize, err = envUint64("BATCH_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = envInt("CONCURRENCY", 0); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 0); err != nil {
		return nil, err
	}
	if cfg.PollIntervalMs, err = envInt("POLL_INTERVAL_MS", 0); err != nil {
		return nil, err
	}
	if cfg.ConfirmationDepth, err = envUint64("CONFIRMATION_DEPTH", 0); err != nil {
		return nil, err
	}
	if cfg.RPCTimeoutMs, err = envInt("RPC_TIMEOUT_MS", 0); err != nil {
		return nil, err
	}
	if cfg.ReadinessLagThreshold, err = envUint64("READINESS_LAG_THRESHOLD", 0); err != nil {
		return nil, err
	}

	if cfg.ChainIDStr == "" {
		cfg.ChainIDStr = "1"
	}
	chainID, ok := new(big.Int).SetString(strings.TrimSpace(cfg.ChainIDStr), 10)
	if !ok {
		return nil, fmt.Errorf("config: CHAIN_ID %q is not a valid integer", cfg.ChainIDStr)
	}
	cfg.ChainID = chainID

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitAndTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	return n, nil
}

func envUint64(name string, def uint64) (uint64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a non-negative integer: %w", name, err)
	}
	return n, nil
}
