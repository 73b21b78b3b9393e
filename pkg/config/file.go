package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads a Config overlay from a TOML or YAML file, auto-detected
// by extension. Environment variables loaded via LoadFromEnv always take
// precedence over file values; this is meant for local development only.
func LoadFromFile(path string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var cfg Config
	switch ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse TOML file: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse YAML file: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q (use .toml, .yaml, .yml)", ext)
	}

	return &cfg, nil
}

// MergeEnvOverFile starts from a file-based overlay and lets any
// environment variable that is actually set override its value.
func MergeEnvOverFile(fileCfg *Config) (*Config, error) {
	envCfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	merged := *fileCfg
	if len(envCfg.RPCURLs) > 0 {
		merged.RPCURLs = envCfg.RPCURLs
	}
	if os.Getenv("DATABASE_URL") != "" {
		merged.DatabaseURL = envCfg.DatabaseURL
	}
	if os.Getenv("CHAIN_ID") != "" {
		merged.ChainID = envCfg.ChainID
		merged.ChainIDStr = envCfg.ChainIDStr
	}
	if os.Getenv("BATCH_SIZE") != "" {
		merged.BatchSize = envCfg.BatchSize
	}
	if os.Getenv("CONCURRENCY") != "" {
		merged.Concurrency = envCfg.Concurrency
	}
	if os.Getenv("MAX_RETRIES") != "" {
		merged.MaxRetries = envCfg.MaxRetries
	}
	if os.Getenv("POLL_INTERVAL_MS") != "" {
		merged.PollIntervalMs = envCfg.PollIntervalMs
	}
	if os.Getenv("CONFIRMATION_DEPTH") != "" {
		merged.ConfirmationDepth = envCfg.ConfirmationDepth
	}
	if os.Getenv("TOKEN_CONTRACT_ADDRESS") != "" {
		merged.TokenContractAddress = envCfg.TokenContractAddress
	}
	if os.Getenv("INSTANCE_ID") != "" {
		merged.InstanceID = envCfg.InstanceID
	}
	if os.Getenv("RPC_TIMEOUT_MS") != "" {
		merged.RPCTimeoutMs = envCfg.RPCTimeoutMs
	}

	if merged.ChainID == nil {
		if strings.TrimSpace(merged.ChainIDStr) == "" {
			merged.ChainID = envCfg.ChainID
			merged.ChainIDStr = envCfg.ChainIDStr
		} else {
			chainID, ok := new(big.Int).SetString(strings.TrimSpace(merged.ChainIDStr), 10)
			if !ok {
				return nil, fmt.Errorf("config: chain_id %q is not a valid integer", merged.ChainIDStr)
			}
			merged.ChainID = chainID
		}
	}

	merged.ApplyDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}
