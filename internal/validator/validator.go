package validator

import (
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync-io/evmsync/internal/db"
)

var (
	hashPattern    = regexp.MustCompile(`^0x[0-9a-f]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)
)

// maxFutureSkew bounds how far past "now" a block timestamp may claim to be
// (spec.md §3.1, §4.6): timestamp <= now + 86400s.
const maxFutureSkew = 86400 * time.Second

// ParseBlockHeader validates a go-ethereum header into the bounded domain
// object the rest of the system operates on (spec.md §4.6).
func ParseBlockHeader(chainID *big.Int, h *types.Header, now time.Time) (*Block, error) {
	number := new(big.Int).SetUint64(h.Number.Uint64())
	if err := db.CheckUint64Bounds(number); err != nil {
		return nil, newValidationError("blockNumber", number.String(), "0 <= n <= 2^64-1")
	}

	hash := normalizeHash(h.Hash().Hex())
	if !hashPattern.MatchString(hash) {
		return nil, newValidationError("hash", hash, `^0x[0-9a-f]{64}$`)
	}

	parentHash := normalizeHash(h.ParentHash.Hex())
	if !hashPattern.MatchString(parentHash) {
		return nil, newValidationError("parentHash", parentHash, `^0x[0-9a-f]{64}$`)
	}

	timestamp := new(big.Int).SetUint64(h.Time)
	maxTimestamp := big.NewInt(now.Add(maxFutureSkew).Unix())
	if timestamp.Cmp(maxTimestamp) > 0 {
		return nil, newValidationError("timestamp", timestamp.String(), "timestamp <= now+86400s")
	}

	return &Block{
		ChainID:    new(big.Int).Set(chainID),
		Number:     number,
		Hash:       hash,
		ParentHash: parentHash,
		Timestamp:  timestamp,
	}, nil
}

func normalizeHash(h string) string {
	return strings.ToLower(h)
}

// normalizeAddress lowercases a 42-character hex address.
func normalizeAddress(a string) string {
	return strings.ToLower(a)
}

func validateAddress(field, a string) error {
	a = normalizeAddress(a)
	if !addressPattern.MatchString(a) {
		return newValidationError(field, a, `^0x[0-9a-f]{40}$`)
	}
	return nil
}
