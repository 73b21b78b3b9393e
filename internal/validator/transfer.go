package validator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainsync-io/evmsync/internal/db"
)

// expectedTopicsCount and expectedDataSize bound the canonical three-argument
// ABI: Transfer(address indexed from, address indexed to, uint256 value).
// spec.md §9 explicitly rejects the four-argument historical extension.
const (
	expectedTopicsCount = 3
	expectedDataSize    = 32
)

// TransferEventTopic is keccak256("Transfer(address,address,uint256)"),
// the fixed 32-byte selector spec.md §6.1 names.
var TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DecodeTransferLog decodes and validates one ERC-20 Transfer log into the
// bounded domain object (spec.md §4.7.2 Phase 4, §4.6). Logs that do not
// match the canonical 3-topic/32-byte-data shape are rejected, not decoded.
func DecodeTransferLog(chainID *big.Int, log *types.Log) (*Transfer, error) {
	if len(log.Topics) != expectedTopicsCount {
		return nil, newValidationError("topics", itoa(len(log.Topics)), "exactly 3 topics for Transfer(address,address,uint256)")
	}
	if log.Topics[0] != TransferEventTopic {
		return nil, newValidationError("topics[0]", log.Topics[0].Hex(), "must equal keccak256(Transfer(address,address,uint256))")
	}
	if len(log.Data) != expectedDataSize {
		return nil, newValidationError("data", itoa(len(log.Data)), "exactly 32 bytes for uint256 value")
	}

	from := normalizeAddress(common.BytesToAddress(log.Topics[1].Bytes()).Hex())
	if err := validateAddress("fromAddress", from); err != nil {
		return nil, err
	}
	to := normalizeAddress(common.BytesToAddress(log.Topics[2].Bytes()).Hex())
	if err := validateAddress("toAddress", to); err != nil {
		return nil, err
	}

	amount := new(big.Int).SetBytes(log.Data)
	if err := db.CheckUint256Bounds(amount); err != nil {
		return nil, newValidationError("amount", amount.String(), "0 <= amount <= 2^256-1")
	}

	txHash := normalizeHash(log.TxHash.Hex())
	if !hashPattern.MatchString(txHash) {
		return nil, newValidationError("transactionHash", txHash, `^0x[0-9a-f]{64}$`)
	}

	if log.Index > uint(^uint32(0)) {
		return nil, newValidationError("logIndex", itoa(int(log.Index)), "non-negative 32-bit")
	}

	return &Transfer{
		ChainID:         new(big.Int).Set(chainID),
		BlockNumber:     new(big.Int).SetUint64(log.BlockNumber),
		TransactionHash: txHash,
		LogIndex:        uint32(log.Index),
		FromAddress:     from,
		ToAddress:       to,
		Amount:          amount,
		TokenAddress:    normalizeAddress(log.Address.Hex()),
	}, nil
}

func itoa(n int) string {
	return big.NewInt(int64(n)).String()
}
