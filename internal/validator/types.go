// Package validator implements the Validator component (spec.md §4.6):
// schema-enforced parsing of raw RPC responses into typed, bounded domain
// objects. A single malformed record fails the whole batch; nothing here
// silently drops invalid input.
package validator

import "math/big"

// Block is the typed, validated form of an upstream block header.
type Block struct {
	ChainID    *big.Int
	Number     *big.Int
	Hash       string
	ParentHash string
	Timestamp  *big.Int
}

// Transfer is the typed, validated form of a decoded ERC-20 Transfer event.
type Transfer struct {
	ChainID         *big.Int
	BlockNumber     *big.Int
	TransactionHash string
	LogIndex        uint32
	FromAddress     string
	ToAddress       string
	Amount          *big.Int
	TokenAddress    string
}
