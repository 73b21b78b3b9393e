package db

import (
	"fmt"
	"math/big"
)

// MaxUint256 is 2^256 - 1, the width budget spec.md §3.3 requires every
// chain-sourced numeric quantity to fit within.
var MaxUint256 = func() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}()

// MaxUint64 bounds block numbers per spec.md §4.6 ("non-negative big-int,
// <= 2^64-1 on block number").
var MaxUint64 = new(big.Int).SetUint64(^uint64(0))

// NumericString renders a *big.Int as the exact decimal string pgx sends
// for a NUMERIC(78,0) column. Passing this string directly as a query
// parameter — rather than the *big.Int itself — keeps the value from ever
// touching a float64 anywhere in the driver's encoding path.
func NumericString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// ParseNumeric parses a NUMERIC(78,0) column's string form back into a
// *big.Int, rejecting anything non-integral or out of range.
func ParseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("db: %q is not a valid arbitrary-precision integer", s)
	}
	return n, nil
}

// CheckUint256Bounds rejects values outside [0, 2^256-1] (spec.md §4.6).
func CheckUint256Bounds(n *big.Int) error {
	if n.Sign() < 0 {
		return fmt.Errorf("db: value %s is negative", n.String())
	}
	if n.Cmp(MaxUint256) > 0 {
		return fmt.Errorf("db: value %s exceeds 2^256-1", n.String())
	}
	return nil
}

// CheckUint64Bounds rejects values outside [0, 2^64-1].
func CheckUint64Bounds(n *big.Int) error {
	if n.Sign() < 0 {
		return fmt.Errorf("db: value %s is negative", n.String())
	}
	if n.Cmp(MaxUint64) > 0 {
		return fmt.Errorf("db: value %s exceeds 2^64-1", n.String())
	}
	return nil
}
