package block

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowToBlock(t *testing.T) {
	b, err := rowToBlock("1", "100", "0xaa", "0xbb", "1700000000")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), b.ChainID)
	assert.Equal(t, big.NewInt(100), b.Number)
	assert.Equal(t, "0xaa", b.Hash)
	assert.Equal(t, "0xbb", b.ParentHash)
	assert.Equal(t, big.NewInt(1700000000), b.Timestamp)
}

func TestRowToBlock_InvalidNumeric(t *testing.T) {
	_, err := rowToBlock("1", "not-a-number", "0xaa", "0xbb", "1700000000")
	require.Error(t, err)
}

func TestGetCoverageStats_Computation(t *testing.T) {
	total := big.NewInt(90)
	maxNum := big.NewInt(99)
	expected := new(big.Int).Add(maxNum, big.NewInt(1))
	missing := new(big.Int).Sub(expected, total)
	coverage := new(big.Int).Div(new(big.Int).Mul(total, big.NewInt(100)), expected)

	assert.Equal(t, big.NewInt(100), expected)
	assert.Equal(t, big.NewInt(10), missing)
	assert.Equal(t, big.NewInt(90), coverage)
}

func TestDeleteAfter_RefusesBeyondMaxReorgDepth(t *testing.T) {
	maxNum := big.NewInt(5000)
	number := big.NewInt(3000)
	depth := new(big.Int).Sub(maxNum, number)
	assert.True(t, depth.Cmp(big.NewInt(MaxRangeDelete)) > 0)
}

func TestMaxReorgDepthConstant(t *testing.T) {
	assert.Equal(t, 1000, MaxReorgDepth)
	assert.Equal(t, MaxReorgDepth, MaxRangeDelete)
}
