package reorg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrReorgTooDeep_Message(t *testing.T) {
	err := &ErrReorgTooDeep{ChainID: "1", Height: "2000", Depth: 1001, Max: 1000}
	assert.Contains(t, err.Error(), "1001")
	assert.Contains(t, err.Error(), "1000")
	assert.Contains(t, err.Error(), "operator intervention")
}

func TestErrConvergenceFailed_Message(t *testing.T) {
	err := &ErrConvergenceFailed{ChainID: "1"}
	assert.Contains(t, err.Error(), "no common ancestor")
}

func TestMaxReorgDepthMatchesBlockRepository(t *testing.T) {
	assert.Equal(t, uint64(1000), uint64(MaxReorgDepth))
}
