package syncengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchCapConstant(t *testing.T) {
	assert.Equal(t, 1000, BatchCap)
}

func TestAsReorgCandidate(t *testing.T) {
	var out *ReorgCandidate
	assert.True(t, asReorgCandidate(&ReorgCandidate{AtBlock: 5}, &out))
	assert.Equal(t, uint64(5), out.AtBlock)

	out = nil
	assert.False(t, asReorgCandidate(assert.AnError, &out))
	assert.Nil(t, out)
}
