package reorg

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/validator"
)

type fakeBlockStore struct {
	byNumber     map[uint64]*validator.Block
	deleteErr    error
	deletedAfter *big.Int
}

func (f *fakeBlockStore) FindByNumberForUpdate(ctx context.Context, tx pgx.Tx, chainID, number *big.Int) (*validator.Block, error) {
	b, ok := f.byNumber[number.Uint64()]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (f *fakeBlockStore) DeleteAfter(ctx context.Context, tx pgx.Tx, chainID, number *big.Int) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deletedAfter = number
	total := int64(0)
	for n := range f.byNumber {
		if n > number.Uint64() {
			total++
		}
	}
	return total, nil
}

type fakeHeaderFetcher struct {
	headers map[uint64]*types.Header
}

func (f *fakeHeaderFetcher) BlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return f.headers[blockNum], nil
}

func localBlock(number uint64, hash string) *validator.Block {
	return &validator.Block{Number: new(big.Int).SetUint64(number), Hash: hash}
}

func TestRollback_ConvergesAtFirstMismatch(t *testing.T) {
	// Local chain has blocks 8, 9, 10 where 10 diverged from upstream.
	// Upstream agrees with local at 9 but disagrees at 10.
	h9 := &types.Header{Number: big.NewInt(9), ParentHash: common.HexToHash("0x08")}
	h10 := &types.Header{Number: big.NewInt(10), ParentHash: h9.Hash()}

	store := &fakeBlockStore{byNumber: map[uint64]*validator.Block{
		8:  localBlock(8, "0x08"),
		9:  localBlock(9, h9.Hash().Hex()),
		10: localBlock(10, "0xstale"),
	}}
	headers := &fakeHeaderFetcher{headers: map[uint64]*types.Header{
		9:  h9,
		10: h10,
	}}

	handler := NewHandler(nil, headers, logger.NewNopLogger())
	handler.blocks = store

	result, err := handler.Rollback(context.Background(), nil, big.NewInt(1), 11)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), result.AncestorHeight.Uint64())
	assert.Equal(t, uint64(2), result.Depth)
	assert.Equal(t, int64(1), result.RowsDeleted)
}

func TestRollback_TooDeepIsFatal(t *testing.T) {
	store := &fakeBlockStore{byNumber: map[uint64]*validator.Block{}}
	headers := &fakeHeaderFetcher{headers: map[uint64]*types.Header{}}

	for i := uint64(0); i <= MaxReorgDepth+5; i++ {
		store.byNumber[i] = localBlock(i, "0xlocal")
		headers.headers[i] = &types.Header{Number: new(big.Int).SetUint64(i)}
	}

	handler := NewHandler(nil, headers, logger.NewNopLogger())
	handler.blocks = store

	_, err := handler.Rollback(context.Background(), nil, big.NewInt(1), MaxReorgDepth+6)
	require.Error(t, err)
	var tooDeep *ErrReorgTooDeep
	require.ErrorAs(t, err, &tooDeep)
}

func TestRollback_NoLocalHistoryFailsToConverge(t *testing.T) {
	store := &fakeBlockStore{byNumber: map[uint64]*validator.Block{}}
	headers := &fakeHeaderFetcher{headers: map[uint64]*types.Header{}}

	handler := NewHandler(nil, headers, logger.NewNopLogger())
	handler.blocks = store

	_, err := handler.Rollback(context.Background(), nil, big.NewInt(1), 5)
	require.Error(t, err)
	var convergence *ErrConvergenceFailed
	require.ErrorAs(t, err, &convergence)
}

func TestRollback_GenesisHeightFailsToConverge(t *testing.T) {
	handler := NewHandler(nil, &fakeHeaderFetcher{}, logger.NewNopLogger())
	handler.blocks = &fakeBlockStore{byNumber: map[uint64]*validator.Block{}}

	_, err := handler.Rollback(context.Background(), nil, big.NewInt(1), 0)
	require.Error(t, err)
	var convergence *ErrConvergenceFailed
	require.ErrorAs(t, err, &convergence)
}
