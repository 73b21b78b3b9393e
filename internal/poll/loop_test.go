package poll

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsync-io/evmsync/internal/checkpoint"
	"github.com/chainsync-io/evmsync/internal/logger"
	"github.com/chainsync-io/evmsync/internal/syncengine"
)

type fakeHead struct {
	head uint64
	err  error
}

func (f *fakeHead) ChainHead(ctx context.Context) (uint64, error) { return f.head, f.err }

type fakeLocker struct{ err error }

func (f *fakeLocker) Verify(ctx context.Context) error { return f.err }

type batchCall struct {
	from, to           uint64
	expectedParentHash string
}

type fakeEngine struct {
	calls   []batchCall
	results map[uint64]*syncengine.BatchResult
	err     error
}

func (f *fakeEngine) SyncBatch(ctx context.Context, chainID *big.Int, fromBlock, toBlock uint64, expectedParentHash string) (*syncengine.BatchResult, error) {
	f.calls = append(f.calls, batchCall{fromBlock, toBlock, expectedParentHash})
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[fromBlock]; ok {
		return r, nil
	}
	return &syncengine.BatchResult{FromBlock: fromBlock, ToBlock: toBlock}, nil
}

func (f *fakeEngine) PredecessorHash(ctx context.Context, chainID *big.Int, height uint64) (string, error) {
	return "", nil
}

type fakeCheckpoints struct {
	status      *checkpoint.Status
	gaps        []*checkpoint.Gap
	headSet     *big.Int
	recorded    []*checkpoint.Gap
	filled      []*checkpoint.Gap
	retryFailed []*checkpoint.Gap
}

func (f *fakeCheckpoints) GetStatus(ctx context.Context, chainID *big.Int) (*checkpoint.Status, error) {
	return f.status, nil
}

func (f *fakeCheckpoints) SetHeadBlock(ctx context.Context, chainID, head *big.Int) error {
	f.headSet = head
	return nil
}

func (f *fakeCheckpoints) RecordGap(ctx context.Context, chainID, start, end *big.Int) error {
	f.recorded = append(f.recorded, &checkpoint.Gap{Start: start, End: end})
	return nil
}

func (f *fakeCheckpoints) PendingGaps(ctx context.Context, chainID *big.Int) ([]*checkpoint.Gap, error) {
	return f.gaps, nil
}

func (f *fakeCheckpoints) MarkFilled(ctx context.Context, chainID, start, end *big.Int) error {
	f.filled = append(f.filled, &checkpoint.Gap{Start: start, End: end})
	return nil
}

func (f *fakeCheckpoints) MarkRetryFailed(ctx context.Context, chainID, start, end *big.Int, cause error) error {
	f.retryFailed = append(f.retryFailed, &checkpoint.Gap{Start: start, End: end})
	return nil
}

func newTestLoop(cfg Config) *Loop {
	cfg.Log = logger.NewNopLogger()
	return NewLoop(cfg)
}

func TestTick_DrainsMultipleBatchesUpToTarget(t *testing.T) {
	engine := &fakeEngine{results: map[uint64]*syncengine.BatchResult{}}
	checkpoints := &fakeCheckpoints{status: &checkpoint.Status{NextBlock: big.NewInt(0)}}

	loop := newTestLoop(Config{
		ChainID:           big.NewInt(1),
		ConfirmationDepth: 0,
		BatchSize:         10,
		Head:              &fakeHead{head: 25},
		Engine:            engine,
		Checkpoints:       checkpoints,
		Lock:              &fakeLocker{},
	})

	err := loop.tick(context.Background())
	require.NoError(t, err)

	require.Len(t, engine.calls, 3)
	assert.Equal(t, batchCall{0, 9, ""}, engine.calls[0])
	assert.Equal(t, batchCall{10, 19, ""}, engine.calls[1])
	assert.Equal(t, batchCall{20, 25, ""}, engine.calls[2])
	assert.Equal(t, uint64(25), checkpoints.headSet.Uint64())
}

func TestTick_ConfirmationDepthCapsTarget(t *testing.T) {
	engine := &fakeEngine{results: map[uint64]*syncengine.BatchResult{}}
	checkpoints := &fakeCheckpoints{status: &checkpoint.Status{NextBlock: big.NewInt(0)}}

	loop := newTestLoop(Config{
		ChainID:           big.NewInt(1),
		ConfirmationDepth: 12,
		BatchSize:         100,
		Head:              &fakeHead{head: 20},
		Engine:            engine,
		Checkpoints:       checkpoints,
		Lock:              &fakeLocker{},
	})

	err := loop.tick(context.Background())
	require.NoError(t, err)

	require.Len(t, engine.calls, 1)
	assert.Equal(t, uint64(8), engine.calls[0].to)
}

func TestTick_NothingToDoWhenAtTarget(t *testing.T) {
	engine := &fakeEngine{results: map[uint64]*syncengine.BatchResult{}}
	checkpoints := &fakeCheckpoints{status: &checkpoint.Status{NextBlock: big.NewInt(26)}}

	loop := newTestLoop(Config{
		ChainID:           big.NewInt(1),
		ConfirmationDepth: 0,
		BatchSize:         10,
		Head:              &fakeHead{head: 25},
		Engine:            engine,
		Checkpoints:       checkpoints,
		Lock:              &fakeLocker{},
	})

	err := loop.tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, engine.calls)
}

func TestTick_LockVerifyFailureAbortsBeforeQueryingHead(t *testing.T) {
	engine := &fakeEngine{}
	checkpoints := &fakeCheckpoints{}

	loop := newTestLoop(Config{
		ChainID:     big.NewInt(1),
		Head:        &fakeHead{head: 100},
		Engine:      engine,
		Checkpoints: checkpoints,
		Lock:        &fakeLocker{err: assert.AnError},
	})

	err := loop.tick(context.Background())
	require.Error(t, err)
	assert.Empty(t, engine.calls)
}

func TestTick_RecordsGapOnBlockFetchError(t *testing.T) {
	engine := &fakeEngine{err: &syncengine.ErrBlockFetchError{BlockNumber: 0, Err: assert.AnError}}
	checkpoints := &fakeCheckpoints{status: &checkpoint.Status{NextBlock: big.NewInt(0)}}

	loop := newTestLoop(Config{
		ChainID:           big.NewInt(1),
		ConfirmationDepth: 0,
		BatchSize:         10,
		Head:              &fakeHead{head: 25},
		Engine:            engine,
		Checkpoints:       checkpoints,
		Lock:              &fakeLocker{},
	})

	err := loop.tick(context.Background())
	require.Error(t, err)
	require.Len(t, checkpoints.recorded, 1)
	assert.Equal(t, uint64(0), checkpoints.recorded[0].Start.Uint64())
	assert.Equal(t, uint64(9), checkpoints.recorded[0].End.Uint64())
}

func TestTick_DoesNotRecordGapOnNonFetchError(t *testing.T) {
	engine := &fakeEngine{err: assert.AnError}
	checkpoints := &fakeCheckpoints{status: &checkpoint.Status{NextBlock: big.NewInt(0)}}

	loop := newTestLoop(Config{
		ChainID:           big.NewInt(1),
		ConfirmationDepth: 0,
		BatchSize:         10,
		Head:              &fakeHead{head: 25},
		Engine:            engine,
		Checkpoints:       checkpoints,
		Lock:              &fakeLocker{},
	})

	err := loop.tick(context.Background())
	require.Error(t, err)
	assert.Empty(t, checkpoints.recorded)
}

func TestRepairGaps_MarksFilledOnSuccess(t *testing.T) {
	engine := &fakeEngine{
		results: map[uint64]*syncengine.BatchResult{
			5: {FromBlock: 5, ToBlock: 9},
		},
		err: nil,
	}
	checkpoints := &fakeCheckpoints{
		gaps: []*checkpoint.Gap{
			{Start: big.NewInt(5), End: big.NewInt(9)},
		},
	}

	loop := newTestLoop(Config{
		ChainID:     big.NewInt(1),
		Engine:      engine,
		Checkpoints: checkpoints,
	})

	err := loop.RepairGapsOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, checkpoints.filled, 1)
	assert.Empty(t, checkpoints.retryFailed)
}

func TestRepairGaps_RecordsRetryOnBatchFailure(t *testing.T) {
	engine := &fakeEngine{err: assert.AnError}
	checkpoints := &fakeCheckpoints{
		gaps: []*checkpoint.Gap{
			{Start: big.NewInt(5), End: big.NewInt(9)},
		},
	}

	loop := newTestLoop(Config{
		ChainID:     big.NewInt(1),
		Engine:      engine,
		Checkpoints: checkpoints,
	})

	err := loop.RepairGapsOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, checkpoints.retryFailed, 1)
	assert.Empty(t, checkpoints.filled)
}
