package validator

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlockHeader_Valid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := &types.Header{
		Number:     big.NewInt(42),
		Time:       uint64(now.Unix()) - 10,
		ParentHash: common.HexToHash("0x01"),
	}

	b, err := ParseBlockHeader(big.NewInt(1), h, now)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), b.Number)
	assert.True(t, hashPattern.MatchString(b.Hash))
	assert.True(t, hashPattern.MatchString(b.ParentHash))
}

func TestParseBlockHeader_RejectsFutureTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := &types.Header{
		Number:     big.NewInt(1),
		Time:       uint64(now.Add(2 * 86400 * time.Second).Unix()),
		ParentHash: common.HexToHash("0x01"),
	}

	_, err := ParseBlockHeader(big.NewInt(1), h, now)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "timestamp", ve.Field)
}

func TestDecodeTransferLog_Valid(t *testing.T) {
	amount := new(big.Int)
	amount.SetString("1000000000000000000", 10)
	data := make([]byte, 32)
	amount.FillBytes(data)

	log := &types.Log{
		Address: common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		Topics: []common.Hash{
			TransferEventTopic,
			common.BytesToHash(common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb").Bytes()),
			common.BytesToHash(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc").Bytes()),
		},
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xdeadbeef"),
		Index:       3,
	}

	tr, err := DecodeTransferLog(big.NewInt(1), log)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", tr.Amount.String())
	assert.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", tr.FromAddress)
	assert.Equal(t, "0xcccccccccccccccccccccccccccccccccccccccc", tr.ToAddress)
	assert.Equal(t, uint32(3), tr.LogIndex)
}

func TestDecodeTransferLog_RejectsWrongTopicCount(t *testing.T) {
	log := &types.Log{
		Topics: []common.Hash{TransferEventTopic, common.HexToHash("0x01")},
		Data:   make([]byte, 32),
	}

	_, err := DecodeTransferLog(big.NewInt(1), log)
	require.Error(t, err)
}

func TestDecodeTransferLog_RejectsWrongDataSize(t *testing.T) {
	log := &types.Log{
		Topics: []common.Hash{
			TransferEventTopic,
			common.HexToHash("0x01"),
			common.HexToHash("0x02"),
		},
		Data: make([]byte, 64),
	}

	_, err := DecodeTransferLog(big.NewInt(1), log)
	require.Error(t, err)
}

func TestDecodeTransferLog_RejectsWrongTopic0(t *testing.T) {
	log := &types.Log{
		Topics: []common.Hash{
			common.HexToHash("0xbad"),
			common.HexToHash("0x01"),
			common.HexToHash("0x02"),
		},
		Data: make([]byte, 32),
	}

	_, err := DecodeTransferLog(big.NewInt(1), log)
	require.Error(t, err)
}

func TestMaxUint256RoundTrip(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = 0xff
	}
	amount := new(big.Int).SetBytes(data)

	log := &types.Log{
		Topics: []common.Hash{
			TransferEventTopic,
			common.BytesToHash(common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb").Bytes()),
			common.BytesToHash(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc").Bytes()),
		},
		Data: data,
	}

	tr, err := DecodeTransferLog(big.NewInt(1), log)
	require.NoError(t, err)
	assert.Equal(t, "115792089237316195423570985008687907853269984665640564039457584007913129639935", tr.Amount.String())
}
