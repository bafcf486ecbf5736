package polygon

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmelnik/polysync/internal/domain"
)

func packOrderFilled(t *testing.T, conditionID [32]byte, price, size *big.Int) []byte {
	t.Helper()
	data, err := orderFilledArgs.Pack(
		conditionID,
		price,
		size,
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		big.NewInt(1),
	)
	require.NoError(t, err)
	return data
}

func traderTopic(addr string) []byte {
	return common.HexToHash(addr).Bytes()
}

func units(n int64) *big.Int {
	// n expressed in 1e18 fixed point.
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestDecodeOrderFilled(t *testing.T) {
	var conditionID [32]byte
	conditionID[31] = 0x7f

	log := domain.RawLog{
		BlockNumber: 100,
		TxHash:      "0xtx",
		Index:       3,
		Topics: [][]byte{
			EventTopic(DefaultOrderFilledSignature).Bytes(),
			traderTopic("0x000000000000000000000000AbCd0000000000000000000000000000000000f1"),
		},
		// price 0.5, size 25 in 1e18 fixed point.
		Data: packOrderFilled(t, conditionID, new(big.Int).Div(units(1), big.NewInt(2)), units(25)),
	}

	raw, err := OrderFilledDecoder{}.Decode(log, 1700000000)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), raw.Timestamp)
	assert.InDelta(t, 0.5, raw.Price, 1e-12)
	assert.InDelta(t, 25.0, raw.Size, 1e-12)
	assert.Equal(t, "0xabcd0000000000000000000000000000000000f1", raw.TraderAddress)
	assert.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000007f", raw.MarketID)
	assert.Equal(t, string(domain.SideBuy), raw.Side)
	assert.Equal(t, "0xtx", raw.TxHash)
	assert.Equal(t, uint(3), raw.LogIndex)
}

func TestDecodeNegativeSizeIsSell(t *testing.T) {
	var conditionID [32]byte

	log := domain.RawLog{
		Topics: [][]byte{
			EventTopic(DefaultOrderFilledSignature).Bytes(),
			traderTopic("0x0000000000000000000000000000000000000000000000000000000000000001"),
		},
		Data: packOrderFilled(t, conditionID, units(1), new(big.Int).Neg(units(10))),
	}

	raw, err := OrderFilledDecoder{}.Decode(log, 1)
	require.NoError(t, err)
	assert.Equal(t, string(domain.SideSell), raw.Side)
	assert.InDelta(t, 10.0, raw.Size, 1e-12)
}

func TestDecodeRejectsMalformedLogs(t *testing.T) {
	var conditionID [32]byte
	goodData := packOrderFilled(t, conditionID, units(1), units(1))
	goodTopics := [][]byte{
		EventTopic(DefaultOrderFilledSignature).Bytes(),
		traderTopic("0x0000000000000000000000000000000000000000000000000000000000000001"),
	}

	testCases := []struct {
		name string
		log  domain.RawLog
	}{
		{
			name: "missing trader topic",
			log:  domain.RawLog{Topics: goodTopics[:1], Data: goodData},
		},
		{
			name: "truncated trader topic",
			log:  domain.RawLog{Topics: [][]byte{goodTopics[0], goodTopics[1][:16]}, Data: goodData},
		},
		{
			name: "empty data",
			log:  domain.RawLog{Topics: goodTopics},
		},
		{
			name: "truncated data",
			log:  domain.RawLog{Topics: goodTopics, Data: goodData[:31]},
		},
		{
			name: "zero size",
			log:  domain.RawLog{Topics: goodTopics, Data: packOrderFilled(t, conditionID, units(1), big.NewInt(0))},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := OrderFilledDecoder{}.Decode(tc.log, 1)
			assert.ErrorIs(t, err, domain.ErrDecodeLog)
		})
	}
}

func TestEventTopicMatchesKnownHash(t *testing.T) {
	// keccak256 of the signature string must be stable; a change here
	// would silently match zero logs on chain.
	topic := EventTopic(DefaultOrderFilledSignature)
	assert.Equal(t, common.HashLength, len(topic.Bytes()))
	assert.NotEqual(t, common.Hash{}, topic)
}
