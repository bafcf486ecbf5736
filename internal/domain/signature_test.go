package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureCrossSourceStability(t *testing.T) {
	// The same underlying trade reported by the REST API, the subgraph,
	// and a chain log must collapse to one signature even though each
	// source carries different extra fields and address casing.
	rest := RawTrade{
		Timestamp:     1700000000,
		Price:         0.55,
		Size:          120.5,
		TraderAddress: "0xAbCd000000000000000000000000000000000001",
		MarketID:      "0xcond1",
		Side:          "buy",
	}
	indexer := RawTrade{
		Timestamp:     1700000000,
		Price:         0.55,
		Size:          120.5,
		TraderAddress: "0xabcd000000000000000000000000000000000001",
		MarketID:      "0xCOND1",
	}
	chain := RawTrade{
		Timestamp:     1700000000,
		Price:         0.55,
		Size:          120.5,
		TraderAddress: " 0xABCD000000000000000000000000000000000001 ",
		MarketID:      "0xcond1",
		TxHash:        "0xdeadbeef",
		LogIndex:      7,
	}

	assert.Equal(t, rest.Signature(), indexer.Signature())
	assert.Equal(t, rest.Signature(), chain.Signature())
}

func TestSignatureOf(t *testing.T) {
	testCases := []struct {
		name      string
		timestamp int64
		price     float64
		size      float64
		trader    string
		want      TradeSignature
	}{
		{
			name:      "plain values",
			timestamp: 1700000000,
			price:     0.5,
			size:      10,
			trader:    "0xabc",
			want:      "1700000000|0.5|10|0xabc",
		},
		{
			name:      "float formatting is not zero padded",
			timestamp: 1,
			price:     0.1,
			size:      0.25,
			trader:    "0xabc",
			want:      "1|0.1|0.25|0xabc",
		},
		{
			name:      "trader is lowercased and trimmed",
			timestamp: 1,
			price:     1,
			size:      1,
			trader:    " 0xABC ",
			want:      "1|1|1|0xabc",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := SignatureOf(tc.timestamp, tc.price, tc.size, tc.trader)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSignatureDistinguishesFields(t *testing.T) {
	base := RawTrade{Timestamp: 100, Price: 0.5, Size: 10, TraderAddress: "0xabc"}

	variants := []RawTrade{
		{Timestamp: 101, Price: 0.5, Size: 10, TraderAddress: "0xabc"},
		{Timestamp: 100, Price: 0.51, Size: 10, TraderAddress: "0xabc"},
		{Timestamp: 100, Price: 0.5, Size: 11, TraderAddress: "0xabc"},
		{Timestamp: 100, Price: 0.5, Size: 10, TraderAddress: "0xabd"},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Signature(), v.Signature())
	}
}
