package polygon

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/dmelnik/polysync/internal/domain"
)

// DefaultOrderFilledSignature is the CLOB OrderFilled event shape the
// shipped decoder understands. Other contract shapes plug in through
// domain.LogDecoder; selection is a configuration concern.
const DefaultOrderFilledSignature = "OrderFilled(address,bytes32,int256,int256,address,uint256)"

// tokenDecimals scales raw int256 amounts to floats. CLOB amounts use
// 18 decimals.
var tokenDecimals = big.NewFloat(1e18)

// EventTopic returns the topic-0 hash for an event signature string.
func EventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// orderFilledArgs is the non-indexed data layout of the OrderFilled event:
// conditionId, price, size, outcomeToken, outcomeIndex. The trader address
// is indexed and arrives in topic 1.
var orderFilledArgs = abi.Arguments{
	{Name: "conditionId", Type: mustType("bytes32")},
	{Name: "price", Type: mustType("int256")},
	{Name: "size", Type: mustType("int256")},
	{Name: "outcomeToken", Type: mustType("address")},
	{Name: "outcomeIndex", Type: mustType("uint256")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("polygon: bad abi type %q: %v", t, err))
	}
	return typ
}

// OrderFilledDecoder decodes CLOB OrderFilled logs into raw trades. The
// side is derived from the sign of the raw size: a positive fill is a buy.
type OrderFilledDecoder struct{}

// Decode implements domain.LogDecoder.
func (OrderFilledDecoder) Decode(log domain.RawLog, blockTimestamp int64) (domain.RawTrade, error) {
	if len(log.Topics) < 2 {
		return domain.RawTrade{}, fmt.Errorf("%w: %d topics, want at least 2", domain.ErrDecodeLog, len(log.Topics))
	}
	traderTopic := log.Topics[1]
	if len(traderTopic) != common.HashLength {
		return domain.RawTrade{}, fmt.Errorf("%w: trader topic is %d bytes", domain.ErrDecodeLog, len(traderTopic))
	}
	trader := common.BytesToAddress(traderTopic[12:])

	if len(log.Data) == 0 {
		return domain.RawTrade{}, fmt.Errorf("%w: empty event data", domain.ErrDecodeLog)
	}
	vals, err := orderFilledArgs.Unpack(log.Data)
	if err != nil {
		return domain.RawTrade{}, fmt.Errorf("%w: unpack event data: %v", domain.ErrDecodeLog, err)
	}

	conditionID := vals[0].([32]byte)
	priceRaw := vals[1].(*big.Int)
	sizeRaw := vals[2].(*big.Int)

	price := scaleAmount(priceRaw)
	size := scaleAmount(new(big.Int).Abs(sizeRaw))
	if price <= 0 || size <= 0 {
		return domain.RawTrade{}, fmt.Errorf("%w: non-positive price %v or size %v", domain.ErrDecodeLog, price, size)
	}

	side := string(domain.SideBuy)
	if sizeRaw.Sign() < 0 {
		side = string(domain.SideSell)
	}

	return domain.RawTrade{
		Timestamp:     blockTimestamp,
		Price:         price,
		Size:          size,
		TraderAddress: strings.ToLower(trader.Hex()),
		MarketID:      "0x" + hex.EncodeToString(conditionID[:]),
		Side:          side,
		TxHash:        log.TxHash,
		LogIndex:      log.Index,
	}, nil
}

func scaleAmount(raw *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), tokenDecimals).Float64()
	return f
}

// Compile-time interface check.
var _ domain.LogDecoder = OrderFilledDecoder{}
