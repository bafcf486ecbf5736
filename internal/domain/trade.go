// Package domain defines the core types and collaborator interfaces of the
// trade synchronization engine. It has no dependencies on any driver or
// protocol package.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side is the taker direction of a trade.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// RawTrade is a source-specific trade record as returned by an upstream,
// already lifted out of its wire shape but not yet validated. The REST API
// reports the trader as proxyWallet and the volume as size; the subgraph
// nests the trader under user.id and calls the volume amount. Both land in
// the same fields here. Transient; never persisted as-is.
type RawTrade struct {
	Timestamp     int64
	Price         float64
	Size          float64
	TraderAddress string
	MarketID      string
	Side          string

	// Chain-source extras, absent for REST/indexer records.
	TxHash   string
	LogIndex uint
}

// Trade is the normalized, persisted record. Once handed to storage it is
// never mutated.
type Trade struct {
	ID            int64
	Timestamp     int64 // unix seconds
	Price         float64
	Size          float64
	TraderAddress string
	MarketID      string
	Side          Side
	CreatedAt     time.Time
}

// NormalizeTrade validates a raw record and converts it to its persisted
// form. Records with a non-positive timestamp, an empty trader address, an
// empty market id, or a negative price or size are rejected.
func NormalizeTrade(raw RawTrade) (Trade, error) {
	trader := strings.ToLower(strings.TrimSpace(raw.TraderAddress))
	if raw.Timestamp <= 0 {
		return Trade{}, fmt.Errorf("normalize trade: invalid timestamp %d", raw.Timestamp)
	}
	if trader == "" {
		return Trade{}, fmt.Errorf("normalize trade: empty trader address")
	}
	if raw.MarketID == "" {
		return Trade{}, fmt.Errorf("normalize trade: empty market id")
	}
	if raw.Price < 0 || raw.Size < 0 {
		return Trade{}, fmt.Errorf("normalize trade: negative price %v or size %v", raw.Price, raw.Size)
	}

	side := SideUnknown
	switch strings.ToLower(strings.TrimSpace(raw.Side)) {
	case "buy":
		side = SideBuy
	case "sell":
		side = SideSell
	}

	return Trade{
		Timestamp:     raw.Timestamp,
		Price:         raw.Price,
		Size:          raw.Size,
		TraderAddress: trader,
		MarketID:      strings.ToLower(raw.MarketID),
		Side:          side,
	}, nil
}
