package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
// Since/Until are unix-second bounds; nil means unbounded.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *int64
	Until  *int64
}

// TradeStore persists deduplicated trades. Inserting a trade whose natural
// key (market, timestamp, price, size, trader) already exists is a no-op,
// not an error.
type TradeStore interface {
	// InsertOrIgnore bulk-inserts trades and returns the number actually
	// inserted, which may be less than len(trades) when some rows already
	// existed.
	InsertOrIgnore(ctx context.Context, trades []Trade) (int64, error)
	// LoadSignatures returns the signatures of every trade already persisted
	// for the market. Called once at run start, not per record.
	LoadSignatures(ctx context.Context, marketID string) (map[TradeSignature]struct{}, error)
	// MinTimestamp returns the oldest stored trade timestamp for the market,
	// or 0 when no trades exist.
	MinTimestamp(ctx context.Context, marketID string) (int64, error)
	Count(ctx context.Context, marketID string) (int64, error)
	// SumSize returns the total traded size stored for the market. Read-only
	// progress aggregate; not part of the ingestion contract.
	SumSize(ctx context.Context, marketID string) (float64, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Trade, error)
}

// MarketStartResolver looks up a best-effort start timestamp for a market
// from an external source. Implementations return an error wrapping
// ErrNotFound when no start date is known.
type MarketStartResolver interface {
	StartTimestamp(ctx context.Context, marketID string) (int64, error)
}

// LockManager hands out exclusive locks keyed by string, used to keep two
// sync runs from sharing the storage write path. Acquire returns an unlock
// function on success and ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads a snapshot object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
