package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmelnik/polysync/internal/domain"
)

// defaultBufferSize is the flush threshold when none is configured.
const defaultBufferSize = 2000

// TradeInserter is the slice of storage the buffer writes through.
type TradeInserter interface {
	InsertOrIgnore(ctx context.Context, trades []domain.Trade) (int64, error)
}

// IngestionBuffer accumulates deduplicated trades and flushes them to
// storage in bulk once the threshold is reached or the source is exhausted.
// A failed flush keeps the buffered records so a later flush can retry
// them; records are only dropped after a successful insert.
type IngestionBuffer struct {
	mu       sync.Mutex
	store    TradeInserter
	limit    int
	budget   int64
	buf      []domain.Trade
	inserted int64
	logger   *slog.Logger
}

// NewIngestionBuffer creates a buffer that auto-flushes at limit records.
// Non-positive limits fall back to the default threshold.
func NewIngestionBuffer(store TradeInserter, limit int, logger *slog.Logger) *IngestionBuffer {
	if limit <= 0 {
		limit = defaultBufferSize
	}
	return &IngestionBuffer{
		store:  store,
		limit:  limit,
		buf:    make([]domain.Trade, 0, limit),
		logger: logger.With(slog.String("component", "buffer")),
	}
}

// SetBudget caps how many records the buffer accepts over its lifetime,
// counting both flushed and pending ones. Zero means unlimited. The check
// runs under the buffer's lock, so concurrent adders cannot overshoot.
func (b *IngestionBuffer) SetBudget(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budget = n
}

// Add appends a trade, flushing first when the buffer is full. The trade is
// buffered even when the flush fails, so nothing is lost; the error is
// still returned so the caller can decide whether to keep going. Once the
// budget is spent Add rejects the trade with errBudgetReached.
func (b *IngestionBuffer) Add(ctx context.Context, trade domain.Trade) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.budget > 0 && b.inserted+int64(len(b.buf)) >= b.budget {
		return errBudgetReached
	}

	var flushErr error
	if len(b.buf) >= b.limit {
		flushErr = b.flushLocked(ctx)
	}
	b.buf = append(b.buf, trade)
	return flushErr
}

// Flush writes all buffered trades to storage in one bulk insert-or-ignore.
func (b *IngestionBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Finalize flushes the remainder at run end.
func (b *IngestionBuffer) Finalize(ctx context.Context) error {
	return b.Flush(ctx)
}

// Inserted returns how many records storage reported as newly inserted.
func (b *IngestionBuffer) Inserted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inserted
}

// Pending returns the number of records awaiting a flush.
func (b *IngestionBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *IngestionBuffer) flushLocked(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}

	n, err := b.store.InsertOrIgnore(ctx, b.buf)
	if err != nil {
		return fmt.Errorf("pipeline: flush %d trades: %w", len(b.buf), err)
	}

	b.inserted += n
	b.logger.Debug("flushed trade buffer",
		slog.Int("buffered", len(b.buf)),
		slog.Int64("inserted", n),
	)
	b.buf = b.buf[:0]
	return nil
}
