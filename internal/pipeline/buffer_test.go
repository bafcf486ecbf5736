package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmelnik/polysync/internal/domain"
)

// recordingStore counts insert calls and can be told to fail.
type recordingStore struct {
	batches  [][]domain.Trade
	inserted int64
	failNext bool
}

func (s *recordingStore) InsertOrIgnore(_ context.Context, trades []domain.Trade) (int64, error) {
	if s.failNext {
		s.failNext = false
		return 0, errors.New("connection reset")
	}
	batch := make([]domain.Trade, len(trades))
	copy(batch, trades)
	s.batches = append(s.batches, batch)
	s.inserted += int64(len(trades))
	return int64(len(trades)), nil
}

func trade(ts int64) domain.Trade {
	return domain.Trade{
		Timestamp:     ts,
		Price:         0.5,
		Size:          1,
		TraderAddress: "0xabc",
		MarketID:      "0xcond",
		Side:          domain.SideBuy,
	}
}

func TestBufferFlushesAtThreshold(t *testing.T) {
	store := &recordingStore{}
	b := NewIngestionBuffer(store, 3, testLogger())
	ctx := context.Background()

	for ts := int64(1); ts <= 3; ts++ {
		require.NoError(t, b.Add(ctx, trade(ts)))
	}
	// Threshold reached but flush happens on the next Add.
	assert.Empty(t, store.batches)
	assert.Equal(t, 3, b.Pending())

	require.NoError(t, b.Add(ctx, trade(4)))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 3)
	assert.Equal(t, 1, b.Pending())
	assert.Equal(t, int64(3), b.Inserted())
}

func TestBufferFinalizeDrainsRemainder(t *testing.T) {
	store := &recordingStore{}
	b := NewIngestionBuffer(store, 100, testLogger())
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, trade(1)))
	require.NoError(t, b.Add(ctx, trade(2)))
	require.NoError(t, b.Finalize(ctx))

	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
	assert.Zero(t, b.Pending())
	assert.Equal(t, int64(2), b.Inserted())
}

func TestBufferKeepsRecordsOnFailedFlush(t *testing.T) {
	store := &recordingStore{}
	b := NewIngestionBuffer(store, 2, testLogger())
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, trade(1)))
	require.NoError(t, b.Add(ctx, trade(2)))

	store.failNext = true
	err := b.Add(ctx, trade(3))
	assert.Error(t, err)
	// Nothing was lost: the failed batch plus the new record are pending.
	assert.Equal(t, 3, b.Pending())
	assert.Zero(t, b.Inserted())

	require.NoError(t, b.Finalize(ctx))
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 3)
	assert.Equal(t, int64(3), b.Inserted())
}

func TestBufferFinalizeEmptyIsNoop(t *testing.T) {
	store := &recordingStore{}
	b := NewIngestionBuffer(store, 10, testLogger())

	require.NoError(t, b.Finalize(context.Background()))
	assert.Empty(t, store.batches)
}

func TestBufferInsertedTracksStorageCount(t *testing.T) {
	// Storage reports fewer insertions than records when rows already
	// existed; Inserted must reflect what storage said, not what was sent.
	store := &halfDuplicateStore{}
	b := NewIngestionBuffer(store, 10, testLogger())
	ctx := context.Background()

	for ts := int64(1); ts <= 4; ts++ {
		require.NoError(t, b.Add(ctx, trade(ts)))
	}
	require.NoError(t, b.Finalize(ctx))
	assert.Equal(t, int64(2), b.Inserted())
}

type halfDuplicateStore struct{}

func (halfDuplicateStore) InsertOrIgnore(_ context.Context, trades []domain.Trade) (int64, error) {
	return int64(len(trades) / 2), nil
}

func TestBufferBudgetRejectsExcess(t *testing.T) {
	store := &recordingStore{}
	b := NewIngestionBuffer(store, 2, testLogger())
	b.SetBudget(3)
	ctx := context.Background()

	for ts := int64(1); ts <= 3; ts++ {
		require.NoError(t, b.Add(ctx, trade(ts)))
	}
	err := b.Add(ctx, trade(4))
	assert.ErrorIs(t, err, errBudgetReached)

	require.NoError(t, b.Finalize(ctx))
	assert.Equal(t, int64(3), b.Inserted())
}

func TestBufferBudgetUnderConcurrency(t *testing.T) {
	store := &recordingStore{}
	b := NewIngestionBuffer(store, 4, testLogger())
	b.SetBudget(10)
	ctx := context.Background()

	const workers = 16
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				err := b.Add(ctx, trade(int64(w*1000+i)))
				if err == nil {
					accepted.Add(1)
				} else {
					assert.ErrorIs(t, err, errBudgetReached)
				}
			}
		}()
	}
	wg.Wait()

	// The cap holds exactly even with concurrent adders.
	assert.Equal(t, int64(10), accepted.Load())
	require.NoError(t, b.Finalize(ctx))
	assert.Equal(t, int64(10), b.Inserted())
}
