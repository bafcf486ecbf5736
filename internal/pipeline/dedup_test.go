package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmelnik/polysync/internal/domain"
)

func rawTrade(ts int64, trader string) domain.RawTrade {
	return domain.RawTrade{
		Timestamp:     ts,
		Price:         0.5,
		Size:          10,
		TraderAddress: trader,
		MarketID:      "0xcond",
	}
}

func TestDeduplicatorMarksOnce(t *testing.T) {
	d := NewDeduplicator()
	trade := rawTrade(100, "0xabc")

	assert.True(t, d.IsNewAndMark(trade))
	assert.False(t, d.IsNewAndMark(trade))
	assert.False(t, d.IsNewAndMark(trade))

	assert.Equal(t, int64(2), d.Duplicates())
	assert.Equal(t, 1, d.Len())
}

func TestDeduplicatorLoadPrimesSeenSet(t *testing.T) {
	trade := rawTrade(100, "0xabc")

	d := NewDeduplicator()
	d.Load(map[domain.TradeSignature]struct{}{
		trade.Signature(): {},
	})

	assert.False(t, d.IsNewAndMark(trade))
	assert.True(t, d.IsNewAndMark(rawTrade(101, "0xabc")))
}

func TestDeduplicatorSeen(t *testing.T) {
	d := NewDeduplicator()
	trade := rawTrade(100, "0xabc")

	assert.False(t, d.Seen(trade.Signature()))
	d.IsNewAndMark(trade)
	assert.True(t, d.Seen(trade.Signature()))
}

func TestDeduplicatorConcurrentMarking(t *testing.T) {
	d := NewDeduplicator()
	trade := rawTrade(100, "0xabc")

	const workers = 16
	results := make(chan bool, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- d.IsNewAndMark(trade)
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for ok := range results {
		if ok {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, int64(workers-1), d.Duplicates())
}
