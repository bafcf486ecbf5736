package polymarket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmelnik/polysync/internal/transport"
)

func fastTestPolicy() transport.Policy {
	return transport.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Classify:    transport.DefaultClassify,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

const tradesJSON = `[
	{
		"proxyWallet": "0xAbC0000000000000000000000000000000000001",
		"side": "BUY",
		"conditionId": "0xcond1",
		"size": 120.5,
		"price": 0.55,
		"timestamp": 1700000000,
		"transactionHash": "0xtx1"
	},
	{
		"proxyWallet": "0xdef0000000000000000000000000000000000002",
		"side": "SELL",
		"conditionId": "",
		"size": 3,
		"price": 0.4,
		"timestamp": 1700000100,
		"transactionHash": "0xtx2"
	}
]`

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		assert.Equal(t, "0xcond1", r.URL.Query().Get("market"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		assert.Equal(t, "1000", r.URL.Query().Get("offset"))
		w.Write([]byte(tradesJSON))
	}))
	t.Cleanup(srv.Close)

	c := NewDataClient(srv.URL, fastTestPolicy())
	trades, err := c.FetchPage(context.Background(), "0xcond1", 500, 1000)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	assert.Equal(t, int64(1700000000), trades[0].Timestamp)
	assert.Equal(t, 0.55, trades[0].Price)
	assert.Equal(t, 120.5, trades[0].Size)
	assert.Equal(t, "0xAbC0000000000000000000000000000000000001", trades[0].TraderAddress)
	assert.Equal(t, "0xcond1", trades[0].MarketID)
	assert.Equal(t, "BUY", trades[0].Side)

	// Records missing a conditionId inherit the queried market.
	assert.Equal(t, "0xcond1", trades[1].MarketID)
}

func TestFetchPageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "connection problems upstream", http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	c := NewDataClient(srv.URL, fastTestPolicy())
	trades, err := c.FetchPage(context.Background(), "0xcond1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, int64(3), calls.Load())
}

func TestFetchPageRateLimitExhaustionPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewDataClient(srv.URL, fastTestPolicy())
	_, err := c.FetchPage(context.Background(), "0xcond1", 10, 0)
	assert.Error(t, err)
}
