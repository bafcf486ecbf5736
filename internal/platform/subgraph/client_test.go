package subgraph

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmelnik/polysync/internal/domain"
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

const tradesResponse = `{
	"data": {
		"trades": [
			{
				"id": "t1",
				"market": {"id": "0xcond1"},
				"outcomeIndex": "0",
				"price": "0.55",
				"amount": "120.5",
				"timestamp": "1700000000",
				"user": {"id": "0xabc0000000000000000000000000000000000001"},
				"side": "Buy"
			},
			{
				"id": "t2",
				"market": {"id": ""},
				"outcomeIndex": "1",
				"price": "0.4",
				"amount": "3",
				"timestamp": "1700000100",
				"user": {"id": "0xdef0000000000000000000000000000000000002"},
				"side": "Sell"
			}
		]
	}
}`

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "GetTrades")
		assert.Equal(t, "0xcond1", req.Variables["marketId"])
		assert.Equal(t, float64(100), req.Variables["first"])
		assert.Equal(t, float64(200), req.Variables["skip"])

		w.Write([]byte(tradesResponse))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "test-key", fastTestPolicy())
	trades, err := c.FetchPage(context.Background(), "0xcond1", 100, 200)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// String numerics land in the same fields the REST payload fills.
	assert.Equal(t, int64(1700000000), trades[0].Timestamp)
	assert.Equal(t, 0.55, trades[0].Price)
	assert.Equal(t, 120.5, trades[0].Size)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", trades[0].TraderAddress)
	assert.Equal(t, "0xcond1", trades[0].MarketID)

	// A missing market id inherits the queried one.
	assert.Equal(t, "0xcond1", trades[1].MarketID)
}

func TestFetchPageIndexerErrorDegrades(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"errors":[{"message":"Unavailable: bad indexers"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", fastTestPolicy())
	trades, err := c.FetchPage(context.Background(), "0xcond1", 10, 0)

	// Degrades to an empty page instead of failing the interval.
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, int64(3), calls.Load())
}

func TestFetchPageSchemaErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"no field 'side' on type Trade"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", fastTestPolicy())
	trades, err := c.FetchPage(context.Background(), "0xcond1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestFetchPageRateLimitPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "", fastTestPolicy())
	_, err := c.FetchPage(context.Background(), "0xcond1", 10, 0)
	assert.Error(t, err)
}

func TestFetchPageOmitsAuthWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":{"trades":[]}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "  ", fastTestPolicy())
	trades, err := c.FetchPage(context.Background(), "0xcond1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestClassifyGraphQLError(t *testing.T) {
	testCases := []struct {
		name    string
		message string
		want    error
	}{
		{"bad indexers", "Unavailable: bad indexers", domain.ErrIndexerUnavailable},
		{"behind chain head", "indexers are too far behind", domain.ErrIndexerUnavailable},
		{"missing field", `no field "amount" on type Trade`, domain.ErrSchemaMismatch},
		{"unknown field", "unknown field outcome", domain.ErrSchemaMismatch},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyGraphQLError(tc.message)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("other messages are plain errors", func(t *testing.T) {
		err := classifyGraphQLError("variable $first is required")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrIndexerUnavailable)
		assert.NotErrorIs(t, err, domain.ErrSchemaMismatch)
	})
}
