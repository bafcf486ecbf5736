package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmelnik/polysync/internal/domain"
)

// fakeLister serves trades out of a slice in ListByMarket pages.
type fakeLister struct {
	trades  []domain.Trade
	offsets []int
}

func (f *fakeLister) ListByMarket(_ context.Context, _ string, opts domain.ListOpts) ([]domain.Trade, error) {
	f.offsets = append(f.offsets, opts.Offset)
	if opts.Offset >= len(f.trades) {
		return nil, nil
	}
	end := min(opts.Offset+opts.Limit, len(f.trades))
	return f.trades[opts.Offset:end], nil
}

type fakeBlob struct {
	path        string
	contentType string
	data        []byte
	err         error
	putCalls    int
}

func (b *fakeBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b.putCalls++
	if b.err != nil {
		return b.err
	}
	b.path = path
	b.contentType = contentType
	var err error
	b.data, err = io.ReadAll(data)
	return err
}

type fakeMultipartBlob struct {
	fakeBlob
	multiCalls int
	multiPath  string
	multiSize  int64
}

func (b *fakeMultipartBlob) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	b.multiCalls++
	b.multiPath = path
	n, err := io.Copy(io.Discard, data)
	b.multiSize = n
	return err
}

func TestExportWritesCSVSnapshot(t *testing.T) {
	store := &fakeLister{trades: []domain.Trade{
		{Timestamp: 1700000000, Price: 0.5, Size: 100, TraderAddress: "0xabc", MarketID: "0xcond", Side: domain.SideBuy},
		{Timestamp: 1700000001, Price: 0.25, Size: 3.5, TraderAddress: "0xdef", MarketID: "0xcond", Side: domain.SideSell},
	}}
	blob := &fakeBlob{}
	e := NewSnapshotExporter(store, blob, testLogger())

	path, rows, err := e.Export(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.True(t, strings.HasPrefix(path, "snapshots/0xcond/"), path)
	assert.True(t, strings.HasSuffix(path, ".csv"), path)
	assert.Equal(t, path, blob.path)
	assert.Equal(t, "text/csv", blob.contentType)

	records, err := csv.NewReader(bytes.NewReader(blob.data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"timestamp", "price", "size", "trader_address", "side", "market_id"}, records[0])
	assert.Equal(t, []string{"1700000000", "0.5", "100", "0xabc", "buy", "0xcond"}, records[1])
	assert.Equal(t, []string{"1700000001", "0.25", "3.5", "0xdef", "sell", "0xcond"}, records[2])
}

func TestExportPagesThroughStore(t *testing.T) {
	trades := make([]domain.Trade, exportPageSize+1)
	for i := range trades {
		trades[i] = trade(int64(i + 1))
	}
	store := &fakeLister{trades: trades}
	blob := &fakeBlob{}
	e := NewSnapshotExporter(store, blob, testLogger())

	_, rows, err := e.Export(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Equal(t, exportPageSize+1, rows)
	assert.Equal(t, []int{0, exportPageSize}, store.offsets)
}

func TestExportEmptyMarketUploadsHeaderOnly(t *testing.T) {
	store := &fakeLister{}
	blob := &fakeBlob{}
	e := NewSnapshotExporter(store, blob, testLogger())

	_, rows, err := e.Export(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Zero(t, rows)

	records, err := csv.NewReader(bytes.NewReader(blob.data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExportUploadFailurePropagates(t *testing.T) {
	store := &fakeLister{trades: []domain.Trade{trade(1)}}
	blob := &fakeBlob{err: errors.New("bucket gone")}
	e := NewSnapshotExporter(store, blob, testLogger())

	_, _, err := e.Export(context.Background(), "0xcond")
	assert.ErrorContains(t, err, "bucket gone")
}

func TestExportUsesMultipartForLargeSnapshots(t *testing.T) {
	// Pad the trader address so the rendered CSV crosses the chunked
	// upload threshold with a manageable row count.
	longTrader := "0x" + strings.Repeat("a", 510)
	rowCount := multipartThreshold/len(longTrader) + 64
	trades := make([]domain.Trade, rowCount)
	for i := range trades {
		tr := trade(int64(i + 1))
		tr.TraderAddress = longTrader
		trades[i] = tr
	}
	store := &fakeLister{trades: trades}
	blob := &fakeMultipartBlob{}
	e := NewSnapshotExporter(store, blob, testLogger())

	path, rows, err := e.Export(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Equal(t, rowCount, rows)
	assert.Equal(t, 1, blob.multiCalls)
	assert.Equal(t, path, blob.multiPath)
	assert.Zero(t, blob.putCalls)
	assert.GreaterOrEqual(t, blob.multiSize, int64(multipartThreshold))
}

func TestExportSmallSnapshotPrefersSinglePut(t *testing.T) {
	store := &fakeLister{trades: []domain.Trade{trade(1), trade(2)}}
	blob := &fakeMultipartBlob{}
	e := NewSnapshotExporter(store, blob, testLogger())

	_, _, err := e.Export(context.Background(), "0xcond")
	require.NoError(t, err)
	assert.Zero(t, blob.multiCalls)
	assert.Equal(t, 1, blob.putCalls)
}