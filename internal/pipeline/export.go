package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
)

const exportPageSize = 1000

// multipartThreshold is the snapshot size above which the upload switches
// to a chunked transfer.
const multipartThreshold = 8 << 20

// TradeLister pages stored trades for export.
type TradeLister interface {
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// multipartPutter is implemented by blob writers that support chunked
// uploads for large objects.
type multipartPutter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// SnapshotExporter writes a CSV snapshot of a market's stored trades to
// blob storage after a run, keyed by market and date.
type SnapshotExporter struct {
	store  TradeLister
	blob   domain.BlobWriter
	logger *slog.Logger
}

func NewSnapshotExporter(store TradeLister, blob domain.BlobWriter, logger *slog.Logger) *SnapshotExporter {
	return &SnapshotExporter{
		store:  store,
		blob:   blob,
		logger: logger.With(slog.String("component", "export")),
	}
}

// Export pages the market's trades out of storage, renders them as CSV and
// uploads the snapshot. It returns the object path and the row count.
func (e *SnapshotExporter) Export(ctx context.Context, marketID string) (string, int, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "price", "size", "trader_address", "side", "market_id"}); err != nil {
		return "", 0, fmt.Errorf("export: write header: %w", err)
	}

	rows := 0
	for offset := 0; ; offset += exportPageSize {
		trades, err := e.store.ListByMarket(ctx, marketID, domain.ListOpts{
			Limit:  exportPageSize,
			Offset: offset,
		})
		if err != nil {
			return "", 0, fmt.Errorf("export: list trades: %w", err)
		}
		for _, t := range trades {
			record := []string{
				strconv.FormatInt(t.Timestamp, 10),
				strconv.FormatFloat(t.Price, 'g', -1, 64),
				strconv.FormatFloat(t.Size, 'g', -1, 64),
				t.TraderAddress,
				string(t.Side),
				t.MarketID,
			}
			if err := w.Write(record); err != nil {
				return "", 0, fmt.Errorf("export: write row: %w", err)
			}
			rows++
		}
		if len(trades) < exportPageSize {
			break
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", 0, fmt.Errorf("export: flush csv: %w", err)
	}

	path := fmt.Sprintf("snapshots/%s/%s.csv", marketID, time.Now().UTC().Format("2006-01-02"))
	var uploadErr error
	if mp, ok := e.blob.(multipartPutter); ok && buf.Len() >= multipartThreshold {
		uploadErr = mp.PutMultipart(ctx, path, bytes.NewReader(buf.Bytes()), 0)
	} else {
		uploadErr = e.blob.Put(ctx, path, bytes.NewReader(buf.Bytes()), "text/csv")
	}
	if uploadErr != nil {
		return "", 0, fmt.Errorf("export: upload %s: %w", path, uploadErr)
	}

	e.logger.Info("snapshot exported",
		slog.String("path", path),
		slog.Int("rows", rows),
	)
	return path, rows, nil
}
