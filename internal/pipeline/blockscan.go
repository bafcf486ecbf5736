package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dmelnik/polysync/internal/domain"
)

const (
	defaultBatchSize = 2000
	defaultWorkers   = 5
)

// blockBatch is one contiguous block range dispatched to a pool worker. A
// batch is owned by its worker until completion; batches never share state.
type blockBatch struct {
	from uint64
	to   uint64
}

// LogSource fetches raw event logs and block metadata from the chain. A
// single shared instance serves all workers; endpoint failover happens
// inside it, transparently to batch logic.
type LogSource interface {
	FetchLogs(ctx context.Context, contract, eventSignature string, from, to uint64) ([]domain.RawLog, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, block uint64) (int64, error)
}

// ScanResult summarizes one block scan.
type ScanResult struct {
	Batches       int
	FailedBatches int
	Logs          int64
	DecodeErrors  int64
}

// BlockRangeScanner splits a block interval into fixed-size batches and
// retrieves and decodes on-chain trade logs for each batch across a bounded
// worker pool. Batch failures are isolated: a batch that exhausts its
// retries is counted and skipped without aborting its siblings.
type BlockRangeScanner struct {
	source    LogSource
	decoder   domain.LogDecoder
	contract  string
	eventSig  string
	batchSize uint64
	workers   int
	logger    *slog.Logger

	tsMu    sync.Mutex
	tsCache map[uint64]int64
}

// ScannerConfig configures a BlockRangeScanner.
type ScannerConfig struct {
	Contract       string
	EventSignature string
	BatchSize      uint64
	Workers        int
}

// NewBlockRangeScanner creates a scanner over the given source and decoder.
// Non-positive batch size or worker counts fall back to defaults.
func NewBlockRangeScanner(source LogSource, decoder domain.LogDecoder, cfg ScannerConfig, logger *slog.Logger) *BlockRangeScanner {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &BlockRangeScanner{
		source:    source,
		decoder:   decoder,
		contract:  cfg.Contract,
		eventSig:  cfg.EventSignature,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger.With(slog.String("component", "blockscan")),
		tsCache:   make(map[uint64]int64),
	}
}

// splitBatches partitions [from, to] (inclusive) into contiguous,
// non-overlapping batches of at most batchSize blocks.
func splitBatches(from, to, batchSize uint64) []blockBatch {
	var batches []blockBatch
	for cur := from; cur <= to; {
		end := cur + batchSize - 1
		if end > to || end < cur {
			end = to
		}
		batches = append(batches, blockBatch{from: cur, to: end})
		if end == to {
			break
		}
		cur = end + 1
	}
	return batches
}

// Scan processes [from, to] and emits every decoded raw trade. emit is
// called concurrently from pool workers and must be safe for that; an error
// from emit cancels the scan and is returned. Failed batches do not fail
// the scan; their count is reported in the result. No ordering is
// guaranteed across batches; within a batch, logs are processed in
// ascending block order.
func (s *BlockRangeScanner) Scan(ctx context.Context, from, to uint64, emit func(domain.RawTrade) error) (ScanResult, error) {
	batches := splitBatches(from, to, s.batchSize)
	s.logger.Info("starting block scan",
		slog.Uint64("from", from),
		slog.Uint64("to", to),
		slog.Int("batches", len(batches)),
		slog.Int("workers", s.workers),
	)

	var failed, logs, decodeErrs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, batch := range batches {
		g.Go(func() error {
			n, bad, err := s.processBatch(gctx, batch, emit)
			logs.Add(n)
			decodeErrs.Add(bad)
			if err == nil {
				return nil
			}
			if gctx.Err() != nil || isEmitError(err) {
				return err
			}
			failed.Add(1)
			s.logger.Warn("block batch failed",
				slog.Uint64("from", batch.from),
				slog.Uint64("to", batch.to),
				slog.String("error", err.Error()),
			)
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		var ee *emitError
		if errors.As(err, &ee) {
			err = ee.err
		}
	}
	return ScanResult{
		Batches:       len(batches),
		FailedBatches: int(failed.Load()),
		Logs:          logs.Load(),
		DecodeErrors:  decodeErrs.Load(),
	}, err
}

// processBatch retrieves and decodes one batch's logs. It returns the
// number of logs retrieved and the number dropped as undecodable.
func (s *BlockRangeScanner) processBatch(ctx context.Context, batch blockBatch, emit func(domain.RawTrade) error) (int64, int64, error) {
	rawLogs, err := s.source.FetchLogs(ctx, s.contract, s.eventSig, batch.from, batch.to)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch logs %d-%d: %w", batch.from, batch.to, err)
	}
	if len(rawLogs) == 0 {
		return 0, 0, nil
	}

	sort.Slice(rawLogs, func(i, j int) bool {
		if rawLogs[i].BlockNumber != rawLogs[j].BlockNumber {
			return rawLogs[i].BlockNumber < rawLogs[j].BlockNumber
		}
		return rawLogs[i].Index < rawLogs[j].Index
	})

	total := int64(len(rawLogs))
	var badDecodes int64
	for i := range rawLogs {
		ts, err := s.blockTimestamp(ctx, rawLogs[i].BlockNumber)
		if err != nil {
			return total, badDecodes, fmt.Errorf("block timestamp %d: %w", rawLogs[i].BlockNumber, err)
		}

		raw, err := s.decoder.Decode(rawLogs[i], ts)
		if err != nil {
			badDecodes++
			s.logger.Debug("dropping undecodable log",
				slog.Uint64("block", rawLogs[i].BlockNumber),
				slog.String("tx", rawLogs[i].TxHash),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := emit(raw); err != nil {
			return total, badDecodes, &emitError{err: err}
		}
	}

	return total, badDecodes, nil
}

// blockTimestamp resolves a block's timestamp through a shared cache so a
// block queried by several batches costs one RPC call.
func (s *BlockRangeScanner) blockTimestamp(ctx context.Context, block uint64) (int64, error) {
	s.tsMu.Lock()
	ts, ok := s.tsCache[block]
	s.tsMu.Unlock()
	if ok {
		return ts, nil
	}

	ts, err := s.source.BlockTimestamp(ctx, block)
	if err != nil {
		return 0, err
	}

	s.tsMu.Lock()
	s.tsCache[block] = ts
	s.tsMu.Unlock()
	return ts, nil
}

// emitError marks an error returned by the emit callback, which must stop
// the scan instead of being swallowed as a batch failure.
type emitError struct {
	err error
}

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

func isEmitError(err error) bool {
	var ee *emitError
	return errors.As(err, &ee)
}
