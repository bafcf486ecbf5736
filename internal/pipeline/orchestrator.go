package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmelnik/polysync/internal/domain"
)

// Source selects which upstream a sync run pulls trades from.
type Source string

const (
	SourceREST    Source = "rest"
	SourceIndexer Source = "indexer"
	SourceChain   Source = "chain"
)

// ParseSource validates a source name from config or flags.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceREST:
		return SourceREST, nil
	case SourceIndexer:
		return SourceIndexer, nil
	case SourceChain:
		return SourceChain, nil
	default:
		return "", fmt.Errorf("pipeline: unknown source %q", s)
	}
}

// fallbackStart is used when neither the market metadata nor stored trades
// yield a start cursor. Polymarket mainnet trading predates nothing earlier.
var fallbackStart = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// errBudgetReached stops ingestion cleanly once the run's trade budget is
// spent. It never escapes Run.
var errBudgetReached = errors.New("pipeline: trade budget reached")

// Storage is the persistence surface a sync run needs.
type Storage interface {
	InsertOrIgnore(ctx context.Context, trades []domain.Trade) (int64, error)
	LoadSignatures(ctx context.Context, marketID string) (map[domain.TradeSignature]struct{}, error)
	MinTimestamp(ctx context.Context, marketID string) (int64, error)
	Count(ctx context.Context, marketID string) (int64, error)
	SumSize(ctx context.Context, marketID string) (float64, error)
}

// Options configures a single sync run.
type Options struct {
	Source   Source
	MarketID string

	// MaxTrades caps how many new trades the run may store. Zero means
	// unlimited.
	MaxTrades int64

	// MaxIterations caps intervals (rest, indexer) or block batches
	// (chain). Zero means unlimited.
	MaxIterations int

	// FromBlock and ToBlock bound a chain scan. A zero ToBlock means the
	// current chain head.
	FromBlock uint64
	ToBlock   uint64
}

// Summary reports what a run accomplished.
type Summary struct {
	RunID        string
	Source       Source
	MarketID     string
	Stored       int64
	Duplicates   int64
	Dropped      int64
	Intervals    int
	Failures     int
	DecodeErrors int64
	TotalCount   int64
	TotalSize    float64
	Elapsed      time.Duration
}

// SyncOrchestrator drives one full synchronization pass: it primes the
// deduplicator from storage, streams trades from the selected source
// through normalization into the ingestion buffer, and drains the buffer
// at the end. Orchestrators are single-use per Run call but safe to reuse
// sequentially.
type SyncOrchestrator struct {
	store         Storage
	resolver      domain.MarketStartResolver
	restFetcher   PageFetcher
	indexFetcher  PageFetcher
	scanner       *BlockRangeScanner
	pageLimit     int
	offsetCeiling int
	bufferSize    int
	logger        *slog.Logger
}

// OrchestratorConfig wires an orchestrator's collaborators. Fetchers and
// the scanner may be nil when the corresponding source is never selected.
type OrchestratorConfig struct {
	Store          Storage
	StartResolver  domain.MarketStartResolver
	RESTFetcher    PageFetcher
	IndexerFetcher PageFetcher
	Scanner        *BlockRangeScanner
	PageLimit      int
	OffsetCeiling  int
	BufferSize     int
}

func NewSyncOrchestrator(cfg OrchestratorConfig, logger *slog.Logger) *SyncOrchestrator {
	return &SyncOrchestrator{
		store:         cfg.Store,
		resolver:      cfg.StartResolver,
		restFetcher:   cfg.RESTFetcher,
		indexFetcher:  cfg.IndexerFetcher,
		scanner:       cfg.Scanner,
		pageLimit:     cfg.PageLimit,
		offsetCeiling: cfg.OffsetCeiling,
		bufferSize:    cfg.BufferSize,
		logger:        logger.With(slog.String("component", "orchestrator")),
	}
}

// Run executes one synchronization pass and returns its summary. Setup
// failures (signature load, chain head lookup) abort the run; per-interval
// and per-batch failures are counted and the run continues. Whatever was
// buffered before an error is still flushed.
func (o *SyncOrchestrator) Run(ctx context.Context, opts Options) (Summary, error) {
	started := time.Now()
	runID := uuid.NewString()
	market := strings.ToLower(strings.TrimSpace(opts.MarketID))
	logger := o.logger.With(
		slog.String("run_id", runID),
		slog.String("market_id", market),
		slog.String("source", string(opts.Source)),
	)

	summary := Summary{RunID: runID, Source: opts.Source, MarketID: market}

	seen, err := o.store.LoadSignatures(ctx, market)
	if err != nil {
		return summary, fmt.Errorf("pipeline: load signatures: %w", err)
	}
	dedup := NewDeduplicator()
	dedup.Load(seen)
	logger.Info("loaded known signatures", slog.Int("count", len(seen)))

	buffer := NewIngestionBuffer(o.store, o.bufferSize, logger)
	buffer.SetBudget(opts.MaxTrades)
	// The sink runs concurrently under the chain source's worker pool.
	var dropped atomic.Int64

	sink := func(raw domain.RawTrade) error {
		// An empty configured market accepts every trade under its own
		// market id.
		if market != "" && raw.MarketID != "" && !strings.EqualFold(raw.MarketID, market) {
			return nil
		}
		if !dedup.IsNewAndMark(raw) {
			return nil
		}
		trade, err := domain.NormalizeTrade(raw)
		if err != nil {
			dropped.Add(1)
			logger.Debug("dropping invalid trade", slog.String("error", err.Error()))
			return nil
		}
		if market != "" {
			trade.MarketID = market
		}
		return buffer.Add(ctx, trade)
	}

	var runErr error
	switch opts.Source {
	case SourceChain:
		runErr = o.runChain(ctx, opts, sink, &summary, logger)
	case SourceREST, SourceIndexer:
		runErr = o.runIntervals(ctx, opts, market, sink, &summary, logger)
	default:
		runErr = fmt.Errorf("pipeline: unknown source %q", opts.Source)
	}
	if errors.Is(runErr, errBudgetReached) {
		logger.Info("trade budget reached", slog.Int64("max_trades", opts.MaxTrades))
		runErr = nil
	}

	if err := buffer.Finalize(ctx); err != nil && runErr == nil {
		runErr = err
	}

	summary.Stored = buffer.Inserted()
	summary.Duplicates = dedup.Duplicates()
	summary.Dropped = dropped.Load()
	summary.Elapsed = time.Since(started)

	if count, err := o.store.Count(ctx, market); err == nil {
		summary.TotalCount = count
	}
	if size, err := o.store.SumSize(ctx, market); err == nil {
		summary.TotalSize = size
	}

	logger.Info("sync run finished",
		slog.Int64("stored", summary.Stored),
		slog.Int64("duplicates", summary.Duplicates),
		slog.Int64("dropped", summary.Dropped),
		slog.Int("intervals", summary.Intervals),
		slog.Int("failures", summary.Failures),
		slog.Int64("total_count", summary.TotalCount),
		slog.Float64("total_size", summary.TotalSize),
		slog.Duration("elapsed", summary.Elapsed),
	)
	return summary, runErr
}

func (o *SyncOrchestrator) runIntervals(ctx context.Context, opts Options, market string, sink func(domain.RawTrade) error, summary *Summary, logger *slog.Logger) error {
	fetcher := o.restFetcher
	if opts.Source == SourceIndexer {
		fetcher = o.indexFetcher
	}
	if fetcher == nil {
		return fmt.Errorf("pipeline: no fetcher configured for source %q", opts.Source)
	}

	start := o.startCursor(ctx, market, logger)
	intervals := DailyIntervals(start, time.Now().UTC())
	if opts.MaxIterations > 0 && len(intervals) > opts.MaxIterations {
		intervals = intervals[:opts.MaxIterations]
	}
	summary.Intervals = len(intervals)
	logger.Info("planned intervals",
		slog.Time("start", start),
		slog.Int("count", len(intervals)),
	)

	paginator := NewDateRangePaginator(fetcher, o.pageLimit, o.offsetCeiling, logger)
	for _, iv := range intervals {
		trades, err := paginator.FetchInterval(ctx, market, iv)
		for _, raw := range trades {
			if err := sink(raw); err != nil {
				return err
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.Failures++
			logger.Warn("interval failed",
				slog.String("interval", iv.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (o *SyncOrchestrator) runChain(ctx context.Context, opts Options, sink func(domain.RawTrade) error, summary *Summary, logger *slog.Logger) error {
	if o.scanner == nil {
		return errors.New("pipeline: no scanner configured for chain source")
	}

	from := opts.FromBlock
	to := opts.ToBlock
	if to == 0 {
		head, err := o.scanner.source.BlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: chain head: %w", err)
		}
		to = head
	}
	if to < from {
		return fmt.Errorf("pipeline: block range %d-%d is inverted", from, to)
	}
	if opts.MaxIterations > 0 {
		limit := from + uint64(opts.MaxIterations)*o.scanner.batchSize - 1
		if limit >= from && limit < to {
			to = limit
		}
	}

	result, err := o.scanner.Scan(ctx, from, to, sink)
	summary.Intervals = result.Batches
	summary.Failures = result.FailedBatches
	summary.DecodeErrors = result.DecodeErrors
	return err
}

// startCursor picks where interval planning begins: the market's listed
// start date when available, otherwise a day before the oldest stored
// trade, otherwise a fixed floor.
func (o *SyncOrchestrator) startCursor(ctx context.Context, market string, logger *slog.Logger) time.Time {
	if o.resolver != nil {
		if ts, err := o.resolver.StartTimestamp(ctx, market); err == nil && ts > 0 {
			return time.Unix(ts, 0).UTC()
		} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("market start lookup failed", slog.String("error", err.Error()))
		}
	}
	if ts, err := o.store.MinTimestamp(ctx, market); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC().Add(-24 * time.Hour)
	}
	return fallbackStart
}
