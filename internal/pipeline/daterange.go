package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
)

const (
	defaultPageLimit     = 500
	defaultOffsetCeiling = 5000
	// defaultMaxStalePages is how many consecutive pages entirely older
	// than the interval are tolerated before the interval is declared
	// exhausted.
	defaultMaxStalePages = 3
)

// Interval is one UTC calendar-day slice of the sync span, covering
// [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format("2006-01-02T15:04:05Z"), iv.End.Format("2006-01-02T15:04:05Z"))
}

// Contains reports whether a unix timestamp falls inside the interval.
func (iv Interval) Contains(ts int64) bool {
	return ts >= iv.Start.Unix() && ts < iv.End.Unix()
}

// DailyIntervals splits [start, end) into day-bounded UTC intervals: the
// first runs from start to the next UTC midnight, then whole days, then a
// final partial day up to end. Every second in [start, end) belongs to
// exactly one interval. An empty or inverted span yields no intervals.
func DailyIntervals(start, end time.Time) []Interval {
	start = start.UTC()
	end = end.UTC()

	var intervals []Interval
	for cur := start; cur.Before(end); {
		next := cur.Truncate(24 * time.Hour).Add(24 * time.Hour)
		if next.After(end) {
			next = end
		}
		intervals = append(intervals, Interval{Start: cur, End: next})
		cur = next
	}
	return intervals
}

// PageFetcher fetches one offset page of raw trades for a market, newest
// first. Implementations may degrade transient failures to empty pages per
// their retry policy.
type PageFetcher interface {
	FetchPage(ctx context.Context, marketID string, limit, offset int) ([]domain.RawTrade, error)
}

// DateRangePaginator works around unreliable offset pagination. Beyond a
// few thousand skipped records the upstream silently repeats or skips data,
// so offsets are only probed within a bounded window per daily interval and
// the returned records are filtered client-side by timestamp membership.
// Upstream cursors are never trusted; membership and timestamp ordering are
// the only signals used.
type DateRangePaginator struct {
	fetcher       PageFetcher
	pageLimit     int
	offsetCeiling int
	maxStale      int
	logger        *slog.Logger
}

// NewDateRangePaginator creates a paginator over the given fetcher.
// Non-positive tuning values fall back to defaults.
func NewDateRangePaginator(fetcher PageFetcher, pageLimit, offsetCeiling int, logger *slog.Logger) *DateRangePaginator {
	if pageLimit <= 0 {
		pageLimit = defaultPageLimit
	}
	if offsetCeiling <= 0 {
		offsetCeiling = defaultOffsetCeiling
	}
	return &DateRangePaginator{
		fetcher:       fetcher,
		pageLimit:     pageLimit,
		offsetCeiling: offsetCeiling,
		maxStale:      defaultMaxStalePages,
		logger:        logger.With(slog.String("component", "daterange")),
	}
}

// FetchInterval returns the raw trades whose timestamps fall inside iv.
// The interval ends on the first short page, after maxStale consecutive
// pages paged past the interval, when a page repeats the previous page's
// content (the observed upstream pagination bug), or at the offset safety
// ceiling. A fetch error returns the records collected so far alongside the
// error.
func (p *DateRangePaginator) FetchInterval(ctx context.Context, marketID string, iv Interval) ([]domain.RawTrade, error) {
	var out []domain.RawTrade
	var prevSigs map[domain.TradeSignature]struct{}
	stale := 0

	for offset := 0; offset <= p.offsetCeiling; offset += p.pageLimit {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		page, err := p.fetcher.FetchPage(ctx, marketID, p.pageLimit, offset)
		if err != nil {
			return out, fmt.Errorf("pipeline: fetch interval %s offset %d: %w", iv, offset, err)
		}
		if len(page) == 0 {
			break
		}

		sigs := signatureSet(page)
		if prevSigs != nil && equalSignatureSets(sigs, prevSigs) {
			p.logger.Warn("upstream repeated page content at a new offset, ending interval",
				slog.String("interval", iv.String()),
				slog.Int("offset", offset),
			)
			break
		}
		prevSigs = sigs

		inRange := 0
		var pageOldest int64
		for i := range page {
			ts := page[i].Timestamp
			if pageOldest == 0 || ts < pageOldest {
				pageOldest = ts
			}
			if iv.Contains(ts) {
				out = append(out, page[i])
				inRange++
			}
		}

		if len(page) < p.pageLimit {
			break // short page: upstream has nothing deeper
		}

		// Pages arrive newest-first, so once a full page sits entirely
		// before the interval start we have paged past the interval.
		if inRange == 0 && pageOldest < iv.Start.Unix() {
			stale++
			if stale >= p.maxStale {
				break
			}
		} else {
			stale = 0
		}
	}

	return out, nil
}

func signatureSet(page []domain.RawTrade) map[domain.TradeSignature]struct{} {
	sigs := make(map[domain.TradeSignature]struct{}, len(page))
	for i := range page {
		sigs[page[i].Signature()] = struct{}{}
	}
	return sigs
}

func equalSignatureSets(a, b map[domain.TradeSignature]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for sig := range a {
		if _, ok := b[sig]; !ok {
			return false
		}
	}
	return true
}
