package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmelnik/polysync/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, market_id, timestamp, price, size, trader_address, side, created_at`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.Timestamp,
			&t.Price, &t.Size, &t.TraderAddress,
			&t.Side, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertOrIgnore inserts trades using a pgx Batch and returns how many rows
// were actually stored. Rows matching an existing (market, timestamp, price,
// size, trader) identity are silently skipped via ON CONFLICT DO NOTHING.
func (s *TradeStore) InsertOrIgnore(ctx context.Context, trades []domain.Trade) (int64, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO trades (
			market_id, timestamp, price, size, trader_address, side
		) VALUES (
			$1, $2, $3, $4, $5, $6
		) ON CONFLICT (market_id, timestamp, price, size, trader_address) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.MarketID, t.Timestamp, t.Price, t.Size, t.TraderAddress, t.Side,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range trades {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// LoadSignatures returns the identity signature of every stored trade for
// the market, for priming in-memory deduplication.
func (s *TradeStore) LoadSignatures(ctx context.Context, marketID string) (map[domain.TradeSignature]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, price, size, trader_address FROM trades WHERE market_id = $1`,
		marketID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load signatures: %w", err)
	}
	defer rows.Close()

	sigs := make(map[domain.TradeSignature]struct{})
	for rows.Next() {
		var (
			ts          int64
			price, size float64
			trader      string
		)
		if err := rows.Scan(&ts, &price, &size, &trader); err != nil {
			return nil, fmt.Errorf("postgres: scan signature row: %w", err)
		}
		sigs[domain.SignatureOf(ts, price, size, trader)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load signatures: %w", err)
	}
	return sigs, nil
}

// MinTimestamp returns the oldest stored trade timestamp for the market, or
// zero when no trades exist.
func (s *TradeStore) MinTimestamp(ctx context.Context, marketID string) (int64, error) {
	var ts *int64
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(timestamp) FROM trades WHERE market_id = $1`, marketID,
	).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("postgres: min trade timestamp: %w", err)
	}
	if ts == nil {
		return 0, nil
	}
	return *ts, nil
}

// Count returns the number of stored trades for the market.
func (s *TradeStore) Count(ctx context.Context, marketID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trades WHERE market_id = $1`, marketID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count trades: %w", err)
	}
	return count, nil
}

// SumSize returns the total traded size stored for the market.
func (s *TradeStore) SumSize(ctx context.Context, marketID string) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM trades WHERE market_id = $1`, marketID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum trade size: %w", err)
	}
	return sum, nil
}

// ListByMarket returns trades for a given market with pagination and optional
// time filtering, newest first.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by market: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by market: %w", err)
	}
	return trades, nil
}
