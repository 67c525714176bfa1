package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Each row is a
// market instance the tracker followed; re-detection refreshes last_seen.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const selectMarket = `
	SELECT condition_id, slug, question, end_date, tokens,
	       tick_size::TEXT, taker_fee::TEXT, maker_fee::TEXT, neg_risk, active
	FROM tracked_markets`

// Upsert inserts the market or refreshes its mutable columns.
func (s *MarketStore) Upsert(ctx context.Context, m domain.MarketMetadata) error {
	tokens, err := json.Marshal(m.Tokens)
	if err != nil {
		return fmt.Errorf("postgres: marshal market tokens: %w", err)
	}
	var endDate *time.Time
	if !m.EndDate.IsZero() {
		endDate = &m.EndDate
	}

	const q = `
		INSERT INTO tracked_markets (
			condition_id, slug, question, end_date, tokens,
			tick_size, taker_fee, maker_fee, neg_risk, active
		) VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)
		ON CONFLICT (condition_id) DO UPDATE SET
			slug      = EXCLUDED.slug,
			question  = EXCLUDED.question,
			end_date  = EXCLUDED.end_date,
			tokens    = EXCLUDED.tokens,
			tick_size = EXCLUDED.tick_size,
			taker_fee = EXCLUDED.taker_fee,
			maker_fee = EXCLUDED.maker_fee,
			neg_risk  = EXCLUDED.neg_risk,
			active    = EXCLUDED.active,
			last_seen = NOW()`

	if _, err := s.pool.Exec(ctx, q,
		m.ConditionID, m.Slug, m.Question, endDate, tokens,
		m.TickSize.String(), m.TakerFee.String(), m.MakerFee.String(), m.NegRisk, m.Active,
	); err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ConditionID, err)
	}
	return nil
}

// GetByConditionID returns domain.ErrNotFound when the market was never stored.
func (s *MarketStore) GetByConditionID(ctx context.Context, conditionID string) (domain.MarketMetadata, error) {
	row := s.pool.QueryRow(ctx, selectMarket+` WHERE condition_id = $1`, conditionID)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MarketMetadata{}, fmt.Errorf("postgres: market %s: %w", conditionID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketMetadata{}, err
	}
	return m, nil
}

// ListRecent returns markets ordered by last_seen, newest first.
func (s *MarketStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.MarketMetadata, error) {
	q := newQuery(selectMarket + ` WHERE 1=1`)
	q.window("last_seen", opts)
	q.add(" ORDER BY last_seen DESC")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketMetadata
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}

func scanMarket(row pgx.Row) (domain.MarketMetadata, error) {
	var (
		m                  domain.MarketMetadata
		endDate            *time.Time
		tokens             []byte
		tick, taker, maker string
	)
	if err := row.Scan(&m.ConditionID, &m.Slug, &m.Question, &endDate, &tokens,
		&tick, &taker, &maker, &m.NegRisk, &m.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketMetadata{}, err
		}
		return domain.MarketMetadata{}, fmt.Errorf("postgres: scan market: %w", err)
	}
	if endDate != nil {
		m.EndDate = endDate.UTC()
	}
	if err := json.Unmarshal(tokens, &m.Tokens); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("postgres: unmarshal market tokens: %w", err)
	}
	var err error
	if m.TickSize, err = decimal.NewFromString(tick); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("postgres: parse tick size: %w", err)
	}
	if m.TakerFee, err = decimal.NewFromString(taker); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("postgres: parse taker fee: %w", err)
	}
	if m.MakerFee, err = decimal.NewFromString(maker); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("postgres: parse maker fee: %w", err)
	}
	return m, nil
}
