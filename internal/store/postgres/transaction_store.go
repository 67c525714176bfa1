package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// Decimal columns are NUMERIC and travel as text to keep full precision.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const insertTransaction = `
	INSERT INTO transactions (
		id, order_id, token_id, side, size, price, notional, fee,
		realized_pnl, cash_delta, balance_after, ts
	) VALUES (
		$1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC,
		$9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12
	)
	ON CONFLICT (id) DO NOTHING`

const selectTransaction = `
	SELECT id, order_id, token_id, side, size::TEXT, price::TEXT, notional::TEXT,
	       fee::TEXT, realized_pnl::TEXT, cash_delta::TEXT, balance_after::TEXT, ts
	FROM transactions WHERE 1=1`

// InsertBatch writes all records in one round trip. Records already present
// are skipped, so replaying a batch is harmless.
func (s *TransactionStore) InsertBatch(ctx context.Context, txs []domain.TransactionRecord) error {
	if len(txs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range txs {
		batch.Queue(insertTransaction,
			t.ID, t.OrderID, t.TokenID, string(t.Side),
			t.Size.String(), t.Price.String(), t.Notional.String(), t.Fee.String(),
			t.RealizedPnL.String(), t.CashDelta.String(), t.BalanceAfter.String(), t.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range txs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert transaction batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByToken returns the ledger rows for one token, newest first.
func (s *TransactionStore) ListByToken(ctx context.Context, tokenID string, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	q := newQuery(selectTransaction)
	q.add(" AND token_id = " + q.arg(tokenID))
	return s.list(ctx, q, opts)
}

// List returns ledger rows across all tokens, newest first.
func (s *TransactionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	return s.list(ctx, newQuery(selectTransaction), opts)
}

func (s *TransactionStore) list(ctx context.Context, q *query, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	q.window("ts", opts)
	q.add(" ORDER BY ts DESC")
	q.page(opts)

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.TransactionRecord
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transactions rows: %w", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (domain.TransactionRecord, error) {
	var (
		t    domain.TransactionRecord
		side string
		nums [7]string
	)
	if err := row.Scan(
		&t.ID, &t.OrderID, &t.TokenID, &side,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &nums[6],
		&t.Timestamp,
	); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("postgres: scan transaction: %w", err)
	}
	t.Side = domain.OrderSide(side)

	dst := []*decimal.Decimal{&t.Size, &t.Price, &t.Notional, &t.Fee, &t.RealizedPnL, &t.CashDelta, &t.BalanceAfter}
	for i, s := range nums {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return domain.TransactionRecord{}, fmt.Errorf("postgres: parse transaction %s numeric: %w", t.ID, err)
		}
		*dst[i] = d
	}
	t.Timestamp = t.Timestamp.UTC()
	return t, nil
}
