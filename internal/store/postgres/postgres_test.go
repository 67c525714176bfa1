package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/mw?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "mw", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/mw?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "mw", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestQueryBuilder(t *testing.T) {
	since := time.Unix(100, 0)
	q := newQuery("SELECT 1 WHERE 1=1")
	q.add(" AND token_id = " + q.arg("tok"))
	q.window("ts", domain.ListOpts{Since: &since})
	q.page(domain.ListOpts{Limit: 10, Offset: 20})

	assert.Equal(t, "SELECT 1 WHERE 1=1 AND token_id = $1 AND ts >= $2 LIMIT $3 OFFSET $4", q.sql)
	assert.Equal(t, []any{"tok", since, 10, 20}, q.args)
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_transactions.sql", names[0])
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

// testClient connects to MARKETWATCH_TEST_POSTGRES_DSN and migrates, or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("MARKETWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MARKETWATCH_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	_, err = c.RunMigrations(ctx)
	require.NoError(t, err)
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTransactionStoreRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewTransactionStore(c.Pool())

	token := "tok-" + uuid.NewString()
	base := time.Now().UTC().Truncate(time.Microsecond)
	txs := []domain.TransactionRecord{
		{
			ID: uuid.NewString(), OrderID: uuid.NewString(), TokenID: token, Side: domain.OrderSideBuy,
			Size: dec("25"), Price: dec("0.41"), Notional: dec("10.25"), Fee: dec("0"),
			RealizedPnL: dec("0"), CashDelta: dec("-10.25"), BalanceAfter: dec("989.75"), Timestamp: base,
		},
		{
			ID: uuid.NewString(), OrderID: uuid.NewString(), TokenID: token, Side: domain.OrderSideSell,
			Size: dec("15"), Price: dec("0.3733333333333333"), Notional: dec("5.6"), Fee: dec("0.112"),
			RealizedPnL: dec("-0.662"), CashDelta: dec("5.488"), BalanceAfter: dec("995.238"), Timestamp: base.Add(time.Second),
		},
	}
	require.NoError(t, store.InsertBatch(ctx, txs))
	require.NoError(t, store.InsertBatch(ctx, txs[:1]), "replay is ignored")

	got, err := store.ListByToken(ctx, token, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, txs[1].ID, got[0].ID)
	assert.Equal(t, domain.OrderSideSell, got[0].Side)
	assert.True(t, got[0].Price.Equal(txs[1].Price))
	assert.True(t, got[0].RealizedPnL.Equal(dec("-0.662")))
	assert.True(t, got[1].BalanceAfter.Equal(dec("989.75")))
	assert.True(t, got[1].Timestamp.Equal(base))

	limited, err := store.ListByToken(ctx, token, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, txs[0].ID, limited[0].ID)
}

func TestMarketStoreUpsert(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewMarketStore(c.Pool())

	id := "0x" + uuid.NewString()
	_, err := store.GetByConditionID(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	m := domain.MarketMetadata{
		ConditionID: id,
		Slug:        "btc-updown-15m-1770220800",
		Question:    "Bitcoin Up or Down?",
		EndDate:     time.Unix(1770221700, 0).UTC(),
		Tokens:      []domain.MarketToken{{TokenID: "y", Outcome: "Up"}, {TokenID: "n", Outcome: "Down"}},
		TickSize:    dec("0.01"),
		TakerFee:    dec("0.02"),
		MakerFee:    dec("0"),
		Active:      true,
	}
	require.NoError(t, store.Upsert(ctx, m))

	m.Active = false
	require.NoError(t, store.Upsert(ctx, m))

	got, err := store.GetByConditionID(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, m.Slug, got.Slug)
	assert.True(t, got.EndDate.Equal(m.EndDate))
	assert.True(t, got.TakerFee.Equal(dec("0.02")))
	require.Len(t, got.Tokens, 2)
	assert.Equal(t, "Down", got.Tokens[1].Outcome)

	recent, err := store.ListRecent(ctx, domain.ListOpts{Limit: 50})
	require.NoError(t, err)
	assert.NotEmpty(t, recent)
}

func TestAuditStoreLog(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	store := NewAuditStore(c.Pool())

	event := "test_" + uuid.NewString()
	since := time.Now().Add(-time.Minute)
	require.NoError(t, store.Log(ctx, event, map[string]any{"condition_id": "0xabc"}))

	entries, err := store.List(ctx, domain.ListOpts{Since: &since, Limit: 100})
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Event == event {
			found = true
			assert.Equal(t, "0xabc", e.Detail["condition_id"])
		}
	}
	assert.True(t, found)
}
