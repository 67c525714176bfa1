package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marketwatch/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	path        string
	contentType string
	body        []byte
}

type fakeWriter struct {
	mu    sync.Mutex
	puts  []putCall
	fails int
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("boom")
	}
	b, _ := io.ReadAll(data)
	f.puts = append(f.puts, putCall{path: path, contentType: contentType, body: b})
	return nil
}

func (f *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, "")
}

func (f *fakeWriter) calls() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.puts...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func tx(id string) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID: id, TokenID: "tok", Side: domain.OrderSideBuy,
		Size: decimal.NewFromInt(10), Price: decimal.RequireFromString("0.4"),
	}
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a/b.jsonl", joinKey("", "/a/b.jsonl"))
	assert.Equal(t, "mw/a/b.jsonl", joinKey("mw", "a/b.jsonl"))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}

func TestLedgerArchiverFlushWritesJSONL(t *testing.T) {
	w := &fakeWriter{}
	at := time.Date(2026, 2, 4, 16, 0, 0, 0, time.UTC)
	a := NewLedgerArchiver(w, discard(), WithArchiveClock(func() time.Time { return at }))

	path, n, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, path)
	assert.Empty(t, w.calls())

	a.Record(tx("1"))
	a.Record(tx("2"))
	path, n, err = a.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, strings.HasPrefix(path, "ledger/2026/02/04/20260204T160000Z-"), path)
	assert.Zero(t, a.Pending())

	calls := w.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "application/x-ndjson", calls[0].contentType)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(calls[0].body))
	for sc.Scan() {
		var rec domain.TransactionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestLedgerArchiverRequeuesOnFailure(t *testing.T) {
	w := &fakeWriter{fails: 1}
	a := NewLedgerArchiver(w, discard())

	a.Record(tx("1"))
	_, _, err := a.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, a.Pending())

	a.Record(tx("2"))
	_, n, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, string(w.calls()[0].body), `"id":"1"`)
}

func TestLedgerArchiverRunFlushesFullBatchAndOnExit(t *testing.T) {
	w := &fakeWriter{}
	a := NewLedgerArchiver(w, discard(), WithBatchSize(2), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Record(tx("1"))
	a.Record(tx("2"))
	require.Eventually(t, func() bool { return len(w.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	a.Record(tx("3"))
	cancel()
	require.NoError(t, <-done)

	calls := w.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, string(calls[1].body), `"id":"3"`)
}
