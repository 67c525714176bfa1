package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketwatch/internal/domain"
)

const (
	DefaultFlushInterval = 5 * time.Minute
	DefaultBatchSize     = 500
	ledgerContentType    = "application/x-ndjson"
)

// LedgerArchiver buffers wallet transactions and uploads them as JSONL
// objects under ledger/YYYY/MM/DD/. A batch is written when it reaches the
// batch size or when the flush interval elapses, whichever comes first.
type LedgerArchiver struct {
	writer    domain.BlobWriter
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time

	mu  sync.Mutex
	buf []domain.TransactionRecord

	full chan struct{}
}

// ArchiverOption configures a LedgerArchiver.
type ArchiverOption func(*LedgerArchiver)

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) ArchiverOption {
	return func(a *LedgerArchiver) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) ArchiverOption {
	return func(a *LedgerArchiver) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithArchiveClock overrides the clock used for object paths.
func WithArchiveClock(now func() time.Time) ArchiverOption {
	return func(a *LedgerArchiver) { a.now = now }
}

// NewLedgerArchiver creates an archiver that uploads through w.
func NewLedgerArchiver(w domain.BlobWriter, logger *slog.Logger, opts ...ArchiverOption) *LedgerArchiver {
	a := &LedgerArchiver{
		writer:    w,
		logger:    logger.With(slog.String("component", "ledger_archiver")),
		interval:  DefaultFlushInterval,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		full:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Record buffers one transaction. It never blocks on I/O.
func (a *LedgerArchiver) Record(tx domain.TransactionRecord) {
	a.mu.Lock()
	a.buf = append(a.buf, tx)
	n := len(a.buf)
	a.mu.Unlock()

	if n >= a.batchSize {
		select {
		case a.full <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered transactions.
func (a *LedgerArchiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// Flush uploads everything buffered as one object and returns its path. On
// upload failure the records are put back at the front of the buffer.
func (a *LedgerArchiver) Flush(ctx context.Context) (string, int, error) {
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return "", 0, nil
	}

	data, err := marshalJSONL(batch)
	if err != nil {
		a.requeue(batch)
		return "", 0, fmt.Errorf("s3blob: ledger marshal: %w", err)
	}

	path := ledgerPath(a.now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), ledgerContentType); err != nil {
		a.requeue(batch)
		return "", 0, fmt.Errorf("s3blob: ledger upload: %w", err)
	}
	return path, len(batch), nil
}

func (a *LedgerArchiver) requeue(batch []domain.TransactionRecord) {
	a.mu.Lock()
	a.buf = append(batch, a.buf...)
	a.mu.Unlock()
}

// Run flushes on every tick and whenever a batch fills, until ctx is done.
// A final flush runs on a short detached context before returning.
func (a *LedgerArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			a.flushAndLog(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			a.flushAndLog(ctx)
		case <-a.full:
			a.flushAndLog(ctx)
		}
	}
}

func (a *LedgerArchiver) flushAndLog(ctx context.Context) {
	path, n, err := a.Flush(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "s3blob: ledger flush failed",
			slog.Int("pending", a.Pending()),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "s3blob: ledger archived",
			slog.String("path", path),
			slog.Int("count", n),
		)
	}
}

// ledgerPath partitions objects by UTC day:
//
//	ledger/2026/02/04/20260204T160000Z-<uuid>.jsonl
func ledgerPath(at time.Time) string {
	return fmt.Sprintf("ledger/%s/%s-%s.jsonl",
		at.Format("2006/01/02"), at.Format("20060102T150405Z"), uuid.NewString())
}

// marshalJSONL encodes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
