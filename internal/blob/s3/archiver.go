package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oddsmesh/oddsmesh/internal/domain"
)

// Archiver drains old sync log entries and whale trades to object storage
// as JSONL, partitioned by year-month. Deleting archived rows from the
// primary store is a separate, explicit step executed after the archive has
// been verified; it never happens here.
type Archiver struct {
	writer  *Writer
	syncLog domain.SyncLogStore
	whales  domain.WhaleTradeStore
	// retention is how much history stays in the primary store.
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer *Writer, syncLog domain.SyncLogStore, whales domain.WhaleTradeStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		writer:    writer,
		syncLog:   syncLog,
		whales:    whales,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSyncLog uploads sync log entries older than the cutoff and returns
// the number archived.
func (a *Archiver) ArchiveSyncLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.syncLog.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sync log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sync log marshal: %w", err)
	}

	path := archivePath("sync_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive sync log upload: %w", err)
	}
	return int64(len(entries)), nil
}

// ArchiveWhaleTrades uploads whale trades older than the cutoff and returns
// the number archived.
func (a *Archiver) ArchiveWhaleTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.whales.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive whale trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive whale trades marshal: %w", err)
	}

	path := archivePath("whale_trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive whale trades upload: %w", err)
	}
	return int64(len(trades)), nil
}

// RunOnce archives everything past retention.
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)

	nLog, err := a.ArchiveSyncLog(ctx, cutoff)
	if err != nil {
		return err
	}
	nWhales, err := a.ArchiveWhaleTrades(ctx, cutoff)
	if err != nil {
		return err
	}

	a.logger.Info("archive pass finished",
		slog.Int64("sync_log_entries", nLog),
		slog.Int64("whale_trades", nWhales),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

// Run archives on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the object key, partitioned by the year-month of the
// cutoff.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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
