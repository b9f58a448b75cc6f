package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"
)

const flushBatch = 50

// OfflineQueue decorates a Store with a durable retry buffer. A failed
// upsert is staged in sqlite keyed by the dedup key (staging a key twice
// replaces the row, preserving the forward contract's idempotence) and
// redelivered by a background flush loop. The forwarder itself still
// sees the original error; retry is this client's policy, not the
// pipeline's.
type OfflineQueue struct {
	remote     Store
	db         *sql.DB
	mu         sync.Mutex
	flushEvery time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewOfflineQueue(dbPath string, remote Store, flushEvery time.Duration) (*OfflineQueue, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", pragma, err)
		}
	}

	const schema = `
CREATE TABLE IF NOT EXISTS forward_queue (
	dedup_key TEXT PRIMARY KEY,
	bank      TEXT NOT NULL,
	amount    INTEGER NOT NULL,
	raw_text  TEXT NOT NULL,
	owner_id  TEXT NOT NULL,
	ts        TEXT NOT NULL,
	queued_at INTEGER NOT NULL
)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}

	return &OfflineQueue{
		remote:     remote,
		db:         db,
		flushEvery: flushEvery,
		done:       make(chan struct{}),
	}, nil
}

// Upsert tries the remote first. On failure the record is staged and
// the remote's error is returned so the caller can log it; the staged
// copy is delivered later by the flush loop.
func (q *OfflineQueue) Upsert(ctx context.Context, rec ForwardRecord) error {
	if err := q.remote.Upsert(ctx, rec); err != nil {
		if serr := q.stage(rec); serr != nil {
			return fmt.Errorf("%w (staging also failed: %v)", err, serr)
		}
		log.Printf("[queue] staged %s for retry after: %v", rec.DedupKey, err)
		return err
	}
	// Delivered directly; drop any staged copy of the same key so the
	// flush loop cannot later overwrite a fresher write.
	q.mu.Lock()
	_, _ = q.db.Exec("DELETE FROM forward_queue WHERE dedup_key = ?", rec.DedupKey)
	q.mu.Unlock()
	return nil
}

func (q *OfflineQueue) stage(rec ForwardRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.Exec(`
INSERT OR REPLACE INTO forward_queue (dedup_key, bank, amount, raw_text, owner_id, ts, queued_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.DedupKey, rec.Bank, rec.Amount, rec.RawText, rec.OwnerID,
		rec.Timestamp.Format(time.RFC3339), time.Now().UnixMilli())
	return err
}

// Start launches the background flush loop.
func (q *OfflineQueue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	go func() {
		defer close(q.done)
		ticker := time.NewTicker(q.flushEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := q.Flush(ctx); err != nil {
					log.Printf("[queue] flush stopped after %d delivered: %v", n, err)
				} else if n > 0 {
					log.Printf("[queue] flushed %d staged record(s)", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Flush redelivers staged records oldest-first. Each record gets a
// short exponential-backoff retry; the first record that still fails
// aborts the pass, since the store is likely unreachable.
func (q *OfflineQueue) Flush(ctx context.Context) (int, error) {
	recs, err := q.staged(flushBatch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, rec := range recs {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, q.remote.Upsert(ctx, rec)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(4),
		)
		if err != nil {
			return delivered, err
		}
		q.mu.Lock()
		_, _ = q.db.Exec("DELETE FROM forward_queue WHERE dedup_key = ?", rec.DedupKey)
		q.mu.Unlock()
		delivered++
	}
	return delivered, nil
}

func (q *OfflineQueue) staged(limit int) ([]ForwardRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rows, err := q.db.Query(`
SELECT dedup_key, bank, amount, raw_text, owner_id, ts
FROM forward_queue ORDER BY queued_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var recs []ForwardRecord
	for rows.Next() {
		var rec ForwardRecord
		var ts string
		if err := rows.Scan(&rec.DedupKey, &rec.Bank, &rec.Amount, &rec.RawText, &rec.OwnerID, &ts); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339, ts)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Pending returns the number of staged records.
func (q *OfflineQueue) Pending() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int
	err := q.db.QueryRow("SELECT COUNT(*) FROM forward_queue").Scan(&n)
	return n, err
}

func (q *OfflineQueue) Close() error {
	if q.cancel != nil {
		q.cancel()
		<-q.done
	}
	return q.db.Close()
}
