package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS policy_audit (
	id              BIGSERIAL PRIMARY KEY,
	transaction_id  TEXT        NOT NULL,
	ts              TIMESTAMPTZ NOT NULL,
	user_id         TEXT        NOT NULL DEFAULT '',
	role            TEXT        NOT NULL,
	resource_type   TEXT        NOT NULL,
	resource_id     TEXT        NOT NULL,
	operation       TEXT        NOT NULL,
	allowed         BOOLEAN     NOT NULL,
	reason          TEXT        NOT NULL,
	latency_us      BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS policy_audit_ts_idx ON policy_audit (ts);
`

const auditInsert = `
INSERT INTO policy_audit
	(transaction_id, ts, user_id, role, resource_type, resource_id, operation, allowed, reason, latency_us)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// PgxAuditSink writes audit entries to Postgres append-only. Writes are
// buffered and flushed by a background worker so evaluation never blocks
// on the database; entries are dropped with a warning when the buffer is
// full.
type PgxAuditSink struct {
	pool *pgxpool.Pool
	ch   chan AuditEntry
	wg   sync.WaitGroup
	once sync.Once
}

var _ AuditSink = (*PgxAuditSink)(nil)

// NewPgxAuditSink connects, ensures the audit table exists, and starts
// the flush worker.
func NewPgxAuditSink(ctx context.Context, url string) (*PgxAuditSink, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PgxAuditSink{
		pool: pool,
		ch:   make(chan AuditEntry, 1024),
	}
	s.wg.Add(1)
	go s.run()
	slog.Info("Audit sink connected to Postgres")
	return s, nil
}

func (s *PgxAuditSink) Append(_ context.Context, entry AuditEntry) {
	select {
	case s.ch <- entry:
	default:
		slog.Warn("Audit buffer full, dropping entry",
			"transaction_id", entry.TransactionID)
	}
}

func (s *PgxAuditSink) run() {
	defer s.wg.Done()
	for entry := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := s.pool.Exec(ctx, auditInsert,
			entry.TransactionID, entry.Timestamp, entry.UserID, entry.Role,
			string(entry.ResourceType), entry.ResourceID, entry.Operation,
			entry.Allowed, entry.Reason, entry.Latency.Microseconds())
		cancel()
		if err != nil {
			slog.Error("Audit insert failed",
				"transaction_id", entry.TransactionID, "error", err)
		}
	}
}

// Close drains the buffer and releases the pool.
func (s *PgxAuditSink) Close() {
	s.once.Do(func() {
		close(s.ch)
		s.wg.Wait()
		s.pool.Close()
	})
}
