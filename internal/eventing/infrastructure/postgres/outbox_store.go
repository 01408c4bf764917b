package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"terminal-billing/internal/eventing"
)

const (
	defaultOutboxTable = "event_outbox"
	defaultLease       = time.Minute
)

var errNilDB = errors.New("eventing store: nil db")

// OutboxStore keeps events in Postgres until the dispatcher has delivered
// them. Records are claimed with FOR UPDATE SKIP LOCKED. A claim older than
// the lease is treated as abandoned and claimed again.
type OutboxStore struct {
	db          *sql.DB
	table       string
	maxAttempts int
	lease       time.Duration
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// WithLease sets how long a claimed record stays invisible to other dispatchers.
func WithLease(lease time.Duration) OutboxOption {
	return func(store *OutboxStore) {
		if lease > 0 {
			store.lease = lease
		}
	}
}

// WithMaxAttempts bounds redelivery of failed records.
func WithMaxAttempts(n int) OutboxOption {
	return func(store *OutboxStore) {
		if n > 0 {
			store.maxAttempts = n
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{
		db:          db,
		table:       defaultOutboxTable,
		maxAttempts: eventing.DefaultMaxAttempts,
		lease:       defaultLease,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Insert writes an envelope and returns the outbox record id.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("outbox: encode %s: %w", env.EventType, err)
	}
	id := uuid.NewString()
	query := fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, company_id, occurred_at, payload)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	if _, err := s.db.ExecContext(ctx, query, id, env.EventID, env.EventType, env.CompanyID, env.OccurredAt, payload); err != nil {
		return "", fmt.Errorf("outbox: insert %s: %w", env.EventType, err)
	}
	return id, nil
}

// ListPending claims up to limit deliverable records, oldest first: new
// records, failed records below the attempt limit, and expired claims.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
WITH claimable AS (
	SELECT id
	FROM %[1]s
	WHERE status = 'pending'
	   OR (status = 'failed' AND attempts < $2)
	   OR (status = 'processing' AND claimed_at < $3)
	ORDER BY created_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s o
SET status = 'processing', claimed_at = $4
FROM claimable
WHERE o.id = claimable.id
RETURNING o.id, o.payload, o.created_at`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit, s.maxAttempts, now.Add(-s.lease), now)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	type claimed struct {
		record    eventing.OutboxRecord
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var (
			c       claimed
			payload []byte
		)
		if err := rows.Scan(&c.record.ID, &payload, &c.createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &c.record.Envelope); err != nil {
			return nil, fmt.Errorf("outbox: decode %s: %w", c.record.ID, err)
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not keep the CTE order.
	sort.Slice(batch, func(i, j int) bool { return batch[i].createdAt.Before(batch[j].createdAt) })
	records := make([]eventing.OutboxRecord, 0, len(batch))
	for _, c := range batch {
		records = append(records, c.record)
	}
	return records, nil
}

// MarkSent completes a claimed record.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'sent', sent_at = $1, claimed_at = NULL WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkFailed releases a claimed record for retry and counts the attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	query := fmt.Sprintf(`UPDATE %s SET status = 'failed', attempts = attempts + 1, claimed_at = NULL WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
