package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"terminal-billing/internal/eventing"
)

const maxDeadLetterError = 2048

// DLQStore parks envelopes the dispatcher gave up on. Repeated failures of
// the same event bump attempts and keep the latest error.
type DLQStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if env.EventID == "" {
		return errors.New("dlq store: envelope has no event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("dlq store: encode %s: %w", env.EventID, err)
	}
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	if len(reason) > maxDeadLetterError {
		reason = reason[:maxDeadLetterError]
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO dead_letter_events AS d
	(event_id, event_type, company_id, payload, error, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (event_id) DO UPDATE
SET payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = d.attempts + 1`,
		env.EventID, env.EventType, env.CompanyID, payload, reason, s.now())
	if err != nil {
		return fmt.Errorf("dlq store: record %s: %w", env.EventID, err)
	}
	return nil
}
