package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// ProcessedStore is the Postgres ledger of (event, consumer) deliveries.
type ProcessedStore struct {
	db *sql.DB
}

func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if err := s.check(eventID, consumerName); err != nil {
		return false, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM processed_events WHERE event_id = $1 AND consumer_name = $2`,
		eventID, consumerName).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("processed store: lookup %s/%s: %w", consumerName, eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed is a no-op when the pair is already recorded.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if err := s.check(eventID, consumerName); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, consumer_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		eventID, consumerName); err != nil {
		return fmt.Errorf("processed store: mark %s/%s: %w", consumerName, eventID, err)
	}
	return nil
}

func (s *ProcessedStore) check(eventID, consumerName string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if eventID == "" || consumerName == "" {
		return fmt.Errorf("processed store: event id and consumer are required")
	}
	return nil
}
