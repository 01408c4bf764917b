package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// StatementGenerated is emitted after a draft statement is committed.
type StatementGenerated struct {
	StatementID     string          `json:"statement_id"`
	CompanyID       string          `json:"company_id"`
	Year            int             `json:"year"`
	Month           time.Month      `json:"month"`
	BillingMethod   string          `json:"billing_method"`
	TotalContainers int             `json:"total_containers"`
	TotalUSD        decimal.Decimal `json:"total_usd"`
	TotalUZS        decimal.Decimal `json:"total_uzs"`
	ContentHash     string          `json:"content_hash"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

// StatementFinalized is emitted after a statement is locked.
type StatementFinalized struct {
	StatementID     string          `json:"statement_id"`
	CompanyID       string          `json:"company_id"`
	Year            int             `json:"year"`
	Month           time.Month      `json:"month"`
	TotalContainers int             `json:"total_containers"`
	TotalUSD        decimal.Decimal `json:"total_usd"`
	TotalUZS        decimal.Decimal `json:"total_uzs"`
	SnapshotHash    string          `json:"snapshot_hash"`
	FinalizedBy     string          `json:"finalized_by"`
	OccurredAt      time.Time       `json:"occurred_at"`
}

func (e StatementGenerated) EventCompanyID() string { return e.CompanyID }
func (e StatementGenerated) EventTime() time.Time    { return e.OccurredAt }

func (e StatementFinalized) EventCompanyID() string { return e.CompanyID }
func (e StatementFinalized) EventTime() time.Time    { return e.OccurredAt }

// EventPublisher publishes statement lifecycle events.
type EventPublisher interface {
	PublishStatementGenerated(ctx context.Context, event StatementGenerated) error
	PublishStatementFinalized(ctx context.Context, event StatementFinalized) error
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
