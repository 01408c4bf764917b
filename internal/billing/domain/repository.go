package billing

import (
	"context"
	"time"
)

// TariffRepository persists tariffs with their rates.
type TariffRepository interface {
	// ListForCompany returns the company's special tariffs and all general tariffs.
	ListForCompany(ctx context.Context, companyID string) ([]Tariff, error)
	Get(ctx context.Context, id string) (*Tariff, error)
	Create(ctx context.Context, tariff *Tariff) error
	Close(ctx context.Context, id string, effectiveTo time.Time) error
	GetRate(ctx context.Context, rateID string) (*TariffRate, error)
	UpdateRate(ctx context.Context, rate TariffRate) error
	// RateInFinalizedStatement reports whether a finalized statement bills the rate.
	RateInFinalizedStatement(ctx context.Context, rateID string) (bool, error)
}

// DwellRepository reads container dwell records owned by terminal operations.
type DwellRepository interface {
	// ListOverlapping returns the company's dwells with entry before to and
	// either no exit or an exit on/after from.
	ListOverlapping(ctx context.Context, companyID string, from, to time.Time) ([]Dwell, error)
	// CompaniesWithActivity returns the companies having any dwell overlapping [from, to).
	CompaniesWithActivity(ctx context.Context, from, to time.Time) ([]string, error)
	Get(ctx context.Context, containerID string) (*Dwell, error)
}

// CompanyRepository reads billing parties.
type CompanyRepository interface {
	Get(ctx context.Context, id string) (*Company, error)
}

// StatementFilter narrows statement listings; zero fields match all.
type StatementFilter struct {
	CompanyID string
	Year      int
	Month     time.Month
	Status    string
}

// StatementRepository persists monthly statements and their line items.
type StatementRepository interface {
	FindByPeriod(ctx context.Context, companyID string, year int, month time.Month) (*MonthlyStatement, error)
	GetByID(ctx context.Context, id string) (*MonthlyStatement, error)
	List(ctx context.Context, filter StatementFilter) ([]MonthlyStatement, error)
	ListItems(ctx context.Context, statementID string) ([]StatementLineItem, error)
	// SaveDraft atomically creates or replaces the draft for the statement's
	// (company, year, month), swapping all line items. It fails with
	// ErrStatementFinalized when the stored statement is finalized.
	SaveDraft(ctx context.Context, stmt *MonthlyStatement, items []StatementLineItem) (*MonthlyStatement, error)
	// MarkFinalized moves a draft to finalized.
	MarkFinalized(ctx context.Context, id, snapshotHash, actor string, at time.Time) error
}
