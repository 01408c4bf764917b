package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	billing "terminal-billing/internal/billing/domain"
)

const (
	sqlStateExclusionViolation = "23P01"
	// Raised by the immutability triggers in migrations/002_billing_guards.sql.
	sqlStateStatementFinalized = "BL001"
	sqlStateRateLocked         = "BL002"
)

// translate maps database constraint failures onto domain errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlStateExclusionViolation:
		return billing.ErrTariffOverlap
	case sqlStateStatementFinalized:
		return billing.ErrStatementFinalized
	case sqlStateRateLocked:
		return billing.ErrTariffRateLocked
	default:
		return err
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}
