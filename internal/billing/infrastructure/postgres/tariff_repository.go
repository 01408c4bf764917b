package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// TariffRepository persists tariffs and their rates. General tariffs are
// stored with an empty company_id.
type TariffRepository struct {
	db *sql.DB
}

// NewTariffRepository constructs a repository.
func NewTariffRepository(db *sql.DB) *TariffRepository {
	return &TariffRepository{db: db}
}

// ListForCompany returns the general tariffs plus the special tariffs of companyID.
func (r *TariffRepository) ListForCompany(ctx context.Context, companyID string) ([]billing.Tariff, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, company_id, name, effective_from, effective_to, created_at
FROM tariffs
WHERE company_id = '' OR company_id = $1
ORDER BY company_id ASC, effective_from ASC, id ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tariffs []billing.Tariff
	index := make(map[string]int)
	for rows.Next() {
		tariff, err := scanTariff(rows)
		if err != nil {
			return nil, err
		}
		index[tariff.ID] = len(tariffs)
		tariffs = append(tariffs, *tariff)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tariffs) == 0 {
		return nil, nil
	}

	rateRows, err := r.db.QueryContext(ctx, `
SELECT r.id, r.tariff_id, r.size, r.status, r.daily_rate_usd, r.daily_rate_uzs, r.free_days
FROM tariff_rates r
JOIN tariffs t ON t.id = r.tariff_id
WHERE t.company_id = '' OR t.company_id = $1
ORDER BY r.tariff_id ASC, r.size ASC, r.status ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rateRows.Close()
	for rateRows.Next() {
		rate, err := scanRate(rateRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[rate.TariffID]; ok {
			tariffs[i].Rates = append(tariffs[i].Rates, *rate)
		}
	}
	if err := rateRows.Err(); err != nil {
		return nil, err
	}
	return tariffs, nil
}

// Get returns a tariff with its rates or nil.
func (r *TariffRepository) Get(ctx context.Context, id string) (*billing.Tariff, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, company_id, name, effective_from, effective_to, created_at
FROM tariffs
WHERE id = $1`, id)
	tariff, err := scanTariff(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, tariff_id, size, status, daily_rate_usd, daily_rate_uzs, free_days
FROM tariff_rates
WHERE tariff_id = $1
ORDER BY size ASC, status ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		tariff.Rates = append(tariff.Rates, *rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tariff, nil
}

// Create inserts a tariff and its rates. An overlap with another tariff of the
// same scope surfaces as billing.ErrTariffOverlap.
func (r *TariffRepository) Create(ctx context.Context, tariff *billing.Tariff) error {
	if r == nil || r.db == nil {
		return errors.New("tariff repo: nil db")
	}
	if tariff == nil {
		return errors.New("tariff repo: nil tariff")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO tariffs (id, company_id, name, effective_from, effective_to, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		tariff.ID, tariff.CompanyID, tariff.Name, tariff.EffectiveFrom, nullDate(tariff.EffectiveTo), tariff.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return translate(err)
	}
	for _, rate := range tariff.Rates {
		_, err := tx.ExecContext(ctx, `
INSERT INTO tariff_rates (id, tariff_id, size, status, daily_rate_usd, daily_rate_uzs, free_days)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			rate.ID, tariff.ID, string(rate.Size), string(rate.Status), rate.DailyRateUSD, rate.DailyRateUZS, rate.FreeDays)
		if err != nil {
			_ = tx.Rollback()
			return translate(err)
		}
	}
	return translate(tx.Commit())
}

// Close sets the inclusive end date of a tariff.
func (r *TariffRepository) Close(ctx context.Context, id string, effectiveTo time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("tariff repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tariffs
SET effective_to = $1
WHERE id = $2`, billing.DateOf(effectiveTo), id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrUnknownTariff
	}
	return nil
}

// GetRate returns a rate or nil.
func (r *TariffRepository) GetRate(ctx context.Context, rateID string) (*billing.TariffRate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("tariff repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, tariff_id, size, status, daily_rate_usd, daily_rate_uzs, free_days
FROM tariff_rates
WHERE id = $1`, rateID)
	rate, err := scanRate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rate, nil
}

// UpdateRate replaces the prices and free days of a rate.
func (r *TariffRepository) UpdateRate(ctx context.Context, rate billing.TariffRate) error {
	if r == nil || r.db == nil {
		return errors.New("tariff repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE tariff_rates
SET daily_rate_usd = $1, daily_rate_uzs = $2, free_days = $3
WHERE id = $4`, rate.DailyRateUSD, rate.DailyRateUZS, rate.FreeDays, rate.ID)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrUnknownTariffRate
	}
	return nil
}

// RateInFinalizedStatement reports whether a finalized statement bills rateID.
func (r *TariffRepository) RateInFinalizedStatement(ctx context.Context, rateID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("tariff repo: nil db")
	}
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM statement_line_items i
	JOIN monthly_statements s ON s.id = i.statement_id
	WHERE i.tariff_rate_id = $1 AND s.status = 'finalized'
)`, rateID).Scan(&exists)
	return exists, err
}

func scanTariff(row rowScanner) (*billing.Tariff, error) {
	var tariff billing.Tariff
	var effectiveTo sql.NullTime
	if err := row.Scan(&tariff.ID, &tariff.CompanyID, &tariff.Name, &tariff.EffectiveFrom, &effectiveTo, &tariff.CreatedAt); err != nil {
		return nil, err
	}
	tariff.EffectiveFrom = billing.DateOf(tariff.EffectiveFrom)
	if effectiveTo.Valid {
		tariff.EffectiveTo = billing.DateOf(effectiveTo.Time)
	}
	tariff.CreatedAt = tariff.CreatedAt.UTC()
	return &tariff, nil
}

func scanRate(row rowScanner) (*billing.TariffRate, error) {
	var rate billing.TariffRate
	var size, status string
	if err := row.Scan(&rate.ID, &rate.TariffID, &size, &status, &rate.DailyRateUSD, &rate.DailyRateUZS, &rate.FreeDays); err != nil {
		return nil, err
	}
	rate.Size = billing.ContainerSize(size)
	rate.Status = billing.ContainerStatus(status)
	return &rate, nil
}

func nullDate(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: billing.DateOf(t), Valid: true}
}
