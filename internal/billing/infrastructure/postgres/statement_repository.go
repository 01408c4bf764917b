package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

const statementColumns = `id, company_id, year, month, billing_method, status,
	total_containers, total_billable_days, total_usd, total_uzs,
	content_hash, snapshot_hash, as_of, generated_at, created_at, updated_at,
	finalized_at, finalized_by`

// StatementRepository persists monthly statements.
type StatementRepository struct {
	db *sql.DB
}

// NewStatementRepository constructs a repository.
func NewStatementRepository(db *sql.DB) *StatementRepository {
	return &StatementRepository{db: db}
}

// FindByPeriod returns the statement of a company month or nil.
func (r *StatementRepository) FindByPeriod(ctx context.Context, companyID string, year int, month time.Month) (*billing.MonthlyStatement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+statementColumns+`
FROM monthly_statements
WHERE company_id = $1 AND year = $2 AND month = $3`, companyID, year, int(month))
	return scanStatement(row)
}

// GetByID fetches a statement or nil.
func (r *StatementRepository) GetByID(ctx context.Context, id string) (*billing.MonthlyStatement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+statementColumns+`
FROM monthly_statements
WHERE id = $1`, id)
	return scanStatement(row)
}

// List returns statements matching filter, newest period first.
func (r *StatementRepository) List(ctx context.Context, filter billing.StatementFilter) ([]billing.MonthlyStatement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	var conds []string
	var args []any
	if filter.CompanyID != "" {
		args = append(args, filter.CompanyID)
		conds = append(conds, fmt.Sprintf("company_id = $%d", len(args)))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year, int(filter.Month))
		conds = append(conds, fmt.Sprintf("year = $%d AND month = $%d", len(args)-1, len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `
SELECT ` + statementColumns + `
FROM monthly_statements`
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY year DESC, month DESC, company_id ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.MonthlyStatement
	for rows.Next() {
		stmt, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			result = append(result, *stmt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListItems returns the line items of a statement in position order.
func (r *StatementRepository) ListItems(ctx context.Context, statementID string) ([]billing.StatementLineItem, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, statement_id, position, container_id, container_number, size, status,
	tariff_id, tariff_rate_id, period_start, period_end, total_days, free_days, billable_days,
	daily_rate_usd, daily_rate_uzs, amount_usd, amount_uzs
FROM statement_line_items
WHERE statement_id = $1
ORDER BY position ASC`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.StatementLineItem
	for rows.Next() {
		var item billing.StatementLineItem
		var size, status string
		if err := rows.Scan(
			&item.ID, &item.StatementID, &item.Position, &item.ContainerID, &item.ContainerNumber, &size, &status,
			&item.TariffID, &item.TariffRateID, &item.PeriodStart, &item.PeriodEnd,
			&item.TotalDays, &item.FreeDays, &item.BillableDays,
			&item.DailyRateUSD, &item.DailyRateUZS, &item.AmountUSD, &item.AmountUZS,
		); err != nil {
			return nil, err
		}
		item.Size = billing.ContainerSize(size)
		item.Status = billing.ContainerStatus(status)
		item.PeriodStart = billing.DateOf(item.PeriodStart)
		item.PeriodEnd = billing.DateOf(item.PeriodEnd)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveDraft creates or replaces the draft of the statement's company month in
// one transaction. The row is claimed with insert-on-conflict and locked with
// SELECT ... FOR UPDATE so concurrent writers of the same month serialize.
func (r *StatementRepository) SaveDraft(ctx context.Context, stmt *billing.MonthlyStatement, items []billing.StatementLineItem) (*billing.MonthlyStatement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	if stmt == nil {
		return nil, errors.New("statement repo: nil statement")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	saved, err := saveDraftTx(ctx, tx, stmt, items)
	if err != nil {
		_ = tx.Rollback()
		return nil, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	return saved, nil
}

func saveDraftTx(ctx context.Context, tx *sql.Tx, stmt *billing.MonthlyStatement, items []billing.StatementLineItem) (*billing.MonthlyStatement, error) {
	_, err := tx.ExecContext(ctx, `
INSERT INTO monthly_statements (
	id, company_id, year, month, billing_method, status, as_of, generated_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,'draft',$6,$7,$8,$8)
ON CONFLICT (company_id, year, month)
DO NOTHING`,
		stmt.ID, stmt.CompanyID, stmt.Year, int(stmt.Month), string(stmt.BillingMethod), stmt.AsOf, stmt.GeneratedAt, stmt.CreatedAt)
	if err != nil {
		return nil, err
	}

	var id, status string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
SELECT id, status, created_at
FROM monthly_statements
WHERE company_id = $1 AND year = $2 AND month = $3
FOR UPDATE`, stmt.CompanyID, stmt.Year, int(stmt.Month)).Scan(&id, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	if status == billing.StatementStatusFinalized {
		return nil, billing.ErrStatementFinalized
	}

	saved := *stmt
	saved.ID = id
	saved.Status = billing.StatementStatusDraft
	saved.CreatedAt = createdAt.UTC()

	if _, err := tx.ExecContext(ctx, `DELETE FROM statement_line_items WHERE statement_id = $1`, id); err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
UPDATE monthly_statements
SET billing_method = $1, total_containers = $2, total_billable_days = $3,
	total_usd = $4, total_uzs = $5, content_hash = $6, as_of = $7,
	generated_at = $8, updated_at = $9
WHERE id = $10`,
		string(saved.BillingMethod), saved.TotalContainers, saved.TotalBillableDays,
		saved.TotalUSD, saved.TotalUZS, saved.ContentHash, saved.AsOf,
		saved.GeneratedAt, saved.UpdatedAt, id)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
INSERT INTO statement_line_items (
	id, statement_id, position, container_id, container_number, size, status,
	tariff_id, tariff_rate_id, period_start, period_end, total_days, free_days, billable_days,
	daily_rate_usd, daily_rate_uzs, amount_usd, amount_uzs
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			item.ID, id, item.Position, item.ContainerID, item.ContainerNumber, string(item.Size), string(item.Status),
			item.TariffID, item.TariffRateID, item.PeriodStart, item.PeriodEnd, item.TotalDays, item.FreeDays, item.BillableDays,
			item.DailyRateUSD, item.DailyRateUZS, item.AmountUSD, item.AmountUZS)
		if err != nil {
			return nil, err
		}
	}
	return &saved, nil
}

// MarkFinalized moves a draft to finalized. Finalizing twice is a no-op.
func (r *StatementRepository) MarkFinalized(ctx context.Context, id, snapshotHash, actor string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("statement repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE monthly_statements
SET status = 'finalized', snapshot_hash = $1, finalized_by = $2, finalized_at = $3, updated_at = $3
WHERE id = $4 AND status = 'draft'`, snapshotHash, actor, at, id)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	stmt, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if stmt == nil {
		return billing.ErrStatementNotFound
	}
	return nil
}

func scanStatement(row rowScanner) (*billing.MonthlyStatement, error) {
	var stmt billing.MonthlyStatement
	var month int
	var method string
	var snapshot sql.NullString
	var finalizedAt sql.NullTime
	var finalizedBy sql.NullString
	err := row.Scan(
		&stmt.ID,
		&stmt.CompanyID,
		&stmt.Year,
		&month,
		&method,
		&stmt.Status,
		&stmt.TotalContainers,
		&stmt.TotalBillableDays,
		&stmt.TotalUSD,
		&stmt.TotalUZS,
		&stmt.ContentHash,
		&snapshot,
		&stmt.AsOf,
		&stmt.GeneratedAt,
		&stmt.CreatedAt,
		&stmt.UpdatedAt,
		&finalizedAt,
		&finalizedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	stmt.Month = time.Month(month)
	stmt.BillingMethod = billing.BillingMethod(method)
	if snapshot.Valid {
		stmt.SnapshotHash = snapshot.String
	}
	if finalizedAt.Valid {
		stmt.FinalizedAt = finalizedAt.Time.UTC()
	}
	if finalizedBy.Valid {
		stmt.FinalizedBy = finalizedBy.String
	}
	stmt.AsOf = billing.DateOf(stmt.AsOf)
	stmt.GeneratedAt = stmt.GeneratedAt.UTC()
	stmt.CreatedAt = stmt.CreatedAt.UTC()
	stmt.UpdatedAt = stmt.UpdatedAt.UTC()
	return &stmt, nil
}
