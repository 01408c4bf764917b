package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// DwellRepository reads container dwells maintained by gate operations.
type DwellRepository struct {
	db *sql.DB
}

// NewDwellRepository constructs a repository.
func NewDwellRepository(db *sql.DB) *DwellRepository {
	return &DwellRepository{db: db}
}

// Get returns the dwell of a container or nil.
func (r *DwellRepository) Get(ctx context.Context, containerID string) (*billing.Dwell, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("dwell repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT container_id, container_number, company_id, iso_type, status, entry_time, exit_time
FROM container_dwells
WHERE container_id = $1`, containerID)
	dwell, err := scanDwell(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return dwell, nil
}

// ListOverlapping returns the company's dwells touching [from, to).
func (r *DwellRepository) ListOverlapping(ctx context.Context, companyID string, from, to time.Time) ([]billing.Dwell, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("dwell repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT container_id, container_number, company_id, iso_type, status, entry_time, exit_time
FROM container_dwells
WHERE company_id = $1 AND entry_time < $3 AND (exit_time IS NULL OR exit_time >= $2)
ORDER BY container_id ASC`, companyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Dwell
	for rows.Next() {
		dwell, err := scanDwell(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *dwell)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CompaniesWithActivity returns the companies having a dwell touching [from, to).
func (r *DwellRepository) CompaniesWithActivity(ctx context.Context, from, to time.Time) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("dwell repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT company_id
FROM container_dwells
WHERE entry_time < $2 AND (exit_time IS NULL OR exit_time >= $1)
ORDER BY company_id ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert records a gate-in or gate-out of a container.
func (r *DwellRepository) Upsert(ctx context.Context, dwell billing.Dwell) error {
	if r == nil || r.db == nil {
		return errors.New("dwell repo: nil db")
	}
	var exit sql.NullTime
	if !dwell.ExitTime.IsZero() {
		exit = sql.NullTime{Time: dwell.ExitTime.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO container_dwells (
	container_id, container_number, company_id, iso_type, status, entry_time, exit_time
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (container_id)
DO UPDATE SET
	container_number = EXCLUDED.container_number,
	company_id = EXCLUDED.company_id,
	iso_type = EXCLUDED.iso_type,
	status = EXCLUDED.status,
	entry_time = EXCLUDED.entry_time,
	exit_time = EXCLUDED.exit_time`,
		dwell.ContainerID, dwell.ContainerNumber, dwell.CompanyID, dwell.ISOType, string(dwell.Status), dwell.EntryTime.UTC(), exit)
	return err
}

func scanDwell(row rowScanner) (*billing.Dwell, error) {
	var dwell billing.Dwell
	var status string
	var exit sql.NullTime
	if err := row.Scan(&dwell.ContainerID, &dwell.ContainerNumber, &dwell.CompanyID, &dwell.ISOType, &status, &dwell.EntryTime, &exit); err != nil {
		return nil, err
	}
	dwell.Status = billing.ContainerStatus(status)
	dwell.EntryTime = dwell.EntryTime.UTC()
	if exit.Valid {
		dwell.ExitTime = exit.Time.UTC()
	}
	return &dwell, nil
}

// CompanyRepository reads billing parties.
type CompanyRepository struct {
	db *sql.DB
}

// NewCompanyRepository constructs a repository.
func NewCompanyRepository(db *sql.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// Get returns a company or nil.
func (r *CompanyRepository) Get(ctx context.Context, id string) (*billing.Company, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("company repo: nil db")
	}
	var company billing.Company
	var method string
	err := r.db.QueryRowContext(ctx, `
SELECT id, name, billing_method
FROM companies
WHERE id = $1`, id).Scan(&company.ID, &company.Name, &method)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	company.BillingMethod = billing.BillingMethod(method)
	return &company, nil
}
