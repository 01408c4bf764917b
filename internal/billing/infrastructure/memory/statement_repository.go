package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// StatementRepository is an in-memory statement store.
type StatementRepository struct {
	mu         sync.RWMutex
	statements map[string]billing.MonthlyStatement
	items      map[string][]billing.StatementLineItem
	byPeriod   map[string]string
}

// NewStatementRepository constructs a repository.
func NewStatementRepository() *StatementRepository {
	return &StatementRepository{
		statements: make(map[string]billing.MonthlyStatement),
		items:      make(map[string][]billing.StatementLineItem),
		byPeriod:   make(map[string]string),
	}
}

func periodKey(companyID string, year int, month time.Month) string {
	return billing.MonthStart(year, month).Format("2006-01") + "|" + companyID
}

// FindByPeriod returns the statement of a company month or nil.
func (r *StatementRepository) FindByPeriod(ctx context.Context, companyID string, year int, month time.Month) (*billing.MonthlyStatement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPeriod[periodKey(companyID, year, month)]
	if !ok {
		return nil, nil
	}
	stmt := r.statements[id]
	return &stmt, nil
}

// GetByID returns a statement or nil.
func (r *StatementRepository) GetByID(ctx context.Context, id string) (*billing.MonthlyStatement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	stmt, ok := r.statements[id]
	if !ok {
		return nil, nil
	}
	return &stmt, nil
}

// List returns statements matching filter ordered by period then company.
func (r *StatementRepository) List(ctx context.Context, filter billing.StatementFilter) ([]billing.MonthlyStatement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []billing.MonthlyStatement
	for _, stmt := range r.statements {
		if filter.CompanyID != "" && stmt.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Year != 0 && (stmt.Year != filter.Year || stmt.Month != filter.Month) {
			continue
		}
		if filter.Status != "" && stmt.Status != filter.Status {
			continue
		}
		result = append(result, stmt)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		if a.Month != b.Month {
			return a.Month > b.Month
		}
		return a.CompanyID < b.CompanyID
	})
	return result, nil
}

// ListItems returns the line items of a statement in position order.
func (r *StatementRepository) ListItems(ctx context.Context, statementID string) ([]billing.StatementLineItem, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]billing.StatementLineItem(nil), r.items[statementID]...), nil
}

// SaveDraft creates or replaces the draft of the statement's company month.
func (r *StatementRepository) SaveDraft(ctx context.Context, stmt *billing.MonthlyStatement, items []billing.StatementLineItem) (*billing.MonthlyStatement, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := *stmt
	key := periodKey(stmt.CompanyID, stmt.Year, stmt.Month)
	if id, ok := r.byPeriod[key]; ok {
		current := r.statements[id]
		if current.Finalized() {
			return nil, billing.ErrStatementFinalized
		}
		saved.ID = current.ID
		saved.CreatedAt = current.CreatedAt
	}
	saved.Status = billing.StatementStatusDraft

	stored := make([]billing.StatementLineItem, len(items))
	copy(stored, items)
	for i := range stored {
		stored[i].StatementID = saved.ID
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })

	r.statements[saved.ID] = saved
	r.items[saved.ID] = stored
	r.byPeriod[key] = saved.ID
	return &saved, nil
}

// MarkFinalized moves a draft to finalized.
func (r *StatementRepository) MarkFinalized(ctx context.Context, id, snapshotHash, actor string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.statements[id]
	if !ok {
		return billing.ErrStatementNotFound
	}
	if stmt.Finalized() {
		return nil
	}
	stmt.Status = billing.StatementStatusFinalized
	stmt.SnapshotHash = snapshotHash
	stmt.FinalizedBy = actor
	stmt.FinalizedAt = at
	stmt.UpdatedAt = at
	r.statements[id] = stmt
	return nil
}

func (r *StatementRepository) rateFinalized(rateID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, items := range r.items {
		stmt := r.statements[id]
		if !stmt.Finalized() {
			continue
		}
		for _, item := range items {
			if item.TariffRateID == rateID {
				return true
			}
		}
	}
	return false
}
