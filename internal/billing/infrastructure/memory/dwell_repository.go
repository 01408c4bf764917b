package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// DwellRepository is an in-memory container dwell store.
type DwellRepository struct {
	mu     sync.RWMutex
	dwells map[string]billing.Dwell
}

// NewDwellRepository constructs a repository.
func NewDwellRepository() *DwellRepository {
	return &DwellRepository{dwells: make(map[string]billing.Dwell)}
}

// Put stores or replaces a dwell.
func (r *DwellRepository) Put(dwell billing.Dwell) {
	r.mu.Lock()
	r.dwells[dwell.ContainerID] = dwell
	r.mu.Unlock()
}

// Get returns a dwell or nil.
func (r *DwellRepository) Get(ctx context.Context, containerID string) (*billing.Dwell, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dwells[containerID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// ListOverlapping returns the company's dwells touching [from, to).
func (r *DwellRepository) ListOverlapping(ctx context.Context, companyID string, from, to time.Time) ([]billing.Dwell, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []billing.Dwell
	for _, d := range r.dwells {
		if d.CompanyID == companyID && overlaps(d, from, to) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ContainerID < result[j].ContainerID })
	return result, nil
}

// CompaniesWithActivity returns the companies having a dwell touching [from, to).
func (r *DwellRepository) CompaniesWithActivity(ctx context.Context, from, to time.Time) ([]string, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, d := range r.dwells {
		if d.CompanyID != "" && overlaps(d, from, to) {
			seen[d.CompanyID] = struct{}{}
		}
	}
	result := make([]string, 0, len(seen))
	for id := range seen {
		result = append(result, id)
	}
	sort.Strings(result)
	return result, nil
}

func overlaps(d billing.Dwell, from, to time.Time) bool {
	if !billing.DateOf(d.EntryTime).Before(to) {
		return false
	}
	return d.Active() || !billing.DateOf(d.ExitTime).Before(from)
}

// CompanyRepository is an in-memory company store.
type CompanyRepository struct {
	mu        sync.RWMutex
	companies map[string]billing.Company
}

// NewCompanyRepository constructs a repository.
func NewCompanyRepository() *CompanyRepository {
	return &CompanyRepository{companies: make(map[string]billing.Company)}
}

// Put stores or replaces a company.
func (r *CompanyRepository) Put(company billing.Company) {
	r.mu.Lock()
	r.companies[company.ID] = company
	r.mu.Unlock()
}

// Get returns a company or nil.
func (r *CompanyRepository) Get(ctx context.Context, id string) (*billing.Company, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
