package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// TariffRepository is an in-memory tariff store.
type TariffRepository struct {
	mu         sync.RWMutex
	tariffs    map[string]billing.Tariff
	statements *StatementRepository
}

// NewTariffRepository constructs a repository. statements, when set, backs the
// finalized-rate check.
func NewTariffRepository(statements *StatementRepository) *TariffRepository {
	return &TariffRepository{tariffs: make(map[string]billing.Tariff), statements: statements}
}

// ListForCompany returns the company's special tariffs and all general tariffs.
func (r *TariffRepository) ListForCompany(ctx context.Context, companyID string) ([]billing.Tariff, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []billing.Tariff
	for _, t := range r.tariffs {
		if t.IsGeneral() || t.CompanyID == companyID {
			result = append(result, cloneTariff(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].EffectiveFrom.Equal(result[j].EffectiveFrom) {
			return result[i].EffectiveFrom.Before(result[j].EffectiveFrom)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Get returns a tariff or nil.
func (r *TariffRepository) Get(ctx context.Context, id string) (*billing.Tariff, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tariffs[id]
	if !ok {
		return nil, nil
	}
	clone := cloneTariff(t)
	return &clone, nil
}

// Create stores a tariff, rejecting overlap within its scope.
func (r *TariffRepository) Create(ctx context.Context, tariff *billing.Tariff) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.tariffs {
		if other.ID != tariff.ID && other.Overlaps(*tariff) {
			return billing.ErrTariffOverlap
		}
	}
	r.tariffs[tariff.ID] = cloneTariff(*tariff)
	return nil
}

// Put stores a tariff without overlap checks, for seeding legacy data.
func (r *TariffRepository) Put(tariff billing.Tariff) {
	r.mu.Lock()
	r.tariffs[tariff.ID] = cloneTariff(tariff)
	r.mu.Unlock()
}

// Close sets the end date of a tariff.
func (r *TariffRepository) Close(ctx context.Context, id string, effectiveTo time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tariffs[id]
	if !ok {
		return billing.ErrUnknownTariff
	}
	t.EffectiveTo = effectiveTo
	r.tariffs[id] = t
	return nil
}

// GetRate returns a rate or nil.
func (r *TariffRepository) GetRate(ctx context.Context, rateID string) (*billing.TariffRate, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tariffs {
		for _, rate := range t.Rates {
			if rate.ID == rateID {
				found := rate
				return &found, nil
			}
		}
	}
	return nil, nil
}

// UpdateRate replaces the prices and free days of a rate.
func (r *TariffRepository) UpdateRate(ctx context.Context, rate billing.TariffRate) error {
	if locked, _ := r.RateInFinalizedStatement(ctx, rate.ID); locked {
		return billing.ErrTariffRateLocked
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tariffs {
		for i := range t.Rates {
			if t.Rates[i].ID != rate.ID {
				continue
			}
			t.Rates[i].DailyRateUSD = rate.DailyRateUSD
			t.Rates[i].DailyRateUZS = rate.DailyRateUZS
			t.Rates[i].FreeDays = rate.FreeDays
			r.tariffs[id] = t
			return nil
		}
	}
	return billing.ErrUnknownTariffRate
}

// RateInFinalizedStatement reports whether a finalized statement bills the rate.
func (r *TariffRepository) RateInFinalizedStatement(ctx context.Context, rateID string) (bool, error) {
	if r.statements == nil {
		return false, nil
	}
	return r.statements.rateFinalized(rateID), nil
}

func cloneTariff(t billing.Tariff) billing.Tariff {
	t.Rates = append([]billing.TariffRate(nil), t.Rates...)
	return t
}
