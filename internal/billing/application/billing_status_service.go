package application

import (
	"context"
	"errors"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

// BillingStatusService computes the live billing breakdown of one container.
type BillingStatusService struct {
	dwells  billing.DwellRepository
	tariffs billing.TariffRepository
	clock   Clock
}

// NewBillingStatusService constructs a service.
func NewBillingStatusService(dwells billing.DwellRepository, tariffs billing.TariffRepository) (*BillingStatusService, error) {
	if dwells == nil {
		return nil, errors.New("billing status service: nil dwell repo")
	}
	if tariffs == nil {
		return nil, errors.New("billing status service: nil tariff repo")
	}
	return &BillingStatusService{dwells: dwells, tariffs: tariffs, clock: systemClock{}}, nil
}

// BillingStatus splits the dwell by tariff changes and prices it. Active
// containers are billed up to asOf, today when zero.
func (s *BillingStatusService) BillingStatus(ctx context.Context, containerID string, asOf time.Time) (*billing.ContainerBilling, error) {
	dwell, err := s.dwells.Get(ctx, containerID)
	if err != nil {
		return nil, err
	}
	if dwell == nil {
		return nil, billing.ErrContainerNotFound
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}
	tariffs, err := s.tariffs.ListForCompany(ctx, dwell.CompanyID)
	if err != nil {
		return nil, err
	}
	book := billing.NewTariffBook(dwell.CompanyID, tariffs)
	return billing.ComputeContainerBilling(book, *dwell, asOf, false)
}
