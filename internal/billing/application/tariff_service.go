package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	billing "terminal-billing/internal/billing/domain"
)

// TariffService administers tariffs and answers resolution queries.
type TariffService struct {
	repo   billing.TariffRepository
	locker Locker
	logger logrus.FieldLogger
	clock  Clock
}

// NewTariffService constructs a service.
func NewTariffService(repo billing.TariffRepository, logger logrus.FieldLogger) (*TariffService, error) {
	if repo == nil {
		return nil, errors.New("tariff service: nil repo")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TariffService{repo: repo, locker: NewKeyedMutex(), logger: logger, clock: systemClock{}}, nil
}

// Create validates and stores a tariff. A tariff overlapping another one of the
// same scope is rejected.
func (s *TariffService) Create(ctx context.Context, tariff billing.Tariff) (*billing.Tariff, error) {
	tariff.EffectiveFrom = billing.DateOf(tariff.EffectiveFrom)
	tariff.EffectiveTo = billing.DateOf(tariff.EffectiveTo)
	if err := tariff.Validate(); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, tariffScopeKey(tariff.CompanyID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.checkOverlap(ctx, tariff); err != nil {
		return nil, err
	}
	if tariff.ID == "" {
		tariff.ID = uuid.NewString()
	}
	tariff.CreatedAt = s.clock.Now().UTC()
	for i := range tariff.Rates {
		if tariff.Rates[i].ID == "" {
			tariff.Rates[i].ID = uuid.NewString()
		}
		tariff.Rates[i].TariffID = tariff.ID
	}
	if err := s.repo.Create(ctx, &tariff); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"tariff_id":      tariff.ID,
		"company_id":     tariff.CompanyID,
		"effective_from": tariff.EffectiveFrom.Format(billing.DateLayout),
		"rates":          len(tariff.Rates),
	}).Info("tariff created")
	return &tariff, nil
}

// Close sets the inclusive end date of a tariff.
func (s *TariffService) Close(ctx context.Context, id string, effectiveTo time.Time) (*billing.Tariff, error) {
	if effectiveTo.IsZero() {
		return nil, fmt.Errorf("%w: effective_to required", billing.ErrInvalidTariff)
	}
	tariff, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tariff == nil {
		return nil, billing.ErrUnknownTariff
	}

	unlock, err := s.locker.Lock(ctx, tariffScopeKey(tariff.CompanyID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated := *tariff
	updated.EffectiveTo = billing.DateOf(effectiveTo)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkOverlap(ctx, updated); err != nil {
		return nil, err
	}
	if err := s.repo.Close(ctx, id, updated.EffectiveTo); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"tariff_id":    id,
		"company_id":   tariff.CompanyID,
		"effective_to": updated.EffectiveTo.Format(billing.DateLayout),
	}).Info("tariff closed")
	return &updated, nil
}

// UpdateRate changes the prices of a rate. Rates billed on a finalized
// statement are immutable.
func (s *TariffService) UpdateRate(ctx context.Context, rate billing.TariffRate) (*billing.TariffRate, error) {
	current, err := s.repo.GetRate(ctx, rate.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, billing.ErrUnknownTariffRate
	}
	rate.TariffID = current.TariffID
	rate.Size = current.Size
	rate.Status = current.Status
	if err := rate.Validate(); err != nil {
		return nil, err
	}
	locked, err := s.repo.RateInFinalizedStatement(ctx, rate.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, billing.ErrTariffRateLocked
	}
	if err := s.repo.UpdateRate(ctx, rate); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"tariff_id": rate.TariffID,
		"rate_id":   rate.ID,
	}).Info("tariff rate updated")
	return &rate, nil
}

// List returns the special tariffs of companyID together with the general ones.
// An empty companyID lists general tariffs only.
func (s *TariffService) List(ctx context.Context, companyID string) ([]billing.Tariff, error) {
	return s.repo.ListForCompany(ctx, companyID)
}

// Resolve returns the tariff and rate billed for a container of companyID on date.
func (s *TariffService) Resolve(ctx context.Context, companyID string, date time.Time, size billing.ContainerSize, status billing.ContainerStatus) (billing.Tariff, billing.TariffRate, error) {
	tariffs, err := s.repo.ListForCompany(ctx, companyID)
	if err != nil {
		return billing.Tariff{}, billing.TariffRate{}, err
	}
	return billing.NewTariffBook(companyID, tariffs).ResolveRate(date, size, status)
}

func (s *TariffService) checkOverlap(ctx context.Context, candidate billing.Tariff) error {
	existing, err := s.repo.ListForCompany(ctx, candidate.CompanyID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID == candidate.ID {
			continue
		}
		if candidate.Overlaps(other) {
			return fmt.Errorf("%w: %s", billing.ErrTariffOverlap, other.ID)
		}
	}
	return nil
}

func tariffScopeKey(companyID string) string {
	if companyID == "" {
		return "tariff:general"
	}
	return "tariff:" + companyID
}
