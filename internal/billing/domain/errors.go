package billing

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTariffNotFound is matched by *TariffNotFoundError.
	ErrTariffNotFound = errors.New("billing: tariff not found")
	// ErrInvalidContainerSize is matched by *InvalidContainerSizeError.
	ErrInvalidContainerSize = errors.New("billing: no tariff rate for container size/status")
	// ErrStatementFinalized is returned when a finalized statement would be regenerated.
	ErrStatementFinalized = errors.New("billing: statement is finalized")
	// ErrStatementNotFound is returned when a statement does not exist.
	ErrStatementNotFound = errors.New("billing: statement not found")
	// ErrContainerNotFound is returned when a dwell record does not exist.
	ErrContainerNotFound = errors.New("billing: container not found")
	// ErrUnknownTariff is returned when a tariff id does not exist.
	ErrUnknownTariff = errors.New("billing: unknown tariff")
	// ErrUnknownTariffRate is returned when a tariff rate id does not exist.
	ErrUnknownTariffRate = errors.New("billing: unknown tariff rate")
	// ErrTariffOverlap is returned when a tariff overlaps another of the same scope.
	ErrTariffOverlap = errors.New("billing: tariff overlaps an existing tariff")
	// ErrTariffRateLocked is returned when a rate referenced by a finalized statement is edited.
	ErrTariffRateLocked = errors.New("billing: tariff rate is referenced by a finalized statement")
	// ErrInvalidTariff is returned when a tariff fails validation.
	ErrInvalidTariff = errors.New("billing: invalid tariff")
	// ErrInvalidDwell is returned when a dwell has no entry time or ends before it starts.
	ErrInvalidDwell = errors.New("billing: invalid dwell")
	// ErrInvalidPeriod is returned for a year/month outside the calendar.
	ErrInvalidPeriod = errors.New("billing: invalid statement period")
	// ErrInvalidBillingMethod is returned for an unknown billing method.
	ErrInvalidBillingMethod = errors.New("billing: invalid billing method")
	// ErrEmptyCompanyID is returned when a company id is required.
	ErrEmptyCompanyID = errors.New("billing: empty company id")
)

// TariffNotFoundError reports that neither a special nor the general tariff covers a date.
type TariffNotFoundError struct {
	CompanyID string
	Date      time.Time
}

func (e *TariffNotFoundError) Error() string {
	company := e.CompanyID
	if company == "" {
		company = "(general)"
	}
	return fmt.Sprintf("no tariff configured for company %s covering date %s", company, e.Date.Format(DateLayout))
}

// Is lets errors.Is match ErrTariffNotFound.
func (e *TariffNotFoundError) Is(target error) bool { return target == ErrTariffNotFound }

// InvalidContainerSizeError reports a missing (size, status) rate inside a resolved tariff.
type InvalidContainerSizeError struct {
	TariffID string
	Size     ContainerSize
	Status   ContainerStatus
}

func (e *InvalidContainerSizeError) Error() string {
	return fmt.Sprintf("tariff %s has no rate for %s %s containers", e.TariffID, e.Size, e.Status)
}

// Is lets errors.Is match ErrInvalidContainerSize.
func (e *InvalidContainerSizeError) Is(target error) bool { return target == ErrInvalidContainerSize }

// IsConfigurationError reports whether err needs operator action on tariff data.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrTariffNotFound) || errors.Is(err, ErrInvalidContainerSize)
}
