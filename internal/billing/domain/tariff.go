package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tariff is an effective-dated rate table. An empty CompanyID marks the general tariff.
// EffectiveTo is inclusive; zero means open-ended.
type Tariff struct {
	ID            string
	CompanyID     string
	Name          string
	EffectiveFrom time.Time
	EffectiveTo   time.Time
	Rates         []TariffRate
	CreatedAt     time.Time
}

// TariffRate is the daily price of one (size, status) combination.
type TariffRate struct {
	ID           string
	TariffID     string
	Size         ContainerSize
	Status       ContainerStatus
	DailyRateUSD decimal.Decimal
	DailyRateUZS decimal.Decimal
	FreeDays     int
}

// IsGeneral reports whether the tariff is the company-independent fallback.
func (t Tariff) IsGeneral() bool { return t.CompanyID == "" }

// OpenEnded reports whether the tariff has no end date.
func (t Tariff) OpenEnded() bool { return t.EffectiveTo.IsZero() }

// Covers reports whether the tariff applies on day.
func (t Tariff) Covers(day time.Time) bool {
	day = DateOf(day)
	if day.Before(DateOf(t.EffectiveFrom)) {
		return false
	}
	return t.OpenEnded() || !day.After(DateOf(t.EffectiveTo))
}

// Overlaps reports whether two tariffs of the same scope share at least one day.
func (t Tariff) Overlaps(other Tariff) bool {
	if t.CompanyID != other.CompanyID {
		return false
	}
	// [a1, a2] and [b1, b2] intersect when a1 <= b2 and b1 <= a2.
	if !other.OpenEnded() && DateOf(t.EffectiveFrom).After(DateOf(other.EffectiveTo)) {
		return false
	}
	if !t.OpenEnded() && DateOf(other.EffectiveFrom).After(DateOf(t.EffectiveTo)) {
		return false
	}
	return true
}

// boundaries returns the dates on which this tariff starts or stops applying.
func (t Tariff) boundaries() []time.Time {
	points := []time.Time{DateOf(t.EffectiveFrom)}
	if !t.OpenEnded() {
		points = append(points, DateOf(t.EffectiveTo).AddDate(0, 0, 1))
	}
	return points
}

// RateFor returns the rate for (size, status).
func (t Tariff) RateFor(size ContainerSize, status ContainerStatus) (TariffRate, error) {
	for _, rate := range t.Rates {
		if rate.Size == size && rate.Status == status {
			return rate, nil
		}
	}
	return TariffRate{}, &InvalidContainerSizeError{TariffID: t.ID, Size: size, Status: status}
}

// Validate checks date order and rate sanity.
func (t Tariff) Validate() error {
	if t.EffectiveFrom.IsZero() {
		return fmt.Errorf("%w: effective_from required", ErrInvalidTariff)
	}
	if !t.OpenEnded() && DateOf(t.EffectiveTo).Before(DateOf(t.EffectiveFrom)) {
		return fmt.Errorf("%w: effective_to before effective_from", ErrInvalidTariff)
	}
	seen := make(map[string]struct{}, len(t.Rates))
	for _, rate := range t.Rates {
		if err := rate.Validate(); err != nil {
			return err
		}
		key := string(rate.Size) + "/" + string(rate.Status)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate rate %s", ErrInvalidTariff, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Validate checks a single rate row.
func (r TariffRate) Validate() error {
	if _, ok := ParseContainerSize(string(r.Size)); !ok {
		return fmt.Errorf("%w: unknown size %q", ErrInvalidTariff, r.Size)
	}
	if _, ok := ParseContainerStatus(string(r.Status)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTariff, r.Status)
	}
	if r.DailyRateUSD.IsNegative() || r.DailyRateUZS.IsNegative() {
		return fmt.Errorf("%w: negative daily rate", ErrInvalidTariff)
	}
	if r.FreeDays < 0 {
		return fmt.Errorf("%w: negative free days", ErrInvalidTariff)
	}
	return nil
}
