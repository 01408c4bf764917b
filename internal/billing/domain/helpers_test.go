package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	billing "terminal-billing/internal/billing/domain"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(billing.DateLayout, value)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return d
}

func money(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func tariff(t *testing.T, id, companyID, from, to string, usd string, freeDays int) billing.Tariff {
	t.Helper()
	tr := billing.Tariff{
		ID:            id,
		CompanyID:     companyID,
		Name:          id,
		EffectiveFrom: day(t, from),
	}
	if to != "" {
		tr.EffectiveTo = day(t, to)
	}
	rateUSD := money(t, usd)
	tr.Rates = []billing.TariffRate{
		{
			ID:           id + "-40L",
			TariffID:     id,
			Size:         billing.Size40ft,
			Status:       billing.StatusLaden,
			DailyRateUSD: rateUSD,
			DailyRateUZS: rateUSD.Mul(decimal.NewFromInt(12000)),
			FreeDays:     freeDays,
		},
	}
	return tr
}
