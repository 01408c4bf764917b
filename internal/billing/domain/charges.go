package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept for both currencies.
const MoneyPlaces = 2

// Charge is the priced result of one sub-period.
type Charge struct {
	Period       SubPeriod
	TotalDays    int
	FreeDays     int
	BillableDays int
	AmountUSD    decimal.Decimal
	AmountUZS    decimal.Decimal
}

// AllocateFreeDays consumes freeDays against the sub-periods in chronological
// order and prices the remaining billable days of each one.
func AllocateFreeDays(freeDays int, periods []SubPeriod) []Charge {
	if freeDays < 0 {
		freeDays = 0
	}
	remaining := freeDays
	charges := make([]Charge, 0, len(periods))
	for _, p := range periods {
		total := p.Days()
		consumed := remaining
		if consumed > total {
			consumed = total
		}
		remaining -= consumed
		billable := total - consumed
		days := decimal.NewFromInt(int64(billable))
		charges = append(charges, Charge{
			Period:       p,
			TotalDays:    total,
			FreeDays:     consumed,
			BillableDays: billable,
			AmountUSD:    p.Rate.DailyRateUSD.Mul(days).Round(MoneyPlaces),
			AmountUZS:    p.Rate.DailyRateUZS.Mul(days).Round(MoneyPlaces),
		})
	}
	return charges
}

// ContainerBilling is the derived billing breakdown of one dwell.
type ContainerBilling struct {
	Dwell           Dwell
	Size            ContainerSize
	Start           time.Time
	End             time.Time
	AsOf            time.Time
	FreeDaysGranted int
	Charges         []Charge
}

// ComputeContainerBilling splits the dwell, locks the free-day allowance from the
// rate in effect on the entry date and prices every sub-period. With
// splitByMonth the dwell is additionally cut at each month start. Any
// unpriceable sub-period aborts the whole computation.
func ComputeContainerBilling(book *TariffBook, dwell Dwell, asOf time.Time, splitByMonth bool) (*ContainerBilling, error) {
	start, end, err := dwell.Span(asOf)
	if err != nil {
		return nil, err
	}
	var cuts []time.Time
	if splitByMonth {
		cuts = MonthCuts(start, end)
	}
	size := dwell.Size()
	periods, err := SplitDwell(book, start, end, size, dwell.Status, cuts...)
	if err != nil {
		return nil, err
	}
	granted := periods[0].Rate.FreeDays
	return &ContainerBilling{
		Dwell:           dwell,
		Size:            size,
		Start:           start,
		End:             end,
		AsOf:            DateOf(asOf),
		FreeDaysGranted: granted,
		Charges:         AllocateFreeDays(granted, periods),
	}, nil
}

// TotalDays returns the dwell length in days.
func (c *ContainerBilling) TotalDays() int {
	n := 0
	for _, ch := range c.Charges {
		n += ch.TotalDays
	}
	return n
}

// FreeDaysUsed returns the free days consumed across the dwell.
func (c *ContainerBilling) FreeDaysUsed() int {
	n := 0
	for _, ch := range c.Charges {
		n += ch.FreeDays
	}
	return n
}

// BillableDays returns the billed days across the dwell.
func (c *ContainerBilling) BillableDays() int {
	n := 0
	for _, ch := range c.Charges {
		n += ch.BillableDays
	}
	return n
}

// TotalUSD sums the USD amounts.
func (c *ContainerBilling) TotalUSD() decimal.Decimal {
	total := decimal.Zero
	for _, ch := range c.Charges {
		total = total.Add(ch.AmountUSD)
	}
	return total
}

// TotalUZS sums the UZS amounts.
func (c *ContainerBilling) TotalUZS() decimal.Decimal {
	total := decimal.Zero
	for _, ch := range c.Charges {
		total = total.Add(ch.AmountUZS)
	}
	return total
}
