package billing_test

import (
	"testing"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

func laden40(id string, entry, exit time.Time) billing.Dwell {
	return billing.Dwell{
		ContainerID:     id,
		ContainerNumber: "MSCU" + id,
		CompanyID:       "acme",
		ISOType:         "42G1",
		Status:          billing.StatusLaden,
		EntryTime:       entry,
		ExitTime:        exit,
	}
}

func TestComputeContainerBilling_SinglePeriod(t *testing.T) {
	book := billing.NewTariffBook("acme", []billing.Tariff{
		tariff(t, "acme-1", "acme", "2025-12-01", "", "5.50", 5),
	})
	dwell := laden40("1", day(t, "2026-01-01"), day(t, "2026-01-16"))

	got, err := billing.ComputeContainerBilling(book, dwell, time.Time{}, false)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(got.Charges) != 1 {
		t.Fatalf("expected 1 sub-period, got %d", len(got.Charges))
	}
	if got.TotalDays() != 15 || got.BillableDays() != 10 {
		t.Fatalf("days mismatch: total=%d billable=%d", got.TotalDays(), got.BillableDays())
	}
	if !got.TotalUSD().Equal(money(t, "55.00")) {
		t.Fatalf("amount mismatch: got=%s want=55.00", got.TotalUSD())
	}
}

func TestComputeContainerBilling_TariffChangeMidStay(t *testing.T) {
	book := billing.NewTariffBook("acme", []billing.Tariff{
		tariff(t, "acme-1", "acme", "2025-12-01", "2026-01-09", "5.50", 5),
		tariff(t, "acme-2", "acme", "2026-01-10", "", "6.00", 10),
	})
	dwell := laden40("1", day(t, "2026-01-01"), day(t, "2026-01-16"))

	got, err := billing.ComputeContainerBilling(book, dwell, time.Time{}, false)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(got.Charges) != 2 {
		t.Fatalf("expected 2 sub-periods, got %d", len(got.Charges))
	}
	first, second := got.Charges[0], got.Charges[1]
	if first.TotalDays != 9 || first.FreeDays != 5 || first.BillableDays != 4 {
		t.Fatalf("first period mismatch: %+v", first)
	}
	if !first.AmountUSD.Equal(money(t, "22.00")) {
		t.Fatalf("first amount: got=%s want=22.00", first.AmountUSD)
	}
	if second.TotalDays != 6 || second.FreeDays != 0 || second.BillableDays != 6 {
		t.Fatalf("second period mismatch: %+v", second)
	}
	if !second.AmountUSD.Equal(money(t, "36.00")) {
		t.Fatalf("second amount: got=%s want=36.00", second.AmountUSD)
	}
	if !got.TotalUSD().Equal(money(t, "58.00")) {
		t.Fatalf("total: got=%s want=58.00", got.TotalUSD())
	}
	if got.FreeDaysGranted != 5 {
		t.Fatalf("free days are locked at entry, got %d", got.FreeDaysGranted)
	}
}

func TestComputeContainerBilling_FreeDaysSpanPeriods(t *testing.T) {
	book := billing.NewTariffBook("acme", []billing.Tariff{
		tariff(t, "acme-1", "acme", "2025-12-01", "2026-01-03", "5.00", 7),
		tariff(t, "acme-2", "acme", "2026-01-04", "", "6.00", 0),
	})
	dwell := laden40("1", day(t, "2026-01-01"), day(t, "2026-01-11"))

	got, err := billing.ComputeContainerBilling(book, dwell, time.Time{}, false)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.Charges[0].FreeDays != 3 || got.Charges[1].FreeDays != 4 {
		t.Fatalf("free days should carry over: %+v", got.Charges)
	}
	if got.BillableDays()+got.FreeDaysUsed() != got.TotalDays() {
		t.Fatalf("free day conservation broken")
	}
	if !got.TotalUSD().Equal(money(t, "18.00")) {
		t.Fatalf("total: got=%s want=18.00", got.TotalUSD())
	}
}

func TestComputeContainerBilling_SameDayExit(t *testing.T) {
	book := billing.NewTariffBook("acme", []billing.Tariff{
		tariff(t, "acme-1", "acme", "2025-12-01", "", "5.50", 5),
	})
	entry := time.Date(2026, time.January, 3, 8, 0, 0, 0, time.UTC)
	dwell := laden40("1", entry, entry.Add(6*time.Hour))

	got, err := billing.ComputeContainerBilling(book, dwell, time.Time{}, false)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(got.Charges) != 1 || got.TotalDays() != 0 || !got.TotalUSD().IsZero() {
		t.Fatalf("same-day dwell should bill nothing: %+v", got.Charges)
	}
}

func TestComputeContainerBilling_SplitByMonth(t *testing.T) {
	book := billing.NewTariffBook("acme", []billing.Tariff{
		tariff(t, "general", "", "2025-01-01", "", "2.00", 2),
	})
	dwell := laden40("1", day(t, "2026-01-30"), day(t, "2026-02-04"))

	got, err := billing.ComputeContainerBilling(book, dwell, time.Time{}, true)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(got.Charges) != 2 {
		t.Fatalf("expected month cut to split the period, got %d", len(got.Charges))
	}
	if got.Charges[0].TotalDays != 2 || got.Charges[0].BillableDays != 0 {
		t.Fatalf("january slice: %+v", got.Charges[0])
	}
	if got.Charges[1].TotalDays != 3 || got.Charges[1].BillableDays != 3 {
		t.Fatalf("february slice: %+v", got.Charges[1])
	}

	unsplit, err := billing.ComputeContainerBilling(book, dwell, time.Time{}, false)
	if err != nil {
		t.Fatalf("compute unsplit: %v", err)
	}
	if len(unsplit.Charges) != 1 || !unsplit.TotalUSD().Equal(got.TotalUSD()) {
		t.Fatalf("month cut must not change totals")
	}
}

func TestComputeContainerBilling_ActiveUsesAsOf(t *testing.T) {
	book := billing.NewTariffBook("acme", []billing.Tariff{
		tariff(t, "acme-1", "acme", "2025-12-01", "", "1.25", 0),
	})
	dwell := laden40("1", day(t, "2026-01-01"), time.Time{})

	got, err := billing.ComputeContainerBilling(book, dwell, day(t, "2026-01-09"), false)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got.TotalDays() != 8 || !got.TotalUSD().Equal(money(t, "10.00")) {
		t.Fatalf("active dwell: days=%d usd=%s", got.TotalDays(), got.TotalUSD())
	}
}

func TestAllocateFreeDays_RoundsHalfUp(t *testing.T) {
	rate := billing.TariffRate{ID: "r", DailyRateUSD: money(t, "0.125"), DailyRateUZS: money(t, "1562.505")}
	periods := []billing.SubPeriod{{Start: day(t, "2026-01-01"), End: day(t, "2026-01-02"), Rate: rate}}
	charges := billing.AllocateFreeDays(0, periods)
	if !charges[0].AmountUSD.Equal(money(t, "0.13")) {
		t.Fatalf("usd rounding: got=%s", charges[0].AmountUSD)
	}
	if !charges[0].AmountUZS.Equal(money(t, "1562.51")) {
		t.Fatalf("uzs rounding: got=%s", charges[0].AmountUZS)
	}
}
