package billing_test

import (
	"errors"
	"testing"
	"time"

	billing "terminal-billing/internal/billing/domain"
)

func TestSizeFromISOType(t *testing.T) {
	cases := map[string]billing.ContainerSize{
		"22G1": billing.Size20ft,
		"42G1": billing.Size40ft,
		"45R1": billing.Size40ft,
		"L5G1": billing.Size45ft,
		"l5g1": billing.Size45ft,
		"95G1": billing.Size45ft,
		"":     billing.Size20ft,
		"X":    billing.Size20ft,
	}
	for code, want := range cases {
		if got := billing.SizeFromISOType(code); got != want {
			t.Fatalf("size for %q: got=%s want=%s", code, got, want)
		}
	}
}

func TestDwellSpan(t *testing.T) {
	entry := time.Date(2026, time.January, 1, 22, 15, 0, 0, time.UTC)
	exit := time.Date(2026, time.January, 16, 3, 0, 0, 0, time.UTC)

	d := billing.Dwell{ContainerID: "c1", EntryTime: entry, ExitTime: exit}
	start, end, err := d.Span(time.Time{})
	if err != nil {
		t.Fatalf("span: %v", err)
	}
	if billing.DaysBetween(start, end) != 15 {
		t.Fatalf("expected 15 days, got %d", billing.DaysBetween(start, end))
	}

	active := billing.Dwell{ContainerID: "c2", EntryTime: entry}
	if _, _, err := active.Span(time.Time{}); !errors.Is(err, billing.ErrInvalidDwell) {
		t.Fatalf("active dwell without as-of should fail, got %v", err)
	}
	_, end, err = active.Span(day(t, "2026-01-20"))
	if err != nil {
		t.Fatalf("active span: %v", err)
	}
	if !end.Equal(day(t, "2026-01-20")) {
		t.Fatalf("active dwell should end at as-of, got %s", end)
	}

	backwards := billing.Dwell{ContainerID: "c3", EntryTime: exit, ExitTime: entry}
	if _, _, err := backwards.Span(time.Time{}); !errors.Is(err, billing.ErrInvalidDwell) {
		t.Fatalf("exit before entry should fail, got %v", err)
	}
}

func TestDwellExitedIn(t *testing.T) {
	from, to := billing.MonthBounds(2026, time.February)
	d := billing.Dwell{EntryTime: day(t, "2026-01-20"), ExitTime: day(t, "2026-02-28")}
	if !d.ExitedIn(from, to) {
		t.Fatalf("expected exit inside february")
	}
	d.ExitTime = day(t, "2026-03-01")
	if d.ExitedIn(from, to) {
		t.Fatalf("march exit must not count for february")
	}
	d.ExitTime = time.Time{}
	if d.ExitedIn(from, to) {
		t.Fatalf("active dwell has not exited")
	}
}

func TestMonthCuts(t *testing.T) {
	cuts := billing.MonthCuts(day(t, "2026-01-20"), day(t, "2026-03-05"))
	if len(cuts) != 2 {
		t.Fatalf("expected 2 cuts, got %d", len(cuts))
	}
	if !cuts[0].Equal(day(t, "2026-02-01")) || !cuts[1].Equal(day(t, "2026-03-01")) {
		t.Fatalf("unexpected cuts: %v", cuts)
	}
	if got := billing.MonthCuts(day(t, "2026-01-01"), day(t, "2026-02-01")); len(got) != 0 {
		t.Fatalf("month end is exclusive, got %v", got)
	}
}

func TestValidatePeriod(t *testing.T) {
	if err := billing.ValidatePeriod(2026, time.March); err != nil {
		t.Fatalf("valid period: %v", err)
	}
	if err := billing.ValidatePeriod(2026, 13); !errors.Is(err, billing.ErrInvalidPeriod) {
		t.Fatalf("month 13 should fail, got %v", err)
	}
	if err := billing.ValidatePeriod(1999, time.January); !errors.Is(err, billing.ErrInvalidPeriod) {
		t.Fatalf("year 1999 should fail, got %v", err)
	}
}
