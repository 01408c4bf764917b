package application_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/infrastructure/memory"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type eventRecorder struct {
	mu        sync.Mutex
	generated []application.StatementGenerated
	finalized []application.StatementFinalized
}

func (r *eventRecorder) PublishStatementGenerated(_ context.Context, event application.StatementGenerated) error {
	r.mu.Lock()
	r.generated = append(r.generated, event)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) PublishStatementFinalized(_ context.Context, event application.StatementFinalized) error {
	r.mu.Lock()
	r.finalized = append(r.finalized, event)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.generated), len(r.finalized)
}

type fixture struct {
	statements *memory.StatementRepository
	tariffs    *memory.TariffRepository
	dwells     *memory.DwellRepository
	companies  *memory.CompanyRepository
	events     *eventRecorder
	service    *application.StatementService
}

func newFixture(t *testing.T, opts ...application.StatementOption) *fixture {
	t.Helper()
	f := &fixture{
		statements: memory.NewStatementRepository(),
		dwells:     memory.NewDwellRepository(),
		companies:  memory.NewCompanyRepository(),
		events:     &eventRecorder{},
	}
	f.tariffs = memory.NewTariffRepository(f.statements)
	logger, _ := test.NewNullLogger()
	base := []application.StatementOption{
		application.WithPublisher(f.events),
		application.WithLogger(logger),
		application.WithClock(fixedClock{now: date(t, "2026-02-01")}),
	}
	service, err := application.NewStatementService(f.statements, f.tariffs, f.dwells, f.companies, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new statement service: %v", err)
	}
	f.service = service
	return f
}

func date(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(billing.DateLayout, value)
	if err != nil {
		t.Fatalf("parse date %q: %v", value, err)
	}
	return d
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return d
}

func laden40Tariff(t *testing.T, id, companyID, from, to, usd string, freeDays int) billing.Tariff {
	t.Helper()
	tr := billing.Tariff{ID: id, CompanyID: companyID, Name: id, EffectiveFrom: date(t, from)}
	if to != "" {
		tr.EffectiveTo = date(t, to)
	}
	tr.Rates = []billing.TariffRate{{
		ID:           id + "-40-laden",
		TariffID:     id,
		Size:         billing.Size40ft,
		Status:       billing.StatusLaden,
		DailyRateUSD: dec(t, usd),
		DailyRateUZS: dec(t, usd).Mul(decimal.NewFromInt(12500)),
		FreeDays:     freeDays,
	}}
	return tr
}

func dwell(t *testing.T, id, companyID, entry, exit string) billing.Dwell {
	t.Helper()
	d := billing.Dwell{
		ContainerID:     id,
		ContainerNumber: "TGHU" + id,
		CompanyID:       companyID,
		ISOType:         "42G1",
		Status:          billing.StatusLaden,
		EntryTime:       date(t, entry),
	}
	if exit != "" {
		d.ExitTime = date(t, exit)
	}
	return d
}

func TestGenerateDraft_TariffChangeMidStay(t *testing.T) {
	f := newFixture(t)
	f.tariffs.Put(laden40Tariff(t, "acme-old", "acme", "2025-01-01", "2026-01-09", "5.50", 5))
	f.tariffs.Put(laden40Tariff(t, "acme-new", "acme", "2026-01-10", "", "6.00", 5))
	f.dwells.Put(dwell(t, "0000001", "acme", "2026-01-01", "2026-01-16"))

	stmt, err := f.service.GenerateDraft(context.Background(), "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("generate draft: %v", err)
	}
	if stmt.Status != billing.StatementStatusDraft {
		t.Fatalf("expected draft, got %s", stmt.Status)
	}
	if !stmt.TotalUSD.Equal(dec(t, "58.00")) {
		t.Fatalf("total usd: got=%s want=58.00", stmt.TotalUSD)
	}
	if stmt.TotalContainers != 1 || stmt.TotalBillableDays != 10 {
		t.Fatalf("totals: containers=%d days=%d", stmt.TotalContainers, stmt.TotalBillableDays)
	}

	_, items, err := f.service.Get(context.Background(), stmt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(items))
	}
	if !items[0].AmountUSD.Equal(dec(t, "22.00")) || !items[1].AmountUSD.Equal(dec(t, "36.00")) {
		t.Fatalf("line amounts: %s, %s", items[0].AmountUSD, items[1].AmountUSD)
	}
}

func TestGenerateDraft_RegenerateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.tariffs.Put(laden40Tariff(t, "general", "", "2020-01-01", "", "5.50", 5))
	f.dwells.Put(dwell(t, "1", "acme", "2026-01-01", "2026-01-16"))
	ctx := context.Background()

	first, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("regeneration must keep the statement id: %s vs %s", first.ID, second.ID)
	}
	if first.ContentHash != second.ContentHash {
		t.Fatalf("unchanged data must give the same content hash")
	}

	f.dwells.Put(dwell(t, "2", "acme", "2026-01-20", "2026-01-30"))
	third, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("third generate: %v", err)
	}
	if third.ContentHash == first.ContentHash || third.TotalContainers != 2 {
		t.Fatalf("regeneration must pick up new containers: %+v", third)
	}
	_, items, err := f.service.Get(ctx, third.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("old items must be replaced, got %d items", len(items))
	}

	list, err := f.service.List(ctx, billing.StatementFilter{CompanyID: "acme"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one statement per company month, got %d", len(list))
	}
}

func TestFinalize_LocksStatement(t *testing.T) {
	f := newFixture(t)
	f.tariffs.Put(laden40Tariff(t, "general", "", "2020-01-01", "", "5.50", 5))
	f.dwells.Put(dwell(t, "1", "acme", "2026-01-01", "2026-01-16"))
	ctx := context.Background()

	stmt, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	finalized, err := f.service.Finalize(ctx, stmt.ID, "admin@terminal")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !finalized.Finalized() || finalized.SnapshotHash == "" || finalized.FinalizedBy != "admin@terminal" {
		t.Fatalf("finalized statement: %+v", finalized)
	}

	again, err := f.service.Finalize(ctx, stmt.ID, "someone-else")
	if err != nil {
		t.Fatalf("finalize twice: %v", err)
	}
	if again.SnapshotHash != finalized.SnapshotHash || again.FinalizedBy != "admin@terminal" {
		t.Fatalf("second finalize must be a no-op")
	}

	f.dwells.Put(dwell(t, "2", "acme", "2026-01-20", "2026-01-30"))
	_, err = f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if !errors.Is(err, billing.ErrStatementFinalized) {
		t.Fatalf("expected finalized error, got %v", err)
	}
	_, items, err := f.service.Get(ctx, stmt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("finalized items must not change, got %d", len(items))
	}

	f.service.Wait()
	generated, final := f.events.counts()
	if generated != 1 || final != 1 {
		t.Fatalf("events: generated=%d finalized=%d", generated, final)
	}
}

func TestFinalize_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Finalize(context.Background(), "missing", "admin")
	if !errors.Is(err, billing.ErrStatementNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateDraft_ConfigurationErrorKeepsDraft(t *testing.T) {
	f := newFixture(t)
	f.tariffs.Put(laden40Tariff(t, "acme-1", "acme", "2026-01-01", "2026-01-31", "5.50", 0))
	f.dwells.Put(dwell(t, "1", "acme", "2026-01-05", "2026-01-10"))
	ctx := context.Background()

	stmt, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	f.dwells.Put(dwell(t, "2", "acme", "2025-12-20", "2026-01-03"))
	_, err = f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if !errors.Is(err, billing.ErrTariffNotFound) {
		t.Fatalf("expected tariff not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "no tariff configured for company acme covering date 2025-12-20") {
		t.Fatalf("error must be actionable: %v", err)
	}

	kept, items, err := f.service.Get(ctx, stmt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if kept.ContentHash != stmt.ContentHash || len(items) != 1 {
		t.Fatalf("failed regeneration must leave the draft untouched")
	}
}

func TestGenerateDraft_ExitMonthCompany(t *testing.T) {
	f := newFixture(t)
	f.companies.Put(billing.Company{ID: "acme", Name: "Acme", BillingMethod: billing.BillingMethodExitMonth})
	f.tariffs.Put(laden40Tariff(t, "general", "", "2020-01-01", "", "1.00", 0))
	f.dwells.Put(dwell(t, "1", "acme", "2026-01-20", "2026-02-10"))
	f.dwells.Put(dwell(t, "2", "acme", "2026-01-25", ""))
	ctx := context.Background()

	jan, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("generate january: %v", err)
	}
	if jan.TotalContainers != 0 || !jan.TotalUSD.IsZero() {
		t.Fatalf("nothing exited in january: %+v", jan)
	}
	feb, err := f.service.GenerateDraft(ctx, "acme", 2026, time.February, date(t, "2026-03-01"))
	if err != nil {
		t.Fatalf("generate february: %v", err)
	}
	if feb.BillingMethod != billing.BillingMethodExitMonth || feb.TotalContainers != 1 {
		t.Fatalf("february statement: %+v", feb)
	}
	if !feb.TotalUSD.Equal(dec(t, "21.00")) {
		t.Fatalf("whole dwell billed at exit: got=%s want=21.00", feb.TotalUSD)
	}
}

func TestGenerateDraft_ConcurrentCallsSerialize(t *testing.T) {
	f := newFixture(t)
	f.tariffs.Put(laden40Tariff(t, "general", "", "2020-01-01", "", "2.00", 0))
	for _, id := range []string{"1", "2", "3"} {
		f.dwells.Put(dwell(t, id, "acme", "2026-01-01", "2026-01-11"))
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stmt, err := f.service.GenerateDraft(ctx, "acme", 2026, time.January, time.Time{})
			errs[i] = err
			if stmt != nil {
				ids[i] = stmt.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("all callers must see one statement")
		}
	}
	_, items, err := f.service.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
}

func TestGenerateAllDrafts_PartialFailure(t *testing.T) {
	f := newFixture(t, application.WithBatchConcurrency(2))
	f.tariffs.Put(laden40Tariff(t, "general", "", "2026-01-01", "", "2.00", 0))
	f.dwells.Put(dwell(t, "1", "acme", "2026-01-02", "2026-01-05"))
	f.dwells.Put(dwell(t, "2", "globex", "2025-12-20", "2026-01-05"))
	f.dwells.Put(dwell(t, "3", "initech", "2026-01-10", "2026-01-12"))
	f.dwells.Put(dwell(t, "4", "umbrella", "2026-01-10", "2026-01-12"))
	ctx := context.Background()

	stmt, err := f.service.GenerateDraft(ctx, "umbrella", 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("generate umbrella: %v", err)
	}
	if _, err := f.service.Finalize(ctx, stmt.ID, "admin"); err != nil {
		t.Fatalf("finalize umbrella: %v", err)
	}

	result, err := f.service.GenerateAllDrafts(ctx, 2026, time.January, time.Time{})
	if err != nil {
		t.Fatalf("generate all: %v", err)
	}
	if len(result.Generated) != 2 || result.Generated[0].CompanyID != "acme" || result.Generated[1].CompanyID != "initech" {
		t.Fatalf("generated: %+v", result.Generated)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "umbrella" {
		t.Fatalf("skipped: %v", result.Skipped)
	}
	if len(result.Failures) != 1 || result.Failures[0].CompanyID != "globex" {
		t.Fatalf("failures: %+v", result.Failures)
	}
	if !billing.IsConfigurationError(result.Failures[0].Err) {
		t.Fatalf("globex should fail with a configuration error: %v", result.Failures[0].Err)
	}
	if !result.Failed() {
		t.Fatalf("batch with failures must report Failed")
	}
}

func TestGenerateDraft_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.GenerateDraft(ctx, "", 2026, time.January, time.Time{}); !errors.Is(err, billing.ErrEmptyCompanyID) {
		t.Fatalf("expected empty company error, got %v", err)
	}
	if _, err := f.service.GenerateDraft(ctx, "acme", 2026, 13, time.Time{}); !errors.Is(err, billing.ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

func TestNewStatementService_NilRepos(t *testing.T) {
	if _, err := application.NewStatementService(nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil repos")
	}
}
