package interfaces_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"

	"terminal-billing/internal/audit"
	"terminal-billing/internal/auth"
	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/export"
	"terminal-billing/internal/billing/infrastructure/memory"
	"terminal-billing/internal/billing/interfaces"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type auditRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *auditRecorder) Log(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return nil
}

func (r *auditRecorder) ListByResource(_ context.Context, resourceType, resourceID string) ([]audit.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *auditRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type api struct {
	mux     *http.ServeMux
	audit   *auditRecorder
	tariffs *memory.TariffRepository
	dwells  *memory.DwellRepository
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := time.Parse(billing.DateLayout, value)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger, _ := test.NewNullLogger()
	statements := memory.NewStatementRepository()
	tariffs := memory.NewTariffRepository(statements)
	dwells := memory.NewDwellRepository()
	companies := memory.NewCompanyRepository()

	tariffs.Put(billing.Tariff{
		ID:            "general",
		Name:          "General",
		EffectiveFrom: mustDate(t, "2026-01-01"),
		Rates: []billing.TariffRate{{
			ID:           "general-40-laden",
			TariffID:     "general",
			Size:         billing.Size40ft,
			Status:       billing.StatusLaden,
			DailyRateUSD: decimal.RequireFromString("5.00"),
			DailyRateUZS: decimal.RequireFromString("62500"),
			FreeDays:     3,
		}},
	})
	dwells.Put(billing.Dwell{
		ContainerID: "c-1", ContainerNumber: "MSCU1234565", CompanyID: "acme",
		ISOType: "45G1", Status: billing.StatusLaden,
		EntryTime: mustDate(t, "2026-01-01"), ExitTime: mustDate(t, "2026-01-11"),
	})
	// Enters before any tariff exists.
	dwells.Put(billing.Dwell{
		ContainerID: "c-2", ContainerNumber: "TGHU7654321", CompanyID: "beta",
		ISOType: "42G1", Status: billing.StatusLaden,
		EntryTime: mustDate(t, "2025-12-20"), ExitTime: mustDate(t, "2026-01-05"),
	})

	statementService, err := application.NewStatementService(statements, tariffs, dwells, companies,
		application.WithLogger(logger),
		application.WithClock(fixedClock{now: mustDate(t, "2026-02-01")}),
	)
	if err != nil {
		t.Fatalf("statement service: %v", err)
	}
	tariffService, err := application.NewTariffService(tariffs, logger)
	if err != nil {
		t.Fatalf("tariff service: %v", err)
	}
	statusService, err := application.NewBillingStatusService(dwells, tariffs)
	if err != nil {
		t.Fatalf("status service: %v", err)
	}

	recorder := &auditRecorder{}
	statementHandler, err := interfaces.NewStatementHandler(statementService, recorder, logger)
	if err != nil {
		t.Fatalf("statement handler: %v", err)
	}
	tariffHandler, err := interfaces.NewTariffHandler(tariffService, recorder, logger)
	if err != nil {
		t.Fatalf("tariff handler: %v", err)
	}
	containerHandler, err := interfaces.NewContainerHandler(statusService, logger)
	if err != nil {
		t.Fatalf("container handler: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/v1/statements", statementHandler)
	mux.Handle("/api/v1/statements/", statementHandler)
	mux.Handle("/api/v1/tariffs", tariffHandler)
	mux.Handle("/api/v1/tariffs/", tariffHandler)
	mux.Handle("/api/v1/containers/", containerHandler)
	return &api{mux: mux, audit: recorder, tariffs: tariffs, dwells: dwells}
}

func (a *api) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleAdmin, "admin-1"))
	resp := httptest.NewRecorder()
	a.mux.ServeHTTP(resp, req)
	return resp
}

type statementBody struct {
	Statement struct {
		ID          string          `json:"id"`
		Status      string          `json:"status"`
		TotalUSD    decimal.Decimal `json:"total_usd"`
		FinalizedBy string          `json:"finalized_by"`
	} `json:"statement"`
	Items []billing.StatementLineItem `json:"items"`
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
}

func TestStatementHandler_Lifecycle(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/statements/generate", map[string]any{"company_id": "acme", "year": 2026, "month": 1})
	if resp.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", resp.Code, resp.Body.String())
	}
	var generated statementBody
	decode(t, resp, &generated)
	// 10 days, 3 free, 7 x 5.00
	if generated.Statement.Status != billing.StatementStatusDraft || !generated.Statement.TotalUSD.Equal(decimal.RequireFromString("35")) {
		t.Fatalf("unexpected draft: %+v", generated.Statement)
	}
	id := generated.Statement.ID

	resp = a.do(t, http.MethodGet, "/api/v1/statements/"+id, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get: %d", resp.Code)
	}
	var fetched statementBody
	decode(t, resp, &fetched)
	if len(fetched.Items) != 1 || fetched.Items[0].BillableDays != 7 {
		t.Fatalf("unexpected items: %+v", fetched.Items)
	}

	resp = a.do(t, http.MethodGet, "/api/v1/statements?company_id=acme&status=draft", nil)
	var listed []billing.MonthlyStatement
	decode(t, resp, &listed)
	if len(listed) != 1 || listed[0].ID != id {
		t.Fatalf("unexpected list: %+v", listed)
	}

	resp = a.do(t, http.MethodPost, "/api/v1/statements/"+id+"/finalize", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("finalize: %d %s", resp.Code, resp.Body.String())
	}
	var finalized statementBody
	decode(t, resp, &finalized)
	if finalized.Statement.Status != billing.StatementStatusFinalized || finalized.Statement.FinalizedBy != "admin-1" {
		t.Fatalf("unexpected finalized statement: %+v", finalized.Statement)
	}

	resp = a.do(t, http.MethodPost, "/api/v1/statements/generate", map[string]any{"company_id": "acme", "year": 2026, "month": 1})
	if resp.Code != http.StatusConflict {
		t.Fatalf("regenerate finalized: expected 409, got %d", resp.Code)
	}

	resp = a.do(t, http.MethodGet, "/api/v1/statements/"+id+"/export.xlsx", nil)
	if resp.Code != http.StatusOK || resp.Header().Get("Content-Type") != export.ContentTypeXLSX {
		t.Fatalf("export xlsx: %d %s", resp.Code, resp.Header().Get("Content-Type"))
	}
	if !strings.Contains(resp.Header().Get("Content-Disposition"), "statement-acme-2026-01.xlsx") {
		t.Fatalf("content disposition: %s", resp.Header().Get("Content-Disposition"))
	}

	want := []string{"statement.generate", "statement.finalize", "statement.export"}
	got := a.audit.actions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit actions: %v", got)
	}

	resp = a.do(t, http.MethodGet, "/api/v1/statements/"+id+"/audit", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit trail: %d %s", resp.Code, resp.Body.String())
	}
	var trail []audit.Entry
	decode(t, resp, &trail)
	if len(trail) != 3 || trail[1].Action != "statement.finalize" || trail[1].Actor != "admin-1" || trail[1].CompanyID != "acme" {
		t.Fatalf("unexpected trail: %+v", trail)
	}
}

func TestStatementHandler_ErrorMapping(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/statements/generate", map[string]any{"company_id": "beta", "year": 2026, "month": 1})
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing tariff: expected 422, got %d", resp.Code)
	}
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	decode(t, resp, &body)
	if body.Kind != "configuration" || !strings.Contains(body.Error, "no tariff configured for company beta covering date 2025-12-20") {
		t.Fatalf("unexpected error body: %+v", body)
	}

	resp = a.do(t, http.MethodPost, "/api/v1/statements/generate", map[string]any{"company_id": "acme", "year": 2026, "month": 13})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("invalid month: expected 400, got %d", resp.Code)
	}
	resp = a.do(t, http.MethodGet, "/api/v1/statements/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing statement: expected 404, got %d", resp.Code)
	}
	resp = a.do(t, http.MethodDelete, "/api/v1/statements/missing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown route: expected 404, got %d", resp.Code)
	}
}

func TestStatementHandler_GenerateAllReportsFailures(t *testing.T) {
	a := newAPI(t)
	resp := a.do(t, http.MethodPost, "/api/v1/statements/generate-all", map[string]any{"year": 2026, "month": 1, "as_of": "2026-02-01"})
	if resp.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Generated []string `json:"generated"`
		Failures  []struct {
			CompanyID string `json:"company_id"`
			Kind      string `json:"kind"`
		} `json:"failures"`
	}
	decode(t, resp, &body)
	if len(body.Generated) != 1 || len(body.Failures) != 1 {
		t.Fatalf("unexpected batch body: %+v", body)
	}
	if body.Failures[0].CompanyID != "beta" || body.Failures[0].Kind != "configuration" {
		t.Fatalf("unexpected failure: %+v", body.Failures[0])
	}
}

func TestTariffHandler_CreateResolveAndLock(t *testing.T) {
	a := newAPI(t)

	special := map[string]any{
		"company_id":     "acme",
		"name":           "Acme 2026",
		"effective_from": "2026-01-05",
		"effective_to":   nil,
		"rates": []map[string]any{{
			"size": "40ft", "status": "laden",
			"daily_rate_usd": "4.00", "daily_rate_uzs": "50000", "free_days": 7,
		}},
	}
	resp := a.do(t, http.MethodPost, "/api/v1/tariffs", special)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}
	resp = a.do(t, http.MethodPost, "/api/v1/tariffs", special)
	if resp.Code != http.StatusConflict {
		t.Fatalf("overlap: expected 409, got %d", resp.Code)
	}

	resp = a.do(t, http.MethodGet, "/api/v1/tariffs/resolve?company_id=acme&date=2026-01-04&size=40ft&status=laden", nil)
	var resolved struct {
		Special bool `json:"special"`
		Rate    struct {
			FreeDays int `json:"free_days"`
		} `json:"rate"`
	}
	decode(t, resp, &resolved)
	if resolved.Special || resolved.Rate.FreeDays != 3 {
		t.Fatalf("before special tariff the general one applies: %+v", resolved)
	}
	resp = a.do(t, http.MethodGet, "/api/v1/tariffs/resolve?company_id=acme&date=2026-01-05&size=40ft&status=laden", nil)
	decode(t, resp, &resolved)
	if !resolved.Special || resolved.Rate.FreeDays != 7 {
		t.Fatalf("special tariff must win: %+v", resolved)
	}
	resp = a.do(t, http.MethodGet, "/api/v1/tariffs/resolve?company_id=acme&date=2026-01-05&size=40ft&status=empty", nil)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing rate: expected 422, got %d", resp.Code)
	}
	resp = a.do(t, http.MethodGet, "/api/v1/tariffs/resolve?date=2026-01-05&size=10ft&status=laden", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad size: expected 400, got %d", resp.Code)
	}

	// Bill January on the general tariff, finalize, then try to edit the rate.
	a.dwells.Put(billing.Dwell{
		ContainerID: "c-3", ContainerNumber: "MSCU0000001", CompanyID: "gamma",
		ISOType: "42G1", Status: billing.StatusLaden,
		EntryTime: mustDate(t, "2026-01-02"), ExitTime: mustDate(t, "2026-01-12"),
	})
	resp = a.do(t, http.MethodPost, "/api/v1/statements/generate", map[string]any{"company_id": "gamma", "year": 2026, "month": 1})
	var generated statementBody
	decode(t, resp, &generated)
	resp = a.do(t, http.MethodPost, "/api/v1/statements/"+generated.Statement.ID+"/finalize", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("finalize: %d", resp.Code)
	}
	resp = a.do(t, http.MethodPut, "/api/v1/tariffs/rates/general-40-laden", map[string]any{
		"daily_rate_usd": "9.00", "daily_rate_uzs": "112500", "free_days": 3,
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("locked rate: expected 409, got %d", resp.Code)
	}

	resp = a.do(t, http.MethodGet, "/api/v1/tariffs?company_id=acme", nil)
	var listed []map[string]any
	decode(t, resp, &listed)
	if len(listed) != 2 {
		t.Fatalf("expected general + special tariff, got %d", len(listed))
	}
}

func TestTariffHandler_Close(t *testing.T) {
	a := newAPI(t)
	resp := a.do(t, http.MethodPost, "/api/v1/tariffs/general/close", map[string]any{"effective_to": "2026-06-30"})
	if resp.Code != http.StatusOK {
		t.Fatalf("close: %d %s", resp.Code, resp.Body.String())
	}
	var closed struct {
		EffectiveTo *string `json:"effective_to"`
	}
	decode(t, resp, &closed)
	if closed.EffectiveTo == nil || *closed.EffectiveTo != "2026-06-30" {
		t.Fatalf("unexpected close result: %+v", closed)
	}
	resp = a.do(t, http.MethodPost, "/api/v1/tariffs/missing/close", map[string]any{"effective_to": "2026-06-30"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown tariff: expected 404, got %d", resp.Code)
	}
}

func TestContainerHandler_BillingStatus(t *testing.T) {
	a := newAPI(t)
	resp := a.do(t, http.MethodGet, "/api/v1/containers/c-1/billing", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("billing status: %d %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Size            string          `json:"size"`
		Active          bool            `json:"active"`
		TotalDays       int             `json:"total_days"`
		FreeDaysGranted int             `json:"free_days_granted"`
		TotalUSD        decimal.Decimal `json:"total_usd"`
		Periods         []struct {
			BillableDays int `json:"billable_days"`
		} `json:"periods"`
	}
	decode(t, resp, &body)
	if body.Size != "40ft" || body.Active || body.TotalDays != 10 || body.FreeDaysGranted != 3 {
		t.Fatalf("unexpected status: %+v", body)
	}
	if !body.TotalUSD.Equal(decimal.RequireFromString("35")) || len(body.Periods) != 1 {
		t.Fatalf("unexpected amounts: %+v", body)
	}

	resp = a.do(t, http.MethodGet, "/api/v1/containers/unknown/billing", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown container: expected 404, got %d", resp.Code)
	}
	resp = a.do(t, http.MethodGet, "/api/v1/containers/c-1/billing?as_of=bad", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad as_of: expected 400, got %d", resp.Code)
	}
}
