package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-billing/internal/audit"
	"terminal-billing/internal/auth"
	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
	"terminal-billing/internal/billing/export"
	"terminal-billing/internal/observability/metrics"
)

const statementsPath = "/api/v1/statements"

// StatementHandler handles statement APIs.
type StatementHandler struct {
	service     *application.StatementService
	auditLogger audit.Logger
	logger      logrus.FieldLogger
}

// NewStatementHandler constructs a handler.
func NewStatementHandler(service *application.StatementService, auditLogger audit.Logger, logger logrus.FieldLogger) (*StatementHandler, error) {
	if service == nil {
		return nil, errors.New("statement handler: nil service")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StatementHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles statement routes under /api/v1/statements.
func (h *StatementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == statementsPath+"/generate" && r.Method == http.MethodPost:
		h.handleGenerate(w, r)
		return
	case path == statementsPath+"/generate-all" && r.Method == http.MethodPost:
		h.handleGenerateAll(w, r)
		return
	case path == statementsPath && r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case strings.HasPrefix(path, statementsPath+"/"):
		h.handleByID(w, r, strings.TrimPrefix(path, statementsPath+"/"))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

type generateRequest struct {
	CompanyID string `json:"company_id"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	AsOf      string `json:"as_of"`
}

type statementResponse struct {
	Statement *billing.MonthlyStatement   `json:"statement"`
	Items     []billing.StatementLineItem `json:"items,omitempty"`
}

func (h *StatementHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	asOf, err := parseDate(req.AsOf)
	if err != nil {
		badRequest(w, "as_of must be YYYY-MM-DD")
		return
	}
	stmt, err := h.service.GenerateDraft(r.Context(), req.CompanyID, req.Year, time.Month(req.Month), asOf)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statementResponse{Statement: stmt})
	logAudit(r, h.auditLogger, stmt.CompanyID, "statement", stmt.ID, "statement.generate", map[string]any{
		"period":       stmt.Label(),
		"as_of":        stmt.AsOf.Format(billing.DateLayout),
		"content_hash": stmt.ContentHash,
	})
}

type batchFailure struct {
	CompanyID string `json:"company_id"`
	Error     string `json:"error"`
	Kind      string `json:"kind"`
}

func (h *StatementHandler) handleGenerateAll(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	asOf, err := parseDate(req.AsOf)
	if err != nil {
		badRequest(w, "as_of must be YYYY-MM-DD")
		return
	}
	result, err := h.service.GenerateAllDrafts(r.Context(), req.Year, time.Month(req.Month), asOf)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	failures := make([]batchFailure, 0, len(result.Failures))
	for _, f := range result.Failures {
		kind := "error"
		if billing.IsConfigurationError(f.Err) {
			kind = "configuration"
		}
		failures = append(failures, batchFailure{CompanyID: f.CompanyID, Error: f.Err.Error(), Kind: kind})
	}
	ids := make([]string, 0, len(result.Generated))
	for _, stmt := range result.Generated {
		ids = append(ids, stmt.ID)
	}
	status := http.StatusOK
	if result.Failed() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]any{
		"year":      result.Year,
		"month":     int(result.Month),
		"generated": ids,
		"skipped":   result.Skipped,
		"failures":  failures,
	})
	logAudit(r, h.auditLogger, "", "statement", "", "statement.generate_all", map[string]any{
		"year":      req.Year,
		"month":     req.Month,
		"generated": len(ids),
		"failed":    len(failures),
	})
}

func (h *StatementHandler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	year, err := parseOptionalInt(query.Get("year"))
	if err != nil {
		badRequest(w, "invalid year")
		return
	}
	month, err := parseOptionalInt(query.Get("month"))
	if err != nil {
		badRequest(w, "invalid month")
		return
	}
	list, err := h.service.List(r.Context(), billing.StatementFilter{
		CompanyID: query.Get("company_id"),
		Year:      year,
		Month:     time.Month(month),
		Status:    query.Get("status"),
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []billing.MonthlyStatement{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StatementHandler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleGet(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "finalize":
			if r.Method == http.MethodPost {
				h.handleFinalize(w, r, id)
				return
			}
		case "export.pdf":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id, export.FormatPDF)
				return
			}
		case "export.xlsx":
			if r.Method == http.MethodGet {
				h.handleExport(w, r, id, export.FormatXLSX)
				return
			}
		case "audit":
			if r.Method == http.MethodGet {
				h.handleAuditTrail(w, r, id)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *StatementHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	stmt, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statementResponse{Statement: stmt, Items: items})
}

func (h *StatementHandler) handleFinalize(w http.ResponseWriter, r *http.Request, id string) {
	actor := auth.SubjectFromContext(r.Context())
	stmt, err := h.service.Finalize(r.Context(), id, actor)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statementResponse{Statement: stmt})
	logAudit(r, h.auditLogger, stmt.CompanyID, "statement", stmt.ID, "statement.finalize", map[string]any{
		"period":        stmt.Label(),
		"snapshot_hash": stmt.SnapshotHash,
	})
}

func (h *StatementHandler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport(format, result, time.Since(start))
	}()

	stmt, items, err := h.service.Get(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, h.logger, err)
		return
	}
	data, contentType, err := export.Render(format, stmt, items)
	if err != nil {
		result = metrics.ResultError
		h.logger.WithError(err).WithField("statement_id", id).Error("statement export failed")
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(stmt, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	logAudit(r, h.auditLogger, stmt.CompanyID, "statement", stmt.ID, "statement.export", map[string]any{"format": format})
}

// handleAuditTrail lists who generated, finalized and exported a statement.
// It is only served when the audit logger can be read back.
func (h *StatementHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request, id string) {
	reader, ok := h.auditLogger.(audit.Reader)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, _, err := h.service.Get(r.Context(), id); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	entries, err := reader.ListByResource(r.Context(), "statement", id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
