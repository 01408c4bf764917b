package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"terminal-billing/internal/audit"
	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
)

const tariffsPath = "/api/v1/tariffs"

// TariffHandler handles tariff administration and resolution.
type TariffHandler struct {
	service     *application.TariffService
	auditLogger audit.Logger
	logger      logrus.FieldLogger
}

// NewTariffHandler constructs a handler.
func NewTariffHandler(service *application.TariffService, auditLogger audit.Logger, logger logrus.FieldLogger) (*TariffHandler, error) {
	if service == nil {
		return nil, errors.New("tariff handler: nil service")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TariffHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP handles routes under /api/v1/tariffs.
func (h *TariffHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == tariffsPath && r.Method == http.MethodGet:
		h.handleList(w, r)
		return
	case path == tariffsPath && r.Method == http.MethodPost:
		h.handleCreate(w, r)
		return
	case path == tariffsPath+"/resolve" && r.Method == http.MethodGet:
		h.handleResolve(w, r)
		return
	case strings.HasPrefix(path, tariffsPath+"/rates/") && r.Method == http.MethodPut:
		h.handleUpdateRate(w, r, strings.TrimPrefix(path, tariffsPath+"/rates/"))
		return
	case strings.HasPrefix(path, tariffsPath+"/") && strings.HasSuffix(path, "/close") && r.Method == http.MethodPost:
		id := strings.TrimSuffix(strings.TrimPrefix(path, tariffsPath+"/"), "/close")
		if id != "" && !strings.Contains(id, "/") {
			h.handleClose(w, r, id)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *TariffHandler) handleList(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.service.List(r.Context(), r.URL.Query().Get("company_id"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	resp := make([]tariffDTO, 0, len(tariffs))
	for _, tariff := range tariffs {
		resp = append(resp, toTariffDTO(tariff))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TariffHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req tariffDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	tariff, err := req.toDomain()
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	created, err := h.service.Create(r.Context(), tariff)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTariffDTO(*created))
	logAudit(r, h.auditLogger, created.CompanyID, "tariff", created.ID, "tariff.create", map[string]any{
		"effective_from": req.EffectiveFrom,
		"effective_to":   req.EffectiveTo,
		"rates":          len(created.Rates),
	})
}

func (h *TariffHandler) handleClose(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		EffectiveTo string `json:"effective_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	to, err := parseDate(req.EffectiveTo)
	if err != nil {
		badRequest(w, "effective_to must be YYYY-MM-DD")
		return
	}
	closed, err := h.service.Close(r.Context(), id, to)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTariffDTO(*closed))
	logAudit(r, h.auditLogger, closed.CompanyID, "tariff", closed.ID, "tariff.close", map[string]any{
		"effective_to": req.EffectiveTo,
	})
}

func (h *TariffHandler) handleUpdateRate(w http.ResponseWriter, r *http.Request, rateID string) {
	if rateID == "" || strings.Contains(rateID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req struct {
		DailyRateUSD decimal.Decimal `json:"daily_rate_usd"`
		DailyRateUZS decimal.Decimal `json:"daily_rate_uzs"`
		FreeDays     int             `json:"free_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid json")
		return
	}
	updated, err := h.service.UpdateRate(r.Context(), billing.TariffRate{
		ID:           rateID,
		DailyRateUSD: req.DailyRateUSD,
		DailyRateUZS: req.DailyRateUZS,
		FreeDays:     req.FreeDays,
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRateDTO(*updated))
	logAudit(r, h.auditLogger, "", "tariff_rate", updated.ID, "tariff.rate_update", map[string]any{
		"tariff_id":      updated.TariffID,
		"daily_rate_usd": updated.DailyRateUSD.String(),
		"daily_rate_uzs": updated.DailyRateUZS.String(),
		"free_days":      updated.FreeDays,
	})
}

func (h *TariffHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	date, err := parseDate(query.Get("date"))
	if err != nil || date.IsZero() {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	size, ok := billing.ParseContainerSize(query.Get("size"))
	if !ok {
		badRequest(w, "size must be one of 20ft, 40ft, 45ft")
		return
	}
	status, ok := billing.ParseContainerStatus(query.Get("status"))
	if !ok {
		badRequest(w, "status must be laden or empty")
		return
	}
	tariff, rate, err := h.service.Resolve(r.Context(), query.Get("company_id"), date, size, status)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tariff":  toTariffDTO(tariff),
		"rate":    toRateDTO(rate),
		"special": !tariff.IsGeneral(),
	})
}
