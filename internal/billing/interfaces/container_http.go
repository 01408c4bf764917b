package interfaces

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"terminal-billing/internal/billing/application"
	billing "terminal-billing/internal/billing/domain"
)

const containersPath = "/api/v1/containers/"

// ContainerHandler exposes the live billing status of a container.
type ContainerHandler struct {
	service *application.BillingStatusService
	logger  logrus.FieldLogger
}

// NewContainerHandler constructs a handler.
func NewContainerHandler(service *application.BillingStatusService, logger logrus.FieldLogger) (*ContainerHandler, error) {
	if service == nil {
		return nil, errors.New("container handler: nil service")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ContainerHandler{service: service, logger: logger}, nil
}

type chargeDTO struct {
	PeriodStart  string          `json:"period_start"`
	PeriodEnd    string          `json:"period_end"`
	TariffID     string          `json:"tariff_id"`
	TariffRateID string          `json:"tariff_rate_id"`
	DailyRateUSD decimal.Decimal `json:"daily_rate_usd"`
	DailyRateUZS decimal.Decimal `json:"daily_rate_uzs"`
	TotalDays    int             `json:"total_days"`
	FreeDays     int             `json:"free_days"`
	BillableDays int             `json:"billable_days"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	AmountUZS    decimal.Decimal `json:"amount_uzs"`
}

type containerBillingDTO struct {
	ContainerID     string          `json:"container_id"`
	ContainerNumber string          `json:"container_number"`
	CompanyID       string          `json:"company_id"`
	Size            string          `json:"size"`
	Status          string          `json:"status"`
	EntryDate       string          `json:"entry_date"`
	ExitDate        *string         `json:"exit_date"`
	AsOf            string          `json:"as_of"`
	Active          bool            `json:"active"`
	FreeDaysGranted int             `json:"free_days_granted"`
	FreeDaysUsed    int             `json:"free_days_used"`
	TotalDays       int             `json:"total_days"`
	BillableDays    int             `json:"billable_days"`
	TotalUSD        decimal.Decimal `json:"total_usd"`
	TotalUZS        decimal.Decimal `json:"total_uzs"`
	Periods         []chargeDTO     `json:"periods"`
}

func toContainerBillingDTO(cb *billing.ContainerBilling) containerBillingDTO {
	dto := containerBillingDTO{
		ContainerID:     cb.Dwell.ContainerID,
		ContainerNumber: cb.Dwell.ContainerNumber,
		CompanyID:       cb.Dwell.CompanyID,
		Size:            string(cb.Size),
		Status:          string(cb.Dwell.Status),
		EntryDate:       cb.Start.Format(billing.DateLayout),
		AsOf:            cb.AsOf.Format(billing.DateLayout),
		Active:          cb.Dwell.Active(),
		FreeDaysGranted: cb.FreeDaysGranted,
		FreeDaysUsed:    cb.FreeDaysUsed(),
		TotalDays:       cb.TotalDays(),
		BillableDays:    cb.BillableDays(),
		TotalUSD:        cb.TotalUSD(),
		TotalUZS:        cb.TotalUZS(),
		Periods:         make([]chargeDTO, 0, len(cb.Charges)),
	}
	if !cb.Dwell.Active() {
		exit := cb.End.Format(billing.DateLayout)
		dto.ExitDate = &exit
	}
	for _, ch := range cb.Charges {
		dto.Periods = append(dto.Periods, chargeDTO{
			PeriodStart:  ch.Period.Start.Format(billing.DateLayout),
			PeriodEnd:    ch.Period.End.Format(billing.DateLayout),
			TariffID:     ch.Period.Tariff.ID,
			TariffRateID: ch.Period.Rate.ID,
			DailyRateUSD: ch.Period.Rate.DailyRateUSD,
			DailyRateUZS: ch.Period.Rate.DailyRateUZS,
			TotalDays:    ch.TotalDays,
			FreeDays:     ch.FreeDays,
			BillableDays: ch.BillableDays,
			AmountUSD:    ch.AmountUSD,
			AmountUZS:    ch.AmountUZS,
		})
	}
	return dto
}

// ServeHTTP handles GET /api/v1/containers/{id}/billing.
func (h *ContainerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, containersPath)
	parts := strings.Split(rest, "/")
	if r.Method != http.MethodGet || len(parts) != 2 || parts[0] == "" || parts[1] != "billing" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		badRequest(w, "as_of must be YYYY-MM-DD")
		return
	}
	start := time.Now()
	cb, err := h.service.BillingStatus(r.Context(), parts[0], asOf)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"container_id": parts[0],
		"periods":      len(cb.Charges),
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Debug("container billing computed")
	writeJSON(w, http.StatusOK, toContainerBillingDTO(cb))
}
