package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"terminal-billing/internal/audit"
	billing "terminal-billing/internal/billing/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondServiceError maps billing errors to HTTP statuses. Configuration
// errors carry the actionable message so operators can fix tariff data.
func respondServiceError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	if err == nil {
		return
	}
	switch {
	case billing.IsConfigurationError(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Kind: "configuration"})
	case errors.Is(err, billing.ErrStatementFinalized),
		errors.Is(err, billing.ErrTariffOverlap),
		errors.Is(err, billing.ErrTariffRateLocked):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "conflict"})
	case errors.Is(err, billing.ErrStatementNotFound),
		errors.Is(err, billing.ErrContainerNotFound),
		errors.Is(err, billing.ErrUnknownTariff),
		errors.Is(err, billing.ErrUnknownTariffRate):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: "not_found"})
	case errors.Is(err, billing.ErrInvalidTariff),
		errors.Is(err, billing.ErrInvalidDwell),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrInvalidBillingMethod),
		errors.Is(err, billing.ErrEmptyCompanyID):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "validation"})
	default:
		if logger != nil {
			logger.WithError(err).Error("request failed")
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message, Kind: "validation"})
}

// parseDate parses an optional YYYY-MM-DD value.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(billing.DateLayout, value)
}

func parseOptionalInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func logAudit(r *http.Request, logger audit.Logger, companyID, resourceType, resourceID, action string, meta map[string]any) {
	if logger == nil {
		return
	}
	entry := audit.FromRequest(r, action, resourceType, resourceID, meta)
	entry.CompanyID = companyID
	_ = logger.Log(r.Context(), entry)
}
