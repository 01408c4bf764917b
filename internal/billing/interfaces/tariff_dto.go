package interfaces

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	billing "terminal-billing/internal/billing/domain"
)

type rateDTO struct {
	ID           string          `json:"id,omitempty"`
	TariffID     string          `json:"tariff_id,omitempty"`
	Size         string          `json:"size"`
	Status       string          `json:"status"`
	DailyRateUSD decimal.Decimal `json:"daily_rate_usd"`
	DailyRateUZS decimal.Decimal `json:"daily_rate_uzs"`
	FreeDays     int             `json:"free_days"`
}

type tariffDTO struct {
	ID            string    `json:"id,omitempty"`
	CompanyID     *string   `json:"company_id"`
	Name          string    `json:"name"`
	EffectiveFrom string    `json:"effective_from"`
	EffectiveTo   *string   `json:"effective_to"`
	Rates         []rateDTO `json:"rates"`
}

func toRateDTO(rate billing.TariffRate) rateDTO {
	return rateDTO{
		ID:           rate.ID,
		TariffID:     rate.TariffID,
		Size:         string(rate.Size),
		Status:       string(rate.Status),
		DailyRateUSD: rate.DailyRateUSD,
		DailyRateUZS: rate.DailyRateUZS,
		FreeDays:     rate.FreeDays,
	}
}

func toTariffDTO(tariff billing.Tariff) tariffDTO {
	dto := tariffDTO{
		ID:            tariff.ID,
		Name:          tariff.Name,
		EffectiveFrom: tariff.EffectiveFrom.Format(billing.DateLayout),
		Rates:         make([]rateDTO, 0, len(tariff.Rates)),
	}
	if !tariff.IsGeneral() {
		company := tariff.CompanyID
		dto.CompanyID = &company
	}
	if !tariff.OpenEnded() {
		to := tariff.EffectiveTo.Format(billing.DateLayout)
		dto.EffectiveTo = &to
	}
	for _, rate := range tariff.Rates {
		dto.Rates = append(dto.Rates, toRateDTO(rate))
	}
	return dto
}

func (dto tariffDTO) toDomain() (billing.Tariff, error) {
	from, err := time.Parse(billing.DateLayout, dto.EffectiveFrom)
	if err != nil {
		return billing.Tariff{}, fmt.Errorf("%w: effective_from must be YYYY-MM-DD", billing.ErrInvalidTariff)
	}
	tariff := billing.Tariff{
		ID:            dto.ID,
		Name:          dto.Name,
		EffectiveFrom: from,
	}
	if dto.CompanyID != nil {
		tariff.CompanyID = *dto.CompanyID
	}
	if dto.EffectiveTo != nil && *dto.EffectiveTo != "" {
		to, err := time.Parse(billing.DateLayout, *dto.EffectiveTo)
		if err != nil {
			return billing.Tariff{}, fmt.Errorf("%w: effective_to must be YYYY-MM-DD", billing.ErrInvalidTariff)
		}
		tariff.EffectiveTo = to
	}
	for _, r := range dto.Rates {
		tariff.Rates = append(tariff.Rates, billing.TariffRate{
			ID:           r.ID,
			Size:         billing.ContainerSize(r.Size),
			Status:       billing.ContainerStatus(r.Status),
			DailyRateUSD: r.DailyRateUSD,
			DailyRateUZS: r.DailyRateUZS,
			FreeDays:     r.FreeDays,
		})
	}
	return tariff, nil
}
