package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// BillingMethod decides how a dwell crossing a month boundary is billed.
type BillingMethod string

const (
	// BillingMethodSplit apportions each sub-period to the month it falls in.
	BillingMethodSplit BillingMethod = "split"
	// BillingMethodExitMonth bills the whole dwell in the month the container exits.
	BillingMethodExitMonth BillingMethod = "exit_month"
)

// ParseBillingMethod validates a billing method string.
func ParseBillingMethod(value string) (BillingMethod, error) {
	switch BillingMethod(value) {
	case BillingMethodSplit, BillingMethodExitMonth:
		return BillingMethod(value), nil
	default:
		return "", ErrInvalidBillingMethod
	}
}

const (
	StatementStatusDraft     = "draft"
	StatementStatusFinalized = "finalized"
)

// MonthlyStatement is the per-company monthly storage bill. One exists per
// (company, year, month).
type MonthlyStatement struct {
	ID                string          `json:"id"`
	CompanyID         string          `json:"company_id"`
	Year              int             `json:"year"`
	Month             time.Month      `json:"month"`
	BillingMethod     BillingMethod   `json:"billing_method"`
	Status            string          `json:"status"`
	TotalContainers   int             `json:"total_containers"`
	TotalBillableDays int             `json:"total_billable_days"`
	TotalUSD          decimal.Decimal `json:"total_usd"`
	TotalUZS          decimal.Decimal `json:"total_uzs"`
	ContentHash       string          `json:"content_hash"`
	SnapshotHash      string          `json:"snapshot_hash,omitempty"`
	AsOf              time.Time       `json:"as_of"`
	GeneratedAt       time.Time       `json:"generated_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	FinalizedAt       time.Time       `json:"finalized_at,omitempty"`
	FinalizedBy       string          `json:"finalized_by,omitempty"`
}

// StatementLineItem is one (container, sub-period) row of a statement.
type StatementLineItem struct {
	ID              string          `json:"id"`
	StatementID     string          `json:"statement_id"`
	Position        int             `json:"position"`
	ContainerID     string          `json:"container_id"`
	ContainerNumber string          `json:"container_number"`
	Size            ContainerSize   `json:"size"`
	Status          ContainerStatus `json:"status"`
	TariffID        string          `json:"tariff_id"`
	TariffRateID    string          `json:"tariff_rate_id"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	TotalDays       int             `json:"total_days"`
	FreeDays        int             `json:"free_days"`
	BillableDays    int             `json:"billable_days"`
	DailyRateUSD    decimal.Decimal `json:"daily_rate_usd"`
	DailyRateUZS    decimal.Decimal `json:"daily_rate_uzs"`
	AmountUSD       decimal.Decimal `json:"amount_usd"`
	AmountUZS       decimal.Decimal `json:"amount_uzs"`
}

// Finalized reports whether the statement is locked.
func (s *MonthlyStatement) Finalized() bool { return s.Status == StatementStatusFinalized }

// PeriodBounds returns the statement month as [start, end).
func (s *MonthlyStatement) PeriodBounds() (time.Time, time.Time) {
	return MonthBounds(s.Year, s.Month)
}

// Label returns the statement month as YYYY-MM.
func (s *MonthlyStatement) Label() string {
	return MonthStart(s.Year, s.Month).Format("2006-01")
}

// StatementLines selects the charges of each billing that belong to the month
// [from, to) under method and turns them into ordered line items.
func StatementLines(method BillingMethod, from, to time.Time, billings []*ContainerBilling) []StatementLineItem {
	sorted := append([]*ContainerBilling(nil), billings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Dwell, sorted[j].Dwell
		if a.ContainerNumber != b.ContainerNumber {
			return a.ContainerNumber < b.ContainerNumber
		}
		if a.ContainerID != b.ContainerID {
			return a.ContainerID < b.ContainerID
		}
		return a.EntryTime.Before(b.EntryTime)
	})

	var items []StatementLineItem
	for _, billing := range sorted {
		if method == BillingMethodExitMonth && !billing.Dwell.ExitedIn(from, to) {
			continue
		}
		for _, ch := range billing.Charges {
			if method == BillingMethodSplit && (ch.Period.Start.Before(from) || !ch.Period.Start.Before(to)) {
				continue
			}
			items = append(items, StatementLineItem{
				Position:        len(items) + 1,
				ContainerID:     billing.Dwell.ContainerID,
				ContainerNumber: billing.Dwell.ContainerNumber,
				Size:            billing.Size,
				Status:          billing.Dwell.Status,
				TariffID:        ch.Period.Tariff.ID,
				TariffRateID:    ch.Period.Rate.ID,
				PeriodStart:     ch.Period.Start,
				PeriodEnd:       ch.Period.End,
				TotalDays:       ch.TotalDays,
				FreeDays:        ch.FreeDays,
				BillableDays:    ch.BillableDays,
				DailyRateUSD:    ch.Period.Rate.DailyRateUSD,
				DailyRateUZS:    ch.Period.Rate.DailyRateUZS,
				AmountUSD:       ch.AmountUSD,
				AmountUZS:       ch.AmountUZS,
			})
		}
	}
	return items
}

// ApplyTotals recomputes the aggregates and the content hash from items.
func (s *MonthlyStatement) ApplyTotals(items []StatementLineItem) error {
	containers := make(map[string]struct{})
	days := 0
	usd, uzs := decimal.Zero, decimal.Zero
	for _, item := range items {
		containers[item.ContainerID] = struct{}{}
		days += item.BillableDays
		usd = usd.Add(item.AmountUSD)
		uzs = uzs.Add(item.AmountUZS)
	}
	s.TotalContainers = len(containers)
	s.TotalBillableDays = days
	s.TotalUSD = usd
	s.TotalUZS = uzs
	hash, err := ContentHash(s, items)
	if err != nil {
		return err
	}
	s.ContentHash = hash
	return nil
}

type lineContent struct {
	ContainerID  string `json:"c"`
	TariffRateID string `json:"r"`
	PeriodStart  string `json:"s"`
	PeriodEnd    string `json:"e"`
	TotalDays    int    `json:"t"`
	FreeDays     int    `json:"f"`
	BillableDays int    `json:"b"`
	RateUSD      string `json:"ru"`
	RateUZS      string `json:"rz"`
	AmountUSD    string `json:"au"`
	AmountUZS    string `json:"az"`
}

// ContentHash digests the billed content of a statement, ignoring ids and
// timestamps, so two generations over the same data hash equally.
func ContentHash(stmt *MonthlyStatement, items []StatementLineItem) (string, error) {
	lines := make([]lineContent, 0, len(items))
	for _, item := range items {
		lines = append(lines, lineContent{
			ContainerID:  item.ContainerID,
			TariffRateID: item.TariffRateID,
			PeriodStart:  item.PeriodStart.Format(DateLayout),
			PeriodEnd:    item.PeriodEnd.Format(DateLayout),
			TotalDays:    item.TotalDays,
			FreeDays:     item.FreeDays,
			BillableDays: item.BillableDays,
			RateUSD:      item.DailyRateUSD.StringFixed(MoneyPlaces),
			RateUZS:      item.DailyRateUZS.StringFixed(MoneyPlaces),
			AmountUSD:    item.AmountUSD.StringFixed(MoneyPlaces),
			AmountUZS:    item.AmountUZS.StringFixed(MoneyPlaces),
		})
	}
	payload := struct {
		CompanyID  string        `json:"company"`
		Period     string        `json:"period"`
		Method     BillingMethod `json:"method"`
		Containers int           `json:"containers"`
		Days       int           `json:"days"`
		USD        string        `json:"usd"`
		UZS        string        `json:"uzs"`
		Lines      []lineContent `json:"lines"`
	}{
		CompanyID:  stmt.CompanyID,
		Period:     stmt.Label(),
		Method:     stmt.BillingMethod,
		Containers: stmt.TotalContainers,
		Days:       stmt.TotalBillableDays,
		USD:        stmt.TotalUSD.StringFixed(MoneyPlaces),
		UZS:        stmt.TotalUZS.StringFixed(MoneyPlaces),
		Lines:      lines,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SnapshotHash digests the full finalized record, ids included.
func SnapshotHash(stmt *MonthlyStatement, items []StatementLineItem) (string, error) {
	sorted := append([]StatementLineItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })
	payload := struct {
		ID          string              `json:"id"`
		ContentHash string              `json:"content_hash"`
		AsOf        string              `json:"as_of"`
		Items       []StatementLineItem `json:"items"`
	}{
		ID:          stmt.ID,
		ContentHash: stmt.ContentHash,
		AsOf:        stmt.AsOf.Format(DateLayout),
		Items:       sorted,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
