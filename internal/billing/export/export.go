package export

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "terminal-billing/internal/billing/domain"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"

	ContentTypePDF  = "application/pdf"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ErrUnknownFormat is returned for formats other than pdf and xlsx.
var ErrUnknownFormat = errors.New("export: unknown format")

// Render renders a statement in the given format and returns the document with
// its content type.
func Render(format string, stmt *billing.MonthlyStatement, items []billing.StatementLineItem) ([]byte, string, error) {
	if stmt == nil {
		return nil, "", errors.New("export: nil statement")
	}
	switch format {
	case FormatPDF:
		data, err := StatementPDF(stmt, items)
		return data, ContentTypePDF, err
	case FormatXLSX:
		data, err := StatementXLSX(stmt, items)
		return data, ContentTypeXLSX, err
	default:
		return nil, "", ErrUnknownFormat
	}
}

// FileName returns the archive/download name of a statement document.
func FileName(stmt *billing.MonthlyStatement, format string) string {
	return fmt.Sprintf("statement-%s-%s.%s", stmt.CompanyID, stmt.Label(), format)
}

// StatementPDF renders a statement as a landscape A4 PDF.
func StatementPDF(stmt *billing.MonthlyStatement, items []billing.StatementLineItem) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Container Storage Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Company: %s", stmt.CompanyID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", stmt.Label()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Billing method: %s", stmt.BillingMethod))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", stmt.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("As of: %s", stmt.AsOf.Format(billing.DateLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", stmt.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if stmt.Finalized() {
		pdf.Cell(0, 6, fmt.Sprintf("Finalized: %s by %s", stmt.FinalizedAt.Format(time.RFC3339), stmt.FinalizedBy))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Snapshot: %s", stmt.SnapshotHash))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Containers: %d   Billable days: %d", stmt.TotalContainers, stmt.TotalBillableDays))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total USD: %s   Total UZS: %s", stmt.TotalUSD.StringFixed(2), stmt.TotalUZS.StringFixed(2)))
	pdf.Ln(8)

	headers := []string{"#", "Container", "Size", "Status", "From", "To", "Days", "Free", "Billable", "Rate USD", "USD", "UZS"}
	widths := []float64{10, 32, 16, 18, 24, 24, 14, 14, 18, 22, 30, 45}
	pdf.SetFont("Arial", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, item := range items {
		cells := []string{
			fmt.Sprintf("%d", item.Position),
			item.ContainerNumber,
			string(item.Size),
			string(item.Status),
			item.PeriodStart.Format(billing.DateLayout),
			item.PeriodEnd.Format(billing.DateLayout),
			fmt.Sprintf("%d", item.TotalDays),
			fmt.Sprintf("%d", item.FreeDays),
			fmt.Sprintf("%d", item.BillableDays),
			item.DailyRateUSD.StringFixed(2),
			item.AmountUSD.StringFixed(2),
			item.AmountUZS.StringFixed(2),
		}
		for i, c := range cells {
			align := "L"
			if i >= 6 {
				align = "R"
			}
			pdf.CellFormat(widths[i], 6, c, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StatementXLSX renders a statement as a workbook with a summary and a lines sheet.
func StatementXLSX(stmt *billing.MonthlyStatement, items []billing.StatementLineItem) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	linesSheet := "lines"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Container Storage Statement", ""},
		{"Company", stmt.CompanyID},
		{"Period", stmt.Label()},
		{"Billing method", string(stmt.BillingMethod)},
		{"Status", stmt.Status},
		{"As of", stmt.AsOf.Format(billing.DateLayout)},
		{"Containers", stmt.TotalContainers},
		{"Billable days", stmt.TotalBillableDays},
		{"Total USD", stmt.TotalUSD.InexactFloat64()},
		{"Total UZS", stmt.TotalUZS.InexactFloat64()},
		{"Content hash", stmt.ContentHash},
		{"Snapshot hash", stmt.SnapshotHash},
	}
	for i, row := range summary {
		n := i + 1
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", n), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", n), row[1])
	}

	headers := []string{"Position", "Container", "Size", "Status", "Tariff", "Period start", "Period end",
		"Total days", "Free days", "Billable days", "Daily rate USD", "Daily rate UZS", "Amount USD", "Amount UZS"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(linesSheet, cell, h)
	}
	for r, item := range items {
		values := []any{
			item.Position,
			item.ContainerNumber,
			string(item.Size),
			string(item.Status),
			item.TariffID,
			item.PeriodStart.Format(billing.DateLayout),
			item.PeriodEnd.Format(billing.DateLayout),
			item.TotalDays,
			item.FreeDays,
			item.BillableDays,
			item.DailyRateUSD.InexactFloat64(),
			item.DailyRateUZS.InexactFloat64(),
			item.AmountUSD.InexactFloat64(),
			item.AmountUZS.InexactFloat64(),
		}
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(linesSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
