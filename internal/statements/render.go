package statements

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/xuri/excelize/v2"

	"medipay/internal/core"
	"medipay/internal/projection"
	"medipay/pkg/domain"
)

// Format is an artifact encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// Formats lists the supported formats in their default order.
var Formats = []Format{FormatCSV, FormatJSON, FormatXLSX}

// Supported reports whether f is a known format.
func (f Format) Supported() bool { return slices.Contains(Formats, f) }

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Statement is everything rendered into an export: the user's prescriptions,
// their latest projection and the payment ledger.
type Statement struct {
	UserID           string               `json:"user_id"`
	Email            string               `json:"email"`
	FullName         string               `json:"full_name"`
	GeneratedAt      time.Time            `json:"generated_at"`
	Prescriptions    []core.Prescription  `json:"prescriptions"`
	TotalMonthlyCost float64              `json:"total_monthly_cost"`
	Prediction       *core.CostPrediction `json:"prediction,omitempty"`
	Insights         *projection.Insights `json:"insights,omitempty"`
	Payments         []core.Payment       `json:"payments"`
	TotalPaid        float64              `json:"total_paid"`
}

// Source is the read side of the core service a statement is built from.
type Source interface {
	GetUser(ctx context.Context, id string) (core.User, error)
	ListPrescriptions(ctx context.Context, userID string) (core.PrescriptionList, error)
	LatestPrediction(ctx context.Context, userID string) (core.CostPrediction, bool, error)
	ListPayments(ctx context.Context, userID string) ([]core.Payment, error)
}

// Build collects a statement for userID.
func Build(ctx context.Context, src Source, userID string, now time.Time) (Statement, error) {
	user, err := src.GetUser(ctx, userID)
	if err != nil {
		return Statement{}, err
	}
	list, err := src.ListPrescriptions(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("list prescriptions: %w", err)
	}
	payments, err := src.ListPayments(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("list payments: %w", err)
	}
	st := Statement{
		UserID:           user.ID,
		Email:            user.Email,
		FullName:         user.FullName,
		GeneratedAt:      now.UTC(),
		Prescriptions:    list.Prescriptions,
		TotalMonthlyCost: list.TotalMonthlyCost,
		Payments:         payments,
	}
	if st.Prescriptions == nil {
		st.Prescriptions = []core.Prescription{}
	}
	if st.Payments == nil {
		st.Payments = []core.Payment{}
	}
	for _, p := range payments {
		if p.Status == domain.PaymentStatusCompleted {
			st.TotalPaid += p.Amount
		}
	}
	st.TotalPaid = projection.RoundAmount(st.TotalPaid)

	latest, ok, err := src.LatestPrediction(ctx, userID)
	if err != nil {
		return Statement{}, fmt.Errorf("latest prediction: %w", err)
	}
	if ok {
		st.Prediction = &latest
		insights := projection.Describe(latest.AnnualCost, latest.MonthlyEMI)
		st.Insights = &insights
	}
	return st, nil
}

// Render encodes st in format f.
func Render(st Statement, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(st, "", "  ")
	case FormatCSV:
		return renderCSV(st)
	case FormatXLSX:
		return renderXLSX(st)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

var csvHeader = []string{"section", "date", "description", "amount", "status"}

func money(v float64) string { return projection.FormatAmount(v) }

func day(t time.Time) string { return t.UTC().Format(time.DateOnly) }

// statementRows flattens a statement into tagged CSV rows.
func statementRows(st Statement) [][]string {
	var rows [][]string
	for _, p := range st.Prescriptions {
		desc := fmt.Sprintf("%s %s (%s, %s)", p.MedicineName, p.Dosage, p.Frequency, p.DiseaseType)
		rows = append(rows, []string{"prescription", day(p.CreatedAt), desc, money(p.MonthlyCost), ""})
	}
	rows = append(rows, []string{"total_monthly_cost", "", "", money(st.TotalMonthlyCost), ""})
	if st.Prediction != nil {
		for _, pt := range st.Prediction.PredictionData.MonthlyBreakdown {
			rows = append(rows, []string{"projection", "", pt.Month, money(pt.Amount), ""})
		}
		rows = append(rows,
			[]string{"annual_cost", "", "", money(st.Prediction.AnnualCost), ""},
			[]string{"monthly_emi", "", "", money(st.Prediction.MonthlyEMI), ""},
		)
	}
	for _, p := range st.Payments {
		rows = append(rows, []string{"payment", day(p.PaymentDate), string(p.Type), money(p.Amount), string(p.Status)})
	}
	rows = append(rows, []string{"total_paid", "", "", money(st.TotalPaid), ""})
	return rows
}

func renderCSV(st Statement) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	if err := w.WriteAll(statementRows(st)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sheet names in the XLSX workbook.
const (
	SheetSummary       = "Summary"
	SheetPrescriptions = "Prescriptions"
	SheetProjection    = "Projection"
	SheetPayments      = "Payments"
)

func renderXLSX(st Statement) ([]byte, error) {
	wb := excelize.NewFile()
	defer func() { _ = wb.Close() }()

	if err := wb.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	summary := [][]any{
		{"User", st.FullName},
		{"Email", st.Email},
		{"Generated", st.GeneratedAt.Format(time.RFC3339)},
		{"Total monthly cost", st.TotalMonthlyCost},
		{"Total paid", st.TotalPaid},
	}
	if st.Prediction != nil {
		summary = append(summary,
			[]any{"Annual cost", st.Prediction.AnnualCost},
			[]any{"Monthly EMI", st.Prediction.MonthlyEMI},
		)
	}
	if st.Insights != nil {
		summary = append(summary,
			[]any{"Affordability risk", st.Insights.AffordabilityRisk},
			[]any{"Emergency fund", st.Insights.EmergencyFund},
		)
	}
	if err := writeRows(wb, SheetSummary, summary); err != nil {
		return nil, err
	}

	prescriptions := [][]any{{"Added", "Medicine", "Dosage", "Frequency", "Disease", "Monthly cost"}}
	for _, p := range st.Prescriptions {
		prescriptions = append(prescriptions, []any{day(p.CreatedAt), p.MedicineName, p.Dosage, p.Frequency, p.DiseaseType, p.MonthlyCost})
	}
	projectionRows := [][]any{{"Month", "Amount"}}
	if st.Prediction != nil {
		for _, pt := range st.Prediction.PredictionData.MonthlyBreakdown {
			projectionRows = append(projectionRows, []any{pt.Month, pt.Amount})
		}
	}
	payments := [][]any{{"Date", "Type", "Amount", "Status"}}
	for _, p := range st.Payments {
		payments = append(payments, []any{day(p.PaymentDate), string(p.Type), p.Amount, string(p.Status)})
	}
	for _, sheet := range []struct {
		name string
		rows [][]any
	}{
		{SheetPrescriptions, prescriptions},
		{SheetProjection, projectionRows},
		{SheetPayments, payments},
	} {
		if _, err := wb.NewSheet(sheet.name); err != nil {
			return nil, err
		}
		if err := writeRows(wb, sheet.name, sheet.rows); err != nil {
			return nil, err
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(wb *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
