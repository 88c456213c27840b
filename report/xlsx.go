// Package report renders period summaries as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/cashbook/core"
)

const (
	SheetSummary    = "Summary"
	SheetBreakdowns = "Breakdowns"
	SheetTrend      = "Trend"
)

// sheet writes rows top-down on one worksheet.
type sheet struct {
	f    *excelize.File
	name string
	row  int
	bold int
	err  error
}

func (s *sheet) line(values ...any) {
	if s.err != nil {
		return
	}
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		s.err = err
		return
	}
	s.err = s.f.SetSheetRow(s.name, cell, &values)
}

func (s *sheet) heading(values ...any) {
	s.line(values...)
	if s.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(values), s.row)
	if err != nil {
		s.err = err
		return
	}
	first, _ := excelize.CoordinatesToCellName(1, s.row)
	s.err = s.f.SetCellStyle(s.name, first, last, s.bold)
}

func (s *sheet) blank() { s.row++ }

func money(d decimal.Decimal) float64 { return d.InexactFloat64() }

// WriteSummaryXLSX writes sum as an .xlsx workbook with a Summary, a
// Breakdowns and a Trend sheet.
func WriteSummaryXLSX(w io.Writer, sum core.PeriodSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return err
	}
	for _, name := range []string{SheetBreakdowns, SheetTrend} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}

	scope := "All employees"
	if !sum.Scope.IsAll() {
		scope = sum.Scope.EmployeeID
	}

	s := &sheet{f: f, name: SheetSummary, bold: bold}
	s.heading("Period", sum.Period.Start.Format(core.DateLayout), sum.Period.End.Format(core.DateLayout))
	s.line("Scope", scope)
	s.blank()
	s.heading("Totals", "Amount")
	s.line("Income", money(sum.TotalIncome))
	s.line("Expense", money(sum.TotalExpense))
	s.line("Net", money(sum.Net))
	s.line("Completed appointments", sum.AppointmentCount)
	s.blank()
	s.heading("Profit", "Revenue", "Cost", "Profit")
	s.line("Services", money(sum.Profit.ServiceRevenue), money(sum.Profit.ServiceCost), money(sum.Profit.ServiceProfit))
	s.line("Products", money(sum.Profit.ProductRevenue), money(sum.Profit.ProductCost), money(sum.Profit.ProductProfit))
	s.line("Gross", "", "", money(sum.Profit.Gross))
	if s.err != nil {
		return fmt.Errorf("summary sheet: %w", s.err)
	}

	b := &sheet{f: f, name: SheetBreakdowns, bold: bold}
	groups := []struct {
		title string
		rows  []core.BreakdownRow
	}{
		{"By payment method", sum.ByPaymentMethod},
		{"By employee", sum.ByEmployee},
		{"By service", sum.ByService},
		{"By client", sum.ByClient},
		{"By product", sum.ByProduct},
	}
	for i, g := range groups {
		if i > 0 {
			b.blank()
		}
		b.heading(g.title, "Amount", "Count")
		for _, r := range g.rows {
			b.line(r.Label, money(r.Amount), r.Count)
		}
	}
	if b.err != nil {
		return fmt.Errorf("breakdown sheet: %w", b.err)
	}

	t := &sheet{f: f, name: SheetTrend, bold: bold}
	t.heading("Month", "Revenue")
	for _, bucket := range sum.Trend {
		t.line(bucket.Label, money(bucket.Amount))
	}
	if t.err != nil {
		return fmt.Errorf("trend sheet: %w", t.err)
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}
