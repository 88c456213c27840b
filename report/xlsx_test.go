package report_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/cashbook/core"
	"github.com/warp/cashbook/report"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWriteSummaryXLSX(t *testing.T) {
	// GIVEN: A March summary for one employee
	// WHEN: Rendered to a workbook
	// THEN: Totals, breakdown rows and the trend are readable back

	sum := core.PeriodSummary{
		Period: core.Period{
			Start: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC),
		},
		Scope:            core.EmployeeScope("emp-alice"),
		AppointmentCount: 2,
		TotalIncome:      dec("235"),
		TotalExpense:     dec("30"),
		Net:              dec("205"),
		ByPaymentMethod: []core.BreakdownRow{
			{Key: "cash", Label: "Cash", Amount: dec("140"), Count: 2},
		},
		ByEmployee: []core.BreakdownRow{
			{Key: "emp-alice", Label: "Alice", Amount: dec("80"), Count: 1},
		},
		Trend: []core.TrendBucket{
			{Month: "2025-02", Label: "Feb/2025", Amount: decimal.Zero},
			{Month: "2025-03", Label: "Mar/2025", Amount: dec("235")},
		},
		Profit: core.Profit{Gross: dec("190")},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteSummaryXLSX(&buf, sum))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{report.SheetSummary, report.SheetBreakdowns, report.SheetTrend}, f.GetSheetList())

	period, err := f.GetCellValue(report.SheetSummary, "B1")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", period)
	scope, err := f.GetCellValue(report.SheetSummary, "B2")
	require.NoError(t, err)
	assert.Equal(t, "emp-alice", scope)
	net, err := f.GetCellValue(report.SheetSummary, "B7")
	require.NoError(t, err)
	assert.Equal(t, "205", net)

	rows, err := f.GetRows(report.SheetBreakdowns)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, []string{"By payment method", "Amount", "Count"}, rows[0])
	assert.Equal(t, []string{"Cash", "140", "2"}, rows[1])

	trend, err := f.GetRows(report.SheetTrend)
	require.NoError(t, err)
	require.Len(t, trend, 3)
	assert.Equal(t, []string{"Mar/2025", "235"}, trend[2])
}
