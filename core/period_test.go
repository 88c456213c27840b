package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cashbook/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriod_RangeIsHalfOpenOnNextDay(t *testing.T) {
	p, err := core.NewPeriod(date(2025, 3, 1), time.Date(2025, 3, 31, 18, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	r := p.Range()
	assert.Equal(t, date(2025, 3, 1), r.From)
	assert.Equal(t, date(2025, 4, 1), r.To)
	assert.True(t, p.Contains(time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(date(2025, 4, 1)))
	assert.Equal(t, "[2025-03-01, 2025-03-31]", p.String())
}

func TestPeriod_EndBeforeStart(t *testing.T) {
	_, err := core.NewPeriod(date(2025, 3, 2), date(2025, 3, 1))
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPeriod_SplitIsContiguous(t *testing.T) {
	p, _ := core.NewPeriod(date(2025, 3, 1), date(2025, 3, 31))

	parts := p.Split(date(2025, 3, 1), date(2025, 3, 10), date(2025, 3, 20), date(2025, 4, 5))
	require.Len(t, parts, 3)
	assert.Equal(t, date(2025, 3, 1), parts[0].Start)
	assert.Equal(t, date(2025, 3, 9), parts[0].End)
	assert.Equal(t, date(2025, 3, 10), parts[1].Start)
	assert.Equal(t, date(2025, 3, 19), parts[1].End)
	assert.Equal(t, date(2025, 3, 20), parts[2].Start)
	assert.Equal(t, date(2025, 3, 31), parts[2].End)
}

func TestPeriodFor_Presets(t *testing.T) {
	ref := time.Date(2025, 3, 13, 16, 0, 0, 0, time.UTC) // Thursday

	tests := []struct {
		preset core.Preset
		start  time.Time
	}{
		{core.PresetDay, date(2025, 3, 13)},
		{core.PresetWeek, date(2025, 3, 10)},
		{core.PresetMonth, date(2025, 3, 1)},
		{"", date(2025, 3, 1)},
		{core.PresetYear, date(2025, 1, 1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			p, err := core.PeriodFor(tt.preset, ref, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.start, p.Start)
			assert.Equal(t, date(2025, 3, 13), p.End)
		})
	}
}

func TestPeriodFor_WeekStartsMonday(t *testing.T) {
	sunday := date(2025, 3, 16)
	p, err := core.PeriodFor(core.PresetWeek, sunday, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 3, 10), p.Start)

	monday := date(2025, 3, 17)
	p, err = core.PeriodFor(core.PresetWeek, monday, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, monday, p.Start)
}

func TestPeriodFor_Custom(t *testing.T) {
	start, end := date(2025, 1, 5), date(2025, 2, 5)
	p, err := core.PeriodFor(core.PresetCustom, time.Now(), &start, &end)
	require.NoError(t, err)
	assert.Equal(t, start, p.Start)
	assert.Equal(t, end, p.End)

	_, err = core.PeriodFor(core.PresetCustom, time.Now(), &start, nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = core.PeriodFor("fortnight", time.Now(), nil, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestScopeFor(t *testing.T) {
	regular := core.Actor{ID: "emp-1", Role: core.RoleRegular}
	assert.Equal(t, "emp-1", core.ScopeFor(regular, "").EmployeeID)
	assert.Equal(t, "emp-1", core.ScopeFor(regular, "emp-2").EmployeeID)

	boss := core.Actor{ID: "boss", Role: core.RoleAdmin}
	assert.True(t, core.ScopeFor(boss, "").IsAll())
	assert.Equal(t, "emp-2", core.ScopeFor(boss, "emp-2").EmployeeID)
}

func TestAddMonthsAndEndOfMonth(t *testing.T) {
	assert.Equal(t, date(2024, 10, 1), core.AddMonths(date(2025, 3, 1), -5))
	assert.Equal(t, date(2026, 1, 1), core.AddMonths(date(2025, 12, 1), 1))
	assert.Equal(t, date(2024, 2, 29), core.EndOfMonth(date(2024, 2, 10)))
}

func TestNormalizePaymentMethod(t *testing.T) {
	assert.Equal(t, core.PaymentCash, core.NormalizePaymentMethod(""))
	assert.Equal(t, core.PaymentDebitCard, core.NormalizePaymentMethod(" Debit "))
	assert.Equal(t, core.PaymentWire, core.NormalizePaymentMethod("PIX"))
	assert.Equal(t, core.PaymentOther, core.NormalizePaymentMethod("voucher"))
}
